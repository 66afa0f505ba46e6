package reconcile

import (
	"errors"
	"fmt"
)

// errPrimitivesChanged marks a patch that would need different primitives.
var errPrimitivesChanged = errors.New("primitive set changed")

// RenderApplyError is a rejected in-place patch. The engine escalates it to
// a rebuild and never returns it.
type RenderApplyError struct {
	LayerID string
	Op      string
	Err     error
}

func (e *RenderApplyError) Error() string {
	return fmt.Sprintf("render apply %s for layer %q: %v", e.Op, e.LayerID, e.Err)
}

func (e *RenderApplyError) Unwrap() error {
	return e.Err
}

// LayerError is a failure to render one layer. Other layers are unaffected.
type LayerError struct {
	LayerID string
	Action  Action
	Err     error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer %q: %s failed: %v", e.LayerID, e.Action, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}
