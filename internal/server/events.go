package server

import (
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/leapmap/internal/server/notifier"
)

// mapSignals is the signal patch pushed to event subscribers. Clients keep
// it under the "map" signal and re-fetch what they render.
type mapSignals struct {
	Map mapSignal `json:"map"`
}

type mapSignal struct {
	Seq        uint64            `json:"seq"`
	Kind       string            `json:"kind"`
	Changed    []string          `json:"changed"`
	Order      []string          `json:"order"`
	Visibility map[string]bool   `json:"visibility"`
	Failures   map[string]string `json:"failures"`
}

func (s *Server) signalsFor(n notifier.Notice) mapSignals {
	exp := s.session.Store().Export()
	order := make([]string, len(exp.Layers))
	for i, l := range exp.Layers {
		order[i] = l.ID
	}
	failures := make(map[string]string)
	for id, err := range s.session.Failures() {
		failures[id] = err.Error()
	}
	changed := n.Layers
	if changed == nil {
		changed = []string{}
	}
	return mapSignals{Map: mapSignal{
		Seq:        n.Seq,
		Kind:       n.Kind,
		Changed:    changed,
		Order:      order,
		Visibility: exp.Visibility,
		Failures:   failures,
	}}
}

// events is the long-lived SSE endpoint. It sends the current state once,
// then a signal patch for every map change.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	updates := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(updates)

	if err := sse.MarshalAndPatchSignals(s.signalsFor(notifier.Notice{Kind: "hello"})); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-updates:
			if !ok {
				return
			}
			if err := sse.MarshalAndPatchSignals(s.signalsFor(n)); err != nil {
				_ = sse.ConsoleError(err)
				// Don't return - keep trying on next update
			}
		}
	}
}
