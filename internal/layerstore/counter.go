package layerstore

import (
	"fmt"
	"sync"
)

// IDCounter generates layer ids of the form "layer-<n>".
type IDCounter struct {
	mu sync.Mutex
	n  int
}

// NewIDCounter creates a counter starting at layer-1.
func NewIDCounter() *IDCounter {
	return &IDCounter{}
}

// Next returns the next id.
func (c *IDCounter) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("layer-%d", c.n)
}

// Reset restarts the sequence. Intended for test harnesses.
func (c *IDCounter) Reset() {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
}
