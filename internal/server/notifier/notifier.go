// Package notifier fans layer store changes out to SSE subscribers.
package notifier

import (
	"sync"
	"sync/atomic"
)

// Notice tells a subscriber that the map changed. Subscribers re-read the
// state they render; the notice only says what kind of change happened.
type Notice struct {
	Seq    uint64   `json:"seq"`
	Kind   string   `json:"kind"`
	Layers []string `json:"layers,omitempty"`
}

// Notifier broadcasts notices to all subscribed listeners.
type Notifier struct {
	seq       atomic.Uint64
	mu        sync.RWMutex
	listeners map[chan Notice]struct{}
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan Notice]struct{}),
	}
}

// Subscribe returns a channel that receives notices.
// The caller must call Unsubscribe when done.
func (n *Notifier) Subscribe() chan Notice {
	ch := make(chan Notice, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan Notice) {
	n.mu.Lock()
	_, ok := n.listeners[ch]
	delete(n.listeners, ch)
	n.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Broadcast stamps a notice with the next sequence number and sends it to
// every listener. A listener with an undelivered notice gets the newer one
// in its place, so a slow reader only ever sees the latest.
func (n *Notifier) Broadcast(kind string, layers ...string) Notice {
	notice := Notice{Seq: n.seq.Add(1), Kind: kind, Layers: layers}

	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.listeners {
		select {
		case ch <- notice:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- notice:
		default:
		}
	}
	return notice
}
