package changefeed

import (
	"context"
	"sync"

	"libportal/internal/platform/metrics"
)

const DefaultBuffer = 16

// Hub fans changes out to in-process subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	stamper stamper
	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		stamper: newStamper(),
		metrics: m,
	}
}

func (h *Hub) Publish(_ context.Context, c Change) error {
	c, err := h.stamper.stamp(c)
	if err != nil {
		return err
	}
	h.metrics.Published(string(c.Table))
	h.Broadcast(c)
	return nil
}

// Broadcast never blocks. A subscriber whose buffer is full has missed a
// change, so it is closed instead: the client reconnects and re-reads everything.
func (h *Hub) Broadcast(c Change) {
	var slow []*Subscription
	h.mu.RLock()
	for s := range h.subs {
		select {
		case s.ch <- c:
		default:
			h.metrics.Dropped()
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range slow {
		s.Close()
	}
}

type Subscription struct {
	C    <-chan Change
	ch   chan Change
	hub  *Hub
	once sync.Once
}

func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Change, buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(ch) })
		return s
	}
	h.subs[s] = struct{}{}
	h.metrics.SubscriberDelta(1)
	return s
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
		s.hub.metrics.SubscriberDelta(-1)
	})
}

// Close ends every subscription; later subscriptions start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.DisconnectAll()
}

// DisconnectAll closes the current subscriptions but keeps the hub open,
// so clients reconnect and start from a full refresh.
func (h *Hub) DisconnectAll() int {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	return len(subs)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
