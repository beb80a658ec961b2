package eventbus

import (
	"context"
	"strings"
	"sync"
)

// MemoryBus is an in-process implementation of Publisher/Subscriber used in
// tests and single-binary local development. Delivery is synchronous and
// in publish order per subject; handler errors are returned to the publisher
// instead of triggering redelivery.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]HandlerFunc
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]HandlerFunc)}
}

// Publish delivers the event to every matching subscription.
func (m *MemoryBus) Publish(ctx context.Context, subject string, event *Event) error {
	m.mu.RLock()
	var handlers []HandlerFunc
	for pattern, hs := range m.subs {
		if subjectMatches(pattern, subject) {
			handlers = append(handlers, hs...)
		}
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for a subject or a "prefix.>" wildcard.
// The consumerName is accepted for interface parity and otherwise unused.
func (m *MemoryBus) Subscribe(_ context.Context, subject, _ string, handler HandlerFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[subject] = append(m.subs[subject], handler)
	return nil
}

func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".>"); ok {
		return strings.HasPrefix(subject, prefix+".")
	}
	return false
}
