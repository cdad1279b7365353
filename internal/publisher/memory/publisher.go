// Package memory contains an in-memory publisher implementation for tests.
package memory

import (
	"context"
	"sync"

	"github.com/kyrt-project/courtcrawler/internal/publisher"
)

// Publisher stores published document events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []publisher.DocumentEvent
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event.
func (p *Publisher) Publish(_ context.Context, event publisher.DocumentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Close does nothing.
func (p *Publisher) Close() error { return nil }

// Events returns the recorded publishes.
func (p *Publisher) Events() []publisher.DocumentEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.DocumentEvent, len(p.events))
	copy(out, p.events)
	return out
}
