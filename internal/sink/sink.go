// Package sink abstracts where downloaded document bytes land: Google Cloud
// Storage in production, the local filesystem for development, memory in
// tests.
package sink

import "context"

// Sink persists document bytes under a deterministic key.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
}

// NoOp discards everything. Useful for dry runs where documents are fetched
// but not kept.
type NoOp struct{}

// Put does nothing and always succeeds.
func (NoOp) Put(_ context.Context, _ string, _ []byte) error { return nil }
