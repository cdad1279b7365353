// Package publisher notifies downstream consumers (indexing, review tooling)
// when a document has been downloaded. The abstraction keeps the pipeline
// independent of the concrete broker.
package publisher

import (
	"context"
	"time"

	"github.com/kyrt-project/courtcrawler/internal/model"
)

// DocumentEvent is emitted once per successfully downloaded document.
type DocumentEvent struct {
	Jurisdiction model.Jurisdiction `json:"jurisdiction"`
	DocketID     string             `json:"docket_id"`
	DocumentID   string             `json:"document_id"`
	StoragePath  string             `json:"storage_path"`
	DownloadedAt time.Time          `json:"downloaded_at"`
}

// Publisher pushes document events to the configured topic.
type Publisher interface {
	Publish(ctx context.Context, event DocumentEvent) error
	Close() error
}

// NoOp discards events; used when no broker is configured.
type NoOp struct{}

// Publish does nothing and returns nil.
func (NoOp) Publish(_ context.Context, _ DocumentEvent) error { return nil }

// Close does nothing and returns nil.
func (NoOp) Close() error { return nil }
