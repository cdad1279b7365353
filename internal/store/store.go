// Package store defines the persistence contract the crawl pipeline consumes.
// The relational schema, migrations, and admin surface live outside the
// crawler; stages only see this narrow interface, which keeps a real Postgres
// database in production and an in-memory fake in tests interchangeable.
package store

import (
	"context"
	"time"

	"github.com/kyrt-project/courtcrawler/internal/model"
)

// Store is the full persistence contract.
type Store interface {
	// Companies returns tracked companies with their aliases. A non-empty
	// ids slice narrows the result for operator-driven targeted runs.
	Companies(ctx context.Context, ids []int64) ([]model.Company, error)

	// ImportCompany upserts a company and its name variations.
	ImportCompany(ctx context.Context, name string, aliases []string) (model.Company, error)

	// KnownDocketIDs returns every docket id already recorded for the
	// jurisdiction. Loaded once per run to seed the in-memory dedup set.
	KnownDocketIDs(ctx context.Context, j model.Jurisdiction) (map[string]struct{}, error)

	// KnownDocumentIDs returns every document id already recorded for the
	// jurisdiction, keyed as "<docket_id>/<document_id>".
	KnownDocumentIDs(ctx context.Context, j model.Jurisdiction) (map[string]struct{}, error)

	// CreateCases bulk-inserts discovered cases. Duplicate
	// (jurisdiction, docket_id) pairs must be absorbed, not fail the batch.
	CreateCases(ctx context.Context, cases []model.Case) error

	// CasesToDetail selects cases for the detail stage according to mode.
	CasesToDetail(ctx context.Context, j model.Jurisdiction, mode model.Mode, companyIDs []int64) ([]model.Case, error)

	// UpdateCase persists detail fields and the detailed flag.
	UpdateCase(ctx context.Context, c model.Case) error

	// CreateDocuments bulk-inserts document metadata. Duplicate
	// (case, document_id) pairs must be absorbed.
	CreateDocuments(ctx context.Context, docs []model.Document) error

	// DocumentsToDownload selects not-yet-downloaded documents on cases
	// whose case date is within the cutoff.
	DocumentsToDownload(ctx context.Context, j model.Jurisdiction, cutoff time.Time) ([]model.Document, error)

	// UpdateDocument persists the downloaded flag and storage path.
	UpdateDocument(ctx context.Context, d model.Document) error

	Close() error
}

// DocumentKey builds the known-document-ids key for a document.
func DocumentKey(docketID, documentID string) string {
	return docketID + "/" + documentID
}
