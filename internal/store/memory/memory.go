// Package memory implements the store contract with in-process maps. Used by
// tests and local dry runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu        sync.Mutex
	nextID    int64
	companies []model.Company
	cases     []model.Case
	documents []model.Document
}

// New builds an empty memory store.
func New() *Store {
	return &Store{nextID: 1}
}

// Seed inserts companies directly, bypassing import normalization.
func (s *Store) Seed(companies ...model.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range companies {
		if c.ID == 0 {
			c.ID = s.nextID
			s.nextID++
		}
		s.companies = append(s.companies, c)
	}
}

// Companies returns tracked companies, optionally narrowed to ids.
func (s *Store) Companies(_ context.Context, ids []int64) ([]model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]model.Company, 0, len(s.companies))
	for _, c := range s.companies {
		if len(want) > 0 {
			if _, ok := want[c.ID]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ImportCompany upserts a company by name.
func (s *Store) ImportCompany(_ context.Context, name string, aliases []string) (model.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.companies {
		if c.Name == name {
			existing := make(map[string]struct{}, len(c.Aliases))
			for _, a := range c.Aliases {
				existing[a] = struct{}{}
			}
			for _, a := range aliases {
				if _, ok := existing[a]; !ok {
					c.Aliases = append(c.Aliases, a)
				}
			}
			s.companies[i] = c
			return c, nil
		}
	}
	c := model.Company{ID: s.nextID, Name: name, Aliases: append([]string(nil), aliases...)}
	s.nextID++
	s.companies = append(s.companies, c)
	return c, nil
}

// KnownDocketIDs returns the docket ids recorded for j.
func (s *Store) KnownDocketIDs(_ context.Context, j model.Jurisdiction) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{})
	for _, c := range s.cases {
		if c.Jurisdiction == j {
			out[c.DocketID] = struct{}{}
		}
	}
	return out, nil
}

// KnownDocumentIDs returns "<docket>/<doc>" keys recorded for j.
func (s *Store) KnownDocumentIDs(_ context.Context, j model.Jurisdiction) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{})
	for _, d := range s.documents {
		if d.Jurisdiction == j {
			out[store.DocumentKey(d.CaseDocketID, d.DocumentID)] = struct{}{}
		}
	}
	return out, nil
}

// CreateCases inserts cases, silently absorbing duplicates.
func (s *Store) CreateCases(_ context.Context, cases []model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range cases {
		if s.findCaseLocked(c.Jurisdiction, c.DocketID) != nil {
			continue
		}
		if c.ID == 0 {
			c.ID = s.nextID
			s.nextID++
		}
		if c.FoundAt.IsZero() {
			c.FoundAt = time.Now().UTC()
		}
		s.cases = append(s.cases, c)
	}
	return nil
}

func (s *Store) findCaseLocked(j model.Jurisdiction, docketID string) *model.Case {
	for i := range s.cases {
		if s.cases[i].Jurisdiction == j && s.cases[i].DocketID == docketID {
			return &s.cases[i]
		}
	}
	return nil
}

// CasesToDetail selects cases per mode.
func (s *Store) CasesToDetail(_ context.Context, j model.Jurisdiction, mode model.Mode, companyIDs []int64) ([]model.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[int64]struct{}, len(companyIDs))
	for _, id := range companyIDs {
		want[id] = struct{}{}
	}

	var out []model.Case
	for _, c := range s.cases {
		if c.Jurisdiction != j {
			continue
		}
		if len(want) > 0 {
			if _, ok := want[c.CompanyID]; !ok {
				continue
			}
		}
		switch mode {
		case model.ModeNew:
			if c.Detailed {
				continue
			}
		case model.ModeExisting:
			// refresh everything
		case model.ModeFlagged:
			if !caseNumberUnassigned(c.CaseNumber) {
				continue
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].DocketID < out[k].DocketID })
	return out, nil
}

func caseNumberUnassigned(number string) bool {
	return strings.IndexFunc(number, func(r rune) bool { return r >= '0' && r <= '9' }) < 0
}

// UpdateCase overwrites the stored case. The detailed flag is monotonic.
func (s *Store) UpdateCase(_ context.Context, c model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.findCaseLocked(c.Jurisdiction, c.DocketID)
	if existing == nil {
		return nil
	}
	if existing.Detailed && !c.Detailed {
		c.Detailed = existing.Detailed
		c.DetailedAt = existing.DetailedAt
	}
	c.ID = existing.ID
	*existing = c
	return nil
}

// CreateDocuments inserts documents, silently absorbing duplicates.
func (s *Store) CreateDocuments(_ context.Context, docs []model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range docs {
		if s.findDocumentLocked(d.Jurisdiction, d.CaseDocketID, d.DocumentID) != nil {
			continue
		}
		if d.ID == 0 {
			d.ID = s.nextID
			s.nextID++
		}
		s.documents = append(s.documents, d)
	}
	return nil
}

func (s *Store) findDocumentLocked(j model.Jurisdiction, docketID, documentID string) *model.Document {
	for i := range s.documents {
		d := &s.documents[i]
		if d.Jurisdiction == j && d.CaseDocketID == docketID && d.DocumentID == documentID {
			return d
		}
	}
	return nil
}

// DocumentsToDownload selects pending documents on recent cases.
func (s *Store) DocumentsToDownload(_ context.Context, j model.Jurisdiction, cutoff time.Time) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Document
	for _, d := range s.documents {
		if d.Jurisdiction != j || d.Downloaded {
			continue
		}
		c := s.findCaseLocked(j, d.CaseDocketID)
		if c == nil || c.CaseDate.Before(cutoff) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CaseDocketID != out[k].CaseDocketID {
			return out[i].CaseDocketID < out[k].CaseDocketID
		}
		return out[i].DocumentID < out[k].DocumentID
	})
	return out, nil
}

// UpdateDocument overwrites the stored document. The downloaded flag is
// monotonic.
func (s *Store) UpdateDocument(_ context.Context, d model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.findDocumentLocked(d.Jurisdiction, d.CaseDocketID, d.DocumentID)
	if existing == nil {
		return nil
	}
	if existing.Downloaded && !d.Downloaded {
		d.Downloaded = existing.Downloaded
		d.DownloadedAt = existing.DownloadedAt
		d.StoragePath = existing.StoragePath
	}
	d.ID = existing.ID
	*existing = d
	return nil
}

// Cases returns a copy of all stored cases, for test assertions.
func (s *Store) Cases() []model.Case {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Case(nil), s.cases...)
}

// Documents returns a copy of all stored documents, for test assertions.
func (s *Store) Documents() []model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Document(nil), s.documents...)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
