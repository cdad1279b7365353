package crawl

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kyrt-project/courtcrawler/internal/captcha"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
)

// stubSite is a Site backed by a plain-text protocol so engine tests do not
// depend on real court markup. Result pages are newline-separated records:
//
//	case|<docket>|<case number>|<MM/DD/YYYY or ->
//	next|<path>
//
// and case detail pages:
//
//	date|<MM/DD/YYYY>
//	doc|<id>|<name>|<path>
type stubSite struct {
	base string
	code model.Jurisdiction
}

func newStubSite(base string) *stubSite {
	return &stubSite{base: base, code: model.JurisdictionNY}
}

func (s *stubSite) Code() model.Jurisdiction { return s.code }

func (s *stubSite) EntryRequest() fetch.Request {
	return fetch.Request{URL: s.base + "/search"}
}

func (s *stubSite) LoginRequest(fetch.Page) (fetch.Request, bool, error) {
	return fetch.Request{}, false, nil
}

func (s *stubSite) SearchFormRequest() fetch.Request {
	return fetch.Request{URL: s.base + "/search"}
}

func (s *stubSite) SearchRequest(_ fetch.Page, alias string) (fetch.Request, error) {
	return fetch.Request{
		URL:  s.base + "/results?page=1",
		Form: map[string]string{"q": alias},
	}, nil
}

func (s *stubSite) SortRequest(fetch.Page) (fetch.Request, bool, error) {
	return fetch.Request{}, false, nil
}

func (s *stubSite) ParseResults(page fetch.Page) (ResultsPage, error) {
	var out ResultsPage
	for _, line := range strings.Split(string(page.Body), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		switch parts[0] {
		case "case":
			var caseDate time.Time
			if parts[3] != "-" {
				var err error
				if caseDate, err = parseCourtDate(parts[3]); err != nil {
					return ResultsPage{}, err
				}
			}
			out.Rows = append(out.Rows, ResultRow{
				DocketID:   parts[1],
				CaseNumber: parts[2],
				CaseDate:   caseDate,
				URL:        s.base + "/case/" + parts[1],
			})
		case "next":
			out.Next = &fetch.Request{URL: s.base + parts[1]}
		}
	}
	return out, nil
}

func (s *stubSite) ParseDetail(page fetch.Page, c *model.Case) ([]model.Document, error) {
	var docs []model.Document
	for _, line := range strings.Split(string(page.Body), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		switch parts[0] {
		case "date":
			caseDate, err := parseCourtDate(parts[1])
			if err != nil {
				return nil, err
			}
			c.CaseDate = caseDate
		case "doc":
			docs = append(docs, model.Document{
				CaseID:       c.ID,
				Jurisdiction: s.code,
				CaseDocketID: c.DocketID,
				DocumentID:   parts[1],
				Name:         parts[2],
				URL:          s.base + parts[3],
			})
		}
	}
	return docs, nil
}

// scriptedSolver returns errs[i] on call i+1 and a fixed token otherwise.
// With alwaysFail set, every call fails transiently.
type scriptedSolver struct {
	mu         sync.Mutex
	calls      int
	errs       []error
	alwaysFail bool
}

func (s *scriptedSolver) Solve(_ context.Context, _ captcha.Challenge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.alwaysFail {
		return "", &captcha.TransientError{Reason: "no slot"}
	}
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return "solved-token", nil
}

func (s *scriptedSolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
