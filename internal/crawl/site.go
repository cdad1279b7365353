// Package crawl implements the multi-stage court-record crawl pipeline:
// query expansion, the search state machine, the detail fetcher, the
// document downloader, and the coordinator that sequences them.
//
// Site-specific form construction and parsing rules live behind the Site
// interface; everything else is jurisdiction-agnostic.
package crawl

import (
	"time"

	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
)

// ResultRow is one parsed row of a search results page.
type ResultRow struct {
	DocketID   string
	CaseNumber string
	Caption    string
	Court      string
	CaseType   string
	// CaseDate is zero for sites that only reveal the date on the detail
	// page (CT); the pagination cutoff then falls back to the next-page
	// rule alone.
	CaseDate time.Time
	Status   string
	URL      string

	NY *model.CaseDetailsNY
	CT *model.CaseDetailsCT
}

// ResultsPage is one parsed page of search results plus the request that
// fetches the following page, when a next-page control exists.
type ResultsPage struct {
	Rows []ResultRow
	Next *fetch.Request
}

// Site encapsulates the per-jurisdiction mechanics: which forms to submit
// and how to read the markup back. Implementations must be stateless; all
// session state travels in the session value.
type Site interface {
	Code() model.Jurisdiction

	// EntryRequest opens the site's search entry point (the login page for
	// credentialed sites).
	EntryRequest() fetch.Request

	// LoginRequest builds the credential submission when page is a login
	// form. ok is false when the page is not a login form or the site has
	// no login flow.
	LoginRequest(page fetch.Page) (req fetch.Request, ok bool, err error)

	// SearchFormRequest opens a fresh search form. Issued once per name
	// variation so stale view state from the previous query never leaks
	// into the next one.
	SearchFormRequest() fetch.Request

	// SearchRequest builds the search submission for one name variation,
	// lifted off the search-form page.
	SearchRequest(page fetch.Page, alias string) (fetch.Request, error)

	// SortRequest re-submits the results sorted by filing date descending.
	// ok is false when the site returns results already sorted. The
	// descending order is load-bearing: it lets the search stage stop
	// paginating at the recency cutoff.
	SortRequest(page fetch.Page) (req fetch.Request, ok bool, err error)

	// ParseResults extracts case rows and the next-page request.
	ParseResults(page fetch.Page) (ResultsPage, error)

	// ParseDetail fills c's detail fields from the case page and returns
	// the filed documents listed on it. Returned documents are not yet
	// deduplicated; the detail stage applies the known-ids filter.
	ParseDetail(page fetch.Page, c *model.Case) ([]model.Document, error)
}

// siteByCode returns the adapter for a jurisdiction code.
func siteByCode(sites []Site, code model.Jurisdiction) (Site, bool) {
	for _, s := range sites {
		if s.Code() == code {
			return s, true
		}
	}
	return nil, false
}
