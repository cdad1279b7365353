package crawl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
)

const (
	ctSearchURL = "https://civilinquiry.jud.ct.gov/PartySearch.aspx"

	// ASP.NET renders one page-wide form carrying the view state.
	ctFormName = "aspnetForm"
)

var ctPostbackRe = regexp.MustCompile(`__doPostBack\('(.+?)','(.*?)'\)`)

// CT adapts the Connecticut Judicial Branch civil inquiry party search.
// The site needs no login and no challenge solving, but pagination is an
// ASP.NET postback, and result rows carry no dates; the case file date only
// appears on the detail page.
type CT struct{}

// NewCT builds the CT site adapter.
func NewCT() *CT {
	return &CT{}
}

func (c *CT) Code() model.Jurisdiction { return model.JurisdictionCT }

func (c *CT) EntryRequest() fetch.Request {
	return fetch.Request{URL: ctSearchURL}
}

func (c *CT) LoginRequest(fetch.Page) (fetch.Request, bool, error) {
	return fetch.Request{}, false, nil
}

func (c *CT) SearchFormRequest() fetch.Request {
	return fetch.Request{URL: ctSearchURL}
}

func (c *CT) SearchRequest(page fetch.Page, alias string) (fetch.Request, error) {
	doc, err := page.Document()
	if err != nil {
		return fetch.Request{}, err
	}
	form, ok := fetch.FindForm(doc, ctFormName, page.FinalURL)
	if !ok {
		return fetch.Request{}, fmt.Errorf("ct search page %s: no %q form", page.FinalURL, ctFormName)
	}
	form.Set("ctl00$ContentPlaceHolder1$txtLastName", alias)
	form.Set("ctl00$ContentPlaceHolder1$ddlLastNameSearchType", "Starts With")
	return fetch.Request{URL: form.Action, Form: form.Values}, nil
}

// SortRequest reports no sort control: CT results expose no dates to sort
// by, so pagination runs to the last page instead of a recency cutoff.
func (c *CT) SortRequest(fetch.Page) (fetch.Request, bool, error) {
	return fetch.Request{}, false, nil
}

// ParseResults reads the party-search grid. The third cell links the case
// detail page; the docket number rides in the link's DocketNo parameter.
func (c *CT) ParseResults(page fetch.Page) (ResultsPage, error) {
	doc, err := page.Document()
	if err != nil {
		return ResultsPage{}, err
	}

	var out ResultsPage
	doc.Find("table.grdBorder .grdRow, table.grdBorder .grdRowAlt").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 6 {
			return
		}
		third := cells.Eq(2)
		href, ok := third.Find("a").First().Attr("href")
		if !ok || href == "" {
			return
		}
		docketID, err := queryParam(href, "DocketNo")
		if err != nil {
			return
		}

		out.Rows = append(out.Rows, ResultRow{
			DocketID:   docketID,
			CaseNumber: cellText(third),
			Caption:    cellText(cells.Eq(1)),
			Court:      cellText(cells.Eq(3)),
			URL:        fetch.ResolveURL(page.FinalURL, href),
			CT: &model.CaseDetailsCT{
				PartyName: cellText(cells.Eq(0)),
				PtyNumber: cellText(cells.Eq(4)),
				SelfRep:   isAffirmative(cellText(cells.Eq(5))),
			},
		})
	})

	next, err := c.nextPageRequest(doc, page)
	if err != nil {
		return ResultsPage{}, err
	}
	out.Next = next
	return out, nil
}

// nextPageRequest finds the pager cell after the current page marker and
// turns its __doPostBack href into a form submission.
func (c *CT) nextPageRequest(doc *goquery.Document, page fetch.Page) (*fetch.Request, error) {
	pager := doc.Find("table.grdBorder tr").First().Find("table tr").First()
	current := pager.Find("td:has(span)").First()
	if current.Length() == 0 {
		return nil, nil
	}
	href, ok := current.Next().Find("a").First().Attr("href")
	if !ok || href == "" {
		return nil, nil
	}
	m := ctPostbackRe.FindStringSubmatch(href)
	if m == nil {
		return nil, fmt.Errorf("ct pager link %q: no __doPostBack call", href)
	}
	form, ok := fetch.FindForm(doc, ctFormName, page.FinalURL)
	if !ok {
		return nil, fmt.Errorf("ct results page %s: no %q form", page.FinalURL, ctFormName)
	}
	form.Set("__EVENTTARGET", m[1])
	form.Set("__EVENTARGUMENT", m[2])
	return &fetch.Request{URL: form.Action, Form: form.Values}, nil
}

// ParseDetail fills the header fields the search grid omits, then reads the
// motion/document table. The header file date is the case's canonical date.
func (c *CT) ParseDetail(page fetch.Page, cs *model.Case) ([]model.Document, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}

	if cs.CT == nil {
		cs.CT = &model.CaseDetailsCT{}
	}
	cs.CT.Prefix = ctHeaderValue(doc, "lblPrefixSuffix")
	cs.CaseType = ctHeaderValue(doc, "lblCaseType")

	fileDate, err := parseCourtDate(ctHeaderValue(doc, "lblFileDate"))
	if err != nil {
		return nil, fmt.Errorf("ct case %s: %w", cs.DocketID, err)
	}
	cs.CaseDate = fileDate
	cs.CT.FileDate = fileDate

	if s := ctHeaderValue(doc, "lblReturnDate"); s != "" {
		returnDate, err := parseCourtDate(s)
		if err != nil {
			return nil, fmt.Errorf("ct case %s: %w", cs.DocketID, err)
		}
		cs.CT.ReturnDate = returnDate
	}

	var docs []model.Document
	rows := doc.Find("#ctl00_ContentPlaceHolder1_CaseDetailDocuments1_pnlMotionData table table tr")
	rows.Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := tr.Find("td")
		if cells.Length() < 5 {
			return
		}
		link := cells.Eq(3).Find("a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		documentID, err := queryParam(href, "DocumentNo")
		if err != nil {
			return
		}

		details := &model.DocumentDetailsCT{
			EntryNo:  cellText(cells.Eq(0)),
			FiledBy:  cellText(cells.Eq(2)),
			Arguable: cellText(cells.Eq(4)),
		}
		if t, err := parseCourtDate(cellText(cells.Eq(1))); err == nil {
			details.FileDate = t
		}

		docs = append(docs, model.Document{
			CaseID:       cs.ID,
			Jurisdiction: model.JurisdictionCT,
			CaseDocketID: cs.DocketID,
			DocumentID:   documentID,
			Name:         strings.TrimSpace(link.Text()),
			URL:          fetch.ResolveURL(page.FinalURL, href),
			CT:           details,
		})
	})
	return docs, nil
}

func ctHeaderValue(doc *goquery.Document, id string) string {
	return strings.TrimSpace(doc.Find("#ctl00_ContentPlaceHolder1_CaseDetailHeader1_" + id).Text())
}

func isAffirmative(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "YES":
		return true
	}
	return false
}
