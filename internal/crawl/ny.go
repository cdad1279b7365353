package crawl

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kyrt-project/courtcrawler/internal/config"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
)

const (
	nyLoginURL  = "https://iapps.courts.state.ny.us/nyscef/Login"
	nySearchURL = "https://iapps.courts.state.ny.us/nyscef/CaseSearch?TAB=name"

	// Every NYSCEF page names its single form "form".
	nyFormName = "form"
)

// NY adapts the New York State Courts Electronic Filing (NYSCEF) case
// search. Searches are gated behind a reCAPTCHA challenge; a logged-in
// session sees far fewer challenges, so credentials are used when present.
type NY struct {
	site config.Site
}

// NewNY builds the NY site adapter.
func NewNY(site config.Site) *NY {
	return &NY{site: site}
}

func (n *NY) Code() model.Jurisdiction { return model.JurisdictionNY }

func (n *NY) EntryRequest() fetch.Request {
	if n.site.Username != "" {
		return fetch.Request{URL: nyLoginURL}
	}
	return fetch.Request{URL: nySearchURL}
}

func (n *NY) LoginRequest(page fetch.Page) (fetch.Request, bool, error) {
	if n.site.Username == "" {
		return fetch.Request{}, false, nil
	}
	doc, err := page.Document()
	if err != nil {
		return fetch.Request{}, false, err
	}
	if doc.Find(`input[name="txtUserName"]`).Length() == 0 {
		return fetch.Request{}, false, nil
	}
	form, ok := fetch.FindForm(doc, nyFormName, page.FinalURL)
	if !ok {
		return fetch.Request{}, false, fmt.Errorf("ny login page %s: no %q form", page.FinalURL, nyFormName)
	}
	form.Set("txtUserName", n.site.Username)
	form.Set("pwPassword", n.site.Password)
	return fetch.Request{URL: form.Action, Form: form.Values}, true, nil
}

func (n *NY) SearchFormRequest() fetch.Request {
	return fetch.Request{URL: nySearchURL}
}

func (n *NY) SearchRequest(page fetch.Page, alias string) (fetch.Request, error) {
	doc, err := page.Document()
	if err != nil {
		return fetch.Request{}, err
	}
	form, ok := fetch.FindForm(doc, nyFormName, page.FinalURL)
	if !ok {
		return fetch.Request{}, fmt.Errorf("ny search page %s: no %q form", page.FinalURL, nyFormName)
	}
	form.Set("txtBusinessOrgName", alias)
	return fetch.Request{URL: form.Action, Form: form.Values}, nil
}

// SortRequest re-submits the results ordered newest first, which is what
// lets pagination stop at the recency cutoff.
func (n *NY) SortRequest(page fetch.Page) (fetch.Request, bool, error) {
	doc, err := page.Document()
	if err != nil {
		return fetch.Request{}, false, err
	}
	form, ok := fetch.FindForm(doc, nyFormName, page.FinalURL)
	if !ok {
		return fetch.Request{}, false, fmt.Errorf("ny results page %s: no %q form", page.FinalURL, nyFormName)
	}
	form.Set("selSortBy", "FilingDateDesc")
	form.Set("btnSort", "Sort")
	return fetch.Request{URL: form.Action, Form: form.Values}, true, nil
}

// ParseResults reads the sorted results table. Each row's first cell holds
// the case link, case number and received date; the remaining cells carry
// status, caption, court and case type.
func (n *NY) ParseResults(page fetch.Page) (ResultsPage, error) {
	doc, err := page.Document()
	if err != nil {
		return ResultsPage{}, err
	}

	var out ResultsPage
	doc.Find(".NewSearchResults tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 4 {
			return
		}
		first := cells.Eq(0)
		href, ok := first.Find("a").First().Attr("href")
		if !ok || href == "" {
			return
		}
		docketID, err := queryParam(href, "docketId")
		if err != nil {
			return
		}

		texts := textSegments(first)
		if len(texts) < 2 {
			return
		}
		caseNumber := texts[0]
		caseDate, err := parseCourtDate(texts[1])
		if err != nil {
			return
		}

		second, third, fourth := cells.Eq(1), cells.Eq(2), cells.Eq(3)
		row := ResultRow{
			DocketID:   docketID,
			CaseNumber: caseNumber,
			Caption:    ownText(third),
			Court:      ownText(fourth),
			CaseType:   strings.TrimSpace(fourth.Find("span").First().Text()),
			CaseDate:   caseDate,
			Status:     strings.TrimSpace(second.Find("span").First().Text()),
			URL:        fetch.ResolveURL(page.FinalURL, href),
			NY: &model.CaseDetailsNY{
				ReceivedDate:  caseDate,
				EfilingStatus: ownText(second),
				CaseStatus:    strings.TrimSpace(second.Find("span").First().Text()),
			},
		}
		out.Rows = append(out.Rows, row)
	})

	doc.Find("span.pageNumbers a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) != ">>" {
			return true
		}
		if href, ok := a.Attr("href"); ok && href != "" {
			out.Next = &fetch.Request{URL: fetch.ResolveURL(page.FinalURL, href)}
		}
		return false
	})
	return out, nil
}

// ParseDetail reads the case page's document table. The second cell of each
// row links the document and may carry a <span> description; the third cell
// mixes the filer with "Filed:"/"Received:" date lines; the fourth cell
// optionally links a companion status document.
func (n *NY) ParseDetail(page fetch.Page, c *model.Case) ([]model.Document, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}

	var docs []model.Document
	doc.Find("table.NewSearchResults tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}
		second := cells.Eq(1)
		link := second.Find("a").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		documentID, err := queryParam(href, "docIndex")
		if err != nil {
			return
		}

		details := &model.DocumentDetailsNY{
			Description: strings.Join(textSegments(second.Find("span")), " "),
		}

		if cells.Length() > 2 {
			filedParts := textSegments(cells.Eq(2))
			hasFiled := false
			for _, p := range filedParts {
				if strings.Contains(p, "Filed:") {
					hasFiled = true
					break
				}
			}
			if hasFiled && len(filedParts) > 0 {
				details.FiledBy = filedParts[0]
				for _, p := range filedParts[1:] {
					if s, ok := strings.CutPrefix(p, "Filed: "); ok {
						if t, err := parseCourtDate(s); err == nil {
							details.FiledDate = t
						}
					}
					if s, ok := strings.CutPrefix(p, "Received: "); ok {
						if t, err := parseCourtDate(s); err == nil {
							details.FiledDate = t
						}
					}
				}
			}
		}

		if cells.Length() > 3 {
			statusLink := cells.Eq(3).Find("a").First()
			if statusHref, ok := statusLink.Attr("href"); ok && statusHref != "" {
				details.StatusDocumentURL = fetch.ResolveURL(page.FinalURL, statusHref)
				details.StatusDocumentName = strings.TrimSpace(statusLink.Text())
			}
		}

		name := append(textSegments(link), ownText(second))
		docs = append(docs, model.Document{
			CaseID:       c.ID,
			Jurisdiction: model.JurisdictionNY,
			CaseDocketID: c.DocketID,
			DocumentID:   documentID,
			Name:         strings.TrimSpace(strings.Join(name, " ")),
			URL:          fetch.ResolveURL(page.FinalURL, href),
			NY:           details,
		})
	})
	return docs, nil
}
