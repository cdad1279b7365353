package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
)

func ctPage(body string) fetch.Page {
	return fetch.Page{URL: ctSearchURL, FinalURL: ctSearchURL, StatusCode: 200, Body: []byte(body)}
}

const ctResultsFixture = `<html><body>
<form name="aspnetForm" action="PartySearch.aspx" method="post">
<input type="hidden" name="__VIEWSTATE" value="vs-1"/>
<table class="grdBorder">
<tr><td colspan="6"><table><tr>
  <td><span>1</span></td>
  <td><a href="javascript:__doPostBack('ctl00$ContentPlaceHolder1$grdParties','Page$2')">2</a></td>
</tr></table></td></tr>
<tr class="grdHeader"><td>Party</td><td>Case</td><td>Docket</td><td>Court</td><td>Pty</td><td>Self-Rep</td></tr>
<tr class="grdRow">
  <td>ACME CORP</td>
  <td>ACME CORP v. DOE, JANE</td>
  <td><a href="CaseDetail.aspx?DocketNo=FBT-CV-26-1234567-S">FBT-CV-26-1234567-S</a></td>
  <td>Fairfield JD</td>
  <td>D-01</td>
  <td>N</td>
</tr>
<tr class="grdRowAlt">
  <td>ACME CORPORATION</td>
  <td>ROE v. ACME CORPORATION</td>
  <td><a href="CaseDetail.aspx?DocketNo=HHD-CV-26-7654321-S">HHD-CV-26-7654321-S</a></td>
  <td>Hartford JD</td>
  <td>D-02</td>
  <td>Y</td>
</tr>
</table>
</form>
</body></html>`

func TestCTParseResults(t *testing.T) {
	out, err := NewCT().ParseResults(ctPage(ctResultsFixture))
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)

	row := out.Rows[0]
	require.Equal(t, "FBT-CV-26-1234567-S", row.DocketID)
	require.Equal(t, "FBT-CV-26-1234567-S", row.CaseNumber)
	require.Equal(t, "ACME CORP v. DOE, JANE", row.Caption)
	require.Equal(t, "Fairfield JD", row.Court)
	require.Equal(t, "https://civilinquiry.jud.ct.gov/CaseDetail.aspx?DocketNo=FBT-CV-26-1234567-S", row.URL)
	// The grid carries no dates; the detail stage fills them in.
	require.True(t, row.CaseDate.IsZero())
	require.NotNil(t, row.CT)
	require.Equal(t, "ACME CORP", row.CT.PartyName)
	require.Equal(t, "D-01", row.CT.PtyNumber)
	require.False(t, row.CT.SelfRep)

	require.True(t, out.Rows[1].CT.SelfRep)

	// The pager link becomes an ASP.NET postback submission that carries the
	// page's view state.
	require.NotNil(t, out.Next)
	require.Equal(t, ctSearchURL, out.Next.URL)
	require.Equal(t, "ctl00$ContentPlaceHolder1$grdParties", out.Next.Form["__EVENTTARGET"])
	require.Equal(t, "Page$2", out.Next.Form["__EVENTARGUMENT"])
	require.Equal(t, "vs-1", out.Next.Form["__VIEWSTATE"])
}

func TestCTParseResultsLastPageHasNoNext(t *testing.T) {
	body := `<html><body>
<form name="aspnetForm" action="PartySearch.aspx" method="post">
<table class="grdBorder">
<tr><td><table><tr>
  <td><a href="javascript:__doPostBack('ctl00$ContentPlaceHolder1$grdParties','Page$1')">1</a></td>
  <td><span>2</span></td>
</tr></table></td></tr>
</table>
</form>
</body></html>`
	out, err := NewCT().ParseResults(ctPage(body))
	require.NoError(t, err)
	require.Nil(t, out.Next)
}

const ctDetailFixture = `<html><body>
<span id="ctl00_ContentPlaceHolder1_CaseDetailHeader1_lblPrefixSuffix">FBT-CV-26-1234567-S</span>
<span id="ctl00_ContentPlaceHolder1_CaseDetailHeader1_lblCaseType">C40 - Contract</span>
<span id="ctl00_ContentPlaceHolder1_CaseDetailHeader1_lblFileDate">07/01/2026</span>
<span id="ctl00_ContentPlaceHolder1_CaseDetailHeader1_lblReturnDate">08/04/2026</span>
<div id="ctl00_ContentPlaceHolder1_CaseDetailDocuments1_pnlMotionData">
<table><tr><td><table>
<tr><td>Entry No</td><td>File Date</td><td>Filed By</td><td>Description</td><td>Arguable</td></tr>
<tr><td>100.30</td><td>07/02/2026</td><td>P-01</td><td><a href="DocumentInquiry.aspx?DocumentNo=999">SUMMONS</a></td><td>No</td></tr>
<tr><td>100.31</td><td>07/02/2026</td><td>P-01</td><td>Entry without a scanned document</td><td>No</td></tr>
</table></td></tr></table>
</div>
</body></html>`

func TestCTParseDetail(t *testing.T) {
	cs := &model.Case{ID: 3, DocketID: "FBT-CV-26-1234567-S"}
	docs, err := NewCT().ParseDetail(ctPage(ctDetailFixture), cs)
	require.NoError(t, err)

	require.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), cs.CaseDate)
	require.Equal(t, "C40 - Contract", cs.CaseType)
	require.NotNil(t, cs.CT)
	require.Equal(t, "FBT-CV-26-1234567-S", cs.CT.Prefix)
	require.Equal(t, cs.CaseDate, cs.CT.FileDate)
	require.Equal(t, time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC), cs.CT.ReturnDate)

	require.Len(t, docs, 1)
	d := docs[0]
	require.Equal(t, int64(3), d.CaseID)
	require.Equal(t, "999", d.DocumentID)
	require.Equal(t, "SUMMONS", d.Name)
	require.Equal(t, "https://civilinquiry.jud.ct.gov/DocumentInquiry.aspx?DocumentNo=999", d.URL)
	require.NotNil(t, d.CT)
	require.Equal(t, "100.30", d.CT.EntryNo)
	require.Equal(t, "P-01", d.CT.FiledBy)
	require.Equal(t, "No", d.CT.Arguable)
	require.Equal(t, time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC), d.CT.FileDate)
}

func TestCTParseDetailMissingFileDateFails(t *testing.T) {
	cs := &model.Case{DocketID: "FBT-CV-26-1234567-S"}
	_, err := NewCT().ParseDetail(ctPage(`<html><body></body></html>`), cs)
	require.Error(t, err)
}

func TestCTSearchRequest(t *testing.T) {
	body := `<html><body>
<form name="aspnetForm" action="PartySearch.aspx" method="post">
<input type="hidden" name="__VIEWSTATE" value="vs-1"/>
<input type="text" name="ctl00$ContentPlaceHolder1$txtLastName" value=""/>
<select name="ctl00$ContentPlaceHolder1$ddlLastNameSearchType">
  <option value="Contains">Contains</option>
  <option value="Starts With" selected>Starts With</option>
</select>
</form>
</body></html>`
	req, err := NewCT().SearchRequest(ctPage(body), "ACME CORP")
	require.NoError(t, err)
	require.Equal(t, ctSearchURL, req.URL)
	require.Equal(t, "ACME CORP", req.Form["ctl00$ContentPlaceHolder1$txtLastName"])
	require.Equal(t, "Starts With", req.Form["ctl00$ContentPlaceHolder1$ddlLastNameSearchType"])
	require.Equal(t, "vs-1", req.Form["__VIEWSTATE"])
}
