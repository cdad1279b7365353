package fetch

import (
	"bytes"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parseHTML(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	return doc
}

func TestFindFormLiftsInputs(t *testing.T) {
	doc := parseHTML(t, `<html><body>
<form name="search" action="Results?TAB=name" method="post">
  <input type="hidden" name="token" value="tok-1"/>
  <input type="text" name="query" value="prefilled"/>
  <input type="checkbox" name="unchecked" value="u"/>
  <input type="checkbox" name="checked" value="c" checked/>
  <input type="radio" name="pick" value="a"/>
  <input type="radio" name="pick" value="b" checked/>
  <select name="sort">
    <option value="asc">Oldest</option>
    <option value="desc" selected>Newest</option>
  </select>
  <select name="unset"><option value="x">X</option></select>
  <textarea name="notes">free text</textarea>
  <input type="text" value="nameless"/>
  <input type="submit" name="btnSearch" value="Search"/>
  <input type="submit" name="btnClear" value="Clear"/>
</form>
</body></html>`)

	form, ok := FindForm(doc, "search", "https://example.test/base/page")
	require.True(t, ok)
	require.Equal(t, "https://example.test/base/Results?TAB=name", form.Action)
	require.Equal(t, map[string]string{
		"token":   "tok-1",
		"query":   "prefilled",
		"checked": "c",
		"pick":    "b",
		"sort":    "desc",
		"unset":   "",
		"notes":   "free text",
	}, form.Values)

	form = form.Set("query", "ACME")
	require.Equal(t, "ACME", form.Values["query"])

	// Only the button the caller presses goes into the payload.
	form = form.Set("btnSearch", "Search")
	require.Equal(t, "Search", form.Values["btnSearch"])
	require.NotContains(t, form.Values, "btnClear")
}

func TestFindFormMissing(t *testing.T) {
	doc := parseHTML(t, `<html><body><form name="other"></form></body></html>`)
	_, ok := FindForm(doc, "search", "https://example.test/")
	require.False(t, ok)
}

func TestFindFormEmptyActionUsesPageURL(t *testing.T) {
	doc := parseHTML(t, `<html><body><form name="search"></form></body></html>`)
	form, ok := FindForm(doc, "search", "https://example.test/page")
	require.True(t, ok)
	require.Equal(t, "https://example.test/page", form.Action)
}

func TestResolveURL(t *testing.T) {
	require.Equal(t, "https://example.test/a/c", ResolveURL("https://example.test/a/b", "c"))
	require.Equal(t, "https://example.test/c", ResolveURL("https://example.test/a/b", "/c"))
	require.Equal(t, "https://other.test/x", ResolveURL("https://example.test/a", "https://other.test/x"))
	require.Equal(t, "https://example.test/a", ResolveURL("https://example.test/a", ""))
}
