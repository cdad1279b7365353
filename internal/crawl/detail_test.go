package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/captcha"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/session"
	storememory "github.com/kyrt-project/courtcrawler/internal/store/memory"
)

func newTestDetailEngine(t *testing.T, base string, st *storememory.Store) *DetailEngine {
	t.Helper()
	logger := zap.NewNop()
	client := fetch.NewClient("test-agent", 5*time.Second, logger)
	sessions := session.NewManager(client, &captcha.NoOpSolver{}, session.Config{MaxRetries: 3}, logger)
	return NewDetailEngine(newStubSite(base), client, sessions, st, testCrawlConfig(t, 14), logger)
}

func TestDetailRecordsDocumentsAndMarksCases(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/case/123", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "doc|D1|ANSWER|/doc/D1\ndoc|D2|EXHIBIT A|/doc/D2\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	st := storememory.New()
	require.NoError(t, st.CreateCases(context.Background(), []model.Case{{
		Jurisdiction: model.JurisdictionNY,
		CompanyID:    1,
		DocketID:     "123",
		CaseNumber:   "CV-1",
		CaseDate:     time.Now().AddDate(0, 0, -2),
		URL:          server.URL + "/case/123",
	}}))

	stats, err := newTestDetailEngine(t, server.URL, st).Run(context.Background(), model.ModeNew, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Selected)
	require.Equal(t, 1, stats.Detailed)
	require.Equal(t, 2, stats.DocumentsFound)

	cases := st.Cases()
	require.Len(t, cases, 1)
	require.True(t, cases[0].Detailed)
	require.NotNil(t, cases[0].DetailedAt)
	require.Len(t, st.Documents(), 2)

	// A new-mode re-run selects nothing: the case is already detailed.
	stats, err = newTestDetailEngine(t, server.URL, st).Run(context.Background(), model.ModeNew, nil)
	require.NoError(t, err)
	require.Zero(t, stats.Selected)
	require.Len(t, st.Documents(), 2)
}

func TestDetailExistingModeSkipsKnownDocuments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/case/123", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "doc|D1|ANSWER|/doc/D1\ndoc|D3|SUMMONS|/doc/D3\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	st := storememory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateCases(ctx, []model.Case{{
		Jurisdiction: model.JurisdictionNY,
		DocketID:     "123",
		CaseNumber:   "CV-1",
		CaseDate:     time.Now().AddDate(0, 0, -2),
		URL:          server.URL + "/case/123",
	}}))
	require.NoError(t, st.CreateDocuments(ctx, []model.Document{{
		Jurisdiction: model.JurisdictionNY,
		CaseDocketID: "123",
		DocumentID:   "D1",
		Name:         "ANSWER",
	}}))

	stats, err := newTestDetailEngine(t, server.URL, st).Run(ctx, model.ModeExisting, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Detailed)
	// Only D3 is new; D1 was already recorded.
	require.Equal(t, 1, stats.DocumentsFound)
	require.Len(t, st.Documents(), 2)
}

func TestDetailSkipsDocumentsOfOutOfWindowCases(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/case/old", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "date|%s\ndoc|D9|MOTION|/doc/D9\n", courtDate(30))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	st := storememory.New()
	// The case date is unknown until the detail page is parsed, as on the
	// CT site.
	require.NoError(t, st.CreateCases(context.Background(), []model.Case{{
		Jurisdiction: model.JurisdictionNY,
		DocketID:     "old",
		CaseNumber:   "CV-9",
		URL:          server.URL + "/case/old",
	}}))

	stats, err := newTestDetailEngine(t, server.URL, st).Run(context.Background(), model.ModeNew, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Detailed)
	require.Zero(t, stats.DocumentsFound)
	require.Empty(t, st.Documents())

	// The refreshed fields still landed.
	cases := st.Cases()
	require.True(t, cases[0].Detailed)
	require.False(t, cases[0].CaseDate.IsZero())
}

func TestDetailFailedCaseDoesNotStopRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/case/bad", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/case/good", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "doc|D1|ANSWER|/doc/D1\n")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	st := storememory.New()
	recent := time.Now().AddDate(0, 0, -1)
	require.NoError(t, st.CreateCases(context.Background(), []model.Case{
		{Jurisdiction: model.JurisdictionNY, DocketID: "bad", CaseNumber: "CV-1", CaseDate: recent, URL: server.URL + "/case/bad"},
		{Jurisdiction: model.JurisdictionNY, DocketID: "good", CaseNumber: "CV-2", CaseDate: recent, URL: server.URL + "/case/good"},
	}))

	stats, err := newTestDetailEngine(t, server.URL, st).Run(context.Background(), model.ModeNew, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, stats.Detailed)
	require.Len(t, st.Documents(), 1)
}
