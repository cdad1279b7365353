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
	pubmemory "github.com/kyrt-project/courtcrawler/internal/publisher/memory"
	"github.com/kyrt-project/courtcrawler/internal/session"
	"github.com/kyrt-project/courtcrawler/internal/sink"
	storememory "github.com/kyrt-project/courtcrawler/internal/store/memory"
)

func newTestDownloadEngine(t *testing.T, base string, st *storememory.Store, sk sink.Sink, pub *pubmemory.Publisher) *DownloadEngine {
	t.Helper()
	logger := zap.NewNop()
	client := fetch.NewClient("test-agent", 5*time.Second, logger)
	sessions := session.NewManager(client, &captcha.NoOpSolver{}, session.Config{MaxRetries: 3}, logger)
	return NewDownloadEngine(newStubSite(base), client, sessions, st, sk, pub, testCrawlConfig(t, 14), logger)
}

func seedPendingDocument(t *testing.T, st *storememory.Store, base string, doc model.Document) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateCases(ctx, []model.Case{{
		Jurisdiction: model.JurisdictionNY,
		DocketID:     doc.CaseDocketID,
		CaseNumber:   "CV-1",
		CaseDate:     time.Now().AddDate(0, 0, -2),
		URL:          base + "/case/" + doc.CaseDocketID,
	}}))
	require.NoError(t, st.CreateDocuments(ctx, []model.Document{doc}))
}

func TestDownloadStoresBytesAndPublishes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc/D1", func(w http.ResponseWriter, r *http.Request) {
		// Court sites refuse non-browser agents for document bytes.
		if r.Header.Get("User-Agent") != "test-browser" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "pdf-bytes")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	st := storememory.New()
	seedPendingDocument(t, st, server.URL, model.Document{
		Jurisdiction: model.JurisdictionNY,
		CaseDocketID: "123",
		DocumentID:   "D1",
		Name:         "ANSWER",
		URL:          server.URL + "/doc/D1",
	})

	sk := sink.NewMemory()
	pub := pubmemory.New()
	stats, err := newTestDownloadEngine(t, server.URL, st, sk, pub).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Selected)
	require.Equal(t, 1, stats.Downloaded)
	require.Zero(t, stats.Failed)

	data, ok := sk.Get("NY/123/D1.pdf")
	require.True(t, ok)
	require.Equal(t, "pdf-bytes", string(data))

	docs := st.Documents()
	require.Len(t, docs, 1)
	require.True(t, docs[0].Downloaded)
	require.Equal(t, "NY/123/D1.pdf", docs[0].StoragePath)
	require.NotNil(t, docs[0].DownloadedAt)

	events := pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, model.JurisdictionNY, events[0].Jurisdiction)
	require.Equal(t, "123", events[0].DocketID)
	require.Equal(t, "D1", events[0].DocumentID)
	require.Equal(t, "NY/123/D1.pdf", events[0].StoragePath)

	// Everything is downloaded; a second run has nothing to do.
	stats, err = newTestDownloadEngine(t, server.URL, st, sk, pub).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Selected)
	require.Len(t, pub.Events(), 1)
}

func TestDownloadFailureLeavesDocumentPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc/D1", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	st := storememory.New()
	seedPendingDocument(t, st, server.URL, model.Document{
		Jurisdiction: model.JurisdictionNY,
		CaseDocketID: "123",
		DocumentID:   "D1",
		URL:          server.URL + "/doc/D1",
	})

	sk := sink.NewMemory()
	pub := pubmemory.New()
	stats, err := newTestDownloadEngine(t, server.URL, st, sk, pub).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Zero(t, stats.Downloaded)
	require.Zero(t, sk.Len())
	require.Empty(t, pub.Events())
	require.False(t, st.Documents()[0].Downloaded)
}

func TestDownloadFetchesStatusDocumentOncePerCase(t *testing.T) {
	mux := http.NewServeMux()
	for _, p := range []string{"/doc/D1", "/doc/D2"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "pdf-bytes")
		})
	}
	statusHits := 0
	mux.HandleFunc("/status/case-status", func(w http.ResponseWriter, _ *http.Request) {
		statusHits++
		fmt.Fprint(w, "status-bytes")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ny := &model.DocumentDetailsNY{
		StatusDocumentURL:  server.URL + "/status/case-status",
		StatusDocumentName: "Case Status",
	}
	st := storememory.New()
	seedPendingDocument(t, st, server.URL, model.Document{
		Jurisdiction: model.JurisdictionNY,
		CaseDocketID: "123",
		DocumentID:   "D1",
		URL:          server.URL + "/doc/D1",
		NY:           ny,
	})
	require.NoError(t, st.CreateDocuments(context.Background(), []model.Document{{
		Jurisdiction: model.JurisdictionNY,
		CaseDocketID: "123",
		DocumentID:   "D2",
		URL:          server.URL + "/doc/D2",
		NY:           ny,
	}}))

	sk := sink.NewMemory()
	pub := pubmemory.New()
	stats, err := newTestDownloadEngine(t, server.URL, st, sk, pub).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Downloaded)
	require.Equal(t, 1, stats.StatusDocuments)
	require.Equal(t, 1, statusHits)

	data, ok := sk.Get("NY/123/case_status.pdf")
	require.True(t, ok)
	require.Equal(t, "status-bytes", string(data))
}

func TestDownloadSkipsDocumentsOfOutOfWindowCases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for an out-of-window case")
	}))
	defer server.Close()

	st := storememory.New()
	ctx := context.Background()
	require.NoError(t, st.CreateCases(ctx, []model.Case{{
		Jurisdiction: model.JurisdictionNY,
		DocketID:     "old",
		CaseNumber:   "CV-9",
		CaseDate:     time.Now().AddDate(0, 0, -40),
		URL:          server.URL + "/case/old",
	}}))
	require.NoError(t, st.CreateDocuments(ctx, []model.Document{{
		Jurisdiction: model.JurisdictionNY,
		CaseDocketID: "old",
		DocumentID:   "D1",
		URL:          server.URL + "/doc/D1",
	}}))

	stats, err := newTestDownloadEngine(t, server.URL, st, sink.NewMemory(), pubmemory.New()).Run(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Selected)
}
