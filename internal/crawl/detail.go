package crawl

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kyrt-project/courtcrawler/internal/config"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/session"
	"github.com/kyrt-project/courtcrawler/internal/store"
)

// DetailStats summarizes one detail run.
type DetailStats struct {
	Selected       int
	Detailed       int
	DocumentsFound int
	Failed         int
}

// DetailEngine runs the second crawl stage: opening each selected case's
// page, refreshing its fields, and recording the documents filed on it.
// Detail pages are independent of search session ordering, so cases are
// fetched concurrently under a bounded group.
type DetailEngine struct {
	site     Site
	client   *fetch.Client
	sessions *session.Manager
	store    store.Store
	cfg      config.Crawl
	logger   *zap.Logger

	now func() time.Time

	mu        sync.Mutex
	knownDocs map[string]struct{}
	buffer    []model.Document
	stats     DetailStats
}

// NewDetailEngine builds a detail engine for one jurisdiction.
func NewDetailEngine(site Site, client *fetch.Client, sessions *session.Manager, st store.Store, cfg config.Crawl, logger *zap.Logger) *DetailEngine {
	return &DetailEngine{
		site:     site,
		client:   client,
		sessions: sessions,
		store:    st,
		cfg:      cfg,
		logger:   logger.With(zap.String("jurisdiction", string(site.Code()))),
		now:      time.Now,
	}
}

// Run details every case the mode selects. A failing case is logged and
// skipped; the run only aborts on context cancellation.
func (e *DetailEngine) Run(ctx context.Context, mode model.Mode, companyIDs []int64) (DetailStats, error) {
	if !mode.Valid() {
		return DetailStats{}, fmt.Errorf("invalid mode %q", mode)
	}
	cases, err := e.store.CasesToDetail(ctx, e.site.Code(), mode, companyIDs)
	if err != nil {
		return DetailStats{}, fmt.Errorf("select cases to detail: %w", err)
	}
	knownDocs, err := e.store.KnownDocumentIDs(ctx, e.site.Code())
	if err != nil {
		return DetailStats{}, fmt.Errorf("load known document ids: %w", err)
	}
	e.knownDocs = knownDocs
	e.buffer = e.buffer[:0]
	e.stats = DetailStats{Selected: len(cases)}

	e.logger.Info("Starting detail stage",
		zap.String("mode", string(mode)),
		zap.Int("cases", len(cases)),
	)

	// The session is read-only here: every worker fetches with the same
	// cookie snapshot, and challenges fail the case instead of being solved
	// mid-flight.
	cookies := e.sessions.LoadCached().HTTPCookies()
	cutoff := e.cfg.Cutoff(e.now())

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.DetailConcurrency)
	for _, c := range cases {
		group.Go(func() error {
			if err := e.detailCase(gctx, c, cookies, cutoff); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("Failed to detail case",
					zap.String("docket_id", c.DocketID),
					zap.Error(err),
				)
				e.mu.Lock()
				e.stats.Failed++
				e.mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return e.stats, err
	}

	if err := e.flush(ctx); err != nil {
		return e.stats, err
	}
	e.logger.Info("Detail stage finished",
		zap.Int("detailed", e.stats.Detailed),
		zap.Int("documents_found", e.stats.DocumentsFound),
		zap.Int("failed", e.stats.Failed),
	)
	return e.stats, nil
}

// detailCase fetches and parses one case page. Cases that turn out to be
// older than the cutoff still get their fields refreshed, but their
// documents are not recorded; for CT the file date is only learned here.
func (e *DetailEngine) detailCase(ctx context.Context, c model.Case, cookies []*http.Cookie, cutoff time.Time) error {
	page, _, err := e.client.Do(ctx, fetch.Request{URL: c.URL}, cookies)
	if err != nil {
		return fmt.Errorf("fetch case page: %w", err)
	}
	if page.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("case page %s: status %d", c.URL, page.StatusCode)
	}
	doc, err := page.Document()
	if err != nil {
		return fmt.Errorf("parse case page: %w", err)
	}
	if session.IsChallenge(doc) {
		return fmt.Errorf("challenge interstitial on case page %s", c.URL)
	}

	docs, err := e.site.ParseDetail(page, &c)
	if err != nil {
		return err
	}
	c.MarkDetailed(e.now())
	if err := e.store.UpdateCase(ctx, c); err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	casesDetailed.WithLabelValues(string(e.site.Code())).Inc()

	e.mu.Lock()
	e.stats.Detailed++
	e.mu.Unlock()

	if !c.CaseDate.IsZero() && c.CaseDate.Before(cutoff) {
		e.logger.Debug("Skipping documents of out-of-window case",
			zap.String("docket_id", c.DocketID),
			zap.Time("case_date", c.CaseDate),
		)
		return nil
	}
	return e.recordDocuments(ctx, docs)
}

// recordDocuments buffers never-before-seen documents, flushing at the
// batch size.
func (e *DetailEngine) recordDocuments(ctx context.Context, docs []model.Document) error {
	var full []model.Document

	e.mu.Lock()
	for _, d := range docs {
		key := store.DocumentKey(d.CaseDocketID, d.DocumentID)
		if _, exists := e.knownDocs[key]; exists {
			continue
		}
		e.knownDocs[key] = struct{}{}
		e.buffer = append(e.buffer, d)
		e.stats.DocumentsFound++
	}
	if len(e.buffer) >= e.cfg.BatchSize {
		full = e.buffer
		e.buffer = nil
	}
	e.mu.Unlock()

	if len(full) == 0 {
		return nil
	}
	if err := e.store.CreateDocuments(ctx, full); err != nil {
		return fmt.Errorf("persist %d documents: %w", len(full), err)
	}
	e.logger.Info("Persisted document batch", zap.Int("count", len(full)))
	return nil
}

func (e *DetailEngine) flush(ctx context.Context) error {
	e.mu.Lock()
	pending := e.buffer
	e.buffer = nil
	e.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := e.store.CreateDocuments(ctx, pending); err != nil {
		return fmt.Errorf("persist %d documents: %w", len(pending), err)
	}
	e.logger.Info("Persisted document batch", zap.Int("count", len(pending)))
	return nil
}
