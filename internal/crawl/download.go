package crawl

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kyrt-project/courtcrawler/internal/config"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/publisher"
	"github.com/kyrt-project/courtcrawler/internal/session"
	"github.com/kyrt-project/courtcrawler/internal/sink"
	"github.com/kyrt-project/courtcrawler/internal/store"
)

// DownloadStats summarizes one download run.
type DownloadStats struct {
	Selected        int
	Downloaded      int
	StatusDocuments int
	Failed          int
}

// DownloadEngine runs the third crawl stage: fetching each pending
// document's bytes and persisting them to the sink. A document only counts
// as downloaded once its bytes are safely stored; anything else leaves it
// pending for the next run.
type DownloadEngine struct {
	site      Site
	client    *fetch.Client
	sessions  *session.Manager
	store     store.Store
	sink      sink.Sink
	publisher publisher.Publisher
	cfg       config.Crawl
	logger    *zap.Logger

	now func() time.Time

	mu         sync.Mutex
	stats      DownloadStats
	statusSeen map[string]struct{}
}

// NewDownloadEngine builds a download engine for one jurisdiction.
func NewDownloadEngine(site Site, client *fetch.Client, sessions *session.Manager, st store.Store, sk sink.Sink, pub publisher.Publisher, cfg config.Crawl, logger *zap.Logger) *DownloadEngine {
	return &DownloadEngine{
		site:      site,
		client:    client,
		sessions:  sessions,
		store:     st,
		sink:      sk,
		publisher: pub,
		cfg:       cfg,
		logger:    logger.With(zap.String("jurisdiction", string(site.Code()))),
		now:       time.Now,
	}
}

// Run downloads every pending document on in-window cases. Failures are
// per-document; the run only aborts on context cancellation.
func (e *DownloadEngine) Run(ctx context.Context) (DownloadStats, error) {
	cutoff := e.cfg.Cutoff(e.now())
	docs, err := e.store.DocumentsToDownload(ctx, e.site.Code(), cutoff)
	if err != nil {
		return DownloadStats{}, fmt.Errorf("select documents to download: %w", err)
	}
	e.stats = DownloadStats{Selected: len(docs)}
	e.statusSeen = make(map[string]struct{})

	e.logger.Info("Starting download stage", zap.Int("documents", len(docs)))

	cookies := e.sessions.LoadCached().HTTPCookies()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.DownloadConcurrency)
	for _, d := range docs {
		group.Go(func() error {
			if err := e.download(gctx, d, cookies); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("Failed to download document",
					zap.String("docket_id", d.CaseDocketID),
					zap.String("document_id", d.DocumentID),
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

	e.logger.Info("Download stage finished",
		zap.Int("downloaded", e.stats.Downloaded),
		zap.Int("status_documents", e.stats.StatusDocuments),
		zap.Int("failed", e.stats.Failed),
	)
	return e.stats, nil
}

func (e *DownloadEngine) download(ctx context.Context, d model.Document, cookies []*http.Cookie) error {
	if err := pause(ctx, e.cfg.DownloadDelay); err != nil {
		return err
	}

	body, err := e.fetchBytes(ctx, d.URL, cookies)
	if err != nil {
		return err
	}

	key := e.sinkKey(d.CaseDocketID, d.DocumentID) + ".pdf"
	if err := e.sink.Put(ctx, key, body); err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	now := e.now()
	d.MarkDownloaded(key, now)
	if err := e.store.UpdateDocument(ctx, d); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	documentsDownloaded.WithLabelValues(string(e.site.Code())).Inc()

	e.mu.Lock()
	e.stats.Downloaded++
	e.mu.Unlock()

	if err := e.publisher.Publish(ctx, publisher.DocumentEvent{
		Jurisdiction: e.site.Code(),
		DocketID:     d.CaseDocketID,
		DocumentID:   d.DocumentID,
		StoragePath:  key,
		DownloadedAt: now,
	}); err != nil {
		e.logger.Warn("Failed to publish document event",
			zap.String("document_id", d.DocumentID),
			zap.Error(err),
		)
	}

	e.downloadStatusDocument(ctx, d, cookies)
	return nil
}

// downloadStatusDocument stores the companion status document some NY cases
// attach. One copy per case is enough; failures are logged and dropped since
// the main document already landed.
func (e *DownloadEngine) downloadStatusDocument(ctx context.Context, d model.Document, cookies []*http.Cookie) {
	if d.NY == nil || d.NY.StatusDocumentURL == "" {
		return
	}
	slug := statusDocumentSlug(d.NY.StatusDocumentName)
	key := e.sinkKey(d.CaseDocketID, slug) + ".pdf"

	e.mu.Lock()
	_, seen := e.statusSeen[key]
	e.statusSeen[key] = struct{}{}
	e.mu.Unlock()
	if seen {
		return
	}

	body, err := e.fetchBytes(ctx, d.NY.StatusDocumentURL, cookies)
	if err != nil {
		e.logger.Warn("Failed to download status document",
			zap.String("docket_id", d.CaseDocketID),
			zap.Error(err),
		)
		return
	}
	if err := e.sink.Put(ctx, key, body); err != nil {
		e.logger.Warn("Failed to store status document",
			zap.String("docket_id", d.CaseDocketID),
			zap.Error(err),
		)
		return
	}

	e.mu.Lock()
	e.stats.StatusDocuments++
	e.mu.Unlock()
}

// fetchBytes fetches a document with the browser user agent. Court sites
// serve PDFs only to requests that look like a full browser.
func (e *DownloadEngine) fetchBytes(ctx context.Context, url string, cookies []*http.Cookie) ([]byte, error) {
	header := http.Header{}
	header.Set("User-Agent", e.cfg.BrowserUserAgent)

	page, _, err := e.client.Do(ctx, fetch.Request{URL: url, Header: header}, cookies)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if page.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, page.StatusCode)
	}
	return page.Body, nil
}

func (e *DownloadEngine) sinkKey(docketID, name string) string {
	return fmt.Sprintf("%s/%s/%s", e.site.Code(), sanitizeKeyPart(docketID), sanitizeKeyPart(name))
}

func statusDocumentSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "_")
	if slug == "" {
		slug = "status_document"
	}
	return slug
}
