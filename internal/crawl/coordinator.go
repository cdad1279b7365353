package crawl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/captcha"
	"github.com/kyrt-project/courtcrawler/internal/config"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/publisher"
	"github.com/kyrt-project/courtcrawler/internal/session"
	"github.com/kyrt-project/courtcrawler/internal/sink"
	"github.com/kyrt-project/courtcrawler/internal/store"
)

// Stages selects which pipeline stages a run executes.
type Stages struct {
	Search   bool
	Detail   bool
	Download bool
}

// AllStages runs the full pipeline.
func AllStages() Stages {
	return Stages{Search: true, Detail: true, Download: true}
}

// RunOptions select what a coordinated run covers.
type RunOptions struct {
	Jurisdictions []model.Jurisdiction
	Mode          model.Mode
	// CompanyIDs narrows the run to specific companies. Empty means all.
	CompanyIDs []int64
	Stages     Stages
}

// RunStats aggregates the per-stage numbers for one jurisdiction.
type RunStats struct {
	Jurisdiction model.Jurisdiction
	Search       SearchStats
	Detail       DetailStats
	Download     DownloadStats
}

// Coordinator sequences the pipeline per jurisdiction: search discovers
// cases, detail fills them in and finds documents, download fetches the
// bytes. Jurisdictions run one after another; a failing jurisdiction does
// not stop the remaining ones.
type Coordinator struct {
	sites       []Site
	siteConfigs map[model.Jurisdiction]config.Site
	client      *fetch.Client
	store       store.Store
	sink        sink.Sink
	publisher   publisher.Publisher
	solver      captcha.Solver
	primer      *session.BrowserPrimer
	cfg         config.Crawl
	logger      *zap.Logger
}

// CoordinatorDeps carries everything a Coordinator needs.
type CoordinatorDeps struct {
	Sites       []Site
	SiteConfigs map[model.Jurisdiction]config.Site
	Client      *fetch.Client
	Store       store.Store
	Sink        sink.Sink
	Publisher   publisher.Publisher
	Solver      captcha.Solver
	// Primer is optional; nil skips browser priming.
	Primer *session.BrowserPrimer
	Config config.Crawl
	Logger *zap.Logger
}

// NewCoordinator builds a coordinator.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	return &Coordinator{
		sites:       deps.Sites,
		siteConfigs: deps.SiteConfigs,
		client:      deps.Client,
		store:       deps.Store,
		sink:        deps.Sink,
		publisher:   deps.Publisher,
		solver:      deps.Solver,
		primer:      deps.Primer,
		cfg:         deps.Config,
		logger:      deps.Logger,
	}
}

// Run executes the selected stages for each jurisdiction in order. Stage
// errors fail that jurisdiction's remaining stages but not the other
// jurisdictions; the combined error is returned at the end.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) ([]RunStats, error) {
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", opts.Mode)
	}
	if len(opts.Jurisdictions) == 0 {
		for _, site := range c.sites {
			opts.Jurisdictions = append(opts.Jurisdictions, site.Code())
		}
	}

	var companies []model.Company
	if opts.Stages.Search {
		var err error
		companies, err = c.store.Companies(ctx, opts.CompanyIDs)
		if err != nil {
			return nil, fmt.Errorf("load companies: %w", err)
		}
		if len(companies) == 0 {
			return nil, errors.New("no tracked companies to search")
		}
	}

	var (
		all  []RunStats
		errs []error
	)
	for _, code := range opts.Jurisdictions {
		stats, err := c.runJurisdiction(ctx, code, opts, companies)
		all = append(all, stats)
		if err != nil {
			if ctx.Err() != nil {
				return all, err
			}
			c.logger.Error("Jurisdiction run failed",
				zap.String("jurisdiction", string(code)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
		}
	}
	return all, errors.Join(errs...)
}

func (c *Coordinator) runJurisdiction(ctx context.Context, code model.Jurisdiction, opts RunOptions, companies []model.Company) (RunStats, error) {
	stats := RunStats{Jurisdiction: code}

	site, ok := siteByCode(c.sites, code)
	if !ok {
		return stats, fmt.Errorf("unknown jurisdiction %q", code)
	}
	sessions := c.sessionManager(site)

	if opts.Stages.Search {
		if err := c.prime(ctx, site, sessions); err != nil {
			return stats, err
		}
		engine := NewSearchEngine(site, c.client, sessions, c.store, c.cfg, opts.Mode, c.logger)
		var err error
		if stats.Search, err = engine.Run(ctx, companies); err != nil {
			return stats, fmt.Errorf("search: %w", err)
		}
	}
	if opts.Stages.Detail {
		engine := NewDetailEngine(site, c.client, sessions, c.store, c.cfg, c.logger)
		var err error
		if stats.Detail, err = engine.Run(ctx, opts.Mode, opts.CompanyIDs); err != nil {
			return stats, fmt.Errorf("detail: %w", err)
		}
	}
	if opts.Stages.Download {
		engine := NewDownloadEngine(site, c.client, sessions, c.store, c.sink, c.publisher, c.cfg, c.logger)
		var err error
		if stats.Download, err = engine.Run(ctx); err != nil {
			return stats, fmt.Errorf("download: %w", err)
		}
	}
	return stats, nil
}

// sessionManager builds the per-site session manager. Session caches live
// under the data dir, one file per jurisdiction.
func (c *Coordinator) sessionManager(site Site) *session.Manager {
	code := site.Code()
	siteCfg := c.siteConfigs[code]
	cachePath := ""
	if c.cfg.DataDir != "" {
		cachePath = filepath.Join(c.cfg.DataDir, "session_"+strings.ToLower(string(code))+".json")
	}
	return session.NewManager(c.client, c.solver, session.Config{
		MaxRetries: c.cfg.MaxCaptchaRetries,
		CachePath:  cachePath,
		Challenge: captcha.Challenge{
			SiteKey: siteCfg.SiteKey,
			// NYSCEF runs reCAPTCHA Enterprise; the solver needs to know.
			Enterprise: code == model.JurisdictionNY,
		},
	}, c.logger)
}

// prime refreshes the cached session's cookies from a headless browser
// before the search stage, when the primer is enabled.
func (c *Coordinator) prime(ctx context.Context, site Site, sessions *session.Manager) error {
	if c.primer == nil {
		return nil
	}
	sess := sessions.LoadCached()
	if err := c.primer.Prime(ctx, site.EntryRequest().URL, sess); err != nil {
		return fmt.Errorf("prime session: %w", err)
	}
	if err := sessions.Save(sess); err != nil {
		return fmt.Errorf("save primed session: %w", err)
	}
	return nil
}
