// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/api"
	"github.com/kyrt-project/courtcrawler/internal/captcha"
	"github.com/kyrt-project/courtcrawler/internal/config"
	"github.com/kyrt-project/courtcrawler/internal/crawl"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/logging"
	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/publisher"
	"github.com/kyrt-project/courtcrawler/internal/session"
	"github.com/kyrt-project/courtcrawler/internal/sink"
	"github.com/kyrt-project/courtcrawler/internal/store"
	storememory "github.com/kyrt-project/courtcrawler/internal/store/memory"
	storepostgres "github.com/kyrt-project/courtcrawler/internal/store/postgres"
)

// App holds the shared, long-lived services for the application. It is
// initialized once at startup from Viper configuration and passed to the
// commands that need it.
type App struct {
	logger    *zap.Logger
	store     store.Store
	sink      sink.Sink
	publisher publisher.Publisher
	solver    captcha.Solver
	client    *fetch.Client
	primer    *session.BrowserPrimer
	crawlCfg  config.Crawl
	siteCfgs  map[model.Jurisdiction]config.Site
	apiServer *http.Server
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetStore exposes the configured case/document store.
func (a *App) GetStore() store.Store { return a.store }

// GetCrawlConfig returns the crawl pipeline configuration.
func (a *App) GetCrawlConfig() config.Crawl { return a.crawlCfg }

// GetCoordinator wires the pipeline coordinator from the app's services.
func (a *App) GetCoordinator() *crawl.Coordinator {
	return crawl.NewCoordinator(crawl.CoordinatorDeps{
		Sites: []crawl.Site{
			crawl.NewNY(a.siteCfgs[model.JurisdictionNY]),
			crawl.NewCT(),
		},
		SiteConfigs: a.siteCfgs,
		Client:      a.client,
		Store:       a.store,
		Sink:        a.sink,
		Publisher:   a.publisher,
		Solver:      a.solver,
		Primer:      a.primer,
		Config:      a.crawlCfg,
		Logger:      a.logger,
	})
}

// NewApp creates and initializes a new App based on the application's
// configuration. It is the central point for service initialization and is
// designed to fail fast if any critical service cannot be initialized.
func NewApp(ctx context.Context) (*App, error) {
	l := logging.L
	l.Info("Initializing application services...")

	crawlCfg, err := config.LoadCrawl(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load crawl config: %w", err)
	}

	a := &App{
		logger:   l,
		client:   fetch.NewClient(crawlCfg.UserAgent, crawlCfg.RequestTimeout, l),
		crawlCfg: crawlCfg,
		siteCfgs: map[model.Jurisdiction]config.Site{
			model.JurisdictionNY: config.LoadSite(viper.GetViper(), model.JurisdictionNY),
			model.JurisdictionCT: config.LoadSite(viper.GetViper(), model.JurisdictionCT),
		},
	}

	if a.store, err = newStore(ctx, l); err != nil {
		return nil, err
	}
	if a.sink, err = newSink(ctx, l); err != nil {
		return nil, err
	}
	if a.publisher, err = newPublisher(ctx, l); err != nil {
		return nil, err
	}
	if a.solver, err = newSolver(l); err != nil {
		return nil, err
	}

	if crawlCfg.SessionPrimeEnabled {
		primer, err := session.NewBrowserPrimer(session.BrowserPrimerConfig{
			Enabled:   true,
			UserAgent: crawlCfg.BrowserUserAgent,
			Timeout:   crawlCfg.SessionPrimeTimeout,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("start browser primer: %w", err)
		}
		a.primer = primer
	}

	if viper.GetBool("api.enabled") {
		a.startAPIServer(viper.GetString("api.addr"))
	}

	l.Info("Application services initialized successfully.")
	return a, nil
}

func newStore(ctx context.Context, l *zap.Logger) (store.Store, error) {
	provider := viper.GetString("database.provider")
	switch provider {
	case "postgres":
		dsn := viper.GetString("database.postgres.dsn")
		if dsn == "" {
			return nil, errors.New("database provider is 'postgres' but database.postgres.dsn is not set")
		}
		l.Info("Connecting to PostgreSQL...")
		st, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:      dsn,
			MaxConns: int32(viper.GetInt("database.postgres.max_conns")),
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		return st, nil
	case "memory":
		l.Info("Using in-memory store. State will not survive the process.")
		return storememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown database provider: %s", provider)
	}
}

func newSink(ctx context.Context, l *zap.Logger) (sink.Sink, error) {
	provider := viper.GetString("storage.provider")
	switch provider {
	case "gcs":
		bucket := viper.GetString("storage.gcs.bucket")
		if bucket == "" {
			return nil, errors.New("storage provider is 'gcs' but storage.gcs.bucket is not set")
		}
		l.Info("Using GCS document sink", zap.String("bucket", bucket))
		s, err := sink.NewGCS(ctx, bucket, l)
		if err != nil {
			return nil, fmt.Errorf("initialize GCS sink: %w", err)
		}
		return s, nil
	case "local":
		dir := viper.GetString("storage.local.dir")
		l.Info("Using local document sink", zap.String("dir", dir))
		s, err := sink.NewLocal(dir)
		if err != nil {
			return nil, fmt.Errorf("initialize local sink: %w", err)
		}
		return s, nil
	case "noop":
		l.Info("Using No-Op document sink. Downloaded bytes will be discarded.")
		return sink.NoOp{}, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", provider)
	}
}

func newPublisher(ctx context.Context, l *zap.Logger) (publisher.Publisher, error) {
	provider := viper.GetString("queue.provider")
	switch provider {
	case "pubsub":
		projectID := viper.GetString("queue.gcp.project_id")
		topicID := viper.GetString("queue.gcp.topic_id")
		if projectID == "" || topicID == "" {
			return nil, errors.New("queue provider is 'pubsub' but project_id or topic_id is not set")
		}
		l.Info("Connecting to GCP Pub/Sub", zap.String("topic", topicID))
		p, err := publisher.NewPubSub(ctx, projectID, topicID, l)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub publisher: %w", err)
		}
		return p, nil
	case "noop":
		l.Info("Using No-Op publisher. No document events will be sent.")
		return publisher.NoOp{}, nil
	default:
		return nil, fmt.Errorf("unknown queue provider: %s", provider)
	}
}

func newSolver(l *zap.Logger) (captcha.Solver, error) {
	provider := viper.GetString("captcha.provider")
	switch provider {
	case "2captcha":
		solver, err := captcha.NewTwoCaptcha(captcha.TwoCaptchaConfig{
			APIKey:       viper.GetString("captcha.api_key"),
			PollInterval: viper.GetDuration("captcha.poll_interval"),
			Timeout:      viper.GetDuration("captcha.timeout"),
		}, l)
		if err != nil {
			return nil, fmt.Errorf("initialize captcha solver: %w", err)
		}
		return solver, nil
	case "noop":
		l.Info("Using No-Op captcha solver. Challenges will not be cleared.")
		return &captcha.NoOpSolver{}, nil
	default:
		return nil, fmt.Errorf("unknown captcha provider: %s", provider)
	}
}

func (a *App) startAPIServer(addr string) {
	server := api.NewServer(a.logger, nil)
	a.apiServer = &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("Starting status server", zap.String("addr", addr))
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server failed", zap.Error(err))
		}
	}()
}

// Close gracefully shuts down all services in the App container. It is
// called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	if a.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.apiServer.Shutdown(ctx); err != nil {
			a.logger.Warn("Error shutting down status server", zap.Error(err))
		}
		cancel()
	}
	a.primer.Close()
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("Error closing publisher", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing store", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr sync failures are expected on some platforms.
		a.logger.Warn("Error syncing logger on shutdown", zap.Error(err))
	}
}
