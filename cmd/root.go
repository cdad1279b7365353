package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/app"
	appconfig "github.com/kyrt-project/courtcrawler/internal/config"
	"github.com/kyrt-project/courtcrawler/internal/crawl"
	"github.com/kyrt-project/courtcrawler/internal/logging"
	"github.com/kyrt-project/courtcrawler/internal/store"
	"github.com/kyrt-project/courtcrawler/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. It allows
// injecting a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetStore() store.Store
	GetCrawlConfig() appconfig.Crawl
	GetCoordinator() *crawl.Coordinator
}

// newApp is the application factory. It is a variable so tests can replace
// it with a mock factory.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courtcrawler",
		Short: "Incremental crawler for court cases naming tracked companies.",
		Long: `courtcrawler searches the New York (NYSCEF) and Connecticut judicial
case-search sites for cases naming tracked companies, then incrementally
fetches case details and downloads the filed documents. Re-runs are cheap:
already-known cases and documents are skipped.`,

		// Runs after config is loaded but before the subcommand's RunE;
		// builds the application container and injects it into the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.InitLogger(viper.GetBool("log.development"))

			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(config.InitConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDetailCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newImportCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger(false)

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
