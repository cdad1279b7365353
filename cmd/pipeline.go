// Package cmd defines and implements the CLI commands for the courtcrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/crawl"
	"github.com/kyrt-project/courtcrawler/internal/model"
)

// pipelineFlags are shared by every stage command.
type pipelineFlags struct {
	jurisdictions []string
	mode          string
	companyIDs    []int64
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.jurisdictions, "jurisdictions", "j", []string{"ny", "ct"},
		"jurisdictions to crawl (ny, ct)")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", string(model.ModeNew),
		"crawl mode: new, existing or flagged")
	cmd.Flags().Int64SliceVar(&f.companyIDs, "companies", nil,
		"restrict the run to these company ids (default all)")
}

func (f *pipelineFlags) options(stages crawl.Stages) (crawl.RunOptions, error) {
	jurisdictions, err := parseJurisdictions(f.jurisdictions)
	if err != nil {
		return crawl.RunOptions{}, err
	}
	mode := model.Mode(f.mode)
	if !mode.Valid() {
		return crawl.RunOptions{}, fmt.Errorf("invalid mode %q", f.mode)
	}
	return crawl.RunOptions{
		Jurisdictions: jurisdictions,
		Mode:          mode,
		CompanyIDs:    f.companyIDs,
		Stages:        stages,
	}, nil
}

func parseJurisdictions(raw []string) ([]model.Jurisdiction, error) {
	var out []model.Jurisdiction
	for _, s := range raw {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case string(model.JurisdictionNY):
			out = append(out, model.JurisdictionNY)
		case string(model.JurisdictionCT):
			out = append(out, model.JurisdictionCT)
		default:
			return nil, fmt.Errorf("unknown jurisdiction %q", s)
		}
	}
	return out, nil
}

// runPipeline executes the selected stages through the coordinator and
// logs the per-jurisdiction outcome.
func runPipeline(cmd *cobra.Command, flags *pipelineFlags, stages crawl.Stages) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	opts, err := flags.options(stages)
	if err != nil {
		return err
	}

	stats, runErr := appInstance.GetCoordinator().Run(cmd.Context(), opts)
	for _, s := range stats {
		appInstance.GetLogger().Info("Jurisdiction run complete",
			zap.String("jurisdiction", string(s.Jurisdiction)),
			zap.Int("cases_found", s.Search.CasesFound),
			zap.Int("queries_abandoned", s.Search.Abandoned),
			zap.Int("cases_detailed", s.Detail.Detailed),
			zap.Int("documents_found", s.Detail.DocumentsFound),
			zap.Int("documents_downloaded", s.Download.Downloaded),
		)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run pipeline: %w", runErr)
	}
	return nil
}

func newRunCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the full pipeline: search, detail, download",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags, crawl.AllStages())
		},
	}
	flags.register(cmd)
	return cmd
}

func newSearchCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Searches the court sites for new cases naming tracked companies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags, crawl.Stages{Search: true})
		},
	}
	flags.register(cmd)
	return cmd
}

func newDetailCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "detail",
		Short: "Fetches case detail pages and records filed documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags, crawl.Stages{Detail: true})
		},
	}
	flags.register(cmd)
	return cmd
}

func newDownloadCmd() *cobra.Command {
	flags := &pipelineFlags{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Downloads pending documents to the configured sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags, crawl.Stages{Download: true})
		},
	}
	flags.register(cmd)
	return cmd
}
