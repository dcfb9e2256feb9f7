package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"review_pipeline/internal/app/job"
	"review_pipeline/internal/app/pipeline"
)

var runFlags struct {
	week       string
	backfill   bool
	weeks      int
	scrapeOnly bool
	reportOnly bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest reviews and write weekly rows to the report sheet",
	Long: `Ingest reviews for every configured brand, compute ISO week summaries and
upsert them into the raw_data tab keyed by (brand_name, iso_week).

Without flags the most recently completed ISO week is reported.

Example:
  batch run
  batch run --week 2026-W06
  batch run --backfill --weeks 12`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := job.NewOptions(runFlags.week, runFlags.backfill, runFlags.weeks, runFlags.scrapeOnly, runFlags.reportOnly)
		if err != nil {
			return err
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		p, err := pipeline.Open(ctx, cfg, true, log)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		defer p.Close()

		runner, err := p.NewRunner(ctx, !opts.SkipReport)
		if err != nil {
			return &exitError{code: 1, err: err}
		}

		res := runner.Run(ctx, opts)
		if code := res.ExitCode(); code != 0 {
			if res.Error != "" {
				return &exitError{code: code, err: fmt.Errorf("run %s: %s", res.Status, res.Error)}
			}
			return &exitError{code: code, err: fmt.Errorf("run %s: failed brands %v", res.Status, res.FailedBrands())}
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.week, "week", "", "ISO week to report (YYYY-Www)")
	f.BoolVar(&runFlags.backfill, "backfill", false, "report every week since the first stored review")
	f.IntVar(&runFlags.weeks, "weeks", 0, "with --backfill, only the most recent N weeks")
	f.BoolVar(&runFlags.scrapeOnly, "scrape-only", false, "ingest reviews without writing the sheet")
	f.BoolVar(&runFlags.reportOnly, "report-only", false, "write the sheet from stored reviews without scraping")
	runCmd.MarkFlagsMutuallyExclusive("week", "backfill")
	runCmd.MarkFlagsMutuallyExclusive("scrape-only", "report-only")
	rootCmd.AddCommand(runCmd)
}
