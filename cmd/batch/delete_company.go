package main

import (
	"github.com/spf13/cobra"

	"review_pipeline/internal/app/pipeline"
)

var deleteCompanyCmd = &cobra.Command{
	Use:   "delete-company DOMAIN",
	Short: "Delete a company and all of its stored reviews",
	Long: `Delete the company scraped from DOMAIN. Its reviews, AI summary and top
mentions are removed with it. Rows already written to the sheet are kept.

Example:
  batch delete-company ketogo.app`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		p, err := pipeline.Open(ctx, cfg, false, log)
		if err != nil {
			return err
		}
		defer p.Close()

		_, err = p.DeleteBrand(ctx, args[0])
		return err
	},
}

func init() {
	rootCmd.AddCommand(deleteCompanyCmd)
}
