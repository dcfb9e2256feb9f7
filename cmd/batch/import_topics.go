package main

import (
	"github.com/spf13/cobra"

	"review_pipeline/internal/app/pipeline"
	"review_pipeline/internal/app/topics"
)

var importTopicsCmd = &cobra.Command{
	Use:   "import-topics FILE",
	Short: "Load the topic dictionary used for theme counts",
	Long: `Load a JSON object of {"topic_key": "Topic name"} into the topics table.
Search terms (key with spaces, lower-case name, singular/plural variant) are
generated for each entry. Existing keys are updated.

Example:
  batch import-topics topics.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dict, err := topics.LoadDictionary(args[0])
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
			return err
		}
		defer p.Close()

		if err := p.Repo.UpsertTopics(ctx, dict); err != nil {
			return err
		}
		log.Info("topics imported", "file", args[0], "count", len(dict))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importTopicsCmd)
}
