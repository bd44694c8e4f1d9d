package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/ops-copilot/internal/quality"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Evaluate data quality and render the scorecard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		result, err := quality.NewEvaluator(store).Evaluate(ctx)
		if err != nil {
			return err
		}

		fmt.Println(quality.RenderScorecard(result))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(qualityCmd)
}
