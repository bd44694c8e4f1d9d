package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/ops-copilot/internal/anomaly"
)

var (
	anomalyThreshold  float64
	anomalyWindowDays int
)

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "Score KPI series for anomalies",
}

var anomaliesRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Recompute anomalies across all scored KPIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		params := anomaly.Params{
			Threshold:  cfg.Anomaly.Threshold,
			WindowDays: cfg.Anomaly.WindowDays,
			MinHistory: cfg.Anomaly.MinHistory,
		}
		if anomalyThreshold > 0 {
			params.Threshold = anomalyThreshold
		}
		if anomalyWindowDays > 0 {
			params.WindowDays = anomalyWindowDays
			params.MinHistory = anomalyWindowDays
			if params.MinHistory < 8 {
				params.MinHistory = 8
			}
		}

		anomalies, err := anomaly.NewDetector(store).Recompute(ctx, params)
		if err != nil {
			return err
		}

		fmt.Printf("Flagged %d anomalies (threshold %.2f, window %d days).\n",
			len(anomalies), params.Threshold, params.WindowDays)
		for _, a := range anomalies {
			tag := ""
			if a.ScenarioTag != "" {
				tag = " [" + a.ScenarioTag + "]"
			}
			fmt.Printf("  %s %s value=%.4f baseline=%.4f score=%.4f%s\n",
				a.Date, a.KPIName, a.Value, a.Baseline, a.Score, tag)
		}
		return nil
	},
}

func init() {
	anomaliesRunCmd.Flags().Float64Var(&anomalyThreshold, "threshold", 0, "score threshold (0 = configured default)")
	anomaliesRunCmd.Flags().IntVar(&anomalyWindowDays, "window-days", 0, "trailing window size (0 = configured default)")
	anomaliesCmd.AddCommand(anomaliesRunCmd)
	rootCmd.AddCommand(anomaliesCmd)
}
