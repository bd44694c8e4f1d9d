package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/ops-copilot/internal/anomaly"
	"github.com/sells-group/ops-copilot/internal/automation"
	"github.com/sells-group/ops-copilot/internal/drivers"
	"github.com/sells-group/ops-copilot/internal/quality"
	"github.com/sells-group/ops-copilot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the KPI, anomaly, explanation, and governance API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		engine := drivers.NewEngine(store, cfg.Attribution.BaselineDays, cfg.Attribution.TopN)
		detector := anomaly.NewDetector(store)
		evaluator := quality.NewEvaluator(store)
		dispatcher := automation.NewDispatcher(cfg.Automation.RatePerSecond)
		trigger := automation.NewTrigger(store, engine, dispatcher)

		scorer := anomaly.Params{
			Threshold:  cfg.Anomaly.Threshold,
			WindowDays: cfg.Anomaly.WindowDays,
			MinHistory: cfg.Anomaly.MinHistory,
		}

		srv := server.New(store, detector, engine, buildAssembler(store), evaluator, trigger, cfg.Server, scorer)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
