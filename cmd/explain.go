package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/ops-copilot/internal/anomaly"
	"github.com/sells-group/ops-copilot/internal/drivers"
	"github.com/sells-group/ops-copilot/internal/explain"
	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/pkg/rephrase"
)

var (
	explainKPI  string
	explainDate string
)

// buildAssembler wires the explanation assembler from config. The rephraser
// is attached only when an Anthropic key is present.
func buildAssembler(store mart.Store) *explain.Assembler {
	engine := drivers.NewEngine(store, cfg.Attribution.BaselineDays, cfg.Attribution.TopN)
	detector := anomaly.NewDetector(store)

	var rephraser explain.Rephraser
	if cfg.Rephrase.AnthropicKey != "" {
		rephraser = rephrase.New(cfg.Rephrase.AnthropicKey, cfg.Rephrase.Model)
	}

	return explain.NewAssembler(store, engine, detector, rephraser, cfg.Attribution.BaselineDays, anomaly.Params{
		Threshold:  cfg.Anomaly.Threshold,
		WindowDays: cfg.Anomaly.WindowDays,
		MinHistory: cfg.Anomaly.MinHistory,
	})
}

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain a KPI value: anomaly context, drivers, and actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		date := explainDate
		if date == "" {
			date, err = store.LatestKPIDate(ctx, explainKPI)
			if err != nil {
				return err
			}
		}

		explanation, err := buildAssembler(store).Explain(ctx, explainKPI, date, "")
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(explanation)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the operational data",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		question := args[0]
		for _, extra := range args[1:] {
			question += " " + extra
		}

		response, err := buildAssembler(store).Ask(ctx, question, explainKPI, explainDate)
		if err != nil {
			return err
		}

		fmt.Printf("Intent: %v\n", response["intent"])
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	},
}

func init() {
	explainCmd.Flags().StringVar(&explainKPI, "kpi", "sla_breach_rate_pct", "KPI name")
	explainCmd.Flags().StringVar(&explainDate, "date", "", "target date YYYY-MM-DD (default latest)")
	askCmd.Flags().StringVar(&explainKPI, "kpi", "", "KPI name (default per intent)")
	askCmd.Flags().StringVar(&explainDate, "date", "", "target date YYYY-MM-DD (default latest)")
	rootCmd.AddCommand(explainCmd, askCmd)
}
