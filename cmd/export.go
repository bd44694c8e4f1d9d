package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/ops-copilot/internal/export"
)

var (
	exportOut  string
	exportFrom string
	exportTo   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a KPI workbook as XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		end := exportTo
		if end == "" {
			end = time.Now().UTC().Format("2006-01-02")
		}
		start := exportFrom
		if start == "" {
			endDate, err := time.Parse("2006-01-02", end)
			if err != nil {
				return fmt.Errorf("parse --to: %w", err)
			}
			start = endDate.AddDate(0, 0, -29).Format("2006-01-02")
		}

		if err := export.NewWorkbook(store).Write(ctx, start, end, exportOut); err != nil {
			return err
		}
		fmt.Printf("Exported %s (%s to %s).\n", exportOut, start, end)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "ops_copilot.xlsx", "output file path")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "range start YYYY-MM-DD (default 30 days before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "range end YYYY-MM-DD (default today)")
	rootCmd.AddCommand(exportCmd)
}
