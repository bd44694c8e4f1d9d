package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/config"
	"github.com/sells-group/ops-copilot/internal/mart"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ops-copilot",
	Short: "Operational intelligence copilot",
	Long:  "Builds a KPI mart from operational data, scores anomalies with robust statistics, attributes them to dimensional drivers, and serves explanations over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore opens the configured mart backend and runs migrations.
func openStore(ctx context.Context) (mart.Store, error) {
	var store mart.Store
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := mart.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		if dir := filepath.Dir(cfg.Store.DatabaseURL); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create mart dir: %w", err)
			}
		}
		lite, err := mart.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store = lite
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}
	return store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
