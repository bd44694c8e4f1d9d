package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/ops-copilot/internal/anomaly"
	"github.com/sells-group/ops-copilot/internal/etl"
)

var martCmd = &cobra.Command{
	Use:   "mart",
	Short: "Build and maintain the KPI mart",
}

var (
	martSeed        int64
	martEndDate     string
	martDays        int
	martSkipGen     bool
	martDefinitions string
)

var martBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the full pipeline: generate, transform, validate, load, score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		opts := etl.PipelineOptions{
			RawDir:          cfg.ETL.RawDir,
			CleanDir:        cfg.ETL.CleanDir,
			DefinitionsPath: martDefinitions,
			GenerateSample:  !martSkipGen,
			Generate: etl.GenerateOptions{
				Seed:    martSeed,
				EndDate: martEndDate,
				Days:    martDays,
			},
			Anomaly: anomaly.Params{
				Threshold:  cfg.Anomaly.Threshold,
				WindowDays: cfg.Anomaly.WindowDays,
				MinHistory: cfg.Anomaly.MinHistory,
			},
		}
		if err := etl.NewPipeline(store).Run(ctx, opts); err != nil {
			return err
		}
		fmt.Println("Mart build complete.")
		return nil
	},
}

var martGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a deterministic synthetic raw data drop",
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := etl.Generate(cfg.ETL.RawDir, etl.GenerateOptions{
			Seed:    martSeed,
			EndDate: martEndDate,
			Days:    martDays,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Generated raw data in %s\n", cfg.ETL.RawDir)
		fmt.Printf("Scenario dates: A=%s B=%s C=%s,%s\n",
			sc.A.Format("2006-01-02"), sc.B.Format("2006-01-02"),
			sc.C1.Format("2006-01-02"), sc.C2.Format("2006-01-02"))
		return nil
	},
}

var martTransformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Transform the raw drop into the clean layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := etl.Transform(cfg.ETL.RawDir, cfg.ETL.CleanDir); err != nil {
			return err
		}
		fmt.Printf("Transformed clean data in %s\n", cfg.ETL.CleanDir)
		return nil
	},
}

var martValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate clean CSVs against their contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		results, err := etl.ValidateAndLog(ctx, store, cfg.ETL.CleanDir)
		for _, r := range results {
			fmt.Printf("[%s] %s: %s\n", r.Status, r.TableName, r.Details)
		}
		return err
	},
}

var martFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a raw CSV drop from the configured FTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ETL.FTPURL == "" {
			return fmt.Errorf("etl.ftp_url is not configured")
		}
		fetcher := etl.NewFTPFetcher(etl.FTPOptions{})
		if err := fetcher.FetchRawDrop(cmd.Context(), cfg.ETL.FTPURL, cfg.ETL.RawDir); err != nil {
			return err
		}
		fmt.Printf("Fetched raw drop into %s\n", cfg.ETL.RawDir)
		return nil
	},
}

var martSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed KPI definitions into the mart",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		count, err := etl.SeedDefinitions(ctx, store, martDefinitions)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d KPI definitions.\n", count)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{martBuildCmd, martGenerateCmd} {
		c.Flags().Int64Var(&martSeed, "seed", 0, "generator seed (0 = default)")
		c.Flags().StringVar(&martEndDate, "end-date", "", "anchor end date YYYY-MM-DD (default yesterday)")
		c.Flags().IntVar(&martDays, "days", 0, "lookback days (0 = default 120)")
	}
	martBuildCmd.Flags().BoolVar(&martSkipGen, "skip-generate", false, "load an existing raw drop instead of generating one")
	martBuildCmd.Flags().StringVar(&martDefinitions, "definitions", "", "KPI definitions YAML (default embedded)")
	martSeedCmd.Flags().StringVar(&martDefinitions, "definitions", "", "KPI definitions YAML (default embedded)")

	martCmd.AddCommand(martBuildCmd, martGenerateCmd, martTransformCmd, martValidateCmd, martFetchCmd, martSeedCmd)
	rootCmd.AddCommand(martCmd)
}
