package etl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/anomaly"
	"github.com/sells-group/ops-copilot/internal/kpi"
	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/quality"
)

// PipelineOptions configures a full mart build.
type PipelineOptions struct {
	RawDir          string
	CleanDir        string
	DefinitionsPath string // empty means embedded defaults

	// Generate a synthetic raw drop before transforming. When false the
	// raw dir must already hold a drop (hand-placed or FTP-fetched).
	GenerateSample bool
	Generate       GenerateOptions

	Anomaly anomaly.Params
}

// Pipeline runs the raw-to-insight build: transform, validate, load, seed,
// quality, KPIs, anomalies. Each stage only runs when the previous one
// succeeded, and contract failures stop the build before any load.
type Pipeline struct {
	store mart.Store
}

func NewPipeline(store mart.Store) *Pipeline {
	return &Pipeline{store: store}
}

func (p *Pipeline) Run(ctx context.Context, opts PipelineOptions) error {
	started := time.Now()

	if opts.GenerateSample {
		if _, err := Generate(opts.RawDir, opts.Generate); err != nil {
			return err
		}
	}

	if err := Transform(opts.RawDir, opts.CleanDir); err != nil {
		return err
	}
	if _, err := ValidateAndLog(ctx, p.store, opts.CleanDir); err != nil {
		return err
	}
	if err := LoadClean(ctx, p.store, opts.CleanDir); err != nil {
		return err
	}
	if _, err := SeedDefinitions(ctx, p.store, opts.DefinitionsPath); err != nil {
		return err
	}

	qualityResult, err := quality.NewEvaluator(p.store).Evaluate(ctx)
	if err != nil {
		return err
	}
	rows, err := kpi.NewComputer(p.store).Recompute(ctx, qualityResult)
	if err != nil {
		return err
	}
	anomalies, err := anomaly.NewDetector(p.store).Recompute(ctx, opts.Anomaly)
	if err != nil {
		return err
	}

	zap.L().Info("pipeline complete",
		zap.Duration("elapsed", time.Since(started)),
		zap.Float64("quality_score", qualityResult.OverallScore),
		zap.Int("kpi_rows", len(rows)),
		zap.Int("anomalies", len(anomalies)))
	return nil
}
