// Package anomaly implements the robust KPI anomaly scorer: each daily value
// is compared against the median of its trailing window, scaled by MAD, and
// flagged when the deviation exceeds the threshold.
package anomaly

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
	"github.com/sells-group/ops-copilot/internal/stats"
)

// Bounds on caller-supplied scoring parameters. Below MinThreshold the MAD
// test flags ordinary day-to-day noise; outside the window bounds the
// trailing median is either too thin to be robust or stale.
const (
	MinThreshold  = 0.1
	MinWindowDays = 7
	MaxWindowDays = 60
)

// Params controls a scoring run. Zero values fall back to the defaults used
// across the service.
type Params struct {
	Threshold  float64
	WindowDays int
	MinHistory int
	// KPINames restricts the run to the named KPIs. Empty means all KPIs,
	// and the whole anomaly table is replaced; otherwise only the named
	// KPIs' rows are refreshed.
	KPINames []string
}

func (p Params) withDefaults() Params {
	if p.Threshold <= 0 {
		p.Threshold = 3.0
	}
	if p.WindowDays <= 0 {
		p.WindowDays = 14
	}
	if p.MinHistory <= 0 {
		p.MinHistory = 14
	}
	return p
}

// Validate rejects parameter values outside the supported scoring range.
// Defaults are applied first, so zero values never fail.
func (p Params) Validate() error {
	p = p.withDefaults()
	if p.Threshold < MinThreshold {
		return eris.Errorf("threshold must be at least %v", MinThreshold)
	}
	if p.WindowDays < MinWindowDays || p.WindowDays > MaxWindowDays {
		return eris.Errorf("window_days must be between %d and %d", MinWindowDays, MaxWindowDays)
	}
	return nil
}

// Detector recomputes the anomaly table from the KPI daily series.
type Detector struct {
	store mart.Store
}

// NewDetector creates a Detector backed by the given store.
func NewDetector(store mart.Store) *Detector {
	return &Detector{store: store}
}

// Recompute scores every KPI series point against its trailing window and
// replaces the anomaly table with the flagged set. The anomaly table is a
// derived view: the same inputs always produce the same rows, so reruns are
// idempotent apart from created_at.
func (d *Detector) Recompute(ctx context.Context, params Params) ([]model.Anomaly, error) {
	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, eris.Wrap(err, "anomaly: invalid params")
	}

	series, err := d.store.KPISeries(ctx, params.KPINames)
	if err != nil {
		return nil, eris.Wrap(err, "anomaly: load kpi series")
	}
	if len(series) == 0 {
		if err := d.store.ReplaceAnomalies(ctx, params.KPINames, nil); err != nil {
			return nil, eris.Wrap(err, "anomaly: clear anomalies")
		}
		return nil, nil
	}

	scenarioTags, err := d.store.ScenarioTags(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "anomaly: load scenario tags")
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	flagged := make([]model.Anomaly, 0)

	// Series rows arrive ordered by (kpi_name, date); consume one KPI's
	// contiguous run at a time.
	for start := 0; start < len(series); {
		end := start
		for end < len(series) && series[end].KPIName == series[start].KPIName {
			end++
		}
		flagged = append(flagged, d.scoreSeries(series[start:end], params, scenarioTags, createdAt)...)
		start = end
	}

	if err := d.store.ReplaceAnomalies(ctx, params.KPINames, flagged); err != nil {
		return nil, eris.Wrap(err, "anomaly: replace anomalies")
	}

	zap.L().Info("anomaly recompute complete",
		zap.Int("series_points", len(series)),
		zap.Int("flagged", len(flagged)),
		zap.Float64("threshold", params.Threshold))
	return flagged, nil
}

func (d *Detector) scoreSeries(points []model.KPIObservation, params Params, scenarioTags map[model.ScenarioKey]string, createdAt string) []model.Anomaly {
	var out []model.Anomaly
	for idx := range points {
		if idx < params.MinHistory {
			continue
		}
		lo := idx - params.WindowDays
		if lo < 0 {
			lo = 0
		}
		window := make([]float64, 0, idx-lo)
		for _, p := range points[lo:idx] {
			window = append(window, p.Value)
		}
		if len(window) < params.MinHistory {
			continue
		}

		score, baseline := stats.RobustScore(points[idx].Value, window)
		if score <= params.Threshold {
			continue
		}

		key := model.ScenarioKey{KPIName: points[idx].KPIName, Date: points[idx].Date}
		out = append(out, model.Anomaly{
			KPIName:     points[idx].KPIName,
			Date:        points[idx].Date,
			Value:       stats.Round(points[idx].Value, 4),
			Baseline:    stats.Round(baseline, 4),
			Score:       stats.Round(score, 4),
			Status:      model.AnomalyStatusOpen,
			ScenarioTag: scenarioTags[key],
			CreatedAt:   createdAt,
		})
	}
	return out
}
