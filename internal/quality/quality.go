// Package quality evaluates warehouse data quality: per-day completeness,
// duplicate, null, and range scores blended with freshness and schema-drift
// checks into an overall score, persisted per run.
package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
	"github.com/sells-group/ops-copilot/internal/stats"
)

// Check status thresholds. Scores at or above warn pass; below fail, fail.
const (
	warnThreshold = 70.0
	failThreshold = 45.0
)

// expectedSchema lists the columns each operational fact table must carry;
// missing columns count as schema drift.
var expectedSchema = map[string][]string{
	"fact_jobs": {
		"job_id", "date_key", "site_id", "customer_id", "team_id", "carrier_id",
		"product_id", "value_gbp", "promised_date_key", "delivered_date_key",
		"status", "priority", "duplicate_flag", "source_batch",
	},
	"fact_comms": {
		"comm_id", "date_key", "site_id", "customer_id", "category_id",
		"channel", "minutes_spent", "sla_sensitive_bool", "response_minutes",
		"breached_bool", "job_id", "carrier_id", "product_id",
	},
	"fact_incidents": {
		"incident_id", "date_key", "site_id", "job_id", "incident_type",
		"severity", "minutes_lost", "product_id",
	},
}

// Evaluator runs data-quality evaluation against the mart.
type Evaluator struct {
	store mart.Store
	// now is swappable for tests; freshness lag depends on it.
	now func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given store.
func NewEvaluator(store mart.Store) *Evaluator {
	return &Evaluator{store: store, now: time.Now}
}

func statusFromScore(score float64) string {
	if score >= warnThreshold {
		return "pass"
	}
	if score >= failThreshold {
		return "warn"
	}
	return "fail"
}

// Evaluate scores every fact day, blends in freshness and schema checks, and
// replaces the persisted check results.
func (e *Evaluator) Evaluate(ctx context.Context) (*model.QualityResult, error) {
	days, err := e.store.QualityDailyStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality: load daily stats")
	}

	dailyScores := make(map[string]float64, len(days))
	components := make([]model.QualityDayComponents, 0, len(days))
	var completenessSum, duplicateSum, nullSum, rangeSum float64

	for _, day := range days {
		completeness := 100.0
		if day.Delivered > 0 {
			completeness = 100.0 * (1.0 - float64(day.MissingDelivered)/float64(day.Delivered))
		}

		duplicateRatePct := day.DuplicateRate * 100.0
		duplicatePenalty := duplicateRatePct * 5.0
		if duplicatePenalty > 60.0 {
			duplicatePenalty = 60.0
		}
		duplicateScore := 100.0 - duplicatePenalty
		if duplicateScore < 0 {
			duplicateScore = 0
		}

		var nullRate float64
		if day.KeyTotal > 0 {
			nullRate = float64(day.KeyNulls) / float64(day.KeyTotal)
		}
		nullScore := 100.0 - clamp100(nullRate*1400.0)
		if nullScore < 0 {
			nullScore = 0
		}

		countBase := day.RowCount
		if countBase < 1 {
			countBase = 1
		}
		rangeRate := float64(day.InvalidCount) / float64(countBase)
		rangeScore := 100.0 - clamp100(rangeRate*800.0)
		if rangeScore < 0 {
			rangeScore = 0
		}

		overall := 0.35*completeness + 0.25*duplicateScore + 0.2*nullScore + 0.2*rangeScore

		completenessSum += completeness
		duplicateSum += duplicateScore
		nullSum += nullScore
		rangeSum += rangeScore
		dailyScores[day.Date] = stats.Round(overall, 2)

		components = append(components, model.QualityDayComponents{
			Date:             day.Date,
			Completeness:     stats.Round(completeness, 2),
			DuplicateScore:   stats.Round(duplicateScore, 2),
			NullScore:        stats.Round(nullScore, 2),
			RangeScore:       stats.Round(rangeScore, 2),
			Overall:          stats.Round(overall, 2),
			MissingDelivered: day.MissingDelivered,
		})
	}

	freshnessScore, freshnessDetails, freshnessLag, err := e.freshness(ctx)
	if err != nil {
		return nil, err
	}
	schemaScore, schemaDetails, err := e.schemaDrift(ctx)
	if err != nil {
		return nil, err
	}

	n := float64(len(days))
	if n == 0 {
		n = 1
	}
	checks := []model.QualityCheck{
		{
			CheckName: "completeness",
			TableName: "fact_jobs",
			Status:    statusFromScore(completenessSum / n),
			Score:     stats.Round(completenessSum/n, 2),
			Details:   "Delivered jobs with missing delivered_date_key penalized.",
		},
		{
			CheckName: "freshness_lag",
			TableName: "dim_date",
			Status:    statusFromScore(freshnessScore),
			Score:     stats.Round(freshnessScore, 2),
			Details:   freshnessDetails,
		},
		{
			CheckName: "duplicates",
			TableName: "fact_jobs",
			Status:    statusFromScore(duplicateSum / n),
			Score:     stats.Round(duplicateSum/n, 2),
			Details:   "Duplicate penalty derived from duplicate_flag prevalence.",
		},
		{
			CheckName: "null_key_fields",
			TableName: "fact_jobs|fact_comms|fact_incidents",
			Status:    statusFromScore(nullSum / n),
			Score:     stats.Round(nullSum/n, 2),
			Details:   "Nulls in critical key fields across operational facts.",
		},
		{
			CheckName: "schema_drift",
			TableName: "warehouse",
			Status:    statusFromScore(schemaScore),
			Score:     stats.Round(schemaScore, 2),
			Details:   schemaDetails,
		},
		{
			CheckName: "out_of_range_values",
			TableName: "fact_jobs|fact_comms|fact_incidents",
			Status:    statusFromScore(rangeSum / n),
			Score:     stats.Round(rangeSum/n, 2),
			Details:   "Negative / impossible values in key numeric columns.",
		},
	}

	var dailySum float64
	for _, v := range dailyScores {
		dailySum += v
	}
	dailyCount := float64(len(dailyScores))
	if dailyCount == 0 {
		dailyCount = 1
	}
	qualityBoost := freshnessScore*0.5 + schemaScore*0.5
	overallScore := stats.Round((dailySum/dailyCount)*0.82+qualityBoost*0.18, 2)

	runTS := e.now().UTC().Format(time.RFC3339)
	if err := e.store.ReplaceQualityResults(ctx, runTS, checks); err != nil {
		return nil, err
	}

	var issues []model.QualityDayComponents
	for _, c := range components {
		if c.MissingDelivered > 0 || c.DuplicateScore < 95 {
			issues = append(issues, c)
		}
	}

	zap.L().Info("data quality evaluated",
		zap.Float64("overall_score", overallScore),
		zap.Int("days", len(days)),
		zap.Int("issue_days", len(issues)))

	return &model.QualityResult{
		RunTimestamp:     runTS,
		OverallScore:     overallScore,
		FreshnessLagDays: freshnessLag,
		DailyScores:      dailyScores,
		Checks:           checks,
		Issues:           issues,
		Components:       components,
	}, nil
}

func (e *Evaluator) freshness(ctx context.Context) (score float64, details string, lagDays int, err error) {
	latest, err := e.store.LatestFactDate(ctx)
	if err != nil {
		if eris.Is(err, mart.ErrNotFound) {
			return 0, "dim_date empty", 999, nil
		}
		return 0, "", 0, err
	}
	maxDate, err := time.Parse("2006-01-02", latest)
	if err != nil {
		return 0, "", 0, eris.Wrapf(err, "quality: parse latest fact date %q", latest)
	}

	today := e.now().UTC().Truncate(24 * time.Hour)
	lagDays = int(today.Sub(maxDate.Truncate(24*time.Hour)).Hours() / 24)
	excess := lagDays - 1
	if excess < 0 {
		excess = 0
	}
	score = 100.0 - float64(excess)*10.0
	if score < 0 {
		score = 0
	}
	details = fmt.Sprintf("Latest data date %s (lag %d day(s))", latest, lagDays)
	return score, details, lagDays, nil
}

func (e *Evaluator) schemaDrift(ctx context.Context) (float64, string, error) {
	tables := make([]string, 0, len(expectedSchema))
	for table := range expectedSchema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var penalties float64
	var fragments []string
	for _, table := range tables {
		present, err := e.store.TableColumns(ctx, table)
		if err != nil {
			return 0, "", err
		}
		have := make(map[string]bool, len(present))
		for _, col := range present {
			have[col] = true
		}
		var missing []string
		for _, col := range expectedSchema[table] {
			if !have[col] {
				missing = append(missing, col)
			}
		}
		sort.Strings(missing)
		if len(missing) > 0 {
			penalties += clamp100(float64(len(missing)) * 15)
			fragments = append(fragments, fmt.Sprintf("%s: missing %s", table, strings.Join(missing, ", ")))
		}
	}

	score := 100.0 - penalties
	if score < 0 {
		score = 0
	}
	details := "No schema drift detected"
	if len(fragments) > 0 {
		details = strings.Join(fragments, "; ")
	}
	return score, details, nil
}

func clamp100(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}
