package drivers

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
	"github.com/sells-group/ops-copilot/internal/stats"
)

// evidenceTopRows caps the per-dimension rows embedded in evidence.
const evidenceTopRows = 5

// AggregateReader is the slice of the mart the engine reads.
type AggregateReader interface {
	SegmentAggregates(ctx context.Context, spec mart.DimensionSpec, window mart.SegmentWindow) ([]mart.SegmentAggregate, model.QueryDescriptor, error)
	QualityAggregates(ctx context.Context, window mart.SegmentWindow) ([]mart.QualityAggregate, model.QueryDescriptor, error)
}

// Engine decomposes a KPI movement on one day against a trailing baseline
// window and ranks the segments driving it.
type Engine struct {
	reader       AggregateReader
	baselineDays int
	topN         int
}

// NewEngine creates an Engine. Non-positive baselineDays or topN fall back
// to 14 and 3.
func NewEngine(reader AggregateReader, baselineDays, topN int) *Engine {
	if baselineDays <= 0 {
		baselineDays = 14
	}
	if topN <= 0 {
		topN = 3
	}
	return &Engine{reader: reader, baselineDays: baselineDays, topN: topN}
}

// TopDrivers computes the ranked driver decomposition for kpiName on
// targetDate. KPIs without a registered decomposition return an empty result
// with no error; attribution is best-effort by contract. The same stored
// facts always yield the same ranked output.
func (e *Engine) TopDrivers(ctx context.Context, kpiName, targetDate string) (*model.Attribution, error) {
	return e.topDrivers(ctx, kpiName, targetDate, e.topN)
}

// TopDriversN is TopDrivers with an explicit result size, used by the
// automation segment matcher which needs a deeper pool than the default.
func (e *Engine) TopDriversN(ctx context.Context, kpiName, targetDate string, topN int) (*model.Attribution, error) {
	if topN <= 0 {
		topN = e.topN
	}
	return e.topDrivers(ctx, kpiName, targetDate, topN)
}

func (e *Engine) topDrivers(ctx context.Context, kpiName, targetDate string, topN int) (*model.Attribution, error) {
	target, err := time.Parse("2006-01-02", targetDate)
	if err != nil {
		return nil, eris.Wrapf(err, "drivers: parse target date %q", targetDate)
	}
	baseline := mart.SegmentWindow{
		Start: target.AddDate(0, 0, -e.baselineDays).Format("2006-01-02"),
		End:   target.AddDate(0, 0, -1).Format("2006-01-02"),
	}
	day := mart.SegmentWindow{Date: targetDate}

	switch kpiName {
	case KPISLABreachRate, KPIExceptionRate:
		return e.rateDrivers(ctx, kpiName, day, baseline, topN)
	case KPIDataQuality:
		return e.qualityDrivers(ctx, day, baseline, topN)
	default:
		zap.L().Debug("no decomposition registered", zap.String("kpi", kpiName))
		return &model.Attribution{Drivers: []model.DriverRow{}, Evidence: []model.EvidenceEntry{}}, nil
	}
}

// scoredRow carries ranking terms alongside the row they rank. The scores
// never leave the engine.
type scoredRow struct {
	model.DriverRow
	driverScore float64
}

func (e *Engine) rateDrivers(ctx context.Context, kpiName string, day, baseline mart.SegmentWindow, topN int) (*model.Attribution, error) {
	var all []scoredRow
	evidence := make([]model.EvidenceEntry, 0, 6)

	for _, spec := range specsForKPI(kpiName) {
		anomalyRows, anomalyQuery, err := e.reader.SegmentAggregates(ctx, spec, day)
		if err != nil {
			return nil, eris.Wrapf(err, "drivers: anomaly aggregates %s/%s", kpiName, spec.Dimension)
		}
		baselineRows, baselineQuery, err := e.reader.SegmentAggregates(ctx, spec, baseline)
		if err != nil {
			return nil, eris.Wrapf(err, "drivers: baseline aggregates %s/%s", kpiName, spec.Dimension)
		}

		rows, topRows := buildDriverRows(spec.Dimension, anomalyRows, baselineRows)
		all = append(all, rows...)
		evidence = append(evidence, model.EvidenceEntry{
			Dimension:     spec.Dimension,
			AnomalyQuery:  anomalyQuery,
			BaselineQuery: baselineQuery,
			TopRows:       topRows,
		})
	}

	if len(all) == 0 {
		return &model.Attribution{Drivers: []model.DriverRow{}, Evidence: evidence}, nil
	}

	// Spikes are explained by segments that moved up and contributed
	// positively; only when no segment did does ranking fall back to the
	// strongest absolute movement.
	pool := make([]scoredRow, 0, len(all))
	for _, r := range all {
		if r.DeltaAbs > 0 && r.ContributionShare > 0 {
			pool = append(pool, r)
		}
	}
	if len(pool) == 0 {
		pool = all
	}
	sort.SliceStable(pool, func(i, j int) bool {
		ri := abs(pool[i].ContributionShare) * abs(pool[i].DeltaAbs)
		rj := abs(pool[j].ContributionShare) * abs(pool[j].DeltaAbs)
		if ri != rj {
			return ri > rj
		}
		if pool[i].ContributionShare != pool[j].ContributionShare {
			return pool[i].ContributionShare > pool[j].ContributionShare
		}
		return pool[i].DeltaAbs > pool[j].DeltaAbs
	})

	if len(pool) > topN {
		pool = pool[:topN]
	}
	drivers := make([]model.DriverRow, len(pool))
	for i, r := range pool {
		drivers[i] = r.DriverRow
	}
	return &model.Attribution{Drivers: drivers, Evidence: evidence}, nil
}

// buildDriverRows merges one dimension's anomaly-day aggregates with the
// per-segment mean of its daily baseline aggregates and derives the delta
// and contribution terms. Segments missing on either side are zero-filled.
func buildDriverRows(dimension string, anomalyRows []mart.SegmentAggregate, baselineRows []mart.SegmentAggregate) ([]scoredRow, []model.DriverRow) {
	if len(anomalyRows) == 0 && len(baselineRows) == 0 {
		return nil, nil
	}

	type pair struct{ numerator, denominator float64 }

	// Baseline means are per segment across the days the segment appears
	// in, not pooled over the whole window.
	sums := make(map[string]pair)
	counts := make(map[string]int)
	for _, r := range baselineRows {
		seg := segmentLabel(r.Segment)
		p := sums[seg]
		p.numerator += r.Numerator
		p.denominator += r.Denominator
		sums[seg] = p
		counts[seg]++
	}
	baselineMeans := make(map[string]pair, len(sums))
	for seg, p := range sums {
		n := float64(counts[seg])
		baselineMeans[seg] = pair{numerator: p.numerator / n, denominator: p.denominator / n}
	}

	// Merge: anomaly segments in query order, then baseline-only segments
	// in lexicographic order, so reruns produce identical row order.
	type merged struct {
		segment            string
		anomaly, baselined pair
	}
	var rows []merged
	seen := make(map[string]bool)
	for _, r := range anomalyRows {
		seg := segmentLabel(r.Segment)
		rows = append(rows, merged{segment: seg, anomaly: pair{r.Numerator, r.Denominator}, baselined: baselineMeans[seg]})
		seen[seg] = true
	}
	var rest []string
	for seg := range baselineMeans {
		if !seen[seg] {
			rest = append(rest, seg)
		}
	}
	sort.Strings(rest)
	for _, seg := range rest {
		rows = append(rows, merged{segment: seg, baselined: baselineMeans[seg]})
	}

	var totalDelta float64
	for _, m := range rows {
		totalDelta += m.anomaly.numerator - m.baselined.numerator
	}

	out := make([]scoredRow, 0, len(rows))
	for _, m := range rows {
		anomalyRate := stats.SafeRate(m.anomaly.numerator, m.anomaly.denominator)
		baselineRate := stats.SafeRate(m.baselined.numerator, m.baselined.denominator)
		deltaAbs := anomalyRate - baselineRate

		var deltaPct *float64
		if baselineRate > 0 {
			v := stats.Round(deltaAbs/baselineRate*100, 4)
			deltaPct = &v
		}

		numeratorDelta := m.anomaly.numerator - m.baselined.numerator
		var contribution float64
		if totalDelta != 0 {
			contribution = numeratorDelta / totalDelta
		}

		out = append(out, scoredRow{
			DriverRow: model.DriverRow{
				Dimension:         dimension,
				Segment:           m.segment,
				DeltaAbs:          stats.Round(deltaAbs, 6),
				DeltaPct:          deltaPct,
				ContributionShare: stats.Round(contribution, 6),
				SupportingStats: map[string]float64{
					"anomaly_numerator":    stats.Round(m.anomaly.numerator, 4),
					"anomaly_denominator":  stats.Round(m.anomaly.denominator, 4),
					"baseline_numerator":   stats.Round(m.baselined.numerator, 4),
					"baseline_denominator": stats.Round(m.baselined.denominator, 4),
					"anomaly_rate":         stats.Round(anomalyRate, 6),
					"baseline_rate":        stats.Round(baselineRate, 6),
				},
			},
			driverScore: abs(numeratorDelta) * max01(abs(deltaAbs)),
		})
	}

	top := make([]scoredRow, len(out))
	copy(top, out)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].driverScore != top[j].driverScore {
			return top[i].driverScore > top[j].driverScore
		}
		return top[i].ContributionShare > top[j].ContributionShare
	})
	if len(top) > evidenceTopRows {
		top = top[:evidenceTopRows]
	}
	topRows := make([]model.DriverRow, len(top))
	for i, r := range top {
		topRows[i] = r.DriverRow
	}
	return out, topRows
}

func (e *Engine) qualityDrivers(ctx context.Context, day, baseline mart.SegmentWindow, topN int) (*model.Attribution, error) {
	anomalyRows, anomalyQuery, err := e.reader.QualityAggregates(ctx, day)
	if err != nil {
		return nil, eris.Wrap(err, "drivers: anomaly quality aggregates")
	}
	baselineRows, baselineQuery, err := e.reader.QualityAggregates(ctx, baseline)
	if err != nil {
		return nil, eris.Wrap(err, "drivers: baseline quality aggregates")
	}

	type triple struct{ missing, delivered, dup float64 }
	sums := make(map[string]triple)
	counts := make(map[string]int)
	for _, r := range baselineRows {
		seg := segmentLabel(r.Segment)
		t := sums[seg]
		t.missing += r.MissingDelivered
		t.delivered += r.DeliveredJobs
		t.dup += r.DuplicateRate
		sums[seg] = t
		counts[seg]++
	}
	means := make(map[string]triple, len(sums))
	for seg, t := range sums {
		n := float64(counts[seg])
		means[seg] = triple{missing: t.missing / n, delivered: t.delivered / n, dup: t.dup / n}
	}

	type merged struct {
		segment            string
		anomaly, baselined triple
	}
	var mergedRows []merged
	seen := make(map[string]bool)
	for _, r := range anomalyRows {
		seg := segmentLabel(r.Segment)
		mergedRows = append(mergedRows, merged{
			segment:   seg,
			anomaly:   triple{missing: r.MissingDelivered, delivered: r.DeliveredJobs, dup: r.DuplicateRate},
			baselined: means[seg],
		})
		seen[seg] = true
	}
	var rest []string
	for seg := range means {
		if !seen[seg] {
			rest = append(rest, seg)
		}
	}
	sort.Strings(rest)
	for _, seg := range rest {
		mergedRows = append(mergedRows, merged{segment: seg, baselined: means[seg]})
	}

	rows := make([]model.DriverRow, 0, len(mergedRows))
	for _, m := range mergedRows {
		anomalyMissingRate := stats.SafeRate(m.anomaly.missing, m.anomaly.delivered)
		baselineMissingRate := stats.SafeRate(m.baselined.missing, m.baselined.delivered)

		// Quality penalty mirrors the daily score's worst components:
		// missing delivered dates weigh 70, duplicates 30.
		anomalyPenalty := anomalyMissingRate*70.0 + m.anomaly.dup*30.0
		baselinePenalty := baselineMissingRate*70.0 + m.baselined.dup*30.0
		deltaAbs := anomalyPenalty - baselinePenalty

		var deltaPct *float64
		if baselinePenalty > 0 {
			v := stats.Round(deltaAbs/baselinePenalty*100, 4)
			deltaPct = &v
		}

		rows = append(rows, model.DriverRow{
			Dimension: "site",
			Segment:   m.segment,
			DeltaAbs:  stats.Round(deltaAbs, 6),
			DeltaPct:  deltaPct,
			SupportingStats: map[string]float64{
				"anomaly_missing_delivered":  stats.Round(m.anomaly.missing, 2),
				"anomaly_delivered_jobs":     stats.Round(m.anomaly.delivered, 2),
				"baseline_missing_delivered": stats.Round(m.baselined.missing, 2),
				"baseline_delivered_jobs":    stats.Round(m.baselined.delivered, 2),
				"anomaly_duplicate_rate":     stats.Round(m.anomaly.dup, 6),
				"baseline_duplicate_rate":    stats.Round(m.baselined.dup, 6),
				"anomaly_penalty":            stats.Round(anomalyPenalty, 6),
				"baseline_penalty":           stats.Round(baselinePenalty, 6),
			},
		})
	}

	// Contribution is normalized over worsening segments only; improving
	// segments contribute zero.
	if len(rows) > 0 {
		var totalDelta float64
		for _, r := range rows {
			if r.DeltaAbs > 0 {
				totalDelta += r.DeltaAbs
			}
		}
		if totalDelta == 0 {
			totalDelta = 1.0
		}
		for i := range rows {
			positive := rows[i].DeltaAbs
			if positive < 0 {
				positive = 0
			}
			rows[i].ContributionShare = stats.Round(positive/totalDelta, 6)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ContributionShare != rows[j].ContributionShare {
			return rows[i].ContributionShare > rows[j].ContributionShare
		}
		return rows[i].DeltaAbs > rows[j].DeltaAbs
	})
	drivers := rows
	if len(drivers) > topN {
		drivers = drivers[:topN]
	}

	evidence := []model.EvidenceEntry{{
		Dimension:     "site",
		AnomalyQuery:  anomalyQuery,
		BaselineQuery: baselineQuery,
		TopRows:       drivers,
	}}
	return &model.Attribution{Drivers: drivers, Evidence: evidence}, nil
}

func segmentLabel(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max01(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	return v
}
