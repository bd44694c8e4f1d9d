package anomaly

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
	"github.com/sells-group/ops-copilot/internal/stats"
)

func newTestStore(t *testing.T) *mart.SQLiteStore {
	t.Helper()
	st, err := mart.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedSeries writes a daily series for one KPI starting at 2026-03-01.
func seedSeries(t *testing.T, st *mart.SQLiteStore, kpiName string, values []float64, extra ...model.KPIDailyRow) {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]model.KPIDailyRow, 0, len(values)+len(extra))
	for i, v := range values {
		d := start.AddDate(0, 0, i)
		rows = append(rows, model.KPIDailyRow{
			Date:       d.Format("2006-01-02"),
			DateKey:    d.Year()*10000 + int(d.Month())*100 + d.Day(),
			KPIName:    kpiName,
			Value:      v,
			Status:     "green",
			ComputedAt: "2026-03-30T00:00:00Z",
		})
	}
	rows = append(rows, extra...)
	require.NoError(t, st.ReplaceKPIDaily(context.Background(), rows))
}

func flatSeries(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRecomputeFlagsSpike(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// 20 stable days, then a clear spike on day 21.
	values := append(flatSeries(20, 4.0), 16.0)
	values[3] = 4.2
	values[9] = 3.8
	seedSeries(t, st, "sla_breach_rate_pct", values)

	flagged, err := NewDetector(st).Recompute(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, flagged, 1)

	a := flagged[0]
	assert.Equal(t, "sla_breach_rate_pct", a.KPIName)
	assert.Equal(t, "2026-03-21", a.Date)
	assert.Equal(t, 16.0, a.Value)
	assert.Equal(t, 4.0, a.Baseline)
	assert.Greater(t, a.Score, 3.0)
	assert.Equal(t, model.AnomalyStatusOpen, a.Status)

	stored, err := st.AnomaliesByStatus(ctx, model.AnomalyStatusOpen)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRecomputeSkipsShortHistory(t *testing.T) {
	st := newTestStore(t)

	// Spike at day 10: inside the warm-up period, never scored.
	values := append(flatSeries(9, 4.0), 40.0)
	seedSeries(t, st, "sla_breach_rate_pct", values)

	flagged, err := NewDetector(st).Recompute(context.Background(), Params{})
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestRecomputeHonorsThreshold(t *testing.T) {
	st := newTestStore(t)

	values := append(flatSeries(20, 10.0), 10.6)
	for i := 0; i < 20; i += 2 {
		values[i] = 10.0 + 0.2*float64(i%5)
	}
	seedSeries(t, st, "on_time_delivery_pct", values)

	strict, err := NewDetector(st).Recompute(context.Background(), Params{Threshold: 50})
	require.NoError(t, err)
	assert.Empty(t, strict)

	loose, err := NewDetector(st).Recompute(context.Background(), Params{Threshold: 0.5})
	require.NoError(t, err)
	assert.NotEmpty(t, loose)
}

func TestParamsValidate(t *testing.T) {
	cases := []struct {
		name   string
		params Params
		ok     bool
	}{
		{"defaults", Params{}, true},
		{"floor threshold", Params{Threshold: 0.1}, true},
		{"window bounds", Params{WindowDays: 7}, true},
		{"window ceiling", Params{WindowDays: 60}, true},
		{"threshold below floor", Params{Threshold: 0.05}, false},
		{"window too short", Params{WindowDays: 3}, false},
		{"window too long", Params{WindowDays: 61}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.params.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRecomputeRejectsOutOfRangeParams(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Ordinary noisy series: a near-zero threshold would flag most of it.
	values := append(flatSeries(20, 10.0), 10.6)
	for i := 0; i < 20; i += 2 {
		values[i] = 10.0 + 0.2*float64(i%5)
	}
	seedSeries(t, st, "on_time_delivery_pct", values)

	_, err := NewDetector(st).Recompute(ctx, Params{Threshold: 0.05})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold must be at least")

	_, err = NewDetector(st).Recompute(ctx, Params{WindowDays: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window_days must be between")
}

func TestRecomputeAttachesScenarioTag(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	values := append(flatSeries(20, 4.0), 16.0)
	seedSeries(t, st, "sla_breach_rate_pct", values)
	require.NoError(t, st.BulkInsert(ctx, "scenario_registry",
		[]string{"scenario_tag", "scenario_date", "description", "kpi_name", "expected_driver_dimension", "expected_driver_value"},
		[][]any{{"scenario_b", "2026-03-21", "Carrier incident", "sla_breach_rate_pct", "carrier", "NorthHaul"}}))

	flagged, err := NewDetector(st).Recompute(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "scenario_b", flagged[0].ScenarioTag)
}

func TestRecomputeFilteredRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Two KPIs, both with a spike past the warm-up.
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var rows []model.KPIDailyRow
	for _, kpi := range []string{"sla_breach_rate_pct", "exception_rate_per_100_jobs"} {
		for i := 0; i < 21; i++ {
			d := start.AddDate(0, 0, i)
			v := 4.0
			if i == 20 {
				v = 18.0
			}
			rows = append(rows, model.KPIDailyRow{
				Date:    d.Format("2006-01-02"),
				DateKey: d.Year()*10000 + int(d.Month())*100 + d.Day(),
				KPIName: kpi, Value: v, Status: "green", ComputedAt: "x",
			})
		}
	}
	require.NoError(t, st.ReplaceKPIDaily(ctx, rows))

	det := NewDetector(st)
	all, err := det.Recompute(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	// A filtered rerun only refreshes the named KPI; the other row survives.
	one, err := det.Recompute(ctx, Params{KPINames: []string{"sla_breach_rate_pct"}})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "sla_breach_rate_pct", one[0].KPIName)

	stored, err := st.AnomaliesByStatus(ctx, model.AnomalyStatusOpen)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRecomputeEmptySeriesClearsTable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceAnomalies(ctx, nil, []model.Anomaly{
		{KPIName: "stale", Date: "2026-03-01", Value: 1, Baseline: 0, Score: 9,
			Status: model.AnomalyStatusOpen, CreatedAt: "x"},
	}))

	flagged, err := NewDetector(st).Recompute(ctx, Params{})
	require.NoError(t, err)
	assert.Nil(t, flagged)

	stored, err := st.AnomaliesByStatus(ctx, model.AnomalyStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRecomputeRoundsOutputs(t *testing.T) {
	st := newTestStore(t)

	values := append(flatSeries(20, 4.0), 16.123456789)
	for i := range values[:20] {
		values[i] = 4.0 + 0.01*float64(i%3)
	}
	seedSeries(t, st, "cost_leakage_estimate_gbp", values)

	flagged, err := NewDetector(st).Recompute(context.Background(), Params{})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, 16.1235, flagged[0].Value)
	assert.Equal(t, stats.Round(flagged[0].Baseline, 4), flagged[0].Baseline)
	assert.Equal(t, stats.Round(flagged[0].Score, 4), flagged[0].Score)
}
