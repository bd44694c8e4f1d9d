package kpi

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
)

func fptr(v float64) *float64 { return &v }

func TestStatusFor(t *testing.T) {
	good, bad := fptr(95), fptr(88)

	assert.Equal(t, "good", StatusFor(KPIOnTimeDelivery, 96, good, bad))
	assert.Equal(t, "watch", StatusFor(KPIOnTimeDelivery, 90, good, bad))
	assert.Equal(t, "bad", StatusFor(KPIOnTimeDelivery, 80, good, bad))

	// Inverted thresholds: lower is better for breach rates.
	lowGood, lowBad := fptr(4), fptr(9)
	assert.Equal(t, "good", StatusFor(KPISLABreachRate, 3, lowGood, lowBad))
	assert.Equal(t, "watch", StatusFor(KPISLABreachRate, 7, lowGood, lowBad))
	assert.Equal(t, "bad", StatusFor(KPISLABreachRate, 12, lowGood, lowBad))

	assert.Equal(t, "no_threshold", StatusFor(KPIBIUtilisation, 12, nil, nil))
	assert.Equal(t, "no_threshold", StatusFor(KPIBIUtilisation, 12, fptr(1), nil))
}

func TestFrameworkAdoption(t *testing.T) {
	assert.Zero(t, FrameworkAdoption(nil))

	defs := []model.KPIDefinition{
		{KPIName: "a", OwnerRole: "ops", ThresholdGood: fptr(1), ThresholdBad: fptr(2), RefreshCadence: "daily"},
		{KPIName: "b", OwnerRole: "ops", ThresholdGood: fptr(1), ThresholdBad: fptr(2), RefreshCadence: "daily"},
		{KPIName: "c", OwnerRole: "", ThresholdGood: fptr(1), ThresholdBad: fptr(2), RefreshCadence: "daily"},
		{KPIName: "d", OwnerRole: "ops", ThresholdGood: nil, ThresholdBad: fptr(2), RefreshCadence: "daily"},
	}
	assert.Equal(t, 50.0, FrameworkAdoption(defs))
}

func TestVisibleTo(t *testing.T) {
	assert.True(t, VisibleTo("exec", KPICostLeakage))
	assert.True(t, VisibleTo("exec", KPISLABreachRate))

	assert.True(t, VisibleTo("ops", KPISLABreachRate))
	assert.False(t, VisibleTo("ops", KPICostLeakage))

	assert.True(t, VisibleTo("finance", KPICostLeakage))
	assert.False(t, VisibleTo("finance", KPIOnTimeDelivery))

	assert.False(t, VisibleTo("anonymous", KPIDataQuality))
	assert.False(t, VisibleTo("", KPIDataQuality))
}

func TestByRole(t *testing.T) {
	defs := []model.KPIDefinition{
		{KPIName: KPIOnTimeDelivery},
		{KPIName: KPICostLeakage},
		{KPIName: KPIDataQuality},
	}
	byRole := ByRole(defs)
	assert.Equal(t, []string{KPIOnTimeDelivery, KPICostLeakage, KPIDataQuality}, byRole["exec"])
	assert.Equal(t, []string{KPIOnTimeDelivery, KPIDataQuality}, byRole["ops"])
	assert.Equal(t, []string{KPICostLeakage, KPIDataQuality}, byRole["finance"])
}

func newTestStore(t *testing.T) *mart.SQLiteStore {
	t.Helper()
	st, err := mart.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedComputeFixture(t *testing.T, st *mart.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.BulkInsert(ctx, "dim_date",
		[]string{"date_key", "date", "week", "month", "quarter", "day_name"},
		[][]any{
			{20260309, "2026-03-09", 11, 3, 1, "Monday"},
			{20260310, "2026-03-10", 11, 3, 1, "Tuesday"},
		}))
	require.NoError(t, st.BulkInsert(ctx, "fact_jobs",
		[]string{"job_id", "date_key", "site_id", "customer_id", "team_id", "carrier_id", "product_id",
			"value_gbp", "promised_date_key", "delivered_date_key", "status", "priority", "duplicate_flag", "source_batch"},
		[][]any{
			{"J-1", 20260309, 1, 1, 1, 1, 1, 120.0, 20260310, 20260310, "Delivered", "Standard", 0, "daily"},
			{"J-2", 20260309, 1, 1, 1, 1, 1, 80.0, 20260310, 20260312, "Delivered", "Standard", 0, "daily"},
			{"J-3", 20260310, 1, 1, 1, 1, 1, 95.0, 20260311, 20260311, "Delivered", "Urgent", 0, "daily"},
		}))
	require.NoError(t, st.BulkInsert(ctx, "fact_comms",
		[]string{"comm_id", "date_key", "site_id", "customer_id", "category_id", "channel",
			"minutes_spent", "sla_sensitive_bool", "response_minutes", "breached_bool", "job_id", "carrier_id", "product_id"},
		[][]any{
			{"C-1", 20260309, 1, 1, 1, "email", 30, 1, 200, 1, "J-1", 1, 1},
			{"C-2", 20260309, 1, 1, 1, "phone", 30, 1, 90, 0, "J-2", 1, 1},
		}))
	require.NoError(t, st.BulkInsert(ctx, "fact_incidents",
		[]string{"incident_id", "date_key", "site_id", "job_id", "incident_type", "severity", "minutes_lost", "product_id"},
		[][]any{
			{"I-1", 20260309, 1, "J-2", "Late materials", "Medium", 60, 1},
		}))
	require.NoError(t, st.BulkInsert(ctx, "fact_automation_events",
		[]string{"event_id", "date_key", "site_id", "event_type", "hours_saved", "gbp_saved", "notes"},
		[][]any{
			{"A-1", 20260310, 1, "bot_run", 2.0, 84.0, nil},
		}))

	defs := make([]model.KPIDefinition, 0, 12)
	for _, name := range []string{
		KPIOnTimeDelivery, KPISLABreachRate, KPIExceptionRate, KPIManualWorkload,
		KPICostLeakage, KPIDataQuality, KPIAutomationHoursWeekly, KPIAutomationGBPWeekly,
		KPIAutomationGBPCumulative, KPIFrameworkAdoption, KPIBIUtilisation, KPISatisfaction,
	} {
		d := model.KPIDefinition{KPIName: name, OwnerRole: "ops", RefreshCadence: "daily",
			ThresholdGood: fptr(95), ThresholdBad: fptr(88)}
		if name == KPIBIUtilisation {
			d.ThresholdGood, d.ThresholdBad = nil, nil
		}
		defs = append(defs, d)
	}
	require.NoError(t, st.SeedKPIDefinitions(ctx, defs))
}

func TestRecompute(t *testing.T) {
	st := newTestStore(t)
	seedComputeFixture(t, st)
	ctx := context.Background()

	quality := &model.QualityResult{
		OverallScore: 80,
		DailyScores:  map[string]float64{"2026-03-10": 90},
	}
	rows, err := NewComputer(st).Recompute(ctx, quality)
	require.NoError(t, err)
	// Two fact days, all twelve KPIs defined.
	assert.Len(t, rows, 24)

	mustValue := func(kpiName, date string) float64 {
		v, err := st.KPIValue(ctx, kpiName, date)
		require.NoError(t, err)
		return v
	}

	// Day one: one of two deliveries on time, one of two SLA-sensitive
	// comms breached, one incident over two jobs.
	assert.Equal(t, 50.0, mustValue(KPIOnTimeDelivery, "2026-03-09"))
	assert.Equal(t, 50.0, mustValue(KPISLABreachRate, "2026-03-09"))
	assert.Equal(t, 50.0, mustValue(KPIExceptionRate, "2026-03-09"))
	assert.Equal(t, 100.0, mustValue(KPIOnTimeDelivery, "2026-03-10"))
	assert.Equal(t, 0.0, mustValue(KPISLABreachRate, "2026-03-10"))

	// Sixty comm minutes plus sixty incident minutes at the blended rate.
	assert.Equal(t, 84.0, mustValue(KPICostLeakage, "2026-03-09"))
	assert.Equal(t, 0.0, mustValue(KPICostLeakage, "2026-03-10"))

	// Trailing-week manual workload carries day one's comm minutes forward.
	assert.Equal(t, 1.0, mustValue(KPIManualWorkload, "2026-03-09"))
	assert.Equal(t, 1.0, mustValue(KPIManualWorkload, "2026-03-10"))

	// Automation impact lands on day two, and the cumulative series keeps it.
	assert.Equal(t, 0.0, mustValue(KPIAutomationHoursWeekly, "2026-03-09"))
	assert.Equal(t, 2.0, mustValue(KPIAutomationHoursWeekly, "2026-03-10"))
	assert.Equal(t, 84.0, mustValue(KPIAutomationGBPWeekly, "2026-03-10"))
	assert.Equal(t, 0.0, mustValue(KPIAutomationGBPCumulative, "2026-03-09"))
	assert.Equal(t, 84.0, mustValue(KPIAutomationGBPCumulative, "2026-03-10"))

	// Quality feeds the data quality series: per-day score when present,
	// run overall otherwise.
	assert.Equal(t, 80.0, mustValue(KPIDataQuality, "2026-03-09"))
	assert.Equal(t, 90.0, mustValue(KPIDataQuality, "2026-03-10"))

	// Eleven of twelve definitions fully populated.
	assert.Equal(t, 91.67, mustValue(KPIFrameworkAdoption, "2026-03-09"))

	// No API traffic or feedback yet.
	assert.Equal(t, 0.0, mustValue(KPIBIUtilisation, "2026-03-09"))
	assert.Equal(t, 0.0, mustValue(KPISatisfaction, "2026-03-10"))
}

func TestRecomputeCumulativeCountsJoblessDays(t *testing.T) {
	st := newTestStore(t)
	seedComputeFixture(t, st)
	ctx := context.Background()

	// Automation ran on a Sunday with no job activity. The day carries no
	// KPI rows of its own but its savings still accrue.
	require.NoError(t, st.BulkInsert(ctx, "dim_date",
		[]string{"date_key", "date", "week", "month", "quarter", "day_name"},
		[][]any{{20260308, "2026-03-08", 10, 3, 1, "Sunday"}}))
	require.NoError(t, st.BulkInsert(ctx, "fact_automation_events",
		[]string{"event_id", "date_key", "site_id", "event_type", "hours_saved", "gbp_saved", "notes"},
		[][]any{{"A-2", 20260308, 1, "bot_run", 1.5, 50.0, nil}}))

	rows, err := NewComputer(st).Recompute(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 24)

	v, err := st.KPIValue(ctx, KPIAutomationGBPCumulative, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	v, err = st.KPIValue(ctx, KPIAutomationGBPCumulative, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, 134.0, v)
}

func TestRecomputeNilQuality(t *testing.T) {
	st := newTestStore(t)
	seedComputeFixture(t, st)
	ctx := context.Background()

	_, err := NewComputer(st).Recompute(ctx, nil)
	require.NoError(t, err)

	v, err := st.KPIValue(ctx, KPIDataQuality, "2026-03-09")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestRecomputeSkipsUndefinedKPIs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.BulkInsert(ctx, "dim_date",
		[]string{"date_key", "date", "week", "month", "quarter", "day_name"},
		[][]any{{20260309, "2026-03-09", 11, 3, 1, "Monday"}}))
	require.NoError(t, st.BulkInsert(ctx, "fact_jobs",
		[]string{"job_id", "date_key", "site_id", "customer_id", "team_id", "carrier_id", "product_id",
			"value_gbp", "promised_date_key", "delivered_date_key", "status", "priority", "duplicate_flag", "source_batch"},
		[][]any{{"J-1", 20260309, 1, 1, 1, 1, 1, 120.0, 20260310, 20260310, "Delivered", "Standard", 0, "daily"}}))

	// Only one governed KPI: only that series is materialized.
	require.NoError(t, st.SeedKPIDefinitions(ctx, []model.KPIDefinition{
		{KPIName: KPIOnTimeDelivery, OwnerRole: "ops", RefreshCadence: "daily",
			ThresholdGood: fptr(95), ThresholdBad: fptr(88)},
	}))

	rows, err := NewComputer(st).Recompute(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, KPIOnTimeDelivery, rows[0].KPIName)
	assert.Equal(t, "good", rows[0].Status)
}
