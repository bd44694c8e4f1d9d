package mart

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ops-copilot/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func fptr(v float64) *float64 { return &v }

// --- KPI Daily ---

func TestReplaceKPIDailyAndReads(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rows := []model.KPIDailyRow{
		{Date: "2026-03-01", DateKey: 20260301, KPIName: "sla_breach_rate_pct", Value: 4.5,
			TargetGood: fptr(4), TargetBad: fptr(9), OwnerRole: "ops", Status: "amber", ComputedAt: "2026-03-02T00:00:00Z"},
		{Date: "2026-03-02", DateKey: 20260302, KPIName: "sla_breach_rate_pct", Value: 10.2,
			TargetGood: fptr(4), TargetBad: fptr(9), OwnerRole: "ops", Status: "red", ComputedAt: "2026-03-02T00:00:00Z"},
		{Date: "2026-03-02", DateKey: 20260302, KPIName: "on_time_delivery_pct", Value: 96.1,
			Status: "green", ComputedAt: "2026-03-02T00:00:00Z"},
	}
	require.NoError(t, st.ReplaceKPIDaily(ctx, rows))

	v, err := st.KPIValue(ctx, "sla_breach_rate_pct", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 10.2, v)

	_, err = st.KPIValue(ctx, "sla_breach_rate_pct", "2026-03-03")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))

	// Replace is wholesale: a second call drops the earlier rows.
	require.NoError(t, st.ReplaceKPIDaily(ctx, rows[:1]))
	series, err := st.KPISeries(ctx, nil)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "sla_breach_rate_pct", series[0].KPIName)
	assert.Equal(t, "2026-03-01", series[0].Date)
}

func TestKPISeriesFilterAndOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceKPIDaily(ctx, []model.KPIDailyRow{
		{Date: "2026-03-02", DateKey: 20260302, KPIName: "b_kpi", Value: 2, Status: "green", ComputedAt: "x"},
		{Date: "2026-03-01", DateKey: 20260301, KPIName: "b_kpi", Value: 1, Status: "green", ComputedAt: "x"},
		{Date: "2026-03-01", DateKey: 20260301, KPIName: "a_kpi", Value: 3, Status: "green", ComputedAt: "x"},
	}))

	all, err := st.KPISeries(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a_kpi", all[0].KPIName)
	assert.Equal(t, "2026-03-01", all[1].Date)
	assert.Equal(t, "2026-03-02", all[2].Date)

	only, err := st.KPISeries(ctx, []string{"a_kpi"})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, 3.0, only[0].Value)
}

func TestKPIBaselineStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceKPIDaily(ctx, []model.KPIDailyRow{
		{Date: "2026-03-01", DateKey: 20260301, KPIName: "k", Value: 2, Status: "green", ComputedAt: "x"},
		{Date: "2026-03-02", DateKey: 20260302, KPIName: "k", Value: 4, Status: "green", ComputedAt: "x"},
		{Date: "2026-03-03", DateKey: 20260303, KPIName: "k", Value: 6, Status: "green", ComputedAt: "x"},
		{Date: "2026-03-09", DateKey: 20260309, KPIName: "k", Value: 99, Status: "green", ComputedAt: "x"},
	}))

	stats, err := st.KPIBaselineStats(ctx, "k", "2026-03-01", "2026-03-03")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Observations)
	assert.Equal(t, 4.0, stats.Mean)
	assert.Equal(t, 2.0, stats.Min)
	assert.Equal(t, 6.0, stats.Max)

	empty, err := st.KPIBaselineStats(ctx, "k", "2025-01-01", "2025-01-31")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Observations)
}

func TestKPISummaryAndTimeseries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceKPIDaily(ctx, []model.KPIDailyRow{
		{Date: "2026-03-01", DateKey: 20260301, KPIName: "k", Value: 10,
			TargetGood: fptr(95), TargetBad: fptr(88), OwnerRole: "ops", Status: "red", ComputedAt: "x"},
		{Date: "2026-03-02", DateKey: 20260302, KPIName: "k", Value: 20,
			TargetGood: fptr(95), TargetBad: fptr(88), OwnerRole: "ops", Status: "red", ComputedAt: "x"},
	}))

	summary, err := st.KPISummary(ctx, "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	row := summary[0]
	assert.Equal(t, "k", row.KPIName)
	assert.Equal(t, 15.0, row.AvgValue)
	assert.Equal(t, 10.0, row.MinValue)
	assert.Equal(t, 20.0, row.MaxValue)
	assert.Equal(t, 20.0, row.LatestValue)
	assert.Equal(t, "2026-03-02", row.LatestDate)
	require.NotNil(t, row.TargetGood)
	assert.Equal(t, 95.0, *row.TargetGood)
	assert.Equal(t, "ops", row.OwnerRole)

	points, err := st.KPITimeseries(ctx, "k", "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2026-03-01", points[0].Date)
	assert.Equal(t, "red", points[0].Status)
	require.NotNil(t, points[1].TargetBad)
	assert.Equal(t, 88.0, *points[1].TargetBad)

	latest, err := st.LatestKPIDate(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", latest)

	_, err = st.LatestKPIDate(ctx, "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

// --- KPI Definitions ---

func TestSeedKPIDefinitionsUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	defs := []model.KPIDefinition{
		{KPIName: "sla_breach_rate_pct", Description: "first", Grain: "daily",
			OwnerRole: "ops", ThresholdGood: fptr(4), ThresholdBad: fptr(9), RefreshCadence: "daily"},
		{KPIName: "on_time_delivery_pct", Description: "otd", Grain: "daily",
			OwnerRole: "ops", LeadingIndicator: true},
	}
	require.NoError(t, st.SeedKPIDefinitions(ctx, defs))

	// Reseed with a changed description; primary key keeps one row per KPI.
	defs[0].Description = "second"
	require.NoError(t, st.SeedKPIDefinitions(ctx, defs[:1]))

	got, err := st.KPIDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "on_time_delivery_pct", got[0].KPIName)
	assert.True(t, got[0].LeadingIndicator)
	assert.Equal(t, "sla_breach_rate_pct", got[1].KPIName)
	assert.Equal(t, "second", got[1].Description)
	require.NotNil(t, got[1].ThresholdBad)
	assert.Equal(t, 9.0, *got[1].ThresholdBad)
}

// --- Anomalies ---

func TestReplaceAnomaliesFiltered(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := []model.Anomaly{
		{KPIName: "sla_breach_rate_pct", Date: "2026-03-10", Value: 12, Baseline: 4, Score: 5.1,
			Status: model.AnomalyStatusOpen, ScenarioTag: "scenario_b", CreatedAt: "2026-03-11T00:00:00Z"},
		{KPIName: "exception_rate_per_100_jobs", Date: "2026-03-09", Value: 9, Baseline: 3, Score: 4.2,
			Status: model.AnomalyStatusOpen, CreatedAt: "2026-03-11T00:00:00Z"},
	}
	require.NoError(t, st.ReplaceAnomalies(ctx, nil, seed))

	// A filtered replace touches only the named KPI.
	require.NoError(t, st.ReplaceAnomalies(ctx, []string{"sla_breach_rate_pct"}, []model.Anomaly{
		{KPIName: "sla_breach_rate_pct", Date: "2026-03-12", Value: 14, Baseline: 4, Score: 6.3,
			Status: model.AnomalyStatusOpen, CreatedAt: "2026-03-13T00:00:00Z"},
	}))

	open, err := st.AnomaliesByStatus(ctx, model.AnomalyStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	// Ordered by score descending.
	assert.Equal(t, "sla_breach_rate_pct", open[0].KPIName)
	assert.Equal(t, "2026-03-12", open[0].Date)
	assert.Equal(t, "exception_rate_per_100_jobs", open[1].KPIName)

	// A full replace clears everything first.
	require.NoError(t, st.ReplaceAnomalies(ctx, nil, nil))
	open, err = st.AnomaliesByStatus(ctx, model.AnomalyStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestTopAnomaly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, err := st.TopAnomaly(ctx, "sla_breach_rate_pct", "2026-03-10")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, st.ReplaceAnomalies(ctx, nil, []model.Anomaly{
		{KPIName: "sla_breach_rate_pct", Date: "2026-03-10", Value: 11, Baseline: 4, Score: 3.4,
			Status: model.AnomalyStatusOpen, CreatedAt: "x"},
		{KPIName: "sla_breach_rate_pct", Date: "2026-03-10", Value: 13, Baseline: 4, Score: 5.9,
			Status: model.AnomalyStatusOpen, ScenarioTag: "scenario_b", CreatedAt: "x"},
	}))

	got, err = st.TopAnomaly(ctx, "sla_breach_rate_pct", "2026-03-10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5.9, got.Score)
	assert.Equal(t, "scenario_b", got.ScenarioTag)
}

// --- Scenario registry ---

func TestScenarioRegistry(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.BulkInsert(ctx, "scenario_registry",
		[]string{"scenario_tag", "scenario_date", "description", "kpi_name", "expected_driver_dimension", "expected_driver_value"},
		[][]any{
			{"scenario_b", "2026-03-10", "Carrier incident spike", "sla_breach_rate_pct", "carrier", "NorthHaul"},
			{"scenario_a", "2026-02-26", "Comms surge", "manual_workload_hours_weekly", "site", "Leeds"},
		}))

	tags, err := st.ScenarioTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scenario_b",
		tags[model.ScenarioKey{KPIName: "sla_breach_rate_pct", Date: "2026-03-10"}])

	scenarios, err := st.Scenarios(ctx)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "scenario_a", scenarios[0].Tag)
	assert.Equal(t, "NorthHaul", scenarios[1].ExpectedSegment)
}

// --- Audit + Feedback ---

func TestAppendAuditAndAttachFeedback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.AppendAudit(ctx, model.AuditRecord{
		Timestamp: "2026-03-11T09:00:00Z",
		KPIName:   "sla_breach_rate_pct",
		Date:      "2026-03-10",
		SQLUsed:   "SELECT 1",
		Slices:    `{"site":["Leeds"]}`,
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	require.NoError(t, st.AttachFeedback(ctx, id, 4, "useful"))

	avg, count, err := st.FeedbackSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 4.0, avg)

	err = st.AttachFeedback(ctx, id+999, 3, "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestFeedbackSummaryEmpty(t *testing.T) {
	st := newTestStore(t)

	avg, count, err := st.FeedbackSummary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, avg)
}

// --- API usage ---

func TestAPIUsage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, u := range []model.APIUsage{
		{Endpoint: "/kpis/summary", Method: "GET", Role: "exec", StatusCode: 200, RequestedAt: "2026-03-10T09:00:00Z", RequestID: "a"},
		{Endpoint: "/kpis/summary", Method: "GET", Role: "ops", StatusCode: 200, RequestedAt: "2026-03-10T10:00:00Z", RequestID: "b"},
		{Endpoint: "/explain", Method: "POST", Role: "exec", StatusCode: 200, RequestedAt: "2026-03-11T09:00:00Z", RequestID: "c"},
	} {
		require.NoError(t, st.RecordAPIUsage(ctx, u))
	}

	byEndpoint, err := st.APIUsageByEndpoint(ctx)
	require.NoError(t, err)
	require.Len(t, byEndpoint, 2)
	assert.Equal(t, "/kpis/summary", byEndpoint[0].Endpoint)
	assert.Equal(t, 2, byEndpoint[0].RequestCount)

	daily, err := st.APIUsageCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, daily["2026-03-10"])
	assert.Equal(t, 1.0, daily["2026-03-11"])
}

// --- Automations ---

func TestAutomationLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id1, err := st.RegisterAutomation(ctx, model.Automation{
		Name:       "breach-alert",
		TriggerKPI: "sla_breach_rate_pct",
		Condition:  `{"threshold": 9}`,
		WebhookURL: "https://hooks.example.com/a",
		Enabled:    true,
		CreatedAt:  "2026-03-10T09:00:00Z",
	})
	require.NoError(t, err)

	id2, err := st.RegisterAutomation(ctx, model.Automation{
		Name:       "exception-alert",
		TriggerKPI: "exception_rate_per_100_jobs",
		Condition:  `{}`,
		WebhookURL: "https://hooks.example.com/b",
		Enabled:    false,
		CreatedAt:  "2026-03-11T09:00:00Z",
	})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	// Duplicate names are rejected by the unique constraint.
	_, err = st.RegisterAutomation(ctx, model.Automation{
		Name: "breach-alert", TriggerKPI: "k", Condition: "{}", WebhookURL: "u", CreatedAt: "x",
	})
	require.Error(t, err)

	enabled, err := st.Automations(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "breach-alert", enabled[0].Name)

	require.NoError(t, st.SetAutomationEnabled(ctx, id2, true))
	all, err := st.Automations(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = st.SetAutomationEnabled(ctx, 9999, false)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestAutomationRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	code := 200
	require.NoError(t, st.AppendAutomationRun(ctx, model.AutomationRun{
		AutomationID: 1, Name: "breach-alert", KPIName: "sla_breach_rate_pct", Date: "2026-03-10",
		Payload: `{"kpi_name":"sla_breach_rate_pct"}`, Status: "success", ResponseCode: &code,
		CreatedAt: "2026-03-10T09:00:00Z",
	}))
	require.NoError(t, st.AppendAutomationRun(ctx, model.AutomationRun{
		AutomationID: 1, Name: "breach-alert", KPIName: "sla_breach_rate_pct", Date: "2026-03-11",
		Status: "failed", ResponseBody: "connection refused",
		CreatedAt: "2026-03-11T09:00:00Z",
	}))

	runs, err := st.AutomationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Nil(t, runs[0].ResponseCode)
	assert.Equal(t, "connection refused", runs[0].ResponseBody)
	require.NotNil(t, runs[1].ResponseCode)
	assert.Equal(t, 200, *runs[1].ResponseCode)

	limited, err := st.AutomationRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Governance logs ---

func TestContractLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.LogContractResults(ctx, "2026-03-10T09:00:00Z", []ContractResult{
		{TableName: "fact_jobs", Status: "passed", Details: "All required checks passed"},
		{TableName: "fact_comms", Status: "failed", Details: "Missing columns: channel"},
	}))

	entries, err := st.ContractLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Most recent insert first.
	assert.Equal(t, "fact_comms", entries[0].TableName)
	assert.Equal(t, "failed", entries[0].Status)
	assert.Equal(t, "2026-03-10T09:00:00Z", entries[1].RunTimestamp)
}

func TestQualityResults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceQualityResults(ctx, "2026-03-10T09:00:00Z", []model.QualityCheck{
		{CheckName: "completeness", TableName: "fact_jobs", Status: "pass", Score: 92.4, Details: "ok"},
		{CheckName: "freshness", TableName: "fact_kpi_daily", Status: "warn", Score: 60, Details: "2 day lag"},
	}))
	// Replace drops the previous run.
	require.NoError(t, st.ReplaceQualityResults(ctx, "2026-03-11T09:00:00Z", []model.QualityCheck{
		{CheckName: "completeness", TableName: "fact_jobs", Status: "pass", Score: 95.1, Details: "ok"},
	}))

	checks, err := st.QualityChecks(ctx)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, 95.1, checks[0].Score)
}

// --- Bulk insert + operational reads ---

func seedOperationalFixture(t *testing.T, st *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.BulkInsert(ctx, "dim_date",
		[]string{"date_key", "date", "week", "month", "quarter", "day_name"},
		[][]any{
			{20260309, "2026-03-09", 11, 3, 1, "Monday"},
			{20260310, "2026-03-10", 11, 3, 1, "Tuesday"},
			{20260311, "2026-03-11", 11, 3, 1, "Wednesday"},
		}))
	require.NoError(t, st.BulkInsert(ctx, "dim_site",
		[]string{"site_id", "site_name"},
		[][]any{{1, "Birmingham"}, {2, "Leeds"}}))
	require.NoError(t, st.BulkInsert(ctx, "fact_jobs",
		[]string{"job_id", "date_key", "site_id", "customer_id", "team_id", "carrier_id", "product_id",
			"value_gbp", "promised_date_key", "delivered_date_key", "status", "priority", "duplicate_flag", "source_batch"},
		[][]any{
			{"J-1", 20260309, 1, 1, 1, 1, 1, 120.0, 20260310, 20260310, "Delivered", "Standard", 0, "daily"},
			{"J-2", 20260309, 2, 1, 1, 1, 1, 80.0, 20260310, 20260311, "Delivered", "Standard", 0, "daily"},
			{"J-3", 20260310, 2, 1, 1, 1, 1, 95.0, 20260311, nil, "Delivered", "Urgent", 0, "daily"},
		}))
}

func TestBulkInsertAndOperationalDaily(t *testing.T) {
	st := newTestStore(t)
	seedOperationalFixture(t, st)

	days, err := st.OperationalDaily(context.Background())
	require.NoError(t, err)
	// Only dates with jobs appear; 2026-03-11 has none.
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-09", days[0].Date)
	assert.Equal(t, 2, days[0].Jobs)
	assert.Equal(t, "2026-03-10", days[1].Date)
	assert.Equal(t, 1, days[1].Jobs)
}

func TestBulkInsertRowShapeMismatch(t *testing.T) {
	st := newTestStore(t)

	err := st.BulkInsert(context.Background(), "dim_site",
		[]string{"site_id", "site_name"},
		[][]any{{1}})
	require.Error(t, err)
}

func TestQualityDailyStats(t *testing.T) {
	st := newTestStore(t)
	seedOperationalFixture(t, st)

	stats, err := st.QualityDailyStats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "2026-03-09", stats[0].Date)
	assert.Equal(t, 2, stats[0].Jobs)
	// J-3 is marked Delivered but has no delivered_date_key.
	assert.Equal(t, 1, stats[1].Jobs)
	assert.Equal(t, 1, stats[1].MissingDelivered)
}

// --- Table metadata ---

func TestTableColumns(t *testing.T) {
	st := newTestStore(t)

	cols, err := st.TableColumns(context.Background(), "dim_date")
	require.NoError(t, err)
	assert.Equal(t, []string{"date_key", "date", "week", "month", "quarter", "day_name"}, cols)
}

func TestLatestFactDate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.LatestFactDate(ctx)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))

	seedOperationalFixture(t, st)
	date, err := st.LatestFactDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", date)
}
