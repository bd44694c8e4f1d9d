package explain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ops-copilot/internal/anomaly"
	"github.com/sells-group/ops-copilot/internal/drivers"
	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
)

func newTestStore(t *testing.T) *mart.SQLiteStore {
	t.Helper()
	st, err := mart.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestAssembler(st *mart.SQLiteStore, rephraser Rephraser) *Assembler {
	engine := drivers.NewEngine(st, 14, 3)
	detector := anomaly.NewDetector(st)
	return NewAssembler(st, engine, detector, rephraser, 14, anomaly.Params{})
}

// seedBreachSeries writes 21 daily values for the SLA breach rate ending in
// a spike on 2026-03-21.
func seedBreachSeries(t *testing.T, st *mart.SQLiteStore) {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]model.KPIDailyRow, 0, 21)
	for i := 0; i < 21; i++ {
		d := start.AddDate(0, 0, i)
		v := 4.0
		if i == 20 {
			v = 16.0
		}
		rows = append(rows, model.KPIDailyRow{
			Date:       d.Format("2006-01-02"),
			DateKey:    d.Year()*10000 + int(d.Month())*100 + d.Day(),
			KPIName:    "sla_breach_rate_pct",
			Value:      v,
			Status:     "green",
			ComputedAt: "2026-03-22T00:00:00Z",
		})
	}
	require.NoError(t, st.ReplaceKPIDaily(context.Background(), rows))
}

type fakeRephraser struct {
	narrative string
	err       error
	payloads  []string
}

func (f *fakeRephraser) Rephrase(_ context.Context, payload string) (string, error) {
	f.payloads = append(f.payloads, payload)
	return f.narrative, f.err
}

func TestRouteIntent(t *testing.T) {
	cases := map[string]string{
		"Why did SLA breaches spike?":      IntentWhyAnomaly,
		"top drivers for the breach rate":  IntentTopDrivers,
		"which carrier is worst today":     IntentWorstSegments,
		"show me the trend over the month": IntentTrend,
		"what changed since last week":     IntentWhatChanged,
		"tell me something about the KPI":  IntentTopDrivers,
		"WHY is the exception rate moving": IntentWhyAnomaly,
		// "driver" is checked before "worst".
		"worst performing driver segments": IntentTopDrivers,
	}
	for question, want := range cases {
		assert.Equal(t, want, RouteIntent(question), question)
	}
}

func TestExpectedImpactClamps(t *testing.T) {
	small := expectedImpact(model.DriverRow{DeltaAbs: 0.01, ContributionShare: 0.01})
	assert.Equal(t, 5.0, small.KPIImprovementPct)
	assert.Equal(t, 2.0, small.HoursSaved)
	assert.Equal(t, 84.0, small.GBPSaved)

	large := expectedImpact(model.DriverRow{DeltaAbs: 10, ContributionShare: 1})
	assert.Equal(t, 45.0, large.KPIImprovementPct)
	assert.Equal(t, 11.25, large.HoursSaved)
	assert.Equal(t, 472.5, large.GBPSaved)

	// Negative movements count by magnitude.
	negative := expectedImpact(model.DriverRow{DeltaAbs: -10, ContributionShare: -1})
	assert.Equal(t, large, negative)
}

func TestRecommendedActionTemplates(t *testing.T) {
	carrier := recommendedAction("sla_breach_rate_pct", model.DriverRow{Dimension: "carrier", Segment: "NorthHaul"})
	assert.Contains(t, carrier.Action, "carrier performance escalation for NorthHaul")
	assert.Equal(t, "carrier", carrier.Driver.Dimension)
	assert.Equal(t, "sla_breach_rate_pct", carrier.KPIName)

	site := recommendedAction("data_quality_score", model.DriverRow{Dimension: "site", Segment: "Leeds"})
	assert.Contains(t, site.Action, "corrective action at Leeds")

	other := recommendedAction("x", model.DriverRow{Dimension: "weather", Segment: "Storms"})
	assert.Contains(t, other.Action, "weather=Storms")
}

func TestExplain(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)
	ctx := context.Background()

	out, err := newTestAssembler(st, nil).Explain(ctx, "sla_breach_rate_pct", "2026-03-21", "req-42")
	require.NoError(t, err)

	assert.Equal(t, "req-42", out.RequestID)
	assert.Equal(t, "sla_breach_rate_pct", out.Summary.KPIName)
	assert.Equal(t, 16.0, out.Summary.Value)
	assert.Equal(t, 4.0, out.Summary.BaselineMean)
	assert.Equal(t, 12.0, out.Summary.DeltaVsBaseline)

	// No scorer run had happened: Explain scored the KPI on demand.
	require.NotNil(t, out.Summary.AnomalyScore)
	assert.Greater(t, *out.Summary.AnomalyScore, 3.0)

	// Attribution ran against an empty operational warehouse: evidence is
	// present, drivers and actions empty.
	assert.Len(t, out.Evidence, 6)
	assert.Empty(t, out.Drivers)
	assert.Empty(t, out.RecommendedActions)
	assert.Empty(t, out.Narrative)

	// The call is audit-logged and ready for feedback.
	assert.Positive(t, out.AuditID)
	require.NoError(t, st.AttachFeedback(ctx, out.AuditID, 5, "spot on"))
}

func TestExplainGeneratesRequestID(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	out, err := newTestAssembler(st, nil).Explain(context.Background(), "sla_breach_rate_pct", "2026-03-21", "")
	require.NoError(t, err)
	assert.NotEmpty(t, out.RequestID)
}

func TestExplainUnknownDate(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	_, err := newTestAssembler(st, nil).Explain(context.Background(), "sla_breach_rate_pct", "2027-01-01", "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, mart.ErrNotFound))
}

func TestExplainWithNarrative(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	reph := &fakeRephraser{narrative: "Breaches doubled; NorthHaul is the culprit."}
	out, err := newTestAssembler(st, reph).Explain(context.Background(), "sla_breach_rate_pct", "2026-03-21", "")
	require.NoError(t, err)
	assert.Equal(t, "Breaches doubled; NorthHaul is the culprit.", out.Narrative)
	require.Len(t, reph.payloads, 1)
	assert.Contains(t, reph.payloads[0], "sla_breach_rate_pct")
}

func TestExplainNarrativeFailureIsNonFatal(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	reph := &fakeRephraser{err: eris.New("model unavailable")}
	out, err := newTestAssembler(st, reph).Explain(context.Background(), "sla_breach_rate_pct", "2026-03-21", "")
	require.NoError(t, err)
	assert.Empty(t, out.Narrative)
	assert.Positive(t, out.AuditID)
}

func TestAskTrend(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	out, err := newTestAssembler(st, nil).Ask(context.Background(), "show me the trend", "sla_breach_rate_pct", "2026-03-21")
	require.NoError(t, err)
	assert.Equal(t, IntentTrend, out["intent"])
	assert.Equal(t, "2026-02-20", out["from"])
	points, ok := out["timeseries"].([]model.KPIPoint)
	require.True(t, ok)
	assert.Len(t, points, 21)
}

func TestAskWhatChanged(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	out, err := newTestAssembler(st, nil).Ask(context.Background(), "what changed yesterday", "sla_breach_rate_pct", "2026-03-21")
	require.NoError(t, err)
	assert.Equal(t, IntentWhatChanged, out["intent"])
	assert.Equal(t, 16.0, out["current_value"])
	assert.Equal(t, 4.0, out["baseline"])
	assert.Equal(t, 12.0, out["delta"])
	assert.Equal(t, 300.0, out["delta_pct"])
}

func TestAskDefaultsToLatestDate(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	out, err := newTestAssembler(st, nil).Ask(context.Background(), "top drivers please", "", "")
	require.NoError(t, err)
	assert.Equal(t, IntentTopDrivers, out["intent"])
	assert.Equal(t, "sla_breach_rate_pct", out["kpi_name"])
	assert.Equal(t, "2026-03-21", out["date"])
}

func TestAskWhy(t *testing.T) {
	st := newTestStore(t)
	seedBreachSeries(t, st)

	out, err := newTestAssembler(st, nil).Ask(context.Background(), "why did this spike", "sla_breach_rate_pct", "2026-03-21")
	require.NoError(t, err)
	assert.Equal(t, IntentWhyAnomaly, out["intent"])
	explanation, ok := out["response"].(*model.Explanation)
	require.True(t, ok)
	assert.Equal(t, 16.0, explanation.Summary.Value)
}
