package automation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestTrigger(st *mart.SQLiteStore) *Trigger {
	engine := drivers.NewEngine(st, 14, 3)
	return NewTrigger(st, engine, NewDispatcher(0))
}

func registerAutomation(t *testing.T, st *mart.SQLiteStore, name, kpi, condition, url string) {
	t.Helper()
	_, err := st.RegisterAutomation(context.Background(), model.Automation{
		Name:       name,
		TriggerKPI: kpi,
		Condition:  condition,
		WebhookURL: url,
		Enabled:    true,
		CreatedAt:  "2026-03-10T09:00:00Z",
	})
	require.NoError(t, err)
}

func testAnomaly(kpi string, value, score float64) model.Anomaly {
	return model.Anomaly{
		KPIName:  kpi,
		Date:     "2026-03-21",
		Value:    value,
		Baseline: 4.0,
		Score:    score,
		Status:   model.AnomalyStatusOpen,
	}
}

func TestDispatchSuccess(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	}))
	defer srv.Close()

	result, err := NewDispatcher(0).Dispatch(context.Background(), srv.URL, []byte(`{"event":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	require.NotNil(t, result.ResponseCode)
	assert.Equal(t, http.StatusAccepted, *result.ResponseCode)
	assert.Equal(t, "queued", result.ResponseBody)
	assert.JSONEq(t, `{"event":"x"}`, string(got))
}

func TestDispatchNon2xxIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	result, err := NewDispatcher(0).Dispatch(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	require.NotNil(t, result.ResponseCode)
	assert.Equal(t, http.StatusBadGateway, *result.ResponseCode)
}

func TestDispatchTransportError(t *testing.T) {
	// Closed server: connection refused is a failed dispatch, not an error.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	result, err := NewDispatcher(0).Dispatch(context.Background(), url, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.Nil(t, result.ResponseCode)
	assert.NotEmpty(t, result.ResponseBody)
}

func TestDispatchTruncatesResponseBody(t *testing.T) {
	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'a'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	result, err := NewDispatcher(0).Dispatch(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	assert.Len(t, result.ResponseBody, maxResponseBody)
}

func TestFireForAnomaliesMatchesAndRecords(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registerAutomation(t, st, "breach-alert", "sla_breach_rate_pct", `{"threshold": 9}`, srv.URL)

	triggered, err := newTestTrigger(st).FireForAnomalies(ctx, []model.Anomaly{
		testAnomaly("sla_breach_rate_pct", 12.5, 5.1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)

	assert.Equal(t, "breach-alert", payload["automation_name"])
	assert.Equal(t, "sla_breach_rate_pct", payload["kpi_name"])
	assert.Equal(t, "2026-03-21", payload["date"])
	assert.Equal(t, 12.5, payload["value"])
	assert.Nil(t, payload["scenario_tag"])

	runs, err := st.AutomationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, "sla_breach_rate_pct", runs[0].KPIName)
	require.NotNil(t, runs[0].ResponseCode)
	assert.Equal(t, http.StatusOK, *runs[0].ResponseCode)
}

func TestFireForAnomaliesConditionBelowThreshold(t *testing.T) {
	st := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("webhook should not have been called")
	}))
	defer srv.Close()

	registerAutomation(t, st, "breach-alert", "sla_breach_rate_pct", `{"threshold": 9}`, srv.URL)

	triggered, err := newTestTrigger(st).FireForAnomalies(context.Background(), []model.Anomaly{
		testAnomaly("sla_breach_rate_pct", 6.0, 5.1),
	})
	require.NoError(t, err)
	assert.Zero(t, triggered)
}

func TestFireForAnomaliesKPIMismatch(t *testing.T) {
	st := newTestStore(t)

	registerAutomation(t, st, "breach-alert", "sla_breach_rate_pct", `{}`, "http://127.0.0.1:0/never")

	triggered, err := newTestTrigger(st).FireForAnomalies(context.Background(), []model.Anomaly{
		testAnomaly("exception_rate_per_100_jobs", 12, 5),
	})
	require.NoError(t, err)
	assert.Zero(t, triggered)
}

func TestFireForAnomaliesAnomalyScoreRule(t *testing.T) {
	st := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registerAutomation(t, st, "severe-only", "sla_breach_rate_pct",
		`{"anomaly_score": {"operator": ">=", "value": 5}}`, srv.URL)

	trigger := newTestTrigger(st)
	triggered, err := trigger.FireForAnomalies(context.Background(), []model.Anomaly{
		testAnomaly("sla_breach_rate_pct", 12, 4.9),
		testAnomaly("sla_breach_rate_pct", 13, 5.0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)
}

func TestFireForAnomaliesSegmentFilterNoDrivers(t *testing.T) {
	st := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("webhook should not have been called")
	}))
	defer srv.Close()

	// The warehouse has no facts, so attribution yields no segments and the
	// filter cannot match.
	registerAutomation(t, st, "carrier-watch", "sla_breach_rate_pct",
		`{"segment_filters": {"carrier": "NorthHaul"}}`, srv.URL)

	triggered, err := newTestTrigger(st).FireForAnomalies(context.Background(), []model.Anomaly{
		testAnomaly("sla_breach_rate_pct", 12, 5),
	})
	require.NoError(t, err)
	assert.Zero(t, triggered)
}

func TestFireForAnomaliesFailedDispatchStillRecorded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "downstream broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	registerAutomation(t, st, "breach-alert", "sla_breach_rate_pct", `{}`, srv.URL)

	triggered, err := newTestTrigger(st).FireForAnomalies(ctx, []model.Anomaly{
		testAnomaly("sla_breach_rate_pct", 12, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)

	runs, err := st.AutomationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Contains(t, runs[0].ResponseBody, "downstream broken")
}
