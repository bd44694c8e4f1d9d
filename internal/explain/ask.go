package explain

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/stats"
)

// Intents the keyword router can resolve a question to.
const (
	IntentWhyAnomaly    = "why_anomaly"
	IntentTopDrivers    = "top_drivers"
	IntentWorstSegments = "worst_segments"
	IntentTrend         = "trend"
	IntentWhatChanged   = "what_changed"
)

// RouteIntent maps a free-text question to an intent by keyword. First match
// wins; unmatched questions default to top_drivers.
func RouteIntent(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "why"):
		return IntentWhyAnomaly
	case strings.Contains(q, "driver"):
		return IntentTopDrivers
	case strings.Contains(q, "worst"):
		return IntentWorstSegments
	case strings.Contains(q, "trend"):
		return IntentTrend
	case strings.Contains(q, "changed"):
		return IntentWhatChanged
	default:
		return IntentTopDrivers
	}
}

// Ask answers an operational question against the mart. The KPI defaults to
// the SLA breach rate and the date to that KPI's latest value.
func (a *Assembler) Ask(ctx context.Context, question, kpiName, targetDate string) (map[string]any, error) {
	intent := RouteIntent(question)
	if kpiName == "" {
		kpiName = "sla_breach_rate_pct"
	}
	if targetDate == "" {
		latest, err := a.store.LatestKPIDate(ctx, kpiName)
		if err != nil {
			return nil, err
		}
		targetDate = latest
	}

	switch intent {
	case IntentWhyAnomaly:
		explanation, err := a.Explain(ctx, kpiName, targetDate, "")
		if err != nil {
			return nil, err
		}
		return map[string]any{"intent": intent, "response": explanation}, nil

	case IntentTopDrivers:
		result, err := a.engine.TopDriversN(ctx, kpiName, targetDate, 5)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"intent":   intent,
			"kpi_name": kpiName,
			"date":     targetDate,
			"result":   result,
		}, nil

	case IntentWorstSegments:
		var rows any
		var err error
		if kpiName == "sla_breach_rate_pct" {
			rows, err = a.store.WorstBreachSegments(ctx, targetDate)
		} else {
			rows, err = a.store.WorstExceptionSegments(ctx, targetDate)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"intent":   intent,
			"kpi_name": kpiName,
			"date":     targetDate,
			"rows":     rows,
		}, nil

	case IntentTrend:
		target, err := time.Parse("2006-01-02", targetDate)
		if err != nil {
			return nil, eris.Wrapf(err, "explain: parse target date %q", targetDate)
		}
		start := target.AddDate(0, 0, -29).Format("2006-01-02")
		points, err := a.store.KPITimeseries(ctx, kpiName, start, targetDate)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"intent":     intent,
			"kpi_name":   kpiName,
			"from":       start,
			"to":         targetDate,
			"timeseries": points,
		}, nil

	case IntentWhatChanged:
		target, err := time.Parse("2006-01-02", targetDate)
		if err != nil {
			return nil, eris.Wrapf(err, "explain: parse target date %q", targetDate)
		}
		baselineStart := target.AddDate(0, 0, -a.baselineDays).Format("2006-01-02")
		baselineEnd := target.AddDate(0, 0, -1).Format("2006-01-02")

		current, err := a.store.KPIValue(ctx, kpiName, targetDate)
		if err != nil && !eris.Is(err, mart.ErrNotFound) {
			return nil, err
		}
		baseline, err := a.store.KPIBaselineStats(ctx, kpiName, baselineStart, baselineEnd)
		if err != nil {
			return nil, err
		}

		delta := current - baseline.Mean
		out := map[string]any{
			"intent":        intent,
			"kpi_name":      kpiName,
			"date":          targetDate,
			"current_value": current,
			"baseline":      baseline.Mean,
			"delta":         stats.Round(delta, 4),
		}
		if baseline.Mean != 0 {
			out["delta_pct"] = stats.Round(delta/baseline.Mean*100, 4)
		} else {
			out["delta_pct"] = nil
		}
		return out, nil
	}

	return map[string]any{"intent": intent, "message": "No matching intent handler."}, nil
}
