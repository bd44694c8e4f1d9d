package automation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/drivers"
	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
)

// segmentFilterTopN is how deep the attribution ranking is searched when an
// automation filters on segments. Wider than the user-facing top three so a
// real driver sitting fourth still matches.
const segmentFilterTopN = 15

// Trigger matches anomalies against registered automations and dispatches
// webhooks for the ones whose conditions hold.
type Trigger struct {
	store      mart.Store
	engine     *drivers.Engine
	dispatcher *Dispatcher
	now        func() time.Time
}

func NewTrigger(store mart.Store, engine *drivers.Engine, dispatcher *Dispatcher) *Trigger {
	return &Trigger{
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// FireForAnomalies evaluates every enabled automation against every anomaly
// and returns how many webhooks were dispatched. Each dispatch is recorded
// in automation_runs whether it succeeded or not.
func (t *Trigger) FireForAnomalies(ctx context.Context, anomalies []model.Anomaly) (int, error) {
	if len(anomalies) == 0 {
		return 0, nil
	}

	automations, err := t.store.Automations(ctx, true)
	if err != nil {
		return 0, eris.Wrap(err, "automation: list enabled")
	}
	if len(automations) == 0 {
		return 0, nil
	}

	triggered := 0
	for _, anomaly := range anomalies {
		for _, auto := range automations {
			if auto.TriggerKPI != anomaly.KPIName {
				continue
			}

			condition := ParseCondition(auto.Condition)
			match, err := t.matches(ctx, anomaly, condition)
			if err != nil {
				return triggered, err
			}
			if !match {
				continue
			}

			if err := t.fire(ctx, auto, anomaly, condition); err != nil {
				return triggered, err
			}
			triggered++
		}
	}

	zap.L().Info("automation sweep complete",
		zap.Int("anomalies", len(anomalies)),
		zap.Int("automations", len(automations)),
		zap.Int("triggered", triggered))
	return triggered, nil
}

func (t *Trigger) matches(ctx context.Context, anomaly model.Anomaly, c Condition) (bool, error) {
	if c.Threshold != nil && !c.Threshold.Match(anomaly.Value) {
		return false, nil
	}
	if c.AnomalyScore != nil && !c.AnomalyScore.Match(anomaly.Score) {
		return false, nil
	}
	if len(c.SegmentFilters) == 0 {
		return true, nil
	}

	attribution, err := t.engine.TopDriversN(ctx, anomaly.KPIName, anomaly.Date, segmentFilterTopN)
	if err != nil {
		return false, eris.Wrap(err, "automation: segment filter drivers")
	}

	byDimension := make(map[string]map[string]bool)
	for _, row := range attribution.Drivers {
		dim := strings.ToLower(row.Dimension)
		if byDimension[dim] == nil {
			byDimension[dim] = make(map[string]bool)
		}
		byDimension[dim][strings.ToLower(row.Segment)] = true
	}

	for key, expected := range c.SegmentFilters {
		dim := canonicalDimension(key)
		if !byDimension[dim][strings.ToLower(expected)] {
			return false, nil
		}
	}
	return true, nil
}

func (t *Trigger) fire(ctx context.Context, auto model.Automation, anomaly model.Anomaly, c Condition) error {
	payload := map[string]any{
		"automation_name": auto.Name,
		"kpi_name":        anomaly.KPIName,
		"date":            anomaly.Date,
		"value":           anomaly.Value,
		"baseline":        anomaly.Baseline,
		"anomaly_score":   anomaly.Score,
		"scenario_tag":    nilIfEmpty(anomaly.ScenarioTag),
		"condition":       c,
		"triggered_at":    t.now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "automation: marshal payload")
	}

	result, err := t.dispatcher.Dispatch(ctx, auto.WebhookURL, raw)
	if err != nil {
		return err
	}

	run := model.AutomationRun{
		AutomationID: auto.ID,
		Name:         auto.Name,
		KPIName:      anomaly.KPIName,
		Date:         anomaly.Date,
		Payload:      string(raw),
		Status:       result.Status,
		ResponseCode: result.ResponseCode,
		ResponseBody: result.ResponseBody,
		CreatedAt:    t.now().UTC().Format(time.RFC3339),
	}
	if err := t.store.AppendAutomationRun(ctx, run); err != nil {
		return eris.Wrap(err, "automation: record run")
	}

	zap.L().Debug("automation fired",
		zap.String("automation", auto.Name),
		zap.String("kpi", anomaly.KPIName),
		zap.String("date", anomaly.Date),
		zap.String("status", result.Status))
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
