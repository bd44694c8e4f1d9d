// Package explain assembles KPI anomaly explanations: a snapshot of the KPI
// against its baseline, the ranked drivers behind the movement, templated
// recommended actions, and the evidence trail, all audit-logged.
package explain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/anomaly"
	"github.com/sells-group/ops-copilot/internal/drivers"
	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
	"github.com/sells-group/ops-copilot/internal/stats"
)

// Rephraser turns an explanation payload into an executive narrative. A nil
// Rephraser disables the narrative; explanations stay fully usable without
// one.
type Rephraser interface {
	Rephrase(ctx context.Context, payload string) (string, error)
}

// Assembler builds explanations from the mart, the scorer, and the
// attribution engine.
type Assembler struct {
	store        mart.Store
	engine       *drivers.Engine
	detector     *anomaly.Detector
	rephraser    Rephraser
	baselineDays int
	scorerParams anomaly.Params
}

// NewAssembler creates an Assembler. rephraser may be nil.
func NewAssembler(store mart.Store, engine *drivers.Engine, detector *anomaly.Detector, rephraser Rephraser, baselineDays int, scorerParams anomaly.Params) *Assembler {
	// 14 days matches the scorer's trailing window, so the baseline the
	// explanation quotes is the same one the anomaly was scored against.
	if baselineDays <= 0 {
		baselineDays = 14
	}
	return &Assembler{
		store:        store,
		engine:       engine,
		detector:     detector,
		rephraser:    rephraser,
		baselineDays: baselineDays,
		scorerParams: scorerParams,
	}
}

// Explain builds the full explanation for kpiName on targetDate and records
// it in the audit log. Returns mart.ErrNotFound when the KPI has no value on
// that date.
func (a *Assembler) Explain(ctx context.Context, kpiName, targetDate, requestID string) (*model.Explanation, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	value, err := a.store.KPIValue(ctx, kpiName, targetDate)
	if err != nil {
		return nil, err
	}

	target, err := time.Parse("2006-01-02", targetDate)
	if err != nil {
		return nil, eris.Wrapf(err, "explain: parse target date %q", targetDate)
	}
	baselineStart := target.AddDate(0, 0, -a.baselineDays).Format("2006-01-02")
	baselineEnd := target.AddDate(0, 0, -1).Format("2006-01-02")

	baseline, err := a.store.KPIBaselineStats(ctx, kpiName, baselineStart, baselineEnd)
	if err != nil {
		return nil, err
	}

	top, err := a.store.TopAnomaly(ctx, kpiName, targetDate)
	if err != nil {
		return nil, err
	}
	if top == nil {
		// Explanations carry anomaly metadata even when no scorer run
		// has happened yet; score this KPI on demand.
		params := a.scorerParams
		params.KPINames = []string{kpiName}
		if _, err := a.detector.Recompute(ctx, params); err != nil {
			return nil, err
		}
		if top, err = a.store.TopAnomaly(ctx, kpiName, targetDate); err != nil {
			return nil, err
		}
	}

	attribution, err := a.engine.TopDrivers(ctx, kpiName, targetDate)
	if err != nil {
		return nil, err
	}

	actions := make([]model.RecommendedAction, 0, len(attribution.Drivers))
	for _, driver := range attribution.Drivers {
		actions = append(actions, recommendedAction(kpiName, driver))
	}

	summary := model.Summary{
		KPIName:         kpiName,
		Date:            targetDate,
		Value:           value,
		BaselineMean:    baseline.Mean,
		DeltaVsBaseline: stats.Round(value-baseline.Mean, 4),
	}
	if top != nil {
		score := top.Score
		summary.AnomalyScore = &score
		summary.ScenarioTag = top.ScenarioTag
	}

	out := &model.Explanation{
		RequestID:          requestID,
		Summary:            summary,
		Drivers:            attribution.Drivers,
		RecommendedActions: actions,
		Evidence:           attribution.Evidence,
	}

	if a.rephraser != nil {
		payload, err := json.Marshal(out)
		if err == nil {
			narrative, err := a.rephraser.Rephrase(ctx, string(payload))
			if err != nil {
				zap.L().Debug("narrative rephrase skipped", zap.Error(err))
			} else {
				out.Narrative = narrative
			}
		}
	}

	evidenceJSON, err := json.Marshal(attribution.Evidence)
	if err != nil {
		return nil, eris.Wrap(err, "explain: marshal evidence")
	}
	driversJSON, err := json.Marshal(attribution.Drivers)
	if err != nil {
		return nil, eris.Wrap(err, "explain: marshal drivers")
	}

	auditID, err := a.store.AppendAudit(ctx, model.AuditRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		KPIName:   kpiName,
		Date:      targetDate,
		SQLUsed:   string(evidenceJSON),
		Slices:    string(driversJSON),
		RequestID: requestID,
	})
	if err != nil {
		return nil, err
	}
	out.AuditID = auditID
	return out, nil
}

// expectedImpact converts a driver's movement into a rough payoff estimate.
// The improvement is clamped to 5..45 percent; analyst time is priced at 42
// GBP per hour.
func expectedImpact(driver model.DriverRow) model.ExpectedImpact {
	magnitude := driver.DeltaAbs
	if magnitude < 0 {
		magnitude = -magnitude
	}
	contribution := driver.ContributionShare
	if contribution < 0 {
		contribution = -contribution
	}

	pct := magnitude*18.0 + contribution*28.0
	if pct < 5.0 {
		pct = 5.0
	}
	if pct > 45.0 {
		pct = 45.0
	}
	hours := pct * 0.25
	if hours < 2.0 {
		hours = 2.0
	}
	hours = stats.Round(hours, 2)
	return model.ExpectedImpact{
		KPIImprovementPct: stats.Round(pct, 2),
		HoursSaved:        hours,
		GBPSaved:          stats.Round(hours*42.0, 2),
	}
}

func recommendedAction(kpiName string, driver model.DriverRow) model.RecommendedAction {
	var action string
	switch driver.Dimension {
	case "carrier":
		action = "Launch carrier performance escalation for " + driver.Segment + "; enforce ETA update cadence and temporary fallback allocation."
	case "product_family":
		action = "Run targeted planning huddle for " + driver.Segment + "; increase buffer stock and supplier confirmation controls."
	case "incident_type":
		action = "Create mitigation playbook for incident type '" + driver.Segment + "' with owner and same-day triage SLA."
	case "category":
		action = "Apply auto-routing and templated response workflow for communication category '" + driver.Segment + "'."
	case "customer_tier":
		action = "Prioritize proactive comms for " + driver.Segment + " accounts with threshold-based alerting and escalation path."
	case "site":
		action = "Open site-level corrective action at " + driver.Segment + "; assign data/process owner and monitor daily recovery KPI."
	default:
		action = "Investigate and mitigate driver in " + driver.Dimension + "=" + driver.Segment + " with owner accountability and daily checkpoint."
	}
	return model.RecommendedAction{
		Driver:         model.DriverRef{Dimension: driver.Dimension, Segment: driver.Segment},
		Action:         action,
		ExpectedImpact: expectedImpact(driver),
		KPIName:        kpiName,
	}
}
