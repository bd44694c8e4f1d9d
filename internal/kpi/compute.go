// Package kpi computes the daily KPI series from the operational fact
// aggregates and governs which KPIs each role can see.
package kpi

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

// BlendedRateGBPPerHour prices manual analyst and recovery time.
const BlendedRateGBPPerHour = 42.0

// KPI names produced by the computation pass.
const (
	KPIOnTimeDelivery          = "on_time_delivery_pct"
	KPISLABreachRate           = "sla_breach_rate_pct"
	KPIExceptionRate           = "exception_rate_per_100_jobs"
	KPIManualWorkload          = "manual_workload_hours_weekly"
	KPICostLeakage             = "cost_leakage_estimate_gbp"
	KPIDataQuality             = "data_quality_score"
	KPIAutomationHoursWeekly   = "automation_impact_hours_weekly"
	KPIAutomationGBPWeekly     = "automation_impact_gbp_weekly"
	KPIAutomationGBPCumulative = "automation_impact_gbp_cumulative"
	KPIFrameworkAdoption       = "framework_adoption_proxy_pct"
	KPIBIUtilisation           = "bi_utilisation_proxy_requests"
	KPISatisfaction            = "stakeholder_satisfaction_proxy_rating"
)

// lowerIsBetter marks KPIs whose thresholds invert: lower values are good.
var lowerIsBetter = map[string]bool{
	KPISLABreachRate:  true,
	KPIExceptionRate:  true,
	KPIManualWorkload: true,
	KPICostLeakage:    true,
}

// StatusFor classifies a KPI value against its thresholds.
func StatusFor(kpiName string, value float64, good, bad *float64) string {
	if good == nil || bad == nil {
		return "no_threshold"
	}
	if lowerIsBetter[kpiName] {
		if value <= *good {
			return "good"
		}
		if value <= *bad {
			return "watch"
		}
		return "bad"
	}
	if value >= *good {
		return "good"
	}
	if value >= *bad {
		return "watch"
	}
	return "bad"
}

// FrameworkAdoption returns the share of KPI definitions with ownership,
// thresholds, and a refresh cadence populated, as a percentage.
func FrameworkAdoption(defs []model.KPIDefinition) float64 {
	if len(defs) == 0 {
		return 0
	}
	populated := 0
	for _, d := range defs {
		if d.OwnerRole != "" && d.ThresholdGood != nil && d.ThresholdBad != nil && d.RefreshCadence != "" {
			populated++
		}
	}
	return stats.Round(float64(populated)/float64(len(defs))*100, 2)
}

// Computer recomputes the fact_kpi_daily table.
type Computer struct {
	store mart.Store
}

// NewComputer creates a Computer backed by the given store.
func NewComputer(store mart.Store) *Computer {
	return &Computer{store: store}
}

// Recompute derives every KPI for every fact day and replaces the KPI daily
// table. quality feeds the data_quality_score series; a nil quality result
// zeroes it.
func (c *Computer) Recompute(ctx context.Context, quality *model.QualityResult) ([]model.KPIDailyRow, error) {
	days, err := c.store.OperationalDaily(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "kpi: load operational daily")
	}
	defs, err := c.store.KPIDefinitions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "kpi: load definitions")
	}
	apiUsage, err := c.store.APIUsageCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "kpi: load api usage")
	}
	feedback, err := c.store.FeedbackDailyRating(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "kpi: load feedback ratings")
	}
	automationGBP, err := c.store.AutomationGBPByDate(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "kpi: load automation gbp")
	}

	// Automation savings accrue on every event date, including dates with
	// no job activity, so the cumulative series walks its own calendar.
	automationDates := make([]string, 0, len(automationGBP))
	for date := range automationGBP {
		automationDates = append(automationDates, date)
	}
	sort.Strings(automationDates)

	defMap := make(map[string]model.KPIDefinition, len(defs))
	for _, d := range defs {
		defMap[d.KPIName] = d
	}
	adoption := FrameworkAdoption(defs)

	dates := make([]time.Time, len(days))
	for i, day := range days {
		t, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "kpi: parse fact date %q", day.Date)
		}
		dates[i] = t
	}

	computedAt := time.Now().UTC().Format(time.RFC3339)
	var rows []model.KPIDailyRow
	var cumulativeGBP float64
	automationIdx := 0

	for i, day := range days {
		for automationIdx < len(automationDates) && automationDates[automationIdx] <= day.Date {
			cumulativeGBP += automationGBP[automationDates[automationIdx]]
			automationIdx++
		}

		onTime := 100.0
		if day.Delivered > 0 {
			onTime = float64(day.OnTime) / float64(day.Delivered) * 100
		}

		slaBreach := 0.0
		if day.SLASensitive > 0 {
			slaBreach = float64(day.SLABreached) / float64(day.SLASensitive) * 100
		}

		jobs := day.Jobs
		if jobs < 1 {
			jobs = 1
		}
		exceptionRate := float64(day.Incidents) / float64(jobs) * 100

		// Trailing 7-day window including the current day.
		weekStart := dates[i].AddDate(0, 0, -6)
		var weekCommMinutes, weekAutoHours, weekAutoGBP float64
		for j := i; j >= 0 && !dates[j].Before(weekStart); j-- {
			weekCommMinutes += days[j].CommMinutes
			weekAutoHours += days[j].AutomationHours
			weekAutoGBP += days[j].AutomationGBP
		}

		manualHoursWeekly := weekCommMinutes / 60.0
		costLeakage := (day.CommMinutes + day.IncidentMinutesLost) / 60.0 * BlendedRateGBPPerHour

		var dqScore float64
		if quality != nil {
			dqScore = quality.OverallScore
			if v, ok := quality.DailyScores[day.Date]; ok {
				dqScore = v
			}
		}

		values := []struct {
			name  string
			value float64
		}{
			{KPIOnTimeDelivery, onTime},
			{KPISLABreachRate, slaBreach},
			{KPIExceptionRate, exceptionRate},
			{KPIManualWorkload, manualHoursWeekly},
			{KPICostLeakage, costLeakage},
			{KPIDataQuality, dqScore},
			{KPIAutomationHoursWeekly, weekAutoHours},
			{KPIAutomationGBPWeekly, weekAutoGBP},
			{KPIAutomationGBPCumulative, cumulativeGBP},
			{KPIFrameworkAdoption, adoption},
			{KPIBIUtilisation, apiUsage[day.Date]},
			{KPISatisfaction, feedback[day.Date]},
		}

		for _, v := range values {
			def, ok := defMap[v.name]
			if !ok {
				continue
			}
			rows = append(rows, model.KPIDailyRow{
				Date:       day.Date,
				DateKey:    day.DateKey,
				KPIName:    v.name,
				Value:      stats.Round(v.value, 4),
				TargetGood: def.ThresholdGood,
				TargetBad:  def.ThresholdBad,
				OwnerRole:  def.OwnerRole,
				Status:     StatusFor(v.name, v.value, def.ThresholdGood, def.ThresholdBad),
				ComputedAt: computedAt,
			})
		}
	}

	if err := c.store.ReplaceKPIDaily(ctx, rows); err != nil {
		return nil, eris.Wrap(err, "kpi: replace kpi daily")
	}
	zap.L().Info("kpi recompute complete",
		zap.Int("fact_days", len(days)),
		zap.Int("kpi_rows", len(rows)))
	return rows, nil
}
