// Package model defines the domain types shared across the KPI mart,
// anomaly scorer, driver attribution engine, and explanation assembler.
package model

// KPIObservation is one daily KPI fact: a named metric's value on a date.
// Dates are ISO strings (YYYY-MM-DD) throughout; lexicographic order is
// date order.
type KPIObservation struct {
	KPIName string  `json:"kpi_name"`
	Date    string  `json:"date"`
	Value   float64 `json:"value"`
}

// KPIDailyRow is the full fact_kpi_daily row written by the KPI computation
// pass, including governance metadata from kpi_definitions.
type KPIDailyRow struct {
	Date       string   `json:"date"`
	DateKey    int      `json:"date_key"`
	KPIName    string   `json:"kpi_name"`
	Value      float64  `json:"value"`
	TargetGood *float64 `json:"target_good,omitempty"`
	TargetBad  *float64 `json:"target_bad,omitempty"`
	OwnerRole  string   `json:"owner_role,omitempty"`
	Status     string   `json:"status"`
	ComputedAt string   `json:"computed_at"`
}

// KPIDefinition describes a governed KPI: formula, thresholds, ownership.
type KPIDefinition struct {
	KPIName          string   `json:"kpi_name" yaml:"kpi_name"`
	Description      string   `json:"description" yaml:"description"`
	FormulaText      string   `json:"formula_text" yaml:"formula_text"`
	Grain            string   `json:"grain" yaml:"grain"`
	OwnerRole        string   `json:"owner_role" yaml:"owner_role"`
	ThresholdGood    *float64 `json:"threshold_good" yaml:"threshold_good"`
	ThresholdBad     *float64 `json:"threshold_bad" yaml:"threshold_bad"`
	RefreshCadence   string   `json:"refresh_cadence" yaml:"refresh_cadence"`
	BusinessValue    string   `json:"business_value" yaml:"business_value"`
	LeadingIndicator bool     `json:"leading_indicator_bool" yaml:"leading_indicator_bool"`
}

// KPISummaryRow aggregates one KPI over a date range plus its latest point.
type KPISummaryRow struct {
	KPIName     string   `json:"kpi_name"`
	AvgValue    float64  `json:"avg_value"`
	MinValue    float64  `json:"min_value"`
	MaxValue    float64  `json:"max_value"`
	LatestValue float64  `json:"latest_value"`
	LatestDate  string   `json:"latest_date"`
	TargetGood  *float64 `json:"target_good,omitempty"`
	TargetBad   *float64 `json:"target_bad,omitempty"`
	OwnerRole   string   `json:"owner_role,omitempty"`
}

// KPIPoint is one timeseries point with threshold context.
type KPIPoint struct {
	Date       string   `json:"date"`
	Value      float64  `json:"value"`
	Status     string   `json:"status"`
	TargetGood *float64 `json:"target_good,omitempty"`
	TargetBad  *float64 `json:"target_bad,omitempty"`
}

// BaselineStats summarizes a KPI over a trailing baseline window.
type BaselineStats struct {
	Mean         float64 `json:"baseline_mean"`
	Min          float64 `json:"baseline_min"`
	Max          float64 `json:"baseline_max"`
	Observations int     `json:"observations"`
}
