package model

// Summary is the headline block of an explanation.
type Summary struct {
	KPIName         string   `json:"kpi_name"`
	Date            string   `json:"date"`
	Value           float64  `json:"value"`
	BaselineMean    float64  `json:"baseline_mean"`
	AnomalyScore    *float64 `json:"anomaly_score"`
	ScenarioTag     string   `json:"scenario_tag,omitempty"`
	DeltaVsBaseline float64  `json:"delta_vs_baseline"`
}

// ExpectedImpact estimates the payoff of acting on a driver.
type ExpectedImpact struct {
	KPIImprovementPct float64 `json:"expected_kpi_improvement_pct"`
	HoursSaved        float64 `json:"expected_hours_saved"`
	GBPSaved          float64 `json:"expected_gbp_saved"`
}

// DriverRef identifies the driver an action targets.
type DriverRef struct {
	Dimension string `json:"dimension"`
	Segment   string `json:"segment"`
}

// RecommendedAction pairs a driver with a templated mitigation.
type RecommendedAction struct {
	Driver         DriverRef      `json:"driver"`
	Action         string         `json:"action"`
	ExpectedImpact ExpectedImpact `json:"expected_impact"`
	KPIName        string         `json:"kpi_name"`
}

// Explanation is the assembler's output: snapshot, drivers, actions,
// evidence, and the id of the audit row recording the call.
type Explanation struct {
	RequestID          string              `json:"request_id"`
	Summary            Summary             `json:"summary"`
	Drivers            []DriverRow         `json:"drivers"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	Evidence           []EvidenceEntry     `json:"evidence"`
	Narrative          string              `json:"narrative_rephrased,omitempty"`
	AuditID            int64               `json:"audit_id"`
}

// AuditRecord is one explain_audit_log row. Feedback is appended later by
// the feedback flow, never written at explain time.
type AuditRecord struct {
	ID           int64  `json:"id,omitempty"`
	Timestamp    string `json:"timestamp"`
	KPIName      string `json:"kpi_name"`
	Date         string `json:"date"`
	SQLUsed      string `json:"sql_used"`
	Slices       string `json:"slices_returned"`
	UserFeedback string `json:"user_feedback,omitempty"`
	RequestID    string `json:"request_id"`
}
