package model

// AnomalyStatus tracks the triage state of a flagged anomaly.
type AnomalyStatus string

const (
	AnomalyStatusOpen         AnomalyStatus = "open"
	AnomalyStatusAcknowledged AnomalyStatus = "acknowledged"
	AnomalyStatusResolved     AnomalyStatus = "resolved"
)

// Anomaly is one flagged (kpi, date) pair with its robust deviation score.
// The anomaly set is a derived view: every scorer run replaces it wholesale,
// never merges into it.
type Anomaly struct {
	ID          int64         `json:"id,omitempty"`
	KPIName     string        `json:"kpi_name"`
	Date        string        `json:"date"`
	Value       float64       `json:"value"`
	Baseline    float64       `json:"baseline"`
	Score       float64       `json:"score"`
	Status      AnomalyStatus `json:"status"`
	ScenarioTag string        `json:"scenario_tag,omitempty"`
	CreatedAt   string        `json:"created_at"`
}

// ScenarioKey identifies a seeded scenario by KPI and date.
type ScenarioKey struct {
	KPIName string
	Date    string
}

// Scenario is one row of the scenario registry: an annotation describing an
// engineered event and the driver it is expected to surface.
type Scenario struct {
	Tag               string `json:"scenario_tag"`
	Date              string `json:"scenario_date"`
	Description       string `json:"description"`
	KPIName           string `json:"kpi_name"`
	ExpectedDimension string `json:"expected_driver_dimension"`
	ExpectedSegment   string `json:"expected_driver_value"`
}
