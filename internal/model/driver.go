package model

// DriverRow is one segment's contribution to a KPI movement. Rows are
// ephemeral: produced per attribution call and embedded into audit blobs,
// never persisted as their own table.
//
// ContributionShare values across a decomposition need not sum to 1;
// consumers must not assume normalization.
type DriverRow struct {
	Dimension         string             `json:"dimension"`
	Segment           string             `json:"segment"`
	DeltaAbs          float64            `json:"delta_abs"`
	DeltaPct          *float64           `json:"delta_pct"`
	ContributionShare float64            `json:"contribution_share"`
	SupportingStats   map[string]float64 `json:"supporting_stats"`
}

// QueryDescriptor records a query executed during attribution so the result
// is reproducible from the evidence alone.
type QueryDescriptor struct {
	SQL    string   `json:"sql"`
	Params []string `json:"params"`
}

// EvidenceEntry documents one dimension's attribution queries and the top
// rows they produced. Evidence is returned even when no driver emerges.
type EvidenceEntry struct {
	Dimension     string          `json:"dimension"`
	AnomalyQuery  QueryDescriptor `json:"anomaly_query"`
	BaselineQuery QueryDescriptor `json:"baseline_query"`
	TopRows       []DriverRow     `json:"top_rows"`
}

// Attribution is the full result of a driver attribution call.
type Attribution struct {
	Drivers  []DriverRow     `json:"drivers"`
	Evidence []EvidenceEntry `json:"evidence"`
}
