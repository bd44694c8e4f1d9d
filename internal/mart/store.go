// Package mart implements the dimensional data mart: the relational store
// holding daily operational facts, computed KPI series, and the derived
// anomaly and audit tables the analytics engines read and write.
package mart

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ops-copilot/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("mart: not found")

// DimensionSpec describes how to aggregate fact rows along one dimension for
// a given KPI: the join path, the numerator/denominator expressions of the
// KPI's rate formula, and the segment label expression. Specs live in a
// closed registry keyed by KPI name; they are never assembled from request
// input.
type DimensionSpec struct {
	Dimension       string
	SegmentExpr     string
	FromClause      string
	NumeratorExpr   string
	DenominatorExpr string
	ExtraWhere      string // defaults to "1=1"
}

// SegmentWindow selects either a single anomaly day (Date set) or a
// baseline date range (Start/End set) for an aggregate query.
type SegmentWindow struct {
	Date  string
	Start string
	End   string
}

// SegmentAggregate is one (date, segment) aggregate row. Date is empty for
// anomaly-day queries, which group by segment only.
type SegmentAggregate struct {
	Date        string
	Segment     string
	Numerator   float64
	Denominator float64
}

// QualityAggregate is one (date, site) data-quality aggregate row.
type QualityAggregate struct {
	Date             string
	Segment          string
	MissingDelivered float64
	DeliveredJobs    float64
	DuplicateRate    float64
}

// OperationalDay holds one day's fact-table aggregates, the raw material of
// the KPI computation pass.
type OperationalDay struct {
	Date                string
	DateKey             int
	Jobs                int
	Delivered           int
	OnTime              int
	SLASensitive        int
	SLABreached         int
	Incidents           int
	CommMinutes         float64
	IncidentMinutesLost float64
	AutomationHours     float64
	AutomationGBP       float64
}

// QualityDayStat holds one day's data-quality raw counts.
type QualityDayStat struct {
	Date             string
	Jobs             int
	Delivered        int
	MissingDelivered int
	DuplicateRate    float64
	KeyNulls         int
	KeyTotal         int
	InvalidCount     int
	RowCount         int
}

// ContractResult is one clean-layer contract validation outcome.
type ContractResult struct {
	TableName string
	Status    string
	Details   string
}

// ContractLogEntry is a persisted contract validation outcome with its run
// timestamp.
type ContractLogEntry struct {
	RunTimestamp string `json:"run_timestamp"`
	TableName    string `json:"table_name"`
	Status       string `json:"status"`
	Details      string `json:"details"`
}

// EndpointUsage is the request count for one API endpoint.
type EndpointUsage struct {
	Endpoint     string `json:"endpoint"`
	RequestCount int    `json:"request_count"`
}

// BreachSegmentRow is one worst-segment row for the SLA breach KPI.
type BreachSegmentRow struct {
	Date          string  `json:"date"`
	SiteName      string  `json:"site_name"`
	CustomerTier  string  `json:"customer_tier"`
	BreachRatePct float64 `json:"breach_rate_pct"`
	CommCount     int     `json:"comm_count"`
}

// ExceptionSegmentRow is one worst-segment row for the exception rate KPI.
type ExceptionSegmentRow struct {
	Date             string  `json:"date"`
	SiteName         string  `json:"site_name"`
	ProductFamily    string  `json:"product_family"`
	ExceptionRatePct float64 `json:"exception_rate_pct"`
	Jobs             int     `json:"jobs"`
}

// Store defines the persistence contract consumed by the scorer, the
// attribution engine, the explanation assembler, and the surrounding ETL,
// governance, and automation layers.
type Store interface {
	// KPI series
	KPISeries(ctx context.Context, kpiNames []string) ([]model.KPIObservation, error)
	KPIValue(ctx context.Context, kpiName, date string) (float64, error)
	KPIBaselineStats(ctx context.Context, kpiName, start, end string) (model.BaselineStats, error)
	KPISummary(ctx context.Context, start, end string) ([]model.KPISummaryRow, error)
	KPITimeseries(ctx context.Context, kpiName, start, end string) ([]model.KPIPoint, error)
	LatestKPIDate(ctx context.Context, kpiName string) (string, error)
	ReplaceKPIDaily(ctx context.Context, rows []model.KPIDailyRow) error

	// KPI governance
	KPIDefinitions(ctx context.Context) ([]model.KPIDefinition, error)
	SeedKPIDefinitions(ctx context.Context, defs []model.KPIDefinition) error

	// Scenario registry
	ScenarioTags(ctx context.Context) (map[model.ScenarioKey]string, error)
	Scenarios(ctx context.Context) ([]model.Scenario, error)

	// Anomalies. ReplaceAnomalies deletes and re-inserts within a single
	// transaction; an empty kpiNames filter replaces the whole table,
	// otherwise only the named KPIs' rows are refreshed.
	ReplaceAnomalies(ctx context.Context, kpiNames []string, records []model.Anomaly) error
	AnomaliesByStatus(ctx context.Context, status model.AnomalyStatus) ([]model.Anomaly, error)
	TopAnomaly(ctx context.Context, kpiName, date string) (*model.Anomaly, error)

	// Attribution aggregates. The returned descriptor records the exact
	// query and parameters executed, for evidence.
	SegmentAggregates(ctx context.Context, spec DimensionSpec, window SegmentWindow) ([]SegmentAggregate, model.QueryDescriptor, error)
	QualityAggregates(ctx context.Context, window SegmentWindow) ([]QualityAggregate, model.QueryDescriptor, error)
	WorstBreachSegments(ctx context.Context, date string) ([]BreachSegmentRow, error)
	WorstExceptionSegments(ctx context.Context, date string) ([]ExceptionSegmentRow, error)

	// Audit, usage, feedback
	AppendAudit(ctx context.Context, rec model.AuditRecord) (int64, error)
	AttachFeedback(ctx context.Context, auditID int64, rating int, notes string) error
	RecordAPIUsage(ctx context.Context, usage model.APIUsage) error

	// Automations
	Automations(ctx context.Context, enabledOnly bool) ([]model.Automation, error)
	RegisterAutomation(ctx context.Context, a model.Automation) (int64, error)
	SetAutomationEnabled(ctx context.Context, id int64, enabled bool) error
	AppendAutomationRun(ctx context.Context, run model.AutomationRun) error
	AutomationRuns(ctx context.Context, limit int) ([]model.AutomationRun, error)

	// ETL and governance
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) error
	LogContractResults(ctx context.Context, runTS string, results []ContractResult) error
	OperationalDaily(ctx context.Context) ([]OperationalDay, error)
	APIUsageCounts(ctx context.Context) (map[string]float64, error)
	FeedbackDailyRating(ctx context.Context) (map[string]float64, error)
	// AutomationGBPByDate covers every automation event date, including
	// dates outside the OperationalDaily calendar.
	AutomationGBPByDate(ctx context.Context) (map[string]float64, error)
	QualityDailyStats(ctx context.Context) ([]QualityDayStat, error)
	ReplaceQualityResults(ctx context.Context, runTS string, checks []model.QualityCheck) error
	QualityChecks(ctx context.Context) ([]model.QualityCheck, error)
	ContractLog(ctx context.Context, limit int) ([]ContractLogEntry, error)
	APIUsageByEndpoint(ctx context.Context) ([]EndpointUsage, error)
	FeedbackSummary(ctx context.Context) (avgRating float64, count int, err error)
	TableColumns(ctx context.Context, table string) ([]string, error)
	LatestFactDate(ctx context.Context) (string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
