package model

// QualityCheck is one named data-quality check result.
type QualityCheck struct {
	CheckName string  `json:"check_name"`
	TableName string  `json:"table_name"`
	Status    string  `json:"status"`
	Score     float64 `json:"score"`
	Details   string  `json:"details"`
}

// QualityDayComponents breaks one day's quality score into its weighted parts.
type QualityDayComponents struct {
	Date             string  `json:"date"`
	Completeness     float64 `json:"completeness"`
	DuplicateScore   float64 `json:"duplicate_score"`
	NullScore        float64 `json:"null_score"`
	RangeScore       float64 `json:"range_score"`
	Overall          float64 `json:"overall"`
	MissingDelivered int     `json:"missing_delivered"`
}

// QualityResult is the full output of a data-quality evaluation run.
type QualityResult struct {
	RunTimestamp     string                 `json:"run_timestamp"`
	OverallScore     float64                `json:"overall_score"`
	FreshnessLagDays int                    `json:"freshness_lag_days"`
	DailyScores      map[string]float64     `json:"daily_scores"`
	Checks           []QualityCheck         `json:"checks"`
	Issues           []QualityDayComponents `json:"issues"`
	Components       []QualityDayComponents `json:"components"`
}
