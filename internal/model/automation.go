package model

// Automation is a registered rule: when an anomaly on TriggerKPI matches
// Condition, the payload is POSTed to WebhookURL.
type Automation struct {
	ID         int64  `json:"id,omitempty"`
	Name       string `json:"name"`
	TriggerKPI string `json:"trigger_kpi"`
	Condition  string `json:"condition_json"`
	WebhookURL string `json:"webhook_url"`
	Enabled    bool   `json:"enabled"`
	CreatedAt  string `json:"created_at"`
}

// AutomationRun records one webhook dispatch attempt.
type AutomationRun struct {
	ID           int64  `json:"id,omitempty"`
	AutomationID int64  `json:"automation_id"`
	Name         string `json:"name"`
	KPIName      string `json:"kpi_name"`
	Date         string `json:"date"`
	Payload      string `json:"payload_json"`
	Status       string `json:"status"`
	ResponseCode *int   `json:"response_code"`
	ResponseBody string `json:"response_body,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// APIUsage is one api_usage_log row written by the serve middleware.
type APIUsage struct {
	Endpoint    string `json:"endpoint"`
	Method      string `json:"method"`
	Role        string `json:"role"`
	StatusCode  int    `json:"status_code"`
	RequestedAt string `json:"requested_at"`
	RequestID   string `json:"request_id"`
}
