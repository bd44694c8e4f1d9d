package automation

import (
	"encoding/json"
	"strings"
)

// Condition is the parsed trigger rule stored against an automation. Every
// field is optional; an empty condition matches any anomaly on the trigger
// KPI.
type Condition struct {
	Threshold      *ThresholdRule    `json:"threshold,omitempty"`
	AnomalyScore   *ThresholdRule    `json:"anomaly_score,omitempty"`
	SegmentFilters map[string]string `json:"segment_filters,omitempty"`
}

// ThresholdRule compares a value against a bound. It accepts either a bare
// number (implying ">") or {"operator": ..., "value": ...}.
type ThresholdRule struct {
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

func (r *ThresholdRule) UnmarshalJSON(raw []byte) error {
	var bare float64
	if err := json.Unmarshal(raw, &bare); err == nil {
		r.Operator = ">"
		r.Value = bare
		return nil
	}

	type alias ThresholdRule
	var obj alias
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	if obj.Operator == "" {
		obj.Operator = ">"
	}
	*r = ThresholdRule(obj)
	return nil
}

// Match applies the rule. Unknown operators fall back to ">".
func (r *ThresholdRule) Match(value float64) bool {
	switch r.Operator {
	case ">=":
		return value >= r.Value
	case "<":
		return value < r.Value
	case "<=":
		return value <= r.Value
	case "==":
		return value == r.Value
	default:
		return value > r.Value
	}
}

// ParseCondition decodes a stored condition. Malformed JSON degrades to the
// empty condition rather than blocking the automation.
func ParseCondition(conditionJSON string) Condition {
	var c Condition
	if conditionJSON == "" {
		return c
	}
	if err := json.Unmarshal([]byte(conditionJSON), &c); err != nil {
		return Condition{}
	}
	return c
}

// dimensionAlias maps the shorthand keys users write in segment filters onto
// the attribution engine's dimension names.
var dimensionAlias = map[string]string{
	"site":           "site",
	"category":       "category",
	"carrier":        "carrier",
	"product":        "product_family",
	"product_family": "product_family",
	"customer":       "customer_tier",
	"customer_tier":  "customer_tier",
}

func canonicalDimension(key string) string {
	k := strings.ToLower(key)
	if dim, ok := dimensionAlias[k]; ok {
		return dim
	}
	return k
}
