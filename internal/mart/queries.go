package mart

import (
	"fmt"
	"strings"

	"github.com/sells-group/ops-copilot/internal/model"
)

// placeholderStyle renders positional parameters for each backend.
type placeholderStyle int

const (
	questionPlaceholders placeholderStyle = iota // sqlite: ?
	dollarPlaceholders                           // postgres: $1, $2, ...
)

func (s placeholderStyle) render(n int) []string {
	out := make([]string, n)
	for i := range out {
		if s == dollarPlaceholders {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

func (d DimensionSpec) where() string {
	if d.ExtraWhere == "" {
		return "1=1"
	}
	return d.ExtraWhere
}

// segmentSQL renders the aggregate query for one dimension over the given
// window. Anomaly-day queries group by segment; baseline-range queries group
// additionally by date so the caller can average per segment across days.
func segmentSQL(spec DimensionSpec, window SegmentWindow, style placeholderStyle) (string, []string) {
	if window.Date != "" {
		ph := style.render(1)
		sql := fmt.Sprintf(`SELECT %s AS segment,
       %s AS numerator,
       %s AS denominator
FROM %s
WHERE %s
  AND dd.date = %s
GROUP BY %s`,
			spec.SegmentExpr, spec.NumeratorExpr, spec.DenominatorExpr,
			strings.TrimSpace(spec.FromClause), spec.where(), ph[0], spec.SegmentExpr)
		return sql, []string{window.Date}
	}

	ph := style.render(2)
	sql := fmt.Sprintf(`SELECT dd.date AS baseline_date,
       %s AS segment,
       %s AS numerator,
       %s AS denominator
FROM %s
WHERE %s
  AND dd.date BETWEEN %s AND %s
GROUP BY dd.date, %s`,
		spec.SegmentExpr, spec.NumeratorExpr, spec.DenominatorExpr,
		strings.TrimSpace(spec.FromClause), spec.where(), ph[0], ph[1], spec.SegmentExpr)
	return sql, []string{window.Start, window.End}
}

// qualitySQL renders the per-site data-quality aggregate used by the
// data-quality attribution path.
func qualitySQL(window SegmentWindow, style placeholderStyle) (string, []string) {
	if window.Date != "" {
		ph := style.render(1)
		sql := fmt.Sprintf(`SELECT ds.site_name AS segment,
       SUM(CASE WHEN fj.status = 'Delivered' AND fj.delivered_date_key IS NULL THEN 1 ELSE 0 END) AS missing_delivered,
       SUM(CASE WHEN fj.status = 'Delivered' THEN 1 ELSE 0 END) AS delivered_jobs,
       AVG(fj.duplicate_flag) AS duplicate_rate
FROM fact_jobs fj
JOIN dim_date dd ON dd.date_key = fj.date_key
JOIN dim_site ds ON ds.site_id = fj.site_id
WHERE dd.date = %s
GROUP BY ds.site_name`, ph[0])
		return sql, []string{window.Date}
	}

	ph := style.render(2)
	sql := fmt.Sprintf(`SELECT dd.date AS baseline_date,
       ds.site_name AS segment,
       SUM(CASE WHEN fj.status = 'Delivered' AND fj.delivered_date_key IS NULL THEN 1 ELSE 0 END) AS missing_delivered,
       SUM(CASE WHEN fj.status = 'Delivered' THEN 1 ELSE 0 END) AS delivered_jobs,
       AVG(fj.duplicate_flag) AS duplicate_rate
FROM fact_jobs fj
JOIN dim_date dd ON dd.date_key = fj.date_key
JOIN dim_site ds ON ds.site_id = fj.site_id
WHERE dd.date BETWEEN %s AND %s
GROUP BY dd.date, ds.site_name`, ph[0], ph[1])
	return sql, []string{window.Start, window.End}
}

func descriptor(sql string, params []string) model.QueryDescriptor {
	return model.QueryDescriptor{SQL: sql, Params: params}
}

func toArgs(params []string) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}
	return args
}
