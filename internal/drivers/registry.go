// Package drivers implements dimensional driver attribution: when a KPI
// moves, the engine decomposes the movement across a closed set of
// dimensions and ranks the segments that explain it.
package drivers

import "github.com/sells-group/ops-copilot/internal/mart"

// KPI names with a registered dimensional decomposition.
const (
	KPISLABreachRate = "sla_breach_rate_pct"
	KPIExceptionRate = "exception_rate_per_100_jobs"
	KPIDataQuality   = "data_quality_score"
)

const slaBreachFrom = `
    fact_comms fc
    JOIN dim_date dd ON dd.date_key = fc.date_key
    JOIN dim_site ds ON ds.site_id = fc.site_id
    JOIN dim_customer dc ON dc.customer_id = fc.customer_id
    JOIN dim_category dcat ON dcat.category_id = fc.category_id
    LEFT JOIN fact_incidents fi ON fi.job_id = fc.job_id
    LEFT JOIN dim_carrier dcar ON dcar.carrier_id = fc.carrier_id
    LEFT JOIN dim_product dp ON dp.product_id = fc.product_id`

const exceptionFrom = `
    fact_jobs fj
    JOIN dim_date dd ON dd.date_key = fj.date_key
    JOIN dim_site ds ON ds.site_id = fj.site_id
    JOIN dim_customer dc ON dc.customer_id = fj.customer_id
    LEFT JOIN fact_incidents fi ON fi.job_id = fj.job_id
    LEFT JOIN fact_comms fc ON fc.job_id = fj.job_id AND fc.date_key = fj.date_key
    LEFT JOIN dim_category dcat ON dcat.category_id = fc.category_id
    JOIN dim_carrier dcar ON dcar.carrier_id = fj.carrier_id
    JOIN dim_product dp ON dp.product_id = fj.product_id`

// specsForKPI returns the dimension registry entries for a KPI. The registry
// is closed: specs are compiled in, never assembled from request input, so
// attribution SQL can only take the shapes listed here.
func specsForKPI(kpiName string) []mart.DimensionSpec {
	switch kpiName {
	case KPISLABreachRate:
		numerator := "SUM(CASE WHEN fc.sla_sensitive_bool = 1 AND fc.breached_bool = 1 THEN 1 ELSE 0 END)"
		denominator := "SUM(CASE WHEN fc.sla_sensitive_bool = 1 THEN 1 ELSE 0 END)"
		return []mart.DimensionSpec{
			{Dimension: "site", SegmentExpr: "ds.site_name", FromClause: slaBreachFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "customer_tier", SegmentExpr: "dc.tier", FromClause: slaBreachFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "category", SegmentExpr: "dcat.category_name", FromClause: slaBreachFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "incident_type", SegmentExpr: "COALESCE(fi.incident_type, 'No incident')", FromClause: slaBreachFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "carrier", SegmentExpr: "COALESCE(dcar.carrier_name, 'Unknown carrier')", FromClause: slaBreachFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "product_family", SegmentExpr: "COALESCE(dp.product_family, 'Unknown product')", FromClause: slaBreachFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
		}
	case KPIExceptionRate:
		numerator := "COUNT(DISTINCT fi.incident_id)"
		denominator := "COUNT(DISTINCT fj.job_id)"
		return []mart.DimensionSpec{
			{Dimension: "site", SegmentExpr: "ds.site_name", FromClause: exceptionFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "customer_tier", SegmentExpr: "dc.tier", FromClause: exceptionFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "category", SegmentExpr: "COALESCE(dcat.category_name, 'No comm category')", FromClause: exceptionFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "incident_type", SegmentExpr: "COALESCE(fi.incident_type, 'No incident')", FromClause: exceptionFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "carrier", SegmentExpr: "dcar.carrier_name", FromClause: exceptionFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
			{Dimension: "product_family", SegmentExpr: "dp.product_family", FromClause: exceptionFrom, NumeratorExpr: numerator, DenominatorExpr: denominator},
		}
	default:
		return nil
	}
}

// Supported reports whether kpiName has a registered decomposition.
func Supported(kpiName string) bool {
	return kpiName == KPISLABreachRate || kpiName == KPIExceptionRate || kpiName == KPIDataQuality
}
