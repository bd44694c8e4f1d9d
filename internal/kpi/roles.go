package kpi

import "github.com/sells-group/ops-copilot/internal/model"

// financeKPIs and opsKPIs scope role visibility; exec sees everything.
var financeKPIs = map[string]bool{
	KPICostLeakage:             true,
	KPIAutomationHoursWeekly:   true,
	KPIAutomationGBPWeekly:     true,
	KPIAutomationGBPCumulative: true,
	KPIDataQuality:             true,
	KPIFrameworkAdoption:       true,
	KPIBIUtilisation:           true,
	KPISatisfaction:            true,
}

var opsKPIs = map[string]bool{
	KPIOnTimeDelivery:    true,
	KPISLABreachRate:     true,
	KPIExceptionRate:     true,
	KPIManualWorkload:    true,
	KPIDataQuality:       true,
	KPIFrameworkAdoption: true,
	KPIBIUtilisation:     true,
	KPISatisfaction:      true,
}

// ByRole maps each role to the KPI names it can see, in definition order.
func ByRole(defs []model.KPIDefinition) map[string][]string {
	mapping := map[string][]string{"exec": {}, "ops": {}, "finance": {}}
	for _, d := range defs {
		mapping["exec"] = append(mapping["exec"], d.KPIName)
		if opsKPIs[d.KPIName] {
			mapping["ops"] = append(mapping["ops"], d.KPIName)
		}
		if financeKPIs[d.KPIName] {
			mapping["finance"] = append(mapping["finance"], d.KPIName)
		}
	}
	return mapping
}

// VisibleTo reports whether role may see kpiName. Unknown roles see nothing;
// exec sees everything.
func VisibleTo(role, kpiName string) bool {
	switch role {
	case "exec":
		return true
	case "ops":
		return opsKPIs[kpiName]
	case "finance":
		return financeKPIs[kpiName]
	default:
		return false
	}
}
