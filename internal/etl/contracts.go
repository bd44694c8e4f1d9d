package etl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/mart"
)

// columnContract is the expected shape of one clean-layer table. Types are
// checked loosely: "int" and "float" require every non-null cell to be
// numeric, "str" always passes. Columns listed in nullable may carry empty
// cells; everywhere else an empty cell is a contract failure.
type columnContract struct {
	columns  []columnSpec
	nullable map[string]bool
}

type columnSpec struct {
	name string
	typ  string
}

func contract(nullable []string, cols ...columnSpec) columnContract {
	n := make(map[string]bool, len(nullable))
	for _, c := range nullable {
		n[c] = true
	}
	return columnContract{columns: cols, nullable: n}
}

func col(name, typ string) columnSpec { return columnSpec{name: name, typ: typ} }

// cleanContracts covers every table the mart loader ingests, in load order.
var cleanContracts = []struct {
	table    string
	contract columnContract
}{
	{"dim_date", contract(nil,
		col("date_key", "int"), col("date", "str"), col("week", "int"),
		col("month", "int"), col("quarter", "int"), col("day_name", "str"))},
	{"dim_site", contract(nil, col("site_id", "int"), col("site_name", "str"))},
	{"dim_customer", contract(nil, col("customer_id", "int"), col("customer_name", "str"), col("tier", "str"))},
	{"dim_team", contract(nil, col("team_id", "int"), col("team_name", "str"))},
	{"dim_category", contract(nil, col("category_id", "int"), col("category_name", "str"))},
	{"dim_carrier", contract(nil, col("carrier_id", "int"), col("carrier_name", "str"))},
	{"dim_product", contract(nil, col("product_id", "int"), col("product_family", "str"))},
	{"fact_jobs", contract([]string{"delivered_date_key"},
		col("job_id", "str"), col("date_key", "int"), col("site_id", "int"),
		col("customer_id", "int"), col("team_id", "int"), col("carrier_id", "int"),
		col("product_id", "int"), col("value_gbp", "float"), col("promised_date_key", "int"),
		col("delivered_date_key", "int"), col("status", "str"), col("priority", "str"),
		col("duplicate_flag", "int"), col("source_batch", "str"))},
	{"fact_incidents", contract(nil,
		col("incident_id", "str"), col("date_key", "int"), col("site_id", "int"),
		col("job_id", "str"), col("incident_type", "str"), col("severity", "str"),
		col("minutes_lost", "int"), col("product_id", "int"))},
	{"fact_comms", contract(nil,
		col("comm_id", "str"), col("date_key", "int"), col("site_id", "int"),
		col("customer_id", "int"), col("category_id", "int"), col("channel", "str"),
		col("minutes_spent", "int"), col("sla_sensitive_bool", "int"), col("response_minutes", "int"),
		col("breached_bool", "int"), col("job_id", "str"), col("carrier_id", "int"),
		col("product_id", "int"))},
	{"fact_costs", contract(nil,
		col("cost_id", "str"), col("date_key", "int"), col("site_id", "int"),
		col("cost_type", "str"), col("amount_gbp", "float"))},
	{"fact_automation_events", contract([]string{"notes"},
		col("event_id", "str"), col("date_key", "int"), col("site_id", "int"),
		col("event_type", "str"), col("hours_saved", "float"), col("gbp_saved", "float"),
		col("notes", "str"))},
	{"scenario_registry", contract(nil,
		col("scenario_tag", "str"), col("scenario_date", "str"), col("description", "str"),
		col("kpi_name", "str"), col("expected_driver_dimension", "str"),
		col("expected_driver_value", "str"))},
}

// ValidateCleanContracts checks every clean CSV against its contract and
// returns one result per table. It never stops early: a broken table is
// reported and validation continues with the next one.
func ValidateCleanContracts(cleanDir string) []mart.ContractResult {
	results := make([]mart.ContractResult, 0, len(cleanContracts))

	for _, entry := range cleanContracts {
		path := filepath.Join(cleanDir, entry.table+".csv")
		if _, err := os.Stat(path); err != nil {
			results = append(results, mart.ContractResult{
				TableName: entry.table,
				Status:    "failed",
				Details:   fmt.Sprintf("Missing file: %s", filepath.Base(path)),
			})
			continue
		}

		table, err := readTable(path)
		if err != nil {
			results = append(results, mart.ContractResult{
				TableName: entry.table,
				Status:    "failed",
				Details:   err.Error(),
			})
			continue
		}

		results = append(results, checkTable(entry.table, entry.contract, table))
	}
	return results
}

func checkTable(name string, c columnContract, t *csvTable) mart.ContractResult {
	var missing []string
	for _, spec := range c.columns {
		if _, ok := t.index[spec.name]; !ok {
			missing = append(missing, spec.name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return mart.ContractResult{
			TableName: name,
			Status:    "failed",
			Details:   fmt.Sprintf("Missing columns: %s", strings.Join(missing, ", ")),
		}
	}

	var errs []string
	for _, spec := range c.columns {
		idx := t.index[spec.name]
		nulls := 0
		typeOK := true
		for _, row := range t.rows {
			cell := row[idx]
			if cell == "" {
				nulls++
				continue
			}
			if typeOK && (spec.typ == "int" || spec.typ == "float") {
				if _, err := strconv.ParseFloat(cell, 64); err != nil {
					typeOK = false
				}
			}
		}
		if !typeOK {
			errs = append(errs, fmt.Sprintf("%s type mismatch expected %s", spec.name, spec.typ))
		}
		if !c.nullable[spec.name] && nulls > 0 {
			errs = append(errs, fmt.Sprintf("%s has %d null(s)", spec.name, nulls))
		}
	}

	if len(errs) > 0 {
		return mart.ContractResult{TableName: name, Status: "failed", Details: strings.Join(errs, "; ")}
	}
	return mart.ContractResult{TableName: name, Status: "passed", Details: "All required checks passed"}
}

// ValidateAndLog runs contract validation, persists the outcomes, and fails
// when any table is out of contract so the pipeline stops before loading.
func ValidateAndLog(ctx context.Context, store mart.Store, cleanDir string) ([]mart.ContractResult, error) {
	results := ValidateCleanContracts(cleanDir)
	runTS := time.Now().UTC().Format(time.RFC3339)
	if err := store.LogContractResults(ctx, runTS, results); err != nil {
		return results, eris.Wrap(err, "etl: log contract results")
	}

	failed := 0
	for _, r := range results {
		if r.Status != "passed" {
			failed++
			zap.L().Warn("contract check failed", zap.String("table", r.TableName), zap.String("details", r.Details))
		}
	}
	zap.L().Info("contract validation complete",
		zap.Int("tables", len(results)),
		zap.Int("failed", failed))

	if failed > 0 {
		return results, eris.Errorf("etl: %d table(s) failed contract validation", failed)
	}
	return results, nil
}
