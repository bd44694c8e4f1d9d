package etl

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// cleanColumns is the projection applied to each raw fact on the way into the
// clean layer. Dimensions and the scenario registry pass through as-is.
var cleanColumns = map[string][]string{
	"fact_jobs": {
		"job_id", "date_key", "site_id", "customer_id", "team_id", "carrier_id",
		"product_id", "value_gbp", "promised_date_key", "delivered_date_key",
		"status", "priority", "duplicate_flag", "source_batch",
	},
	"fact_incidents": {
		"incident_id", "date_key", "site_id", "job_id", "incident_type",
		"severity", "minutes_lost", "product_id",
	},
	"fact_comms": {
		"comm_id", "date_key", "site_id", "customer_id", "category_id", "channel",
		"minutes_spent", "sla_sensitive_bool", "response_minutes", "breached_bool",
		"job_id", "carrier_id", "product_id",
	},
	"fact_costs": {
		"cost_id", "date_key", "site_id", "cost_type", "amount_gbp",
	},
	"fact_automation_events": {
		"event_id", "date_key", "site_id", "event_type", "hours_saved",
		"gbp_saved", "notes",
	},
}

var passthroughTables = []string{
	"dim_site", "dim_customer", "dim_team", "dim_category",
	"dim_carrier", "dim_product", "scenario_registry",
}

// Transform reads the raw CSV drop, projects facts onto their clean shape,
// synthesises dim_date from every date seen across the facts, and writes the
// clean layer.
func Transform(rawDir, cleanDir string) error {
	if err := os.MkdirAll(cleanDir, 0o755); err != nil {
		return eris.Wrap(err, "etl: create clean dir")
	}

	tables := make(map[string]*csvTable)
	names := append(append([]string{}, passthroughTables...),
		"fact_jobs", "fact_incidents", "fact_comms", "fact_costs", "fact_automation_events")
	for _, name := range names {
		path := filepath.Join(rawDir, name+".csv")
		if _, err := os.Stat(path); err != nil {
			return eris.Errorf("etl: missing raw input %s", path)
		}
		t, err := readTable(path)
		if err != nil {
			return err
		}
		tables[name] = t
	}

	for _, name := range passthroughTables {
		t := tables[name]
		if err := writeTable(filepath.Join(cleanDir, name+".csv"), t.header, t.rows); err != nil {
			return err
		}
	}

	for name, columns := range cleanColumns {
		t := tables[name]
		projected, err := project(t, columns)
		if err != nil {
			return eris.Wrapf(err, "etl: project %s", name)
		}
		if err := writeTable(filepath.Join(cleanDir, name+".csv"), columns, projected); err != nil {
			return err
		}
	}

	dimDate := buildDimDate(tables)
	header := []string{"date_key", "date", "week", "month", "quarter", "day_name"}
	if err := writeTable(filepath.Join(cleanDir, "dim_date.csv"), header, dimDate); err != nil {
		return err
	}

	zap.L().Info("transform complete",
		zap.String("clean_dir", cleanDir),
		zap.Int("calendar_days", len(dimDate)))
	return nil
}

func project(t *csvTable, columns []string) ([][]string, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		pos, ok := t.index[c]
		if !ok {
			return nil, eris.Errorf("missing column %s", c)
		}
		idx[i] = pos
	}

	out := make([][]string, 0, len(t.rows))
	for _, row := range t.rows {
		projected := make([]string, len(columns))
		for i, pos := range idx {
			if pos < len(row) {
				projected[i] = row[pos]
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

// buildDimDate unions every parseable date across the facts, including job
// promise and delivery dates, so calendar joins never drop a row.
func buildDimDate(tables map[string]*csvTable) [][]string {
	seen := make(map[string]bool)

	collect := func(t *csvTable, column string) {
		if _, ok := t.index[column]; !ok {
			return
		}
		for _, row := range t.rows {
			raw := t.cell(row, column)
			if raw == "" {
				continue
			}
			if _, err := time.Parse("2006-01-02", raw); err == nil {
				seen[raw] = true
			}
		}
	}

	jobs := tables["fact_jobs"]
	collect(jobs, "date")
	collect(jobs, "promised_date")
	collect(jobs, "delivered_date")
	for _, name := range []string{"fact_comms", "fact_incidents", "fact_costs", "fact_automation_events"} {
		collect(tables[name], "date")
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	rows := make([][]string, 0, len(dates))
	for _, d := range dates {
		day, _ := time.Parse("2006-01-02", d)
		_, week := day.ISOWeek()
		rows = append(rows, []string{
			day.Format("20060102"),
			d,
			strconv.Itoa(week),
			strconv.Itoa(int(day.Month())),
			strconv.Itoa((int(day.Month())-1)/3 + 1),
			day.Weekday().String(),
		})
	}
	return rows
}

// DateKey converts an ISO date to its integer calendar key, e.g. 20260114.
func DateKey(date string) (int, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, eris.Wrapf(err, "etl: parse date %q", date)
	}
	key, _ := strconv.Atoi(d.Format("20060102"))
	return key, nil
}
