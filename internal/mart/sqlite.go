package mart

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ops-copilot/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. The anomaly replace relies on SQLite's writer serialization; callers
// must still avoid concurrent recomputations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS dim_date (
	date_key INTEGER PRIMARY KEY,
	date     TEXT NOT NULL UNIQUE,
	week     INTEGER NOT NULL,
	month    INTEGER NOT NULL,
	quarter  INTEGER NOT NULL,
	day_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_site (
	site_id   INTEGER PRIMARY KEY,
	site_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_customer (
	customer_id   INTEGER PRIMARY KEY,
	customer_name TEXT NOT NULL,
	tier          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_team (
	team_id   INTEGER PRIMARY KEY,
	team_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_category (
	category_id   INTEGER PRIMARY KEY,
	category_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_carrier (
	carrier_id   INTEGER PRIMARY KEY,
	carrier_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_product (
	product_id     INTEGER PRIMARY KEY,
	product_family TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_jobs (
	job_id             TEXT NOT NULL,
	date_key           INTEGER NOT NULL,
	site_id            INTEGER,
	customer_id        INTEGER,
	team_id            INTEGER,
	carrier_id         INTEGER,
	product_id         INTEGER,
	value_gbp          REAL,
	promised_date_key  INTEGER,
	delivered_date_key INTEGER,
	status             TEXT,
	priority           TEXT,
	duplicate_flag     INTEGER,
	source_batch       TEXT
);

CREATE TABLE IF NOT EXISTS fact_incidents (
	incident_id   TEXT NOT NULL,
	date_key      INTEGER NOT NULL,
	site_id       INTEGER,
	job_id        TEXT,
	incident_type TEXT,
	severity      TEXT,
	minutes_lost  INTEGER,
	product_id    INTEGER
);

CREATE TABLE IF NOT EXISTS fact_comms (
	comm_id            TEXT NOT NULL,
	date_key           INTEGER NOT NULL,
	site_id            INTEGER,
	customer_id        INTEGER,
	category_id        INTEGER,
	channel            TEXT,
	minutes_spent      INTEGER,
	sla_sensitive_bool INTEGER,
	response_minutes   INTEGER,
	breached_bool      INTEGER,
	job_id             TEXT,
	carrier_id         INTEGER,
	product_id         INTEGER
);

CREATE TABLE IF NOT EXISTS fact_costs (
	cost_id    TEXT NOT NULL,
	date_key   INTEGER NOT NULL,
	site_id    INTEGER,
	cost_type  TEXT,
	amount_gbp REAL
);

CREATE TABLE IF NOT EXISTS fact_automation_events (
	event_id    TEXT NOT NULL,
	date_key    INTEGER NOT NULL,
	site_id     INTEGER,
	event_type  TEXT,
	hours_saved REAL,
	gbp_saved   REAL,
	notes       TEXT
);

CREATE TABLE IF NOT EXISTS kpi_definitions (
	kpi_name               TEXT PRIMARY KEY,
	description            TEXT,
	formula_text           TEXT,
	grain                  TEXT,
	owner_role             TEXT,
	threshold_good         REAL,
	threshold_bad          REAL,
	refresh_cadence        TEXT,
	business_value         TEXT,
	leading_indicator_bool INTEGER
);

CREATE TABLE IF NOT EXISTS fact_kpi_daily (
	date        TEXT NOT NULL,
	date_key    INTEGER NOT NULL,
	kpi_name    TEXT NOT NULL,
	value       REAL NOT NULL,
	target_good REAL,
	target_bad  REAL,
	owner_role  TEXT,
	status      TEXT,
	computed_at TEXT
);

CREATE TABLE IF NOT EXISTS anomalies (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kpi_name     TEXT NOT NULL,
	date         TEXT NOT NULL,
	value        REAL NOT NULL,
	baseline     REAL NOT NULL,
	score        REAL NOT NULL,
	status       TEXT NOT NULL DEFAULT 'open',
	scenario_tag TEXT,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scenario_registry (
	scenario_tag              TEXT NOT NULL,
	scenario_date             TEXT NOT NULL,
	description               TEXT,
	kpi_name                  TEXT,
	expected_driver_dimension TEXT,
	expected_driver_value     TEXT
);

CREATE TABLE IF NOT EXISTS explain_audit_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp       TEXT NOT NULL,
	kpi_name        TEXT NOT NULL,
	date            TEXT NOT NULL,
	sql_used        TEXT,
	slices_returned TEXT,
	user_feedback   TEXT,
	request_id      TEXT
);

CREATE TABLE IF NOT EXISTS api_usage_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint     TEXT NOT NULL,
	method       TEXT NOT NULL,
	role         TEXT,
	status_code  INTEGER,
	requested_at TEXT NOT NULL,
	request_id   TEXT
);

CREATE TABLE IF NOT EXISTS feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	audit_id   INTEGER NOT NULL,
	rating     INTEGER NOT NULL,
	notes      TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS automations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	trigger_kpi    TEXT NOT NULL,
	condition_json TEXT NOT NULL,
	webhook_url    TEXT NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS automation_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	automation_id INTEGER NOT NULL,
	name          TEXT NOT NULL,
	kpi_name      TEXT NOT NULL,
	date          TEXT NOT NULL,
	payload_json  TEXT,
	status        TEXT NOT NULL,
	response_code INTEGER,
	response_body TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS data_quality_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_timestamp TEXT NOT NULL,
	check_name    TEXT NOT NULL,
	table_name    TEXT NOT NULL,
	status        TEXT NOT NULL,
	score         REAL NOT NULL,
	details       TEXT
);

CREATE TABLE IF NOT EXISTS contract_validation_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_timestamp TEXT NOT NULL,
	table_name    TEXT NOT NULL,
	status        TEXT NOT NULL,
	details       TEXT
);

CREATE INDEX IF NOT EXISTS idx_fact_kpi_daily_kpi_date ON fact_kpi_daily(kpi_name, date);
CREATE INDEX IF NOT EXISTS idx_anomalies_kpi_date ON anomalies(kpi_name, date);
CREATE INDEX IF NOT EXISTS idx_fact_jobs_date_key ON fact_jobs(date_key);
CREATE INDEX IF NOT EXISTS idx_fact_comms_date_key ON fact_comms(date_key);
CREATE INDEX IF NOT EXISTS idx_fact_incidents_date_key ON fact_incidents(date_key);
CREATE INDEX IF NOT EXISTS idx_fact_comms_job_id ON fact_comms(job_id);
CREATE INDEX IF NOT EXISTS idx_fact_incidents_job_id ON fact_incidents(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) KPISeries(ctx context.Context, kpiNames []string) ([]model.KPIObservation, error) {
	query := `SELECT kpi_name, date, value FROM fact_kpi_daily`
	var args []any
	if len(kpiNames) > 0 {
		query += ` WHERE kpi_name IN (` + strings.TrimRight(strings.Repeat("?,", len(kpiNames)), ",") + `)`
		for _, name := range kpiNames {
			args = append(args, name)
		}
	}
	query += ` ORDER BY kpi_name, date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: kpi series")
	}
	defer rows.Close()

	var out []model.KPIObservation
	for rows.Next() {
		var obs model.KPIObservation
		if err := rows.Scan(&obs.KPIName, &obs.Date, &obs.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kpi observation")
		}
		out = append(out, obs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: kpi series iterate")
}

func (s *SQLiteStore) KPIValue(ctx context.Context, kpiName, date string) (float64, error) {
	var value float64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM fact_kpi_daily WHERE kpi_name = ? AND date = ?`,
		kpiName, date,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, eris.Wrapf(ErrNotFound, "no KPI value for %s on %s", kpiName, date)
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: kpi value")
	}
	return value, nil
}

func (s *SQLiteStore) KPIBaselineStats(ctx context.Context, kpiName, start, end string) (model.BaselineStats, error) {
	var stats model.BaselineStats
	var mean, min, max sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(value), MIN(value), MAX(value), COUNT(*)
		 FROM fact_kpi_daily
		 WHERE kpi_name = ? AND date BETWEEN ? AND ?`,
		kpiName, start, end,
	).Scan(&mean, &min, &max, &stats.Observations)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: kpi baseline stats")
	}
	stats.Mean = mean.Float64
	stats.Min = min.Float64
	stats.Max = max.Float64
	return stats, nil
}

func (s *SQLiteStore) KPISummary(ctx context.Context, start, end string) ([]model.KPISummaryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`WITH scoped AS (
			SELECT * FROM fact_kpi_daily WHERE date BETWEEN ? AND ?
		),
		latest AS (
			SELECT kpi_name, MAX(date) AS max_date FROM scoped GROUP BY kpi_name
		)
		SELECT s.kpi_name,
		       ROUND(AVG(s.value), 4),
		       ROUND(MIN(s.value), 4),
		       ROUND(MAX(s.value), 4),
		       ROUND(lv.value, 4),
		       lv.date,
		       s.target_good,
		       s.target_bad,
		       s.owner_role
		FROM scoped s
		JOIN latest l ON l.kpi_name = s.kpi_name
		JOIN fact_kpi_daily lv ON lv.kpi_name = l.kpi_name AND lv.date = l.max_date
		GROUP BY s.kpi_name, lv.value, lv.date, s.target_good, s.target_bad, s.owner_role
		ORDER BY s.kpi_name`,
		start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: kpi summary")
	}
	defer rows.Close()

	var out []model.KPISummaryRow
	for rows.Next() {
		var r model.KPISummaryRow
		var good, bad sql.NullFloat64
		var owner sql.NullString
		if err := rows.Scan(&r.KPIName, &r.AvgValue, &r.MinValue, &r.MaxValue,
			&r.LatestValue, &r.LatestDate, &good, &bad, &owner); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kpi summary")
		}
		r.TargetGood = nullableFloat(good)
		r.TargetBad = nullableFloat(bad)
		r.OwnerRole = owner.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: kpi summary iterate")
}

func (s *SQLiteStore) KPITimeseries(ctx context.Context, kpiName, start, end string) ([]model.KPIPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value, status, target_good, target_bad
		 FROM fact_kpi_daily
		 WHERE kpi_name = ? AND date BETWEEN ? AND ?
		 ORDER BY date`,
		kpiName, start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: kpi timeseries")
	}
	defer rows.Close()

	var out []model.KPIPoint
	for rows.Next() {
		var p model.KPIPoint
		var status sql.NullString
		var good, bad sql.NullFloat64
		if err := rows.Scan(&p.Date, &p.Value, &status, &good, &bad); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kpi point")
		}
		p.Status = status.String
		p.TargetGood = nullableFloat(good)
		p.TargetBad = nullableFloat(bad)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: kpi timeseries iterate")
}

func (s *SQLiteStore) LatestKPIDate(ctx context.Context, kpiName string) (string, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM fact_kpi_daily WHERE kpi_name = ?`, kpiName,
	).Scan(&date)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: latest kpi date")
	}
	if !date.Valid || date.String == "" {
		return "", eris.Wrapf(ErrNotFound, "no values for KPI %s", kpiName)
	}
	return date.String, nil
}

func (s *SQLiteStore) ReplaceKPIDaily(ctx context.Context, rowsIn []model.KPIDailyRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin kpi replace")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM fact_kpi_daily`); err != nil {
		return eris.Wrap(err, "sqlite: delete fact_kpi_daily")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fact_kpi_daily (date, date_key, kpi_name, value, target_good, target_bad, owner_role, status, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare kpi insert")
	}
	defer stmt.Close()

	for _, r := range rowsIn {
		if _, err := stmt.ExecContext(ctx, r.Date, r.DateKey, r.KPIName, r.Value,
			floatOrNil(r.TargetGood), floatOrNil(r.TargetBad), nilIfEmpty(r.OwnerRole), r.Status, r.ComputedAt); err != nil {
			return eris.Wrapf(err, "sqlite: insert kpi row %s/%s", r.KPIName, r.Date)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit kpi replace")
}

func (s *SQLiteStore) KPIDefinitions(ctx context.Context) ([]model.KPIDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kpi_name, description, formula_text, grain, owner_role, threshold_good,
		        threshold_bad, refresh_cadence, business_value, leading_indicator_bool
		 FROM kpi_definitions
		 ORDER BY kpi_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: kpi definitions")
	}
	defer rows.Close()

	var out []model.KPIDefinition
	for rows.Next() {
		var d model.KPIDefinition
		var desc, formula, grain, owner, cadence, value sql.NullString
		var good, bad sql.NullFloat64
		var leading sql.NullInt64
		if err := rows.Scan(&d.KPIName, &desc, &formula, &grain, &owner, &good, &bad, &cadence, &value, &leading); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan kpi definition")
		}
		d.Description = desc.String
		d.FormulaText = formula.String
		d.Grain = grain.String
		d.OwnerRole = owner.String
		d.ThresholdGood = nullableFloat(good)
		d.ThresholdBad = nullableFloat(bad)
		d.RefreshCadence = cadence.String
		d.BusinessValue = value.String
		d.LeadingIndicator = leading.Int64 == 1
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: kpi definitions iterate")
}

func (s *SQLiteStore) SeedKPIDefinitions(ctx context.Context, defs []model.KPIDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin seed definitions")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, d := range defs {
		leading := 0
		if d.LeadingIndicator {
			leading = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO kpi_definitions
			 (kpi_name, description, formula_text, grain, owner_role, threshold_good, threshold_bad, refresh_cadence, business_value, leading_indicator_bool)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.KPIName, d.Description, d.FormulaText, d.Grain, nilIfEmpty(d.OwnerRole),
			floatOrNil(d.ThresholdGood), floatOrNil(d.ThresholdBad), d.RefreshCadence, d.BusinessValue, leading)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed definition %s", d.KPIName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit seed definitions")
}

func (s *SQLiteStore) ScenarioTags(ctx context.Context) (map[model.ScenarioKey]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scenario_tag, scenario_date, kpi_name FROM scenario_registry`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scenario registry")
	}
	defer rows.Close()

	out := make(map[model.ScenarioKey]string)
	for rows.Next() {
		var tag, date string
		var kpiName sql.NullString
		if err := rows.Scan(&tag, &date, &kpiName); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scenario")
		}
		if kpiName.String != "" {
			out[model.ScenarioKey{KPIName: kpiName.String, Date: date}] = tag
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: scenario registry iterate")
}

func (s *SQLiteStore) Scenarios(ctx context.Context) ([]model.Scenario, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scenario_tag, scenario_date, description, kpi_name, expected_driver_dimension, expected_driver_value
		 FROM scenario_registry
		 ORDER BY scenario_tag`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scenarios")
	}
	defer rows.Close()

	var out []model.Scenario
	for rows.Next() {
		var sc model.Scenario
		var desc, kpi, dim, seg sql.NullString
		if err := rows.Scan(&sc.Tag, &sc.Date, &desc, &kpi, &dim, &seg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scenario row")
		}
		sc.Description = desc.String
		sc.KPIName = kpi.String
		sc.ExpectedDimension = dim.String
		sc.ExpectedSegment = seg.String
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: scenarios iterate")
}

func (s *SQLiteStore) ReplaceAnomalies(ctx context.Context, kpiNames []string, records []model.Anomaly) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin anomaly replace")
	}
	defer tx.Rollback() //nolint:errcheck

	if len(kpiNames) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM anomalies`); err != nil {
			return eris.Wrap(err, "sqlite: delete anomalies")
		}
	} else {
		query := `DELETE FROM anomalies WHERE kpi_name IN (` +
			strings.TrimRight(strings.Repeat("?,", len(kpiNames)), ",") + `)`
		args := make([]any, len(kpiNames))
		for i, name := range kpiNames {
			args[i] = name
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return eris.Wrap(err, "sqlite: delete filtered anomalies")
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO anomalies (kpi_name, date, value, baseline, score, status, scenario_tag, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare anomaly insert")
	}
	defer stmt.Close()

	for _, a := range records {
		if _, err := stmt.ExecContext(ctx, a.KPIName, a.Date, a.Value, a.Baseline, a.Score,
			string(a.Status), nilIfEmpty(a.ScenarioTag), a.CreatedAt); err != nil {
			return eris.Wrapf(err, "sqlite: insert anomaly %s/%s", a.KPIName, a.Date)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit anomaly replace")
}

func (s *SQLiteStore) AnomaliesByStatus(ctx context.Context, status model.AnomalyStatus) ([]model.Anomaly, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kpi_name, date, value, baseline, score, status, scenario_tag, created_at
		 FROM anomalies
		 WHERE status = ?
		 ORDER BY score DESC, date DESC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: anomalies by status")
	}
	defer rows.Close()

	var out []model.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: anomalies iterate")
}

func (s *SQLiteStore) TopAnomaly(ctx context.Context, kpiName, date string) (*model.Anomaly, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kpi_name, date, value, baseline, score, status, scenario_tag, created_at
		 FROM anomalies
		 WHERE kpi_name = ? AND date = ?
		 ORDER BY score DESC
		 LIMIT 1`,
		kpiName, date,
	)
	var a model.Anomaly
	var tag sql.NullString
	var status string
	err := row.Scan(&a.ID, &a.KPIName, &a.Date, &a.Value, &a.Baseline, &a.Score, &status, &tag, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top anomaly")
	}
	a.Status = model.AnomalyStatus(status)
	a.ScenarioTag = tag.String
	return &a, nil
}

func (s *SQLiteStore) SegmentAggregates(ctx context.Context, spec DimensionSpec, window SegmentWindow) ([]SegmentAggregate, model.QueryDescriptor, error) {
	query, params := segmentSQL(spec, window, questionPlaceholders)
	desc := descriptor(query, params)

	rows, err := s.db.QueryContext(ctx, query, toArgs(params)...)
	if err != nil {
		return nil, desc, eris.Wrapf(err, "sqlite: segment aggregates for %s", spec.Dimension)
	}
	defer rows.Close()

	var out []SegmentAggregate
	for rows.Next() {
		var agg SegmentAggregate
		var segment sql.NullString
		var num, den sql.NullFloat64
		if window.Date != "" {
			err = rows.Scan(&segment, &num, &den)
		} else {
			err = rows.Scan(&agg.Date, &segment, &num, &den)
		}
		if err != nil {
			return nil, desc, eris.Wrap(err, "sqlite: scan segment aggregate")
		}
		agg.Segment = segment.String
		agg.Numerator = num.Float64
		agg.Denominator = den.Float64
		out = append(out, agg)
	}
	return out, desc, eris.Wrap(rows.Err(), "sqlite: segment aggregates iterate")
}

func (s *SQLiteStore) QualityAggregates(ctx context.Context, window SegmentWindow) ([]QualityAggregate, model.QueryDescriptor, error) {
	query, params := qualitySQL(window, questionPlaceholders)
	desc := descriptor(query, params)

	rows, err := s.db.QueryContext(ctx, query, toArgs(params)...)
	if err != nil {
		return nil, desc, eris.Wrap(err, "sqlite: quality aggregates")
	}
	defer rows.Close()

	var out []QualityAggregate
	for rows.Next() {
		var agg QualityAggregate
		var segment sql.NullString
		var missing, delivered, dup sql.NullFloat64
		if window.Date != "" {
			err = rows.Scan(&segment, &missing, &delivered, &dup)
		} else {
			err = rows.Scan(&agg.Date, &segment, &missing, &delivered, &dup)
		}
		if err != nil {
			return nil, desc, eris.Wrap(err, "sqlite: scan quality aggregate")
		}
		agg.Segment = segment.String
		agg.MissingDelivered = missing.Float64
		agg.DeliveredJobs = delivered.Float64
		agg.DuplicateRate = dup.Float64
		out = append(out, agg)
	}
	return out, desc, eris.Wrap(rows.Err(), "sqlite: quality aggregates iterate")
}

func (s *SQLiteStore) WorstBreachSegments(ctx context.Context, date string) ([]BreachSegmentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dd.date, ds.site_name, dc.tier,
		        100.0 * SUM(CASE WHEN fc.sla_sensitive_bool = 1 AND fc.breached_bool = 1 THEN 1 ELSE 0 END)
		            / NULLIF(SUM(CASE WHEN fc.sla_sensitive_bool = 1 THEN 1 ELSE 0 END), 0) AS breach_rate_pct,
		        COUNT(*) AS comm_count
		 FROM fact_comms fc
		 JOIN dim_date dd ON dd.date_key = fc.date_key
		 JOIN dim_site ds ON ds.site_id = fc.site_id
		 JOIN dim_customer dc ON dc.customer_id = fc.customer_id
		 WHERE dd.date = ?
		 GROUP BY dd.date, ds.site_name, dc.tier
		 HAVING comm_count > 5
		 ORDER BY breach_rate_pct DESC
		 LIMIT 10`,
		date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: worst breach segments")
	}
	defer rows.Close()

	var out []BreachSegmentRow
	for rows.Next() {
		var r BreachSegmentRow
		var rate sql.NullFloat64
		if err := rows.Scan(&r.Date, &r.SiteName, &r.CustomerTier, &rate, &r.CommCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan breach segment")
		}
		r.BreachRatePct = rate.Float64
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: worst breach segments iterate")
}

func (s *SQLiteStore) WorstExceptionSegments(ctx context.Context, date string) ([]ExceptionSegmentRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dd.date, ds.site_name, dp.product_family,
		        100.0 * COUNT(DISTINCT fi.incident_id) / NULLIF(COUNT(DISTINCT fj.job_id), 0) AS exception_rate_pct,
		        COUNT(DISTINCT fj.job_id) AS jobs
		 FROM fact_jobs fj
		 JOIN dim_date dd ON dd.date_key = fj.date_key
		 JOIN dim_site ds ON ds.site_id = fj.site_id
		 JOIN dim_product dp ON dp.product_id = fj.product_id
		 LEFT JOIN fact_incidents fi ON fi.job_id = fj.job_id
		 WHERE dd.date = ?
		 GROUP BY dd.date, ds.site_name, dp.product_family
		 ORDER BY exception_rate_pct DESC
		 LIMIT 10`,
		date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: worst exception segments")
	}
	defer rows.Close()

	var out []ExceptionSegmentRow
	for rows.Next() {
		var r ExceptionSegmentRow
		var rate sql.NullFloat64
		if err := rows.Scan(&r.Date, &r.SiteName, &r.ProductFamily, &rate, &r.Jobs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exception segment")
		}
		r.ExceptionRatePct = rate.Float64
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: worst exception segments iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec model.AuditRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO explain_audit_log (timestamp, kpi_name, date, sql_used, slices_returned, user_feedback, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.KPIName, rec.Date, rec.SQLUsed, rec.Slices, nilIfEmpty(rec.UserFeedback), rec.RequestID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append audit")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: audit id")
	}
	return id, nil
}

func (s *SQLiteStore) AttachFeedback(ctx context.Context, auditID int64, rating int, notes string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin feedback")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE explain_audit_log SET user_feedback = ? WHERE id = ?`,
		fmt.Sprintf("rating=%d; %s", rating, notes), auditID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update audit feedback")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: feedback rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "audit record %d", auditID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feedback (audit_id, rating, notes, created_at) VALUES (?, ?, ?, datetime('now'))`,
		auditID, rating, nilIfEmpty(notes),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert feedback")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit feedback")
}

func (s *SQLiteStore) RecordAPIUsage(ctx context.Context, usage model.APIUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage_log (endpoint, method, role, status_code, requested_at, request_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		usage.Endpoint, usage.Method, usage.Role, usage.StatusCode, usage.RequestedAt, usage.RequestID,
	)
	return eris.Wrap(err, "sqlite: record api usage")
}

func (s *SQLiteStore) Automations(ctx context.Context, enabledOnly bool) ([]model.Automation, error) {
	query := `SELECT id, name, trigger_kpi, condition_json, webhook_url, enabled, created_at FROM automations`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: automations")
	}
	defer rows.Close()

	var out []model.Automation
	for rows.Next() {
		var a model.Automation
		var enabled int
		if err := rows.Scan(&a.ID, &a.Name, &a.TriggerKPI, &a.Condition, &a.WebhookURL, &enabled, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan automation")
		}
		a.Enabled = enabled == 1
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: automations iterate")
}

func (s *SQLiteStore) RegisterAutomation(ctx context.Context, a model.Automation) (int64, error) {
	enabled := 0
	if a.Enabled {
		enabled = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO automations (name, trigger_kpi, condition_json, webhook_url, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Name, a.TriggerKPI, a.Condition, a.WebhookURL, enabled, a.CreatedAt,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: register automation %s", a.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: automation id")
	}
	return id, nil
}

func (s *SQLiteStore) SetAutomationEnabled(ctx context.Context, id int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE automations SET enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: toggle automation %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: toggle rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "automation %d", id)
	}
	return nil
}

func (s *SQLiteStore) AppendAutomationRun(ctx context.Context, run model.AutomationRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_runs (automation_id, name, kpi_name, date, payload_json, status, response_code, response_body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.AutomationID, run.Name, run.KPIName, run.Date, run.Payload, run.Status,
		intOrNil(run.ResponseCode), nilIfEmpty(run.ResponseBody), run.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append automation run")
}

func (s *SQLiteStore) AutomationRuns(ctx context.Context, limit int) ([]model.AutomationRun, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, automation_id, name, kpi_name, date, payload_json, status, response_code, response_body, created_at
		 FROM automation_runs
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: automation runs")
	}
	defer rows.Close()

	var out []model.AutomationRun
	for rows.Next() {
		var r model.AutomationRun
		var payload, body sql.NullString
		var code sql.NullInt64
		if err := rows.Scan(&r.ID, &r.AutomationID, &r.Name, &r.KPIName, &r.Date,
			&payload, &r.Status, &code, &body, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan automation run")
		}
		r.Payload = payload.String
		r.ResponseBody = body.String
		if code.Valid {
			c := int(code.Int64)
			r.ResponseCode = &c
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: automation runs iterate")
}

func (s *SQLiteStore) BulkInsert(ctx context.Context, table string, columns []string, rowsIn [][]any) error {
	if len(rowsIn) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin bulk insert %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimRight(strings.Repeat("?,", len(columns)), ",")
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(columns, ", "), placeholders)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare bulk insert %s", table)
	}
	defer stmt.Close()

	for i, row := range rowsIn {
		if len(row) != len(columns) {
			return eris.Errorf("sqlite: bulk insert %s row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: bulk insert %s row %d", table, i)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit bulk insert")
}

func (s *SQLiteStore) LogContractResults(ctx context.Context, runTS string, results []ContractResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin contract log")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contract_validation_log (run_timestamp, table_name, status, details) VALUES (?, ?, ?, ?)`,
			runTS, r.TableName, r.Status, r.Details,
		); err != nil {
			return eris.Wrapf(err, "sqlite: log contract result %s", r.TableName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit contract log")
}

func (s *SQLiteStore) OperationalDaily(ctx context.Context) ([]OperationalDay, error) {
	byDate := make(map[string]*OperationalDay)
	var order []string

	get := func(date string, key int) *OperationalDay {
		if d, ok := byDate[date]; ok {
			return d
		}
		d := &OperationalDay{Date: date, DateKey: key}
		byDate[date] = d
		order = append(order, date)
		return d
	}

	jobsRows, err := s.db.QueryContext(ctx,
		`SELECT dd.date, dd.date_key,
		        COUNT(*),
		        SUM(CASE WHEN fj.delivered_date_key IS NOT NULL THEN 1 ELSE 0 END),
		        SUM(CASE WHEN fj.delivered_date_key IS NOT NULL AND fj.delivered_date_key <= fj.promised_date_key THEN 1 ELSE 0 END)
		 FROM fact_jobs fj
		 JOIN dim_date dd ON dd.date_key = fj.date_key
		 GROUP BY dd.date, dd.date_key
		 ORDER BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: operational jobs")
	}
	defer jobsRows.Close()
	for jobsRows.Next() {
		var date string
		var key, jobs, delivered, onTime int
		if err := jobsRows.Scan(&date, &key, &jobs, &delivered, &onTime); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan operational jobs")
		}
		d := get(date, key)
		d.Jobs = jobs
		d.Delivered = delivered
		d.OnTime = onTime
	}
	if err := jobsRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: operational jobs iterate")
	}

	commRows, err := s.db.QueryContext(ctx,
		`SELECT dd.date, dd.date_key,
		        SUM(CASE WHEN fc.sla_sensitive_bool = 1 THEN 1 ELSE 0 END),
		        SUM(CASE WHEN fc.sla_sensitive_bool = 1 AND fc.breached_bool = 1 THEN 1 ELSE 0 END),
		        COALESCE(SUM(fc.minutes_spent), 0)
		 FROM fact_comms fc
		 JOIN dim_date dd ON dd.date_key = fc.date_key
		 GROUP BY dd.date, dd.date_key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: operational comms")
	}
	defer commRows.Close()
	for commRows.Next() {
		var date string
		var key, sensitive, breached int
		var minutes float64
		if err := commRows.Scan(&date, &key, &sensitive, &breached, &minutes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan operational comms")
		}
		d := get(date, key)
		d.SLASensitive = sensitive
		d.SLABreached = breached
		d.CommMinutes = minutes
	}
	if err := commRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: operational comms iterate")
	}

	incidentRows, err := s.db.QueryContext(ctx,
		`SELECT dd.date, dd.date_key, COUNT(*), COALESCE(SUM(fi.minutes_lost), 0)
		 FROM fact_incidents fi
		 JOIN dim_date dd ON dd.date_key = fi.date_key
		 GROUP BY dd.date, dd.date_key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: operational incidents")
	}
	defer incidentRows.Close()
	for incidentRows.Next() {
		var date string
		var key, incidents int
		var lost float64
		if err := incidentRows.Scan(&date, &key, &incidents, &lost); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan operational incidents")
		}
		d := get(date, key)
		d.Incidents = incidents
		d.IncidentMinutesLost = lost
	}
	if err := incidentRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: operational incidents iterate")
	}

	autoRows, err := s.db.QueryContext(ctx,
		`SELECT dd.date, dd.date_key, COALESCE(SUM(fa.hours_saved), 0), COALESCE(SUM(fa.gbp_saved), 0)
		 FROM fact_automation_events fa
		 JOIN dim_date dd ON dd.date_key = fa.date_key
		 GROUP BY dd.date, dd.date_key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: operational automation")
	}
	defer autoRows.Close()
	for autoRows.Next() {
		var date string
		var key int
		var hours, gbp float64
		if err := autoRows.Scan(&date, &key, &hours, &gbp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan operational automation")
		}
		d := get(date, key)
		d.AutomationHours = hours
		d.AutomationGBP = gbp
	}
	if err := autoRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: operational automation iterate")
	}

	// Only days with job activity define the KPI calendar, matching the
	// dim_date/fact_jobs join used to build the mart.
	var out []OperationalDay
	for _, date := range order {
		if byDate[date].Jobs > 0 {
			out = append(out, *byDate[date])
		}
	}
	return out, nil
}

func (s *SQLiteStore) APIUsageCounts(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DATE(requested_at), COUNT(*) FROM api_usage_log GROUP BY DATE(requested_at)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: api usage counts")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var count float64
		if err := rows.Scan(&date, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan api usage")
		}
		out[date] = count
	}
	return out, eris.Wrap(rows.Err(), "sqlite: api usage iterate")
}

func (s *SQLiteStore) FeedbackDailyRating(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DATE(created_at), AVG(rating) FROM feedback GROUP BY DATE(created_at)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: feedback ratings")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var rating float64
		if err := rows.Scan(&date, &rating); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback rating")
		}
		out[date] = rating
	}
	return out, eris.Wrap(rows.Err(), "sqlite: feedback ratings iterate")
}

func (s *SQLiteStore) AutomationGBPByDate(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dd.date, COALESCE(SUM(fa.gbp_saved), 0)
		 FROM fact_automation_events fa
		 JOIN dim_date dd ON dd.date_key = fa.date_key
		 GROUP BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: automation gbp by date")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var gbp float64
		if err := rows.Scan(&date, &gbp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan automation gbp")
		}
		out[date] = gbp
	}
	return out, eris.Wrap(rows.Err(), "sqlite: automation gbp iterate")
}

func (s *SQLiteStore) QualityDailyStats(ctx context.Context) ([]QualityDayStat, error) {
	byDate := make(map[string]*QualityDayStat)
	var order []string

	get := func(date string) *QualityDayStat {
		if d, ok := byDate[date]; ok {
			return d
		}
		d := &QualityDayStat{Date: date}
		byDate[date] = d
		order = append(order, date)
		return d
	}

	jobRows, err := s.db.QueryContext(ctx,
		`SELECT dd.date,
		        COUNT(*),
		        SUM(CASE WHEN fj.status = 'Delivered' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN fj.status = 'Delivered' AND fj.delivered_date_key IS NULL THEN 1 ELSE 0 END),
		        AVG(COALESCE(fj.duplicate_flag, 0)),
		        SUM((CASE WHEN fj.job_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fj.date_key IS NULL THEN 1 ELSE 0 END) +
		            (CASE WHEN fj.site_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fj.customer_id IS NULL THEN 1 ELSE 0 END) +
		            (CASE WHEN fj.team_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fj.carrier_id IS NULL THEN 1 ELSE 0 END) +
		            (CASE WHEN fj.product_id IS NULL THEN 1 ELSE 0 END)),
		        SUM(CASE WHEN fj.value_gbp <= 0 THEN 1 ELSE 0 END)
		 FROM fact_jobs fj
		 JOIN dim_date dd ON dd.date_key = fj.date_key
		 GROUP BY dd.date
		 ORDER BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: quality jobs stats")
	}
	defer jobRows.Close()
	for jobRows.Next() {
		var date string
		var jobs, delivered, missing, nulls, invalid int
		var dup float64
		if err := jobRows.Scan(&date, &jobs, &delivered, &missing, &dup, &nulls, &invalid); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quality jobs")
		}
		d := get(date)
		d.Jobs = jobs
		d.Delivered = delivered
		d.MissingDelivered = missing
		d.DuplicateRate = dup
		d.KeyNulls += nulls
		d.KeyTotal += jobs * 7
		d.InvalidCount += invalid
		d.RowCount += jobs
	}
	if err := jobRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: quality jobs iterate")
	}

	commRows, err := s.db.QueryContext(ctx,
		`SELECT dd.date,
		        COUNT(*),
		        SUM((CASE WHEN fc.comm_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fc.date_key IS NULL THEN 1 ELSE 0 END) +
		            (CASE WHEN fc.site_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fc.customer_id IS NULL THEN 1 ELSE 0 END) +
		            (CASE WHEN fc.category_id IS NULL THEN 1 ELSE 0 END)),
		        SUM((CASE WHEN fc.response_minutes < 0 THEN 1 ELSE 0 END) + (CASE WHEN fc.response_minutes > 720 THEN 1 ELSE 0 END) +
		            (CASE WHEN fc.minutes_spent < 0 THEN 1 ELSE 0 END) + (CASE WHEN fc.breached_bool > 1 THEN 1 ELSE 0 END))
		 FROM fact_comms fc
		 JOIN dim_date dd ON dd.date_key = fc.date_key
		 GROUP BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: quality comms stats")
	}
	defer commRows.Close()
	for commRows.Next() {
		var date string
		var comms, nulls, invalid int
		if err := commRows.Scan(&date, &comms, &nulls, &invalid); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quality comms")
		}
		d := get(date)
		d.KeyNulls += nulls
		d.KeyTotal += comms * 5
		d.InvalidCount += invalid
		d.RowCount += comms
	}
	if err := commRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: quality comms iterate")
	}

	incidentRows, err := s.db.QueryContext(ctx,
		`SELECT dd.date,
		        COUNT(*),
		        SUM((CASE WHEN fi.incident_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fi.date_key IS NULL THEN 1 ELSE 0 END) +
		            (CASE WHEN fi.site_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fi.incident_type IS NULL THEN 1 ELSE 0 END)),
		        SUM((CASE WHEN fi.minutes_lost < 0 THEN 1 ELSE 0 END) + (CASE WHEN fi.minutes_lost > 720 THEN 1 ELSE 0 END))
		 FROM fact_incidents fi
		 JOIN dim_date dd ON dd.date_key = fi.date_key
		 GROUP BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: quality incidents stats")
	}
	defer incidentRows.Close()
	for incidentRows.Next() {
		var date string
		var incidents, nulls, invalid int
		if err := incidentRows.Scan(&date, &incidents, &nulls, &invalid); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quality incidents")
		}
		d := get(date)
		d.KeyNulls += nulls
		d.KeyTotal += incidents * 4
		d.InvalidCount += invalid
		d.RowCount += incidents
	}
	if err := incidentRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: quality incidents iterate")
	}

	var out []QualityDayStat
	for _, date := range order {
		if byDate[date].Jobs > 0 {
			out = append(out, *byDate[date])
		}
	}
	return out, nil
}

func (s *SQLiteStore) ReplaceQualityResults(ctx context.Context, runTS string, checks []model.QualityCheck) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin quality results")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM data_quality_results`); err != nil {
		return eris.Wrap(err, "sqlite: delete quality results")
	}
	for _, c := range checks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_quality_results (run_timestamp, check_name, table_name, status, score, details)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runTS, c.CheckName, c.TableName, c.Status, c.Score, c.Details,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert quality result %s", c.CheckName)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit quality results")
}

func (s *SQLiteStore) QualityChecks(ctx context.Context) ([]model.QualityCheck, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT check_name, table_name, status, score, details FROM data_quality_results ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: quality checks")
	}
	defer rows.Close()

	var checks []model.QualityCheck
	for rows.Next() {
		var c model.QualityCheck
		if err := rows.Scan(&c.CheckName, &c.TableName, &c.Status, &c.Score, &c.Details); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quality check")
		}
		checks = append(checks, c)
	}
	return checks, eris.Wrap(rows.Err(), "sqlite: quality checks iterate")
}

func (s *SQLiteStore) ContractLog(ctx context.Context, limit int) ([]ContractLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_timestamp, table_name, status, details
		 FROM contract_validation_log
		 ORDER BY id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: contract log")
	}
	defer rows.Close()

	var entries []ContractLogEntry
	for rows.Next() {
		var e ContractLogEntry
		if err := rows.Scan(&e.RunTimestamp, &e.TableName, &e.Status, &e.Details); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contract log")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: contract log iterate")
}

func (s *SQLiteStore) APIUsageByEndpoint(ctx context.Context) ([]EndpointUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, COUNT(*) AS request_count
		 FROM api_usage_log
		 GROUP BY endpoint
		 ORDER BY request_count DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: api usage by endpoint")
	}
	defer rows.Close()

	var usage []EndpointUsage
	for rows.Next() {
		var u EndpointUsage
		if err := rows.Scan(&u.Endpoint, &u.RequestCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan api usage")
		}
		usage = append(usage, u)
	}
	return usage, eris.Wrap(rows.Err(), "sqlite: api usage iterate")
}

func (s *SQLiteStore) FeedbackSummary(ctx context.Context) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(rating), COUNT(*) FROM feedback`).Scan(&avg, &count)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: feedback summary")
	}
	return avg.Float64, count, nil
}

func (s *SQLiteStore) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: table info %s", table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table info")
		}
		cols = append(cols, name)
	}
	return cols, eris.Wrap(rows.Err(), "sqlite: table info iterate")
}

func (s *SQLiteStore) LatestFactDate(ctx context.Context) (string, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM dim_date`).Scan(&date)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: latest fact date")
	}
	if !date.Valid {
		return "", eris.Wrap(ErrNotFound, "dim_date empty")
	}
	return date.String, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*model.Anomaly, error) {
	var a model.Anomaly
	var tag sql.NullString
	var status string
	if err := row.Scan(&a.ID, &a.KPIName, &a.Date, &a.Value, &a.Baseline, &a.Score, &status, &tag, &a.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "scan anomaly")
	}
	a.Status = model.AnomalyStatus(status)
	a.ScenarioTag = tag.String
	return &a, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
