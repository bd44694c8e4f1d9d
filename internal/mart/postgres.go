package mart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ops-copilot/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
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
	value_gbp          DOUBLE PRECISION,
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
	amount_gbp DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS fact_automation_events (
	event_id    TEXT NOT NULL,
	date_key    INTEGER NOT NULL,
	site_id     INTEGER,
	event_type  TEXT,
	hours_saved DOUBLE PRECISION,
	gbp_saved   DOUBLE PRECISION,
	notes       TEXT
);

CREATE TABLE IF NOT EXISTS kpi_definitions (
	kpi_name               TEXT PRIMARY KEY,
	description            TEXT,
	formula_text           TEXT,
	grain                  TEXT,
	owner_role             TEXT,
	threshold_good         DOUBLE PRECISION,
	threshold_bad          DOUBLE PRECISION,
	refresh_cadence        TEXT,
	business_value         TEXT,
	leading_indicator_bool INTEGER
);

CREATE TABLE IF NOT EXISTS fact_kpi_daily (
	date        TEXT NOT NULL,
	date_key    INTEGER NOT NULL,
	kpi_name    TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	target_good DOUBLE PRECISION,
	target_bad  DOUBLE PRECISION,
	owner_role  TEXT,
	status      TEXT,
	computed_at TEXT
);

CREATE TABLE IF NOT EXISTS anomalies (
	id           BIGSERIAL PRIMARY KEY,
	kpi_name     TEXT NOT NULL,
	date         TEXT NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	baseline     DOUBLE PRECISION NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
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
	id              BIGSERIAL PRIMARY KEY,
	timestamp       TEXT NOT NULL,
	kpi_name        TEXT NOT NULL,
	date            TEXT NOT NULL,
	sql_used        TEXT,
	slices_returned TEXT,
	user_feedback   TEXT,
	request_id      TEXT
);

CREATE TABLE IF NOT EXISTS api_usage_log (
	id           BIGSERIAL PRIMARY KEY,
	endpoint     TEXT NOT NULL,
	method       TEXT NOT NULL,
	role         TEXT,
	status_code  INTEGER,
	requested_at TEXT NOT NULL,
	request_id   TEXT
);

CREATE TABLE IF NOT EXISTS feedback (
	id         BIGSERIAL PRIMARY KEY,
	audit_id   BIGINT NOT NULL,
	rating     INTEGER NOT NULL,
	notes      TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS automations (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL UNIQUE,
	trigger_kpi    TEXT NOT NULL,
	condition_json TEXT NOT NULL,
	webhook_url    TEXT NOT NULL,
	enabled        INTEGER NOT NULL DEFAULT 1,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS automation_runs (
	id            BIGSERIAL PRIMARY KEY,
	automation_id BIGINT NOT NULL,
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
	id            BIGSERIAL PRIMARY KEY,
	run_timestamp TEXT NOT NULL,
	check_name    TEXT NOT NULL,
	table_name    TEXT NOT NULL,
	status        TEXT NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	details       TEXT
);

CREATE TABLE IF NOT EXISTS contract_validation_log (
	id            BIGSERIAL PRIMARY KEY,
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) KPISeries(ctx context.Context, kpiNames []string) ([]model.KPIObservation, error) {
	query := `SELECT kpi_name, date, value FROM fact_kpi_daily`
	var args []any
	if len(kpiNames) > 0 {
		ph := make([]string, len(kpiNames))
		for i, name := range kpiNames {
			ph[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, name)
		}
		query += ` WHERE kpi_name IN (` + strings.Join(ph, ", ") + `)`
	}
	query += ` ORDER BY kpi_name, date`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: kpi series")
	}
	defer rows.Close()

	var out []model.KPIObservation
	for rows.Next() {
		var obs model.KPIObservation
		if err := rows.Scan(&obs.KPIName, &obs.Date, &obs.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kpi observation")
		}
		out = append(out, obs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: kpi series iterate")
}

func (s *PostgresStore) KPIValue(ctx context.Context, kpiName, date string) (float64, error) {
	var value float64
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM fact_kpi_daily WHERE kpi_name = $1 AND date = $2`,
		kpiName, date,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "no KPI value for %s on %s", kpiName, date)
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: kpi value")
	}
	return value, nil
}

func (s *PostgresStore) KPIBaselineStats(ctx context.Context, kpiName, start, end string) (model.BaselineStats, error) {
	var stats model.BaselineStats
	var mean, min, max *float64
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(value), MIN(value), MAX(value), COUNT(*)
		 FROM fact_kpi_daily
		 WHERE kpi_name = $1 AND date BETWEEN $2 AND $3`,
		kpiName, start, end,
	).Scan(&mean, &min, &max, &stats.Observations)
	if err != nil {
		return stats, eris.Wrap(err, "postgres: kpi baseline stats")
	}
	stats.Mean = deref(mean)
	stats.Min = deref(min)
	stats.Max = deref(max)
	return stats, nil
}

func (s *PostgresStore) KPISummary(ctx context.Context, start, end string) ([]model.KPISummaryRow, error) {
	rows, err := s.pool.Query(ctx,
		`WITH scoped AS (
			SELECT * FROM fact_kpi_daily WHERE date BETWEEN $1 AND $2
		),
		latest AS (
			SELECT kpi_name, MAX(date) AS max_date FROM scoped GROUP BY kpi_name
		)
		SELECT s.kpi_name,
		       ROUND(AVG(s.value)::numeric, 4)::double precision,
		       ROUND(MIN(s.value)::numeric, 4)::double precision,
		       ROUND(MAX(s.value)::numeric, 4)::double precision,
		       ROUND(lv.value::numeric, 4)::double precision,
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
		return nil, eris.Wrap(err, "postgres: kpi summary")
	}
	defer rows.Close()

	var out []model.KPISummaryRow
	for rows.Next() {
		var r model.KPISummaryRow
		var owner *string
		if err := rows.Scan(&r.KPIName, &r.AvgValue, &r.MinValue, &r.MaxValue,
			&r.LatestValue, &r.LatestDate, &r.TargetGood, &r.TargetBad, &owner); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kpi summary")
		}
		if owner != nil {
			r.OwnerRole = *owner
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: kpi summary iterate")
}

func (s *PostgresStore) KPITimeseries(ctx context.Context, kpiName, start, end string) ([]model.KPIPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date, value, status, target_good, target_bad
		 FROM fact_kpi_daily
		 WHERE kpi_name = $1 AND date BETWEEN $2 AND $3
		 ORDER BY date`,
		kpiName, start, end,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: kpi timeseries")
	}
	defer rows.Close()

	var out []model.KPIPoint
	for rows.Next() {
		var p model.KPIPoint
		var status *string
		if err := rows.Scan(&p.Date, &p.Value, &status, &p.TargetGood, &p.TargetBad); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kpi point")
		}
		if status != nil {
			p.Status = *status
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: kpi timeseries iterate")
}

func (s *PostgresStore) LatestKPIDate(ctx context.Context, kpiName string) (string, error) {
	var date *string
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(date) FROM fact_kpi_daily WHERE kpi_name = $1`, kpiName,
	).Scan(&date)
	if err != nil {
		return "", eris.Wrap(err, "postgres: latest kpi date")
	}
	if date == nil || *date == "" {
		return "", eris.Wrapf(ErrNotFound, "no values for KPI %s", kpiName)
	}
	return *date, nil
}

func (s *PostgresStore) ReplaceKPIDaily(ctx context.Context, rowsIn []model.KPIDailyRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin kpi replace")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM fact_kpi_daily`); err != nil {
		return eris.Wrap(err, "postgres: delete fact_kpi_daily")
	}
	for _, r := range rowsIn {
		if _, err := tx.Exec(ctx,
			`INSERT INTO fact_kpi_daily (date, date_key, kpi_name, value, target_good, target_bad, owner_role, status, computed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.Date, r.DateKey, r.KPIName, r.Value, r.TargetGood, r.TargetBad,
			nilIfEmpty(r.OwnerRole), r.Status, r.ComputedAt); err != nil {
			return eris.Wrapf(err, "postgres: insert kpi row %s/%s", r.KPIName, r.Date)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit kpi replace")
}

func (s *PostgresStore) KPIDefinitions(ctx context.Context) ([]model.KPIDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kpi_name, description, formula_text, grain, owner_role, threshold_good,
		        threshold_bad, refresh_cadence, business_value, leading_indicator_bool
		 FROM kpi_definitions
		 ORDER BY kpi_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: kpi definitions")
	}
	defer rows.Close()

	var out []model.KPIDefinition
	for rows.Next() {
		var d model.KPIDefinition
		var desc, formula, grain, owner, cadence, value *string
		var leading *int
		if err := rows.Scan(&d.KPIName, &desc, &formula, &grain, &owner,
			&d.ThresholdGood, &d.ThresholdBad, &cadence, &value, &leading); err != nil {
			return nil, eris.Wrap(err, "postgres: scan kpi definition")
		}
		d.Description = derefStr(desc)
		d.FormulaText = derefStr(formula)
		d.Grain = derefStr(grain)
		d.OwnerRole = derefStr(owner)
		d.RefreshCadence = derefStr(cadence)
		d.BusinessValue = derefStr(value)
		d.LeadingIndicator = leading != nil && *leading == 1
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: kpi definitions iterate")
}

func (s *PostgresStore) SeedKPIDefinitions(ctx context.Context, defs []model.KPIDefinition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin seed definitions")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, d := range defs {
		leading := 0
		if d.LeadingIndicator {
			leading = 1
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO kpi_definitions
			 (kpi_name, description, formula_text, grain, owner_role, threshold_good, threshold_bad, refresh_cadence, business_value, leading_indicator_bool)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (kpi_name) DO UPDATE SET
			   description = EXCLUDED.description,
			   formula_text = EXCLUDED.formula_text,
			   grain = EXCLUDED.grain,
			   owner_role = EXCLUDED.owner_role,
			   threshold_good = EXCLUDED.threshold_good,
			   threshold_bad = EXCLUDED.threshold_bad,
			   refresh_cadence = EXCLUDED.refresh_cadence,
			   business_value = EXCLUDED.business_value,
			   leading_indicator_bool = EXCLUDED.leading_indicator_bool`,
			d.KPIName, d.Description, d.FormulaText, d.Grain, nilIfEmpty(d.OwnerRole),
			d.ThresholdGood, d.ThresholdBad, d.RefreshCadence, d.BusinessValue, leading)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed definition %s", d.KPIName)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit seed definitions")
}

func (s *PostgresStore) ScenarioTags(ctx context.Context) (map[model.ScenarioKey]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scenario_tag, scenario_date, kpi_name FROM scenario_registry`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scenario registry")
	}
	defer rows.Close()

	out := make(map[model.ScenarioKey]string)
	for rows.Next() {
		var tag, date string
		var kpiName *string
		if err := rows.Scan(&tag, &date, &kpiName); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scenario")
		}
		if kpiName != nil && *kpiName != "" {
			out[model.ScenarioKey{KPIName: *kpiName, Date: date}] = tag
		}
	}
	return out, eris.Wrap(rows.Err(), "postgres: scenario registry iterate")
}

func (s *PostgresStore) Scenarios(ctx context.Context) ([]model.Scenario, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scenario_tag, scenario_date, description, kpi_name, expected_driver_dimension, expected_driver_value
		 FROM scenario_registry
		 ORDER BY scenario_tag`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scenarios")
	}
	defer rows.Close()

	var out []model.Scenario
	for rows.Next() {
		var sc model.Scenario
		var desc, kpi, dim, seg *string
		if err := rows.Scan(&sc.Tag, &sc.Date, &desc, &kpi, &dim, &seg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scenario row")
		}
		sc.Description = derefStr(desc)
		sc.KPIName = derefStr(kpi)
		sc.ExpectedDimension = derefStr(dim)
		sc.ExpectedSegment = derefStr(seg)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: scenarios iterate")
}

func (s *PostgresStore) ReplaceAnomalies(ctx context.Context, kpiNames []string, records []model.Anomaly) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin anomaly replace")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if len(kpiNames) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM anomalies`); err != nil {
			return eris.Wrap(err, "postgres: delete anomalies")
		}
	} else {
		if _, err := tx.Exec(ctx, `DELETE FROM anomalies WHERE kpi_name = ANY($1)`, kpiNames); err != nil {
			return eris.Wrap(err, "postgres: delete filtered anomalies")
		}
	}

	for _, a := range records {
		if _, err := tx.Exec(ctx,
			`INSERT INTO anomalies (kpi_name, date, value, baseline, score, status, scenario_tag, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.KPIName, a.Date, a.Value, a.Baseline, a.Score,
			string(a.Status), nilIfEmpty(a.ScenarioTag), a.CreatedAt); err != nil {
			return eris.Wrapf(err, "postgres: insert anomaly %s/%s", a.KPIName, a.Date)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit anomaly replace")
}

func (s *PostgresStore) AnomaliesByStatus(ctx context.Context, status model.AnomalyStatus) ([]model.Anomaly, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kpi_name, date, value, baseline, score, status, scenario_tag, created_at
		 FROM anomalies
		 WHERE status = $1
		 ORDER BY score DESC, date DESC`,
		string(status),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: anomalies by status")
	}
	defer rows.Close()

	var out []model.Anomaly
	for rows.Next() {
		a, err := scanPGAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: anomalies iterate")
}

func (s *PostgresStore) TopAnomaly(ctx context.Context, kpiName, date string) (*model.Anomaly, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kpi_name, date, value, baseline, score, status, scenario_tag, created_at
		 FROM anomalies
		 WHERE kpi_name = $1 AND date = $2
		 ORDER BY score DESC
		 LIMIT 1`,
		kpiName, date,
	)
	a, err := scanPGAnomaly(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) SegmentAggregates(ctx context.Context, spec DimensionSpec, window SegmentWindow) ([]SegmentAggregate, model.QueryDescriptor, error) {
	query, params := segmentSQL(spec, window, dollarPlaceholders)
	desc := descriptor(query, params)

	rows, err := s.pool.Query(ctx, query, toArgs(params)...)
	if err != nil {
		return nil, desc, eris.Wrapf(err, "postgres: segment aggregates for %s", spec.Dimension)
	}
	defer rows.Close()

	var out []SegmentAggregate
	for rows.Next() {
		var agg SegmentAggregate
		var segment *string
		var num, den *float64
		if window.Date != "" {
			err = rows.Scan(&segment, &num, &den)
		} else {
			err = rows.Scan(&agg.Date, &segment, &num, &den)
		}
		if err != nil {
			return nil, desc, eris.Wrap(err, "postgres: scan segment aggregate")
		}
		agg.Segment = derefStr(segment)
		agg.Numerator = deref(num)
		agg.Denominator = deref(den)
		out = append(out, agg)
	}
	return out, desc, eris.Wrap(rows.Err(), "postgres: segment aggregates iterate")
}

func (s *PostgresStore) QualityAggregates(ctx context.Context, window SegmentWindow) ([]QualityAggregate, model.QueryDescriptor, error) {
	query, params := qualitySQL(window, dollarPlaceholders)
	desc := descriptor(query, params)

	rows, err := s.pool.Query(ctx, query, toArgs(params)...)
	if err != nil {
		return nil, desc, eris.Wrap(err, "postgres: quality aggregates")
	}
	defer rows.Close()

	var out []QualityAggregate
	for rows.Next() {
		var agg QualityAggregate
		var segment *string
		var missing, delivered, dup *float64
		if window.Date != "" {
			err = rows.Scan(&segment, &missing, &delivered, &dup)
		} else {
			err = rows.Scan(&agg.Date, &segment, &missing, &delivered, &dup)
		}
		if err != nil {
			return nil, desc, eris.Wrap(err, "postgres: scan quality aggregate")
		}
		agg.Segment = derefStr(segment)
		agg.MissingDelivered = deref(missing)
		agg.DeliveredJobs = deref(delivered)
		agg.DuplicateRate = deref(dup)
		out = append(out, agg)
	}
	return out, desc, eris.Wrap(rows.Err(), "postgres: quality aggregates iterate")
}

func (s *PostgresStore) WorstBreachSegments(ctx context.Context, date string) ([]BreachSegmentRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dd.date, ds.site_name, dc.tier,
		        100.0 * SUM(CASE WHEN fc.sla_sensitive_bool = 1 AND fc.breached_bool = 1 THEN 1 ELSE 0 END)
		            / NULLIF(SUM(CASE WHEN fc.sla_sensitive_bool = 1 THEN 1 ELSE 0 END), 0) AS breach_rate_pct,
		        COUNT(*) AS comm_count
		 FROM fact_comms fc
		 JOIN dim_date dd ON dd.date_key = fc.date_key
		 JOIN dim_site ds ON ds.site_id = fc.site_id
		 JOIN dim_customer dc ON dc.customer_id = fc.customer_id
		 WHERE dd.date = $1
		 GROUP BY dd.date, ds.site_name, dc.tier
		 HAVING COUNT(*) > 5
		 ORDER BY breach_rate_pct DESC
		 LIMIT 10`,
		date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: worst breach segments")
	}
	defer rows.Close()

	var out []BreachSegmentRow
	for rows.Next() {
		var r BreachSegmentRow
		var rate *float64
		if err := rows.Scan(&r.Date, &r.SiteName, &r.CustomerTier, &rate, &r.CommCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan breach segment")
		}
		r.BreachRatePct = deref(rate)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: worst breach segments iterate")
}

func (s *PostgresStore) WorstExceptionSegments(ctx context.Context, date string) ([]ExceptionSegmentRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dd.date, ds.site_name, dp.product_family,
		        100.0 * COUNT(DISTINCT fi.incident_id) / NULLIF(COUNT(DISTINCT fj.job_id), 0) AS exception_rate_pct,
		        COUNT(DISTINCT fj.job_id) AS jobs
		 FROM fact_jobs fj
		 JOIN dim_date dd ON dd.date_key = fj.date_key
		 JOIN dim_site ds ON ds.site_id = fj.site_id
		 JOIN dim_product dp ON dp.product_id = fj.product_id
		 LEFT JOIN fact_incidents fi ON fi.job_id = fj.job_id
		 WHERE dd.date = $1
		 GROUP BY dd.date, ds.site_name, dp.product_family
		 ORDER BY exception_rate_pct DESC
		 LIMIT 10`,
		date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: worst exception segments")
	}
	defer rows.Close()

	var out []ExceptionSegmentRow
	for rows.Next() {
		var r ExceptionSegmentRow
		var rate *float64
		if err := rows.Scan(&r.Date, &r.SiteName, &r.ProductFamily, &rate, &r.Jobs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exception segment")
		}
		r.ExceptionRatePct = deref(rate)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: worst exception segments iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec model.AuditRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO explain_audit_log (timestamp, kpi_name, date, sql_used, slices_returned, user_feedback, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		rec.Timestamp, rec.KPIName, rec.Date, rec.SQLUsed, rec.Slices, nilIfEmpty(rec.UserFeedback), rec.RequestID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: append audit")
	}
	return id, nil
}

func (s *PostgresStore) AttachFeedback(ctx context.Context, auditID int64, rating int, notes string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin feedback")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE explain_audit_log SET user_feedback = $1 WHERE id = $2`,
		fmt.Sprintf("rating=%d; %s", rating, notes), auditID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update audit feedback")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audit record %d", auditID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO feedback (audit_id, rating, notes, created_at) VALUES ($1, $2, $3, now()::text)`,
		auditID, rating, nilIfEmpty(notes),
	); err != nil {
		return eris.Wrap(err, "postgres: insert feedback")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit feedback")
}

func (s *PostgresStore) RecordAPIUsage(ctx context.Context, usage model.APIUsage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_usage_log (endpoint, method, role, status_code, requested_at, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.Endpoint, usage.Method, usage.Role, usage.StatusCode, usage.RequestedAt, usage.RequestID,
	)
	return eris.Wrap(err, "postgres: record api usage")
}

func (s *PostgresStore) Automations(ctx context.Context, enabledOnly bool) ([]model.Automation, error) {
	query := `SELECT id, name, trigger_kpi, condition_json, webhook_url, enabled, created_at FROM automations`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: automations")
	}
	defer rows.Close()

	var out []model.Automation
	for rows.Next() {
		var a model.Automation
		var enabled int
		if err := rows.Scan(&a.ID, &a.Name, &a.TriggerKPI, &a.Condition, &a.WebhookURL, &enabled, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan automation")
		}
		a.Enabled = enabled == 1
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: automations iterate")
}

func (s *PostgresStore) RegisterAutomation(ctx context.Context, a model.Automation) (int64, error) {
	enabled := 0
	if a.Enabled {
		enabled = 1
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO automations (name, trigger_kpi, condition_json, webhook_url, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		a.Name, a.TriggerKPI, a.Condition, a.WebhookURL, enabled, a.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: register automation %s", a.Name)
	}
	return id, nil
}

func (s *PostgresStore) SetAutomationEnabled(ctx context.Context, id int64, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	tag, err := s.pool.Exec(ctx, `UPDATE automations SET enabled = $1 WHERE id = $2`, v, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: toggle automation %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "automation %d", id)
	}
	return nil
}

func (s *PostgresStore) AppendAutomationRun(ctx context.Context, run model.AutomationRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO automation_runs (automation_id, name, kpi_name, date, payload_json, status, response_code, response_body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.AutomationID, run.Name, run.KPIName, run.Date, run.Payload, run.Status,
		run.ResponseCode, nilIfEmpty(run.ResponseBody), run.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append automation run")
}

func (s *PostgresStore) AutomationRuns(ctx context.Context, limit int) ([]model.AutomationRun, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, automation_id, name, kpi_name, date, payload_json, status, response_code, response_body, created_at
		 FROM automation_runs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: automation runs")
	}
	defer rows.Close()

	var out []model.AutomationRun
	for rows.Next() {
		var r model.AutomationRun
		var payload, body *string
		if err := rows.Scan(&r.ID, &r.AutomationID, &r.Name, &r.KPIName, &r.Date,
			&payload, &r.Status, &r.ResponseCode, &body, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan automation run")
		}
		r.Payload = derefStr(payload)
		r.ResponseBody = derefStr(body)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: automation runs iterate")
}

func (s *PostgresStore) BulkInsert(ctx context.Context, table string, columns []string, rowsIn [][]any) error {
	if len(rowsIn) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin bulk insert %s", table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ph := make([]string, len(columns))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		table, strings.Join(columns, ", "), strings.Join(ph, ", "))

	for i, row := range rowsIn {
		if len(row) != len(columns) {
			return eris.Errorf("postgres: bulk insert %s row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if _, err := tx.Exec(ctx, query, row...); err != nil {
			return eris.Wrapf(err, "postgres: bulk insert %s row %d", table, i)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit bulk insert")
}

func (s *PostgresStore) LogContractResults(ctx context.Context, runTS string, results []ContractResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin contract log")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range results {
		if _, err := tx.Exec(ctx,
			`INSERT INTO contract_validation_log (run_timestamp, table_name, status, details) VALUES ($1, $2, $3, $4)`,
			runTS, r.TableName, r.Status, r.Details,
		); err != nil {
			return eris.Wrapf(err, "postgres: log contract result %s", r.TableName)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit contract log")
}

func (s *PostgresStore) OperationalDaily(ctx context.Context) ([]OperationalDay, error) {
	rows, err := s.pool.Query(ctx,
		`WITH jobs AS (
			SELECT fj.date_key,
			       COUNT(*) AS jobs,
			       SUM(CASE WHEN fj.delivered_date_key IS NOT NULL THEN 1 ELSE 0 END) AS delivered,
			       SUM(CASE WHEN fj.delivered_date_key IS NOT NULL AND fj.delivered_date_key <= fj.promised_date_key THEN 1 ELSE 0 END) AS on_time
			FROM fact_jobs fj GROUP BY fj.date_key
		),
		comms AS (
			SELECT fc.date_key,
			       SUM(CASE WHEN fc.sla_sensitive_bool = 1 THEN 1 ELSE 0 END) AS sla_sensitive,
			       SUM(CASE WHEN fc.sla_sensitive_bool = 1 AND fc.breached_bool = 1 THEN 1 ELSE 0 END) AS sla_breached,
			       COALESCE(SUM(fc.minutes_spent), 0) AS comm_minutes
			FROM fact_comms fc GROUP BY fc.date_key
		),
		incidents AS (
			SELECT fi.date_key,
			       COUNT(*) AS incidents,
			       COALESCE(SUM(fi.minutes_lost), 0) AS minutes_lost
			FROM fact_incidents fi GROUP BY fi.date_key
		),
		auto AS (
			SELECT fa.date_key,
			       COALESCE(SUM(fa.hours_saved), 0) AS hours_saved,
			       COALESCE(SUM(fa.gbp_saved), 0) AS gbp_saved
			FROM fact_automation_events fa GROUP BY fa.date_key
		)
		SELECT dd.date, dd.date_key,
		       j.jobs, j.delivered, j.on_time,
		       COALESCE(c.sla_sensitive, 0), COALESCE(c.sla_breached, 0), COALESCE(c.comm_minutes, 0),
		       COALESCE(i.incidents, 0), COALESCE(i.minutes_lost, 0),
		       COALESCE(a.hours_saved, 0), COALESCE(a.gbp_saved, 0)
		FROM jobs j
		JOIN dim_date dd ON dd.date_key = j.date_key
		LEFT JOIN comms c ON c.date_key = j.date_key
		LEFT JOIN incidents i ON i.date_key = j.date_key
		LEFT JOIN auto a ON a.date_key = j.date_key
		ORDER BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: operational daily")
	}
	defer rows.Close()

	var out []OperationalDay
	for rows.Next() {
		var d OperationalDay
		if err := rows.Scan(&d.Date, &d.DateKey, &d.Jobs, &d.Delivered, &d.OnTime,
			&d.SLASensitive, &d.SLABreached, &d.CommMinutes,
			&d.Incidents, &d.IncidentMinutesLost,
			&d.AutomationHours, &d.AutomationGBP); err != nil {
			return nil, eris.Wrap(err, "postgres: scan operational day")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: operational daily iterate")
}

func (s *PostgresStore) APIUsageCounts(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT LEFT(requested_at, 10), COUNT(*)::double precision FROM api_usage_log GROUP BY LEFT(requested_at, 10)`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: api usage counts")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var count float64
		if err := rows.Scan(&date, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan api usage")
		}
		out[date] = count
	}
	return out, eris.Wrap(rows.Err(), "postgres: api usage iterate")
}

func (s *PostgresStore) FeedbackDailyRating(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT LEFT(created_at, 10), AVG(rating)::double precision FROM feedback GROUP BY LEFT(created_at, 10)`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: feedback ratings")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var rating float64
		if err := rows.Scan(&date, &rating); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback rating")
		}
		out[date] = rating
	}
	return out, eris.Wrap(rows.Err(), "postgres: feedback ratings iterate")
}

func (s *PostgresStore) AutomationGBPByDate(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dd.date, COALESCE(SUM(fa.gbp_saved), 0)::double precision
		 FROM fact_automation_events fa
		 JOIN dim_date dd ON dd.date_key = fa.date_key
		 GROUP BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: automation gbp by date")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var date string
		var gbp float64
		if err := rows.Scan(&date, &gbp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan automation gbp")
		}
		out[date] = gbp
	}
	return out, eris.Wrap(rows.Err(), "postgres: automation gbp iterate")
}

func (s *PostgresStore) QualityDailyStats(ctx context.Context) ([]QualityDayStat, error) {
	rows, err := s.pool.Query(ctx,
		`WITH jobs AS (
			SELECT fj.date_key,
			       COUNT(*) AS jobs,
			       SUM(CASE WHEN fj.status = 'Delivered' THEN 1 ELSE 0 END) AS delivered,
			       SUM(CASE WHEN fj.status = 'Delivered' AND fj.delivered_date_key IS NULL THEN 1 ELSE 0 END) AS missing_delivered,
			       AVG(COALESCE(fj.duplicate_flag, 0))::double precision AS duplicate_rate,
			       SUM((CASE WHEN fj.job_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fj.site_id IS NULL THEN 1 ELSE 0 END) +
			           (CASE WHEN fj.customer_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fj.team_id IS NULL THEN 1 ELSE 0 END) +
			           (CASE WHEN fj.carrier_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fj.product_id IS NULL THEN 1 ELSE 0 END)) AS key_nulls,
			       SUM(CASE WHEN fj.value_gbp <= 0 THEN 1 ELSE 0 END) AS invalid
			FROM fact_jobs fj GROUP BY fj.date_key
		),
		comms AS (
			SELECT fc.date_key,
			       COUNT(*) AS comms,
			       SUM((CASE WHEN fc.site_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fc.customer_id IS NULL THEN 1 ELSE 0 END) +
			           (CASE WHEN fc.category_id IS NULL THEN 1 ELSE 0 END)) AS key_nulls,
			       SUM((CASE WHEN fc.response_minutes < 0 THEN 1 ELSE 0 END) + (CASE WHEN fc.response_minutes > 720 THEN 1 ELSE 0 END) +
			           (CASE WHEN fc.minutes_spent < 0 THEN 1 ELSE 0 END) + (CASE WHEN fc.breached_bool > 1 THEN 1 ELSE 0 END)) AS invalid
			FROM fact_comms fc GROUP BY fc.date_key
		),
		incidents AS (
			SELECT fi.date_key,
			       COUNT(*) AS incidents,
			       SUM((CASE WHEN fi.site_id IS NULL THEN 1 ELSE 0 END) + (CASE WHEN fi.incident_type IS NULL THEN 1 ELSE 0 END)) AS key_nulls,
			       SUM((CASE WHEN fi.minutes_lost < 0 THEN 1 ELSE 0 END) + (CASE WHEN fi.minutes_lost > 720 THEN 1 ELSE 0 END)) AS invalid
			FROM fact_incidents fi GROUP BY fi.date_key
		)
		SELECT dd.date,
		       j.jobs, j.delivered, j.missing_delivered, j.duplicate_rate,
		       j.key_nulls + COALESCE(c.key_nulls, 0) + COALESCE(i.key_nulls, 0),
		       j.jobs * 7 + COALESCE(c.comms, 0) * 5 + COALESCE(i.incidents, 0) * 4,
		       j.invalid + COALESCE(c.invalid, 0) + COALESCE(i.invalid, 0),
		       j.jobs + COALESCE(c.comms, 0) + COALESCE(i.incidents, 0)
		FROM jobs j
		JOIN dim_date dd ON dd.date_key = j.date_key
		LEFT JOIN comms c ON c.date_key = j.date_key
		LEFT JOIN incidents i ON i.date_key = j.date_key
		ORDER BY dd.date`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: quality daily stats")
	}
	defer rows.Close()

	var out []QualityDayStat
	for rows.Next() {
		var d QualityDayStat
		if err := rows.Scan(&d.Date, &d.Jobs, &d.Delivered, &d.MissingDelivered, &d.DuplicateRate,
			&d.KeyNulls, &d.KeyTotal, &d.InvalidCount, &d.RowCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quality day stat")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: quality daily stats iterate")
}

func (s *PostgresStore) ReplaceQualityResults(ctx context.Context, runTS string, checks []model.QualityCheck) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin quality results")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM data_quality_results`); err != nil {
		return eris.Wrap(err, "postgres: delete quality results")
	}
	for _, c := range checks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO data_quality_results (run_timestamp, check_name, table_name, status, score, details)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			runTS, c.CheckName, c.TableName, c.Status, c.Score, c.Details,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert quality result %s", c.CheckName)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit quality results")
}

func (s *PostgresStore) QualityChecks(ctx context.Context) ([]model.QualityCheck, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT check_name, table_name, status, score, details FROM data_quality_results ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: quality checks")
	}
	defer rows.Close()

	var checks []model.QualityCheck
	for rows.Next() {
		var c model.QualityCheck
		if err := rows.Scan(&c.CheckName, &c.TableName, &c.Status, &c.Score, &c.Details); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quality check")
		}
		checks = append(checks, c)
	}
	return checks, eris.Wrap(rows.Err(), "postgres: quality checks iterate")
}

func (s *PostgresStore) ContractLog(ctx context.Context, limit int) ([]ContractLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_timestamp, table_name, status, details
		 FROM contract_validation_log
		 ORDER BY id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: contract log")
	}
	defer rows.Close()

	var entries []ContractLogEntry
	for rows.Next() {
		var e ContractLogEntry
		if err := rows.Scan(&e.RunTimestamp, &e.TableName, &e.Status, &e.Details); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contract log")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: contract log iterate")
}

func (s *PostgresStore) APIUsageByEndpoint(ctx context.Context) ([]EndpointUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT endpoint, COUNT(*) AS request_count
		 FROM api_usage_log
		 GROUP BY endpoint
		 ORDER BY request_count DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: api usage by endpoint")
	}
	defer rows.Close()

	var usage []EndpointUsage
	for rows.Next() {
		var u EndpointUsage
		if err := rows.Scan(&u.Endpoint, &u.RequestCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan api usage")
		}
		usage = append(usage, u)
	}
	return usage, eris.Wrap(rows.Err(), "postgres: api usage iterate")
}

func (s *PostgresStore) FeedbackSummary(ctx context.Context) (float64, int, error) {
	var avg *float64
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(rating), COUNT(*) FROM feedback`).Scan(&avg, &count)
	if err != nil {
		return 0, 0, eris.Wrap(err, "postgres: feedback summary")
	}
	return deref(avg), count, nil
}

func (s *PostgresStore) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: columns for %s", table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan column name")
		}
		cols = append(cols, name)
	}
	return cols, eris.Wrap(rows.Err(), "postgres: columns iterate")
}

func (s *PostgresStore) LatestFactDate(ctx context.Context) (string, error) {
	var date *string
	err := s.pool.QueryRow(ctx, `SELECT MAX(date) FROM dim_date`).Scan(&date)
	if err != nil {
		return "", eris.Wrap(err, "postgres: latest fact date")
	}
	if date == nil {
		return "", eris.Wrap(ErrNotFound, "dim_date empty")
	}
	return *date, nil
}

func scanPGAnomaly(row pgx.Row) (*model.Anomaly, error) {
	var a model.Anomaly
	var tag *string
	var status string
	if err := row.Scan(&a.ID, &a.KPIName, &a.Date, &a.Value, &a.Baseline, &a.Score, &status, &tag, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan anomaly")
	}
	a.Status = model.AnomalyStatus(status)
	a.ScenarioTag = derefStr(tag)
	return &a, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
