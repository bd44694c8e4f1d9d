package etl

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultSeed     = 42
	lookbackDays    = 120
	endDateOverride = "OPSCOPILOT_END_DATE"
)

// GenerateOptions controls the synthetic raw drop. Zero values fall back to
// the defaults the demo dataset is built with.
type GenerateOptions struct {
	Seed    int64
	EndDate string // ISO date; defaults to yesterday
	Days    int
}

// ScenarioDates are the planted anomaly days: an SLA comm surge at
// Birmingham on NorthHaul lanes, an exception spike at Coventry on
// Partitions, and a two-day data quality incident at Leeds.
type ScenarioDates struct {
	A  time.Time
	B  time.Time
	C1 time.Time
	C2 time.Time
}

type generator struct {
	rng     *rand.Rand
	endDate time.Time
	dates   []time.Time
	sc      ScenarioDates

	jobs     [][]string
	incident [][]string
	comms    [][]string
	costs    [][]string
	auto     [][]string

	jobN, incN, commN, costN, autoN int
}

// Generate writes a deterministic synthetic raw CSV drop plus metadata.json
// into rawDir. The same seed and end date always produce the same files.
func Generate(rawDir string, opts GenerateOptions) (ScenarioDates, error) {
	if opts.Seed == 0 {
		opts.Seed = defaultSeed
	}
	if opts.Days <= 0 {
		opts.Days = lookbackDays
	}

	end, err := resolveEndDate(opts.EndDate)
	if err != nil {
		return ScenarioDates{}, err
	}
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return ScenarioDates{}, eris.Wrap(err, "etl: create raw dir")
	}

	dates := make([]time.Time, opts.Days)
	start := end.AddDate(0, 0, -(opts.Days - 1))
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	if opts.Days < 110 {
		return ScenarioDates{}, eris.Errorf("etl: need at least 110 days for scenario placement, got %d", opts.Days)
	}

	g := &generator{
		rng:     rand.New(rand.NewSource(opts.Seed)),
		endDate: end,
		dates:   dates,
		sc: ScenarioDates{
			A:  dates[84],
			B:  dates[97],
			C1: dates[108],
			C2: dates[109],
		},
		jobN:  1,
		incN:  1,
		commN: 1,
		costN: 1,
		autoN: 1,
	}

	g.run()

	if err := g.write(rawDir); err != nil {
		return ScenarioDates{}, err
	}
	if err := writeMetadata(rawDir, opts, start, end, g.sc); err != nil {
		return ScenarioDates{}, err
	}

	zap.L().Info("sample data generated",
		zap.String("raw_dir", rawDir),
		zap.String("start", iso(start)),
		zap.String("end", iso(end)),
		zap.Int("jobs", len(g.jobs)))
	return g.sc, nil
}

func resolveEndDate(override string) (time.Time, error) {
	if override == "" {
		override = os.Getenv(endDateOverride)
	}
	if override == "" {
		return time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour), nil
	}
	d, err := time.Parse("2006-01-02", override)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "etl: parse end date %q", override)
	}
	return d, nil
}

func (g *generator) run() {
	customerWeights := []float64{0.16, 0.14, 0.12, 0.1, 0.1, 0.09, 0.08, 0.06, 0.05, 0.04, 0.03, 0.03}
	teamWeights := []float64{0.45, 0.22, 0.23, 0.1}
	carrierWeights := []float64{0.28, 0.2, 0.18, 0.17, 0.17}
	productWeights := []float64{0.33, 0.24, 0.22, 0.21}
	incidentTypes := []string{"Late materials", "Vehicle issue", "Damage", "Reschedule", "Wrong spec"}
	incidentWeights := []float64{0.26, 0.2, 0.18, 0.18, 0.18}

	siteMultiplier := map[int]float64{1: 1.1, 2: 1.0, 3: 0.9}

	for _, d := range g.dates {
		scenarioC := d.Equal(g.sc.C1) || d.Equal(g.sc.C2)

		for siteID := 1; siteID <= 3; siteID++ {
			baseJobs := int(g.normal(28*siteMultiplier[siteID], 4))
			if baseJobs < 10 {
				baseJobs = 10
			}

			for j := 0; j < baseJobs; j++ {
				customerID := g.choice(customerWeights) + 1
				teamID := g.choice(teamWeights) + 1
				carrierID := g.choice(carrierWeights) + 1
				productID := g.choice(productWeights) + 1

				promised := d.AddDate(0, 0, 2+g.rng.Intn(7))
				shiftIdx := g.choice([]float64{0.1, 0.28, 0.24, 0.18, 0.1, 0.06, 0.04})
				shift := []int{-1, 0, 0, 1, 1, 2, 3}[shiftIdx]
				delivered := promised.AddDate(0, 0, shift)
				hasDelivery := true

				missingDelivery := siteID == 3 && scenarioC && g.rng.Float64() < 0.58
				if missingDelivery {
					hasDelivery = false
				}

				status := "In Progress"
				if hasDelivery && !delivered.After(g.endDate) {
					status = "Delivered"
				}
				if missingDelivery {
					status = "Delivered"
				}

				valueGBP := clip(g.normal(6200, 1400), 1800, 14000)
				priority := []string{"Low", "Medium", "High"}[g.choice([]float64{0.35, 0.5, 0.15})]

				jobID := fmt.Sprintf("JOB-%07d", g.jobN)
				g.jobN++

				deliveredDate, deliveredKey := "", ""
				if hasDelivery {
					deliveredDate = iso(delivered)
					deliveredKey = keyStr(delivered)
				}

				jobRow := []string{
					jobID, iso(d), keyStr(d),
					strconv.Itoa(siteID), strconv.Itoa(customerID), strconv.Itoa(teamID),
					strconv.Itoa(carrierID), strconv.Itoa(productID),
					fmt.Sprintf("%.2f", valueGBP),
					iso(promised), keyStr(promised),
					deliveredDate, deliveredKey,
					status, priority, "0", "baseline",
				}
				g.jobs = append(g.jobs, jobRow)

				// Scenario C plants duplicate jobs at Leeds across two days.
				if siteID == 3 && scenarioC && g.rng.Float64() < 0.13 {
					dup := make([]string, len(jobRow))
					copy(dup, jobRow)
					dup[0] = jobID + "-DUP"
					dup[15] = "1"
					dup[16] = "scenario_c_duplicate"
					g.jobs = append(g.jobs, dup)
				}

				commCount := []int{0, 1, 2, 3}[g.choice([]float64{0.2, 0.38, 0.28, 0.14})]
				inScenarioA := d.Equal(g.sc.A) && siteID == 1 && carrierID == 1
				if inScenarioA {
					commCount += 4 + g.rng.Intn(4)
				}
				g.emitComms(d, siteID, customerID, carrierID, productID, jobID, commCount, inScenarioA)

				incidentProb := 0.1
				inScenarioB := d.Equal(g.sc.B) && siteID == 2 && productID == 3
				if inScenarioB {
					incidentProb = 0.88
				}
				if g.rng.Float64() < incidentProb {
					g.emitIncident(d, siteID, productID, jobID, inScenarioB, incidentTypes, incidentWeights)
				}
			}

			g.emitCosts(d, siteID, scenarioC)
			g.emitAutomationEvents(d, siteID)
		}
	}
}

func (g *generator) emitComms(d time.Time, siteID, customerID, carrierID, productID int, jobID string, count int, scenarioA bool) {
	for i := 0; i < count; i++ {
		categoryWeights := []float64{0.34, 0.2, 0.17, 0.14, 0.15}
		if scenarioA {
			categoryWeights = []float64{0.48, 0.25, 0.12, 0.07, 0.08}
		}
		categoryID := g.choice(categoryWeights) + 1

		slaSensitive := 0
		if categoryID == 1 || categoryID == 2 {
			slaSensitive = 1
		} else if g.rng.Float64() < 0.18 {
			slaSensitive = 1
		}

		var responseMinutes, minutesSpent int
		if scenarioA {
			responseMinutes = int(clip(g.normal(225, 40), 80, 420))
			minutesSpent = int(clip(g.normal(26, 7), 8, 80))
		} else {
			mean, spread := 42.0, 18.0
			spentMean := 10.0
			if slaSensitive == 1 {
				mean, spread, spentMean = 78, 35, 14
			}
			responseMinutes = int(clip(g.normal(mean, spread), 4, 300))
			minutesSpent = int(clip(g.normal(spentMean, 4), 3, 55))
		}

		breached := 0
		if slaSensitive == 1 && responseMinutes > 90 {
			breached = 1
		}
		channel := "email"
		if g.choice([]float64{0.62, 0.38}) == 1 {
			channel = "call"
		}

		g.comms = append(g.comms, []string{
			fmt.Sprintf("COM-%08d", g.commN), iso(d), keyStr(d),
			strconv.Itoa(siteID), strconv.Itoa(customerID), strconv.Itoa(categoryID),
			channel, strconv.Itoa(minutesSpent), strconv.Itoa(slaSensitive),
			strconv.Itoa(responseMinutes), strconv.Itoa(breached),
			jobID, strconv.Itoa(carrierID), strconv.Itoa(productID),
		})
		g.commN++
	}
}

func (g *generator) emitIncident(d time.Time, siteID, productID int, jobID string, scenarioB bool, types []string, weights []float64) {
	var incidentType string
	var minutesLost int
	if scenarioB {
		incidentType = "Late materials"
		minutesLost = int(clip(g.normal(165, 45), 60, 360))
	} else {
		incidentType = types[g.choice(weights)]
		minutesLost = int(clip(g.normal(72, 32), 12, 260))
	}

	severity := "Low"
	if minutesLost >= 150 {
		severity = "High"
	} else if minutesLost >= 70 {
		severity = "Medium"
	}

	g.incident = append(g.incident, []string{
		fmt.Sprintf("INC-%08d", g.incN), iso(d), keyStr(d),
		strconv.Itoa(siteID), jobID, incidentType, severity,
		strconv.Itoa(minutesLost), strconv.Itoa(productID),
	})
	g.incN++
}

func (g *generator) emitCosts(d time.Time, siteID int, scenarioC bool) {
	for _, costType := range []string{"Overtime", "Rework", "Expedite", "Claims"} {
		if g.rng.Float64() >= 0.82 {
			continue
		}
		amount := clip(g.normal(850, 280), 80, 2600)
		if d.Equal(g.sc.A) && siteID == 1 && (costType == "Overtime" || costType == "Expedite") {
			amount *= 1.7
		}
		if d.Equal(g.sc.B) && siteID == 2 && costType == "Expedite" {
			amount *= 2.1
		}
		if scenarioC && siteID == 3 && costType == "Rework" {
			amount *= 1.5
		}

		g.costs = append(g.costs, []string{
			fmt.Sprintf("CST-%08d", g.costN), iso(d), keyStr(d),
			strconv.Itoa(siteID), costType, fmt.Sprintf("%.2f", amount),
		})
		g.costN++
	}
}

func (g *generator) emitAutomationEvents(d time.Time, siteID int) {
	if g.rng.Float64() >= 0.38 {
		return
	}
	notesPool := []string{
		"Auto-routed SLA alerts",
		"Template-based comm reply",
		"Invoice validation bot",
		"Exception triage workflow",
	}
	events := 1 + g.rng.Intn(2)
	for i := 0; i < events; i++ {
		hoursSaved := clip(g.normal(2.4, 0.8), 0.5, 5.8)
		rate := clip(g.normal(48, 8), 24, 75)
		gbpSaved := math.Round(hoursSaved*rate*100) / 100

		g.auto = append(g.auto, []string{
			fmt.Sprintf("AUT-%08d", g.autoN), iso(d), keyStr(d),
			strconv.Itoa(siteID), "workflow_run",
			fmt.Sprintf("%.2f", hoursSaved), fmt.Sprintf("%.2f", gbpSaved),
			notesPool[g.rng.Intn(len(notesPool))],
		})
		g.autoN++
	}
}

func (g *generator) write(rawDir string) error {
	dims := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"dim_site", []string{"site_id", "site_name"}, [][]string{
			{"1", "Birmingham"}, {"2", "Coventry"}, {"3", "Leeds"},
		}},
		{"dim_customer", []string{"customer_id", "customer_name", "tier"}, customerRows()},
		{"dim_team", []string{"team_id", "team_name"}, [][]string{
			{"1", "Ops"}, {"2", "Planning"}, {"3", "Customer Service"}, {"4", "Finance"},
		}},
		{"dim_category", []string{"category_id", "category_name"}, [][]string{
			{"1", "Tracking/ETA"}, {"2", "Exception/Delay"}, {"3", "Documentation"},
			{"4", "Pricing"}, {"5", "Ad-hoc"},
		}},
		{"dim_carrier", []string{"carrier_id", "carrier_name"}, [][]string{
			{"1", "NorthHaul"}, {"2", "SwiftFreight"}, {"3", "AtlasMove"},
			{"4", "CrownTransit"}, {"5", "RapidLynx"},
		}},
		{"dim_product", []string{"product_id", "product_family"}, [][]string{
			{"1", "Walls"}, {"2", "Ceilings"}, {"3", "Partitions"}, {"4", "Fit-Out"},
		}},
	}
	for _, dim := range dims {
		if err := writeTable(filepath.Join(rawDir, dim.name+".csv"), dim.header, dim.rows); err != nil {
			return err
		}
	}

	facts := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"fact_jobs", []string{
			"job_id", "date", "date_key", "site_id", "customer_id", "team_id",
			"carrier_id", "product_id", "value_gbp", "promised_date",
			"promised_date_key", "delivered_date", "delivered_date_key",
			"status", "priority", "duplicate_flag", "source_batch",
		}, g.jobs},
		{"fact_incidents", []string{
			"incident_id", "date", "date_key", "site_id", "job_id",
			"incident_type", "severity", "minutes_lost", "product_id",
		}, g.incident},
		{"fact_comms", []string{
			"comm_id", "date", "date_key", "site_id", "customer_id", "category_id",
			"channel", "minutes_spent", "sla_sensitive_bool", "response_minutes",
			"breached_bool", "job_id", "carrier_id", "product_id",
		}, g.comms},
		{"fact_costs", []string{
			"cost_id", "date", "date_key", "site_id", "cost_type", "amount_gbp",
		}, g.costs},
		{"fact_automation_events", []string{
			"event_id", "date", "date_key", "site_id", "event_type",
			"hours_saved", "gbp_saved", "notes",
		}, g.auto},
	}
	for _, fact := range facts {
		if err := writeTable(filepath.Join(rawDir, fact.name+".csv"), fact.header, fact.rows); err != nil {
			return err
		}
	}

	registry := [][]string{
		{
			"Scenario A", iso(g.sc.A),
			"SLA spike driven by Birmingham + NorthHaul comm surge.",
			"sla_breach_rate_pct", "carrier", "NorthHaul",
		},
		{
			"Scenario B", iso(g.sc.B),
			"Exception spike in Coventry for Partitions due to late materials.",
			"exception_rate_per_100_jobs", "product_family", "Partitions",
		},
		{
			"Scenario C", iso(g.sc.C1),
			"Data quality issue at Leeds with duplicates and missing delivered date for two days.",
			"data_quality_score", "site", "Leeds",
		},
	}
	header := []string{
		"scenario_tag", "scenario_date", "description", "kpi_name",
		"expected_driver_dimension", "expected_driver_value",
	}
	return writeTable(filepath.Join(rawDir, "scenario_registry.csv"), header, registry)
}

func customerRows() [][]string {
	tiers := []string{
		"Tier A", "Tier A", "Tier A", "Tier B", "Tier B", "Tier B",
		"Tier B", "Tier C", "Tier C", "Tier C", "Tier C", "Tier B",
	}
	rows := make([][]string, len(tiers))
	for i, tier := range tiers {
		rows[i] = []string{strconv.Itoa(i + 1), fmt.Sprintf("Customer %02d", i+1), tier}
	}
	return rows
}

func writeMetadata(rawDir string, opts GenerateOptions, start, end time.Time, sc ScenarioDates) error {
	metadata := map[string]any{
		"seed":              opts.Seed,
		"lookback_days":     opts.Days,
		"start_date":        iso(start),
		"end_date":          iso(end),
		"scenario_a_date":   iso(sc.A),
		"scenario_b_date":   iso(sc.B),
		"scenario_c_date_1": iso(sc.C1),
		"scenario_c_date_2": iso(sc.C2),
	}
	raw, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return eris.Wrap(err, "etl: marshal metadata")
	}
	return eris.Wrap(os.WriteFile(filepath.Join(rawDir, "metadata.json"), raw, 0o644), "etl: write metadata")
}

func (g *generator) normal(mean, sd float64) float64 {
	return g.rng.NormFloat64()*sd + mean
}

// choice draws an index with the given weights. Weights are assumed to sum
// to 1.
func (g *generator) choice(weights []float64) int {
	r := g.rng.Float64()
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func iso(t time.Time) string { return t.Format("2006-01-02") }

func keyStr(t time.Time) string { return t.Format("20060102") }
