// Package export writes mart extracts as XLSX workbooks for stakeholders
// who live in spreadsheets rather than the API.
package export

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/model"
)

// Workbook bundles the queries behind one exported file.
type Workbook struct {
	store mart.Store
}

func NewWorkbook(store mart.Store) *Workbook {
	return &Workbook{store: store}
}

// Write builds a workbook with KPI summary, open anomalies, quality checks,
// and the scenario registry, then saves it to path.
func (w *Workbook) Write(ctx context.Context, start, end, path string) error {
	f := xlsx.NewFile()

	summary, err := w.store.KPISummary(ctx, start, end)
	if err != nil {
		return err
	}
	if err := addSummarySheet(f, start, end, summary); err != nil {
		return err
	}

	anomalies, err := w.store.AnomaliesByStatus(ctx, model.AnomalyStatusOpen)
	if err != nil {
		return err
	}
	if err := addAnomalySheet(f, anomalies); err != nil {
		return err
	}

	checks, err := w.store.QualityChecks(ctx)
	if err != nil {
		return err
	}
	if err := addQualitySheet(f, checks); err != nil {
		return err
	}

	scenarios, err := w.store.Scenarios(ctx)
	if err != nil {
		return err
	}
	if err := addScenarioSheet(f, scenarios); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}

	zap.L().Info("workbook exported",
		zap.String("path", path),
		zap.Int("kpis", len(summary)),
		zap.Int("anomalies", len(anomalies)))
	return nil
}

func addSummarySheet(f *xlsx.File, start, end string, rows []model.KPISummaryRow) error {
	sheet, err := f.AddSheet("KPI Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"KPI", "Avg", "Min", "Max", "Latest", "Latest Date", "Target Good", "Target Bad", "Owner", "Range"} {
		header.AddCell().SetString(h)
	}

	window := start + " to " + end
	for _, row := range rows {
		r := sheet.AddRow()
		r.AddCell().SetString(row.KPIName)
		r.AddCell().SetFloat(row.AvgValue)
		r.AddCell().SetFloat(row.MinValue)
		r.AddCell().SetFloat(row.MaxValue)
		r.AddCell().SetFloat(row.LatestValue)
		r.AddCell().SetString(row.LatestDate)
		setOptionalFloat(r.AddCell(), row.TargetGood)
		setOptionalFloat(r.AddCell(), row.TargetBad)
		r.AddCell().SetString(row.OwnerRole)
		r.AddCell().SetString(window)
	}
	return nil
}

func addAnomalySheet(f *xlsx.File, anomalies []model.Anomaly) error {
	sheet, err := f.AddSheet("Open Anomalies")
	if err != nil {
		return eris.Wrap(err, "export: add anomaly sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"KPI", "Date", "Value", "Baseline", "Score", "Scenario"} {
		header.AddCell().SetString(h)
	}

	for _, a := range anomalies {
		r := sheet.AddRow()
		r.AddCell().SetString(a.KPIName)
		r.AddCell().SetString(a.Date)
		r.AddCell().SetFloat(a.Value)
		r.AddCell().SetFloat(a.Baseline)
		r.AddCell().SetFloat(a.Score)
		r.AddCell().SetString(a.ScenarioTag)
	}
	return nil
}

func addQualitySheet(f *xlsx.File, checks []model.QualityCheck) error {
	sheet, err := f.AddSheet("Quality Checks")
	if err != nil {
		return eris.Wrap(err, "export: add quality sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Check", "Table", "Status", "Score", "Details"} {
		header.AddCell().SetString(h)
	}

	for _, c := range checks {
		r := sheet.AddRow()
		r.AddCell().SetString(c.CheckName)
		r.AddCell().SetString(c.TableName)
		r.AddCell().SetString(c.Status)
		r.AddCell().SetFloat(c.Score)
		r.AddCell().SetString(c.Details)
	}
	return nil
}

func addScenarioSheet(f *xlsx.File, scenarios []model.Scenario) error {
	sheet, err := f.AddSheet("Scenarios")
	if err != nil {
		return eris.Wrap(err, "export: add scenario sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Tag", "Date", "KPI", "Expected Dimension", "Expected Segment", "Description"} {
		header.AddCell().SetString(h)
	}

	for _, s := range scenarios {
		r := sheet.AddRow()
		r.AddCell().SetString(s.Tag)
		r.AddCell().SetString(s.Date)
		r.AddCell().SetString(s.KPIName)
		r.AddCell().SetString(s.ExpectedDimension)
		r.AddCell().SetString(s.ExpectedSegment)
		r.AddCell().SetString(s.Description)
	}
	return nil
}

func setOptionalFloat(cell *xlsx.Cell, value *float64) {
	if value == nil {
		cell.SetString("")
		return
	}
	cell.SetFloat(*value)
}
