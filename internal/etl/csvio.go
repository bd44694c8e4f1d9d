package etl

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// csvTable is a fully materialised CSV file: header, column index, and rows.
// The clean and raw layers are small enough that streaming buys nothing.
type csvTable struct {
	header []string
	index  map[string]int
	rows   [][]string
}

func newTable(header []string) *csvTable {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	return &csvTable{header: header, index: idx}
}

func (t *csvTable) append(row []string) { t.rows = append(t.rows, row) }

// cell returns the named column of a row, empty when the column is absent.
func (t *csvTable) cell(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (t *csvTable) intCell(row []string, column string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(t.cell(row, column)))
	return v
}

func (t *csvTable) floatCell(row []string, column string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(t.cell(row, column)), 64)
	return v
}

func readTable(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "etl: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "etl: parse %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("etl: %s is empty", path)
	}

	t := newTable(records[0])
	for _, rec := range records[1:] {
		t.append(rec)
	}
	return t, nil
}

func writeTable(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "etl: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrapf(err, "etl: write header %s", path)
	}
	if err := w.WriteAll(rows); err != nil {
		return eris.Wrapf(err, "etl: write rows %s", path)
	}
	w.Flush()
	return eris.Wrapf(w.Error(), "etl: flush %s", path)
}
