package etl

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ops-copilot/internal/mart"
)

// loadedTable is one clean CSV parsed and coerced to typed rows, ready for
// bulk insert.
type loadedTable struct {
	name    string
	columns []string
	rows    [][]any
}

// LoadClean parses every clean CSV concurrently and inserts them into the
// mart sequentially, dimensions before facts. Insert order matters for
// readers that join facts onto dimensions mid-load; parse order does not.
func LoadClean(ctx context.Context, store mart.Store, cleanDir string) error {
	loaded := make([]loadedTable, len(cleanContracts))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range cleanContracts {
		i, entry := i, entry
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := readTable(filepath.Join(cleanDir, entry.table+".csv"))
			if err != nil {
				return err
			}
			rows, err := coerceRows(t, entry.contract)
			if err != nil {
				return eris.Wrapf(err, "etl: coerce %s", entry.table)
			}
			columns := make([]string, len(entry.contract.columns))
			for j, spec := range entry.contract.columns {
				columns[j] = spec.name
			}
			loaded[i] = loadedTable{name: entry.table, columns: columns, rows: rows}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := 0
	for _, t := range loaded {
		if err := store.BulkInsert(ctx, t.name, t.columns, t.rows); err != nil {
			return eris.Wrapf(err, "etl: load %s", t.name)
		}
		total += len(t.rows)
	}

	zap.L().Info("clean load complete",
		zap.Int("tables", len(loaded)),
		zap.Int("rows", total))
	return nil
}

// coerceRows converts string cells to the contract's column types. Empty
// cells become NULLs so nullable integers survive the round trip.
func coerceRows(t *csvTable, c columnContract) ([][]any, error) {
	rows := make([][]any, 0, len(t.rows))
	for _, raw := range t.rows {
		row := make([]any, len(c.columns))
		for i, spec := range c.columns {
			cell := t.cell(raw, spec.name)
			if cell == "" {
				row[i] = nil
				continue
			}
			switch spec.typ {
			case "int":
				v, err := strconv.ParseInt(cell, 10, 64)
				if err != nil {
					// Generators sometimes emit integral floats like "3.0".
					f, ferr := strconv.ParseFloat(cell, 64)
					if ferr != nil {
						return nil, eris.Wrapf(err, "column %s", spec.name)
					}
					v = int64(f)
				}
				row[i] = v
			case "float":
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, eris.Wrapf(err, "column %s", spec.name)
				}
				row[i] = v
			default:
				row[i] = cell
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
