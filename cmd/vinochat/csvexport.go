package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kalambet/vinochat/internal/catalog"
)

// csvExportMaxRows caps rows re-read for one export.
const csvExportMaxRows = 50000

// utf8BOM lets spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

func csvFilename(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%s.csv", prefix, now.Format("20060102_150405"))
}

// csvColumns is the union of row keys. Keys follow order (the catalog
// declaration order); keys outside it, such as aliases and aggregates, come
// last in alphabetical order.
func csvColumns(rows []catalog.Row, order []string) []string {
	present := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			present[k] = true
		}
	}
	cols := make([]string, 0, len(present))
	for _, k := range order {
		if present[k] {
			cols = append(cols, k)
			delete(present, k)
		}
	}
	rest := make([]string, 0, len(present))
	for k := range present {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// writeRowsCSV writes rows to path. It writes nothing and returns false for
// an empty result.
func writeRowsCSV(rows []catalog.Row, order []string, path string) (bool, error) {
	if len(rows) == 0 {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(utf8BOM); err != nil {
		return false, err
	}
	w := csv.NewWriter(f)
	cols := csvColumns(rows, order)
	if err := w.Write(cols); err != nil {
		return false, err
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = catalog.Text(row[c])
		}
		if err := w.Write(record); err != nil {
			return false, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return false, err
	}
	return true, f.Close()
}
