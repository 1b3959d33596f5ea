package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ExportCSV writes every output table whose name does not start with an
// underscore to "<base>.<Table>.csv" and returns the paths written.
func (s *Store) ExportCSV(ctx context.Context, base string) ([]string, error) {
	names, err := s.TableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("export csv: %w", err)
	}

	var paths []string
	for _, name := range names {
		if strings.HasPrefix(name, "_") {
			continue
		}
		t, err := s.Query(ctx, name, "SELECT * FROM "+quoteIdent(name)+" ORDER BY rowid")
		if err != nil {
			return paths, fmt.Errorf("export csv: %s: %w", name, err)
		}
		path := base + "." + name + ".csv"
		if err := writeCSV(path, t.Columns, t.Rows); err != nil {
			return paths, fmt.Errorf("export csv: %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSV(path string, cols []string, rows [][]any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return err
	}
	rec := make([]string, len(cols))
	for _, row := range rows {
		for i := range rec {
			rec[i] = ""
			if i < len(row) {
				rec[i] = cell(row[i])
			}
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return fmt.Sprint(normalize(v))
}
