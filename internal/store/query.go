package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jward/paddock/internal/output"
)

// SimulationNames returns every simulation with stored results, in the
// order they were first written.
func (s *Store) SimulationNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT Name FROM _Simulations ORDER BY ID")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan simulation name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableNames returns the output tables, including _Messages and _Factors.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	return tableNames(ctx, s.db)
}

// Query runs an arbitrary SQL statement and returns its rows as a table
// named name. Text columns come back as strings, never as []byte.
func (s *Store) Query(ctx context.Context, name, query string, args ...any) (*output.Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanTable(name, rows)
}

// ReadTable returns a stored output table with the owning simulation's name
// in a leading SimulationName column. With simulations given, only their
// rows are returned.
func (s *Store) ReadTable(ctx context.Context, table string, simulations ...string) (*output.Table, error) {
	if err := validName(table); err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	q := "SELECT s.Name AS SimulationName, t.* FROM " + quoteIdent(table) +
		" t JOIN _Simulations s ON s.ID = t." + quoteIdent(SimulationIDColumn)
	if len(simulations) > 0 {
		q += " WHERE s.Name IN (" + placeholderList(len(simulations)) + ")"
	}
	q += " ORDER BY t.rowid"

	rows, err := s.db.QueryContext(ctx, q, stringsToArgs(simulations)...)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", table, err)
	}
	defer rows.Close()
	return scanTable(table, rows)
}

// ReplaceTable drops any table named t.Name and writes t in its place. The
// result is not linked to a simulation.
func (s *Store) ReplaceTable(ctx context.Context, t *output.Table) error {
	if err := validName(t.Name); err != nil {
		return fmt.Errorf("replace table: %w", err)
	}
	if internalTable(t.Name) || strings.EqualFold(t.Name, output.MessagesTable) || strings.EqualFold(t.Name, output.FactorsTable) {
		return fmt.Errorf("replace table: %s is reserved", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols = nil

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace table: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t.Name)); err != nil {
		return fmt.Errorf("replace table: drop %s: %w", t.Name, err)
	}
	if err := s.ensureTable(ctx, tx, t, false); err != nil {
		return fmt.Errorf("replace table: %s: %w", t.Name, err)
	}
	if err := insertRows(ctx, tx, t, nil); err != nil {
		return fmt.Errorf("replace table: %s: %w", t.Name, err)
	}
	if err := tx.Commit(); err != nil {
		s.cols = nil
		return err
	}
	return nil
}

func scanTable(name string, rows *sql.Rows) (*output.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	// Result sets may repeat a column name, so columns stay positional.
	t := &output.Table{Name: name, Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	return t, rows.Err()
}
