package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jward/paddock/internal/output"
)

// Compile-time check: *Store is a results sink.
var _ output.Sink = (*Store)(nil)

// WriteTables commits the output of one simulation within a single
// transaction. Rows previously written for the same simulation are removed
// from every output table first, so re-running a simulation replaces its
// results. Tables and columns are created on demand; the first non-nil
// value in a column decides its declared type.
func (s *Store) WriteTables(ctx context.Context, simulation, folder string, tables []*output.Table) error {
	if err := validName(simulation); err != nil {
		return fmt.Errorf("write tables: simulation: %w", err)
	}
	for _, t := range tables {
		if err := validName(t.Name); err != nil {
			return fmt.Errorf("write tables: table: %w", err)
		}
		if internalTable(t.Name) {
			return fmt.Errorf("write tables: %s is reserved", t.Name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.writeTables(ctx, simulation, folder, tables)
	if err != nil {
		// The rolled-back transaction may have taken schema changes with it.
		s.cols = nil
	}
	return err
}

func (s *Store) writeTables(ctx context.Context, simulation, folder string, tables []*output.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write tables: begin: %w", err)
	}
	defer tx.Rollback()

	simID, err := upsertSimulation(ctx, tx, simulation, folder)
	if err != nil {
		return fmt.Errorf("write tables: simulation %q: %w", simulation, err)
	}
	if err := s.deleteSimulationRows(ctx, tx, simID); err != nil {
		return fmt.Errorf("write tables: clear %q: %w", simulation, err)
	}

	for _, t := range tables {
		if err := s.ensureTable(ctx, tx, t, true); err != nil {
			return fmt.Errorf("write tables: %s: %w", t.Name, err)
		}
		if err := insertRows(ctx, tx, t, &simID); err != nil {
			return fmt.Errorf("write tables: %s: %w", t.Name, err)
		}
	}
	return tx.Commit()
}

func upsertSimulation(ctx context.Context, tx *sql.Tx, name, folder string) (int64, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO _Simulations (Name, FolderName) VALUES (?, ?)
		 ON CONFLICT(Name) DO UPDATE SET FolderName = excluded.FolderName`,
		name, folder)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, "SELECT ID FROM _Simulations WHERE Name = ?", name).Scan(&id)
	return id, err
}

// deleteSimulationRows removes a simulation's rows from every output table.
func (s *Store) deleteSimulationRows(ctx context.Context, tx *sql.Tx, simID int64) error {
	names, err := tableNames(ctx, tx)
	if err != nil {
		return err
	}
	for _, name := range names {
		cols, err := s.columns(ctx, tx, name)
		if err != nil {
			return err
		}
		if !cols[strings.ToLower(SimulationIDColumn)] {
			continue
		}
		q := "DELETE FROM " + quoteIdent(name) + " WHERE " + quoteIdent(SimulationIDColumn) + " = ?"
		if _, err := tx.ExecContext(ctx, q, simID); err != nil {
			return fmt.Errorf("delete from %s: %w", name, err)
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// tableNames lists output tables in name order.
func tableNames(ctx context.Context, q queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if !internalTable(name) {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

// columns returns the lower-cased column set of a table, or nil if the table
// does not exist. Callers hold s.mu.
func (s *Store) columns(ctx context.Context, q queryer, table string) (map[string]bool, error) {
	key := strings.ToLower(table)
	if cols, ok := s.cols[key]; ok {
		return cols, nil
	}
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()
	var cols map[string]bool
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if cols == nil {
			cols = make(map[string]bool)
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cols != nil {
		s.cacheColumns(key, cols)
	}
	return cols, nil
}

func (s *Store) cacheColumns(key string, cols map[string]bool) {
	if s.cols == nil {
		s.cols = make(map[string]map[string]bool)
	}
	s.cols[key] = cols
}

// ensureTable creates t's table or adds the columns it lacks. With keyed
// set the table carries a SimulationID column.
func (s *Store) ensureTable(ctx context.Context, tx *sql.Tx, t *output.Table, keyed bool) error {
	cols, err := s.columns(ctx, tx, t.Name)
	if err != nil {
		return err
	}

	if cols == nil {
		defs := make([]string, 0, len(t.Columns)+1)
		cols = make(map[string]bool, len(t.Columns)+1)
		if keyed {
			defs = append(defs, quoteIdent(SimulationIDColumn)+" INTEGER REFERENCES _Simulations(ID)")
			cols[strings.ToLower(SimulationIDColumn)] = true
		}
		for i, c := range t.Columns {
			if cols[strings.ToLower(c)] {
				continue
			}
			defs = append(defs, columnDef(c, columnType(t, i)))
			cols[strings.ToLower(c)] = true
		}
		q := "CREATE TABLE " + quoteIdent(t.Name) + " (" + strings.Join(defs, ", ") + ")"
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create: %w", err)
		}
		s.cacheColumns(strings.ToLower(t.Name), cols)
		return nil
	}

	if keyed && !cols[strings.ToLower(SimulationIDColumn)] {
		return fmt.Errorf("table exists without a %s column", SimulationIDColumn)
	}
	for i, c := range t.Columns {
		if cols[strings.ToLower(c)] {
			continue
		}
		q := "ALTER TABLE " + quoteIdent(t.Name) + " ADD COLUMN " + columnDef(c, columnType(t, i))
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add column %s: %w", c, err)
		}
		cols[strings.ToLower(c)] = true
	}
	return nil
}

func columnDef(name, typ string) string {
	if typ == "" {
		return quoteIdent(name)
	}
	return quoteIdent(name) + " " + typ
}

// columnType derives a column's type from its first non-nil cell.
func columnType(t *output.Table, col int) string {
	for _, row := range t.Rows {
		if col < len(row) && row[col] != nil {
			return sqlType(row[col])
		}
	}
	return ""
}

// insertRows writes t's rows. A non-nil simID is written to SimulationID.
func insertRows(ctx context.Context, tx *sql.Tx, t *output.Table, simID *int64) error {
	if len(t.Rows) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.Columns)+1)
	skip := -1
	if simID != nil {
		names = append(names, quoteIdent(SimulationIDColumn))
	}
	for i, c := range t.Columns {
		if simID != nil && strings.EqualFold(c, SimulationIDColumn) {
			skip = i
			continue
		}
		names = append(names, quoteIdent(c))
	}

	q := "INSERT INTO " + quoteIdent(t.Name) + " (" + strings.Join(names, ", ") +
		") VALUES (" + placeholderList(len(names)) + ")"
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(names))
	for _, row := range t.Rows {
		n := 0
		if simID != nil {
			args[n] = *simID
			n++
		}
		for i := range t.Columns {
			if i == skip {
				continue
			}
			var v any
			if i < len(row) {
				v = row[i]
			}
			args[n] = normalize(v)
			n++
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return nil
}
