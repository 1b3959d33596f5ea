// Package output holds the result tables a simulation emits and the
// per-job buffer they are collected in before being committed to a sink.
package output

import (
	"context"
	"sync"
)

// Reserved table names written by the engine itself.
const (
	MessagesTable = "_Messages"
	FactorsTable  = "_Factors"
)

// Field is one named value of a row.
type Field struct {
	Name  string
	Value any
}

// Table is a named, column-ordered set of rows.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any

	index map[string]int
}

// NewTable creates an empty table.
func NewTable(name string, columns ...string) *Table {
	t := &Table{Name: name, index: make(map[string]int)}
	for _, c := range columns {
		t.column(c)
	}
	return t
}

func (t *Table) indexOf(name string) (int, bool) {
	if t.index == nil {
		t.index = make(map[string]int, len(t.Columns))
		for i, c := range t.Columns {
			t.index[c] = i
		}
	}
	i, ok := t.index[name]
	return i, ok
}

func (t *Table) column(name string) int {
	if i, ok := t.indexOf(name); ok {
		return i
	}
	t.Columns = append(t.Columns, name)
	t.index[name] = len(t.Columns) - 1
	return len(t.Columns) - 1
}

// Append adds a row. Columns not seen before are added to the table and
// earlier rows read nil for them.
func (t *Table) Append(fields ...Field) {
	row := make([]any, len(t.Columns))
	for _, f := range fields {
		i := t.column(f.Name)
		for len(row) <= i {
			row = append(row, nil)
		}
		row[i] = f.Value
	}
	t.Rows = append(t.Rows, row)
}

// Value returns the cell at row i in the named column.
func (t *Table) Value(i int, column string) (any, bool) {
	c, ok := t.indexOf(column)
	if !ok || i < 0 || i >= len(t.Rows) {
		return nil, false
	}
	if c >= len(t.Rows[i]) {
		return nil, true
	}
	return t.Rows[i][c], true
}

// Batch buffers the tables one job emits. Tables keep the order in which
// they were first written.
type Batch struct {
	mu     sync.Mutex
	tables []*Table
	byName map[string]*Table
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{byName: make(map[string]*Table)}
}

// Add appends a row to the named table, creating the table on first use.
func (b *Batch) Add(table string, fields ...Field) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.byName[table]
	if !ok {
		t = NewTable(table)
		b.byName[table] = t
		b.tables = append(b.tables, t)
	}
	t.Append(fields...)
}

// Tables returns the buffered tables.
func (b *Batch) Tables() []*Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Table(nil), b.tables...)
}

// Table returns the named table, or nil.
func (b *Batch) Table(name string) *Table {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byName[name]
}

// Rows returns the total number of buffered rows.
func (b *Batch) Rows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.tables {
		n += len(t.Rows)
	}
	return n
}

// Sink receives the tables of one finished simulation. Implementations
// decide how concurrent writes are made safe; the runner calls Write from a
// single goroutine.
type Sink interface {
	WriteTables(ctx context.Context, simulation, folder string, tables []*Table) error
}
