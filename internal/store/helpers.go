package store

import (
	"fmt"
	"strings"
	"time"
)

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// stringsToArgs converts []string to []any for use with database/sql.
func stringsToArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

// quoteIdent quotes a table or column name for SQLite.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// validName rejects identifiers SQLite cannot hold.
func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("name %q contains NUL", name)
	}
	return nil
}

// sqlType picks the declared column type for a Go value. An empty result
// leaves the column untyped.
func sqlType(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return "INTEGER"
	case float32, float64:
		return "REAL"
	}
	return "TEXT"
}

// normalize converts a cell into something the sqlite3 driver stores the way
// it reads back: times become text, unknown types are printed.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, bool, string, []byte:
		return v
	case time.Time:
		return formatTime(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// formatTime writes dates without a clock component as plain dates.
func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}
