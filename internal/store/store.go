package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Names of the tables the store maintains itself. Every other table holds
// simulation output keyed by SimulationID.
const (
	SimulationsTable = "_Simulations"
	RunsTable        = "_Runs"
)

// SimulationIDColumn links every output row to its _Simulations row.
const SimulationIDColumn = "SimulationID"

// Store is the SQLite datastore simulation results are written to.
type Store struct {
	db *sql.DB

	// mu serializes writers. SQLite allows one writer at a time and the
	// column cache must agree with the schema those writers produce.
	mu   sync.Mutex
	cols map[string]map[string]bool
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the bookkeeping tables. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS _Simulations (
  ID              INTEGER PRIMARY KEY,
  Name            TEXT NOT NULL UNIQUE,
  FolderName      TEXT
);

CREATE TABLE IF NOT EXISTS _Runs (
  ID              TEXT PRIMARY KEY,
  StartedAt       TEXT NOT NULL,
  FinishedAt      TEXT,
  Jobs            INTEGER NOT NULL DEFAULT 0,
  Failed          INTEGER NOT NULL DEFAULT 0,
  Skipped         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _Messages (
  SimulationID    INTEGER REFERENCES _Simulations(ID),
  ComponentName   TEXT,
  Date            TEXT,
  Message         TEXT,
  MessageType     TEXT
);

CREATE TABLE IF NOT EXISTS _Factors (
  SimulationID    INTEGER REFERENCES _Simulations(ID),
  ExperimentName  TEXT,
  FolderName      TEXT,
  FactorName      TEXT,
  FactorValue     TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_simulation ON _Messages(SimulationID);
CREATE INDEX IF NOT EXISTS idx_factors_simulation ON _Factors(SimulationID);
`

// internalTable reports whether name is bookkeeping rather than output.
func internalTable(name string) bool {
	switch strings.ToLower(name) {
	case strings.ToLower(SimulationsTable), strings.ToLower(RunsTable):
		return true
	}
	return strings.HasPrefix(strings.ToLower(name), "sqlite_")
}
