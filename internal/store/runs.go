package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is one invocation of the engine over a set of jobs.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Jobs       int
	Failed     int
	Skipped    int
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO _Runs (ID, StartedAt, Jobs) VALUES (?, ?, ?)",
		r.ID, r.StartedAt.UTC().Format(time.RFC3339Nano), r.Jobs)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun records the outcome of a run started with BeginRun.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE _Runs SET FinishedAt = ?, Jobs = ?, Failed = ?, Skipped = ? WHERE ID = ?",
		r.FinishedAt.UTC().Format(time.RFC3339Nano), r.Jobs, r.Failed, r.Skipped, r.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: not started", r.ID)
	}
	return nil
}

// Runs returns every recorded run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ID, StartedAt, FinishedAt, Jobs, Failed, Skipped FROM _Runs ORDER BY StartedAt, ID")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Jobs, &r.Failed, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: started: %w", r.ID, err)
		}
		if finished.Valid {
			if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
				return nil, fmt.Errorf("run %s: finished: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
