package paddock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/models"
	"github.com/jward/paddock/internal/runner"
	"github.com/jward/paddock/internal/script"
	"github.com/jward/paddock/internal/simulation"
	"github.com/jward/paddock/internal/store"
	"github.com/jward/paddock/scripts"
)

// Engine ties the pipeline together: definitions are expanded into jobs,
// the jobs run on a worker pool, and their output lands in one SQLite
// datastore.
type Engine struct {
	store    *store.Store
	runtime  *script.Runtime
	registry *model.Registry
	logger   *zap.Logger

	scriptsDir string
	scriptsFS  fs.FS

	concurrency int
	single      bool
	progress    time.Duration
	recorder    runner.Recorder
	listeners   []job.Listener
	overrides   []model.Override

	mu     sync.Mutex
	active *runner.Runner
	last   runner.Status
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency sets the number of worker goroutines. Values below one
// mean one per CPU.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// WithSingleThreaded runs jobs one after another on the calling goroutine.
func WithSingleThreaded(single bool) Option {
	return func(e *Engine) {
		e.single = single
	}
}

// WithLogger sets the logger used by the engine, the runner and every
// component.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithScriptsDir makes Manager imports resolve against a directory on disk
// instead of the embedded library.
func WithScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithScriptsFS makes Manager imports resolve against fsys. It takes
// precedence over WithScriptsDir.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithRecorder reports runner activity, typically to a metrics collector.
func WithRecorder(rec runner.Recorder) Option {
	return func(e *Engine) {
		e.recorder = rec
	}
}

// WithListener adds a listener notified by every Run.
func WithListener(l job.Listener) Option {
	return func(e *Engine) {
		if l != nil {
			e.listeners = append(e.listeners, l)
		}
	}
}

// WithOverrides applies parameter overrides to every simulation before it
// is expanded.
func WithOverrides(ovs ...model.Override) Option {
	return func(e *Engine) {
		e.overrides = append(e.overrides, ovs...)
	}
}

// WithProgressInterval logs run progress at the given interval. Zero
// disables the progress monitor.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.progress = d
	}
}

// New creates an Engine backed by a SQLite database at dbPath.
// Manager import resolution:
//  1. If WithScriptsFS is set, use the provided fs.FS
//  2. Otherwise, if WithScriptsDir is set, use that directory
//  3. Otherwise, use the embedded script library
func New(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("paddock: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("paddock: migrate: %w", err)
	}

	e := &Engine{
		store:  s,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	rtOpts := []script.RuntimeOption{script.WithRuntimeLogger(e.logger)}
	switch {
	case e.scriptsFS != nil:
		rtOpts = append(rtOpts, script.WithRuntimeFS(e.scriptsFS))
	case e.scriptsDir == "":
		rtOpts = append(rtOpts, script.WithRuntimeFS(scripts.Library()))
	}
	e.runtime = script.NewRuntime(e.scriptsDir, rtOpts...)
	e.registry = models.NewRegistry(e.runtime)

	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying datastore for direct access.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Registry returns the component registry, so callers can add node types
// before running.
func (e *Engine) Registry() *model.Registry {
	return e.registry
}

// Run executes every job in plan and then the plan's queries. Job failures
// are reported in the summary, never as the returned error, which is kept
// for failures to record the run itself. Extra listeners are notified for
// this run only.
func (e *Engine) Run(ctx context.Context, plan *Plan, listeners ...job.Listener) (job.Summary, error) {
	logger := e.logger.With(zap.String("run_id", plan.ID))
	opts := []runner.Option{
		runner.WithSink(e.store),
		runner.WithLogger(logger),
		runner.WithConcurrency(e.concurrency),
		runner.WithSingleThreaded(e.single),
		runner.WithProgressInterval(e.progress),
		runner.WithPostProcess(e.postProcess(plan, logger)),
	}
	if e.recorder != nil {
		opts = append(opts, runner.WithRecorder(e.recorder))
	}
	for _, l := range append(append([]job.Listener(nil), e.listeners...), listeners...) {
		opts = append(opts, runner.WithListener(l))
	}
	exec := simulation.NewExecutor(e.registry, simulation.WithLogger(logger))
	r := runner.New(exec, opts...)

	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return job.Summary{}, errors.New("paddock: a run is already in progress")
	}
	e.active = r
	e.mu.Unlock()

	// Bookkeeping outlives cancellation so a cancelled run is still recorded.
	bctx := context.WithoutCancel(ctx)
	if err := e.store.BeginRun(bctx, store.Run{ID: plan.ID, StartedAt: time.Now(), Jobs: len(plan.Jobs)}); err != nil {
		e.mu.Lock()
		e.active = nil
		e.mu.Unlock()
		return job.Summary{}, fmt.Errorf("paddock: %w", err)
	}

	summary := r.Run(ctx, plan.Jobs)

	e.mu.Lock()
	e.active = nil
	e.last = r.Status()
	e.mu.Unlock()

	err := e.store.FinishRun(bctx, store.Run{
		ID:         plan.ID,
		FinishedAt: time.Now(),
		Jobs:       len(plan.Jobs),
		Failed:     summary.Failures(),
		Skipped:    len(summary.Skipped),
	})
	if err != nil {
		return summary, fmt.Errorf("paddock: %w", err)
	}
	return summary, nil
}

// postProcess runs the plan's queries once every job has been committed.
func (e *Engine) postProcess(plan *Plan, logger *zap.Logger) func(context.Context, *job.Summary) error {
	return func(ctx context.Context, s *job.Summary) error {
		logger.Info("simulation group completed",
			zap.Int("jobs", len(s.Results)),
			zap.Int("failed", s.Failures()))

		var errs []error
		for _, q := range plan.Queries {
			if err := e.runQuery(ctx, q); err != nil {
				errs = append(errs, fmt.Errorf("query %s: %w", q.Path, err))
				continue
			}
			logger.Debug("query table written", zap.String("table", q.Table))
		}
		return errors.Join(errs...)
	}
}

func (e *Engine) runQuery(ctx context.Context, q Query) error {
	t, err := e.store.Query(ctx, q.Table, q.SQL)
	if err != nil {
		return err
	}
	return e.store.ReplaceTable(ctx, t)
}

// Stop prevents the current run from starting further jobs. Jobs already
// running finish normally. Stop is a no-op when nothing is running.
func (e *Engine) Stop() {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

// Status reports the current run, or the final state of the last one.
func (e *Engine) Status() runner.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return e.active.Status()
	}
	return e.last
}

// ExportCSV writes every output table to "<base>.<Table>.csv".
func (e *Engine) ExportCSV(ctx context.Context, base string) ([]string, error) {
	paths, err := e.store.ExportCSV(ctx, base)
	if err != nil {
		return paths, fmt.Errorf("paddock: %w", err)
	}
	return paths, nil
}
