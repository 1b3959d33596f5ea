// Package runner executes job descriptors on a bounded worker pool.
//
// Run works in three phases:
//
//	Dispatch (serial):   descriptors are handed out one at a time until the
//	                     queue drains, Stop is called or the context ends.
//	Execute (parallel):  each worker runs one job to completion before taking
//	                     the next; panics and errors stay with that job.
//	Aggregate (serial):  the calling goroutine commits each job's tables to
//	                     the sink and notifies listeners, one job at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/links"
	"github.com/jward/paddock/internal/output"
)

// ErrStopped is added to the summary when descriptors were never started.
var ErrStopped = errors.New("runner: stopped before all jobs started")

// PanicError carries a panic recovered at the worker boundary.
type PanicError struct {
	Job   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("runner: job %s panicked: %v", e.Job, e.Value)
}

// SinkError wraps a failure to commit a job's tables.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string { return "runner: write results: " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }

// Executor runs one job and returns the tables it produced. Tables are
// returned even when err is non-nil so partial output can be kept.
type Executor interface {
	Execute(ctx context.Context, d job.Descriptor) ([]*output.Table, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, d job.Descriptor) ([]*output.Table, error)

func (f ExecutorFunc) Execute(ctx context.Context, d job.Descriptor) ([]*output.Table, error) {
	return f(ctx, d)
}

// Failure kinds reported to the Recorder.
const (
	KindLink     = "link"
	KindHandler  = "handler"
	KindPanic    = "panic"
	KindSink     = "sink"
	KindCanceled = "canceled"
	KindOther    = "other"
)

// Recorder receives runner activity, typically for metrics.
type Recorder interface {
	JobStarted()
	JobFinished(success bool, kind string, elapsed time.Duration)
	JobSkipped()
	WorkerPoolStatus(busy, idle int)
	QueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) JobStarted()                             {}
func (nopRecorder) JobFinished(bool, string, time.Duration) {}
func (nopRecorder) JobSkipped()                             {}
func (nopRecorder) WorkerPoolStatus(int, int)               {}
func (nopRecorder) QueueDepth(int)                          {}

// Classify names the kind of failure err represents, or "" for nil.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var (
		pe *PanicError
		se *SinkError
		le *links.LinkError
		he *events.HandlerError
	)
	switch {
	case errors.As(err, &pe):
		return KindPanic
	case errors.As(err, &le):
		return KindLink
	case errors.As(err, &he):
		return KindHandler
	case errors.As(err, &se):
		return KindSink
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindOther
}

// Status is a point-in-time view of a run.
type Status struct {
	Running   bool          `json:"running"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Workers   int           `json:"workers"`
	Busy      int           `json:"busy"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Pending returns the number of jobs neither finished nor skipped nor running.
func (s Status) Pending() int {
	return max(0, s.Total-s.Completed-s.Skipped-s.Busy)
}

// Runner owns the worker pool. A Runner can run several batches one after
// another; once stopped it stays stopped.
type Runner struct {
	exec        Executor
	concurrency int
	single      bool
	sink        output.Sink
	logger      *zap.Logger
	recorder    Recorder
	listeners   []job.Listener
	interval    time.Duration
	post        []func(context.Context, *job.Summary) error

	stopOnce sync.Once
	stopCh   chan struct{}

	mu      sync.Mutex
	status  Status
	started time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds the number of jobs running at once. Values below 1
// mean one worker per CPU.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithSingleThreaded runs every job on the calling goroutine, in order.
func WithSingleThreaded(single bool) Option {
	return func(r *Runner) { r.single = single }
}

// WithSink sets where each job's tables are committed.
func WithSink(s output.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder sets the activity recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithListener adds a completion listener. Listeners are called in the
// order they were added.
func WithListener(l job.Listener) Option {
	return func(r *Runner) {
		if l != nil {
			r.listeners = append(r.listeners, l)
		}
	}
}

// WithProgressInterval enables the progress monitor. Zero disables it.
func WithProgressInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// WithPostProcess adds a step run after every job has finished and before
// listeners receive the summary. Its error joins the summary's errors.
func WithPostProcess(fn func(context.Context, *job.Summary) error) Option {
	return func(r *Runner) {
		if fn != nil {
			r.post = append(r.post, fn)
		}
	}
}

// New creates a Runner around exec.
func New(exec Executor, opts ...Option) *Runner {
	r := &Runner{
		exec:     exec,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = runtime.NumCPU()
	}
	return r
}

// Stop prevents any further descriptor from being started. Jobs already
// running finish normally. Safe to call from any goroutine, repeatedly.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Runner) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// Status returns a snapshot of the current or last run.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	if s.Running {
		s.Elapsed = time.Since(r.started)
	}
	return s
}

func (r *Runner) update(fn func(*Status)) {
	r.mu.Lock()
	fn(&r.status)
	r.mu.Unlock()
}

type task struct {
	index int
	d     job.Descriptor
}

type outcome struct {
	index   int
	skipped bool
	result  job.Result
	tables  []*output.Table
}

// Run executes jobs and returns the aggregate summary. Exactly one Result is
// produced per started descriptor; descriptors that were never started are
// listed in Summary.Skipped. Run does not return until every started job
// has finished.
func (r *Runner) Run(ctx context.Context, jobs []job.Descriptor) job.Summary {
	start := time.Now()
	workers := 1
	if !r.single {
		workers = max(1, min(r.concurrency, len(jobs)))
	}

	r.mu.Lock()
	r.started = start
	r.status = Status{Running: true, Total: len(jobs), Workers: workers}
	r.mu.Unlock()

	var monitor *Monitor
	if r.interval > 0 {
		monitor = NewMonitor(r, r.interval, r.logger)
		monitor.Start()
	}

	r.logger.Info("running jobs",
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", workers),
		zap.Bool("single_threaded", r.single))

	agg := newAggregator(r, ctx, jobs)
	if r.single {
		for i, d := range jobs {
			if r.stopped() || ctx.Err() != nil {
				agg.add(outcome{index: i, skipped: true})
				continue
			}
			agg.add(r.execute(ctx, task{index: i, d: d}))
		}
	} else {
		r.runParallel(ctx, jobs, workers, agg)
	}

	if monitor != nil {
		monitor.Stop()
	}

	summary := agg.summary()
	for _, fn := range r.post {
		summary.AddError(fn(context.WithoutCancel(ctx), &summary))
	}
	summary.Elapsed = time.Since(start)

	r.update(func(s *Status) {
		s.Running = false
		s.Busy = 0
		s.Elapsed = summary.Elapsed
	})

	for _, l := range r.listeners {
		l.AllJobsCompleted(summary)
	}

	r.logger.Info("all jobs completed",
		zap.Int("jobs", len(jobs)),
		zap.Int("failed", summary.Failures()),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Duration("elapsed", summary.Elapsed))
	return summary
}

func (r *Runner) runParallel(ctx context.Context, jobs []job.Descriptor, workers int, agg *aggregator) {
	queue := make(chan task)
	results := make(chan outcome, workers)

	go func() {
		defer close(queue)
		for i, d := range jobs {
			select {
			case queue <- task{index: i, d: d}:
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				// Stop may have raced the hand-off.
				if r.stopped() || ctx.Err() != nil {
					results <- outcome{index: t.index, skipped: true}
					continue
				}
				results <- r.execute(ctx, t)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for o := range results {
		agg.add(o)
	}
}

// execute runs one job, converting panics into a PanicError.
func (r *Runner) execute(ctx context.Context, t task) (o outcome) {
	name := t.d.Name
	r.update(func(s *Status) { s.Busy++ })
	r.recorder.JobStarted()
	r.logger.Debug("job started", zap.String("job", name), zap.Int("index", t.index))

	start := time.Now()
	o = outcome{index: t.index, result: job.Result{Name: name, Index: t.index}}
	defer func() {
		if v := recover(); v != nil {
			o.result.Err = &PanicError{Job: name, Value: v, Stack: debug.Stack()}
		}
		o.result.Elapsed = time.Since(start)
		r.update(func(s *Status) { s.Busy-- })
	}()

	o.tables, o.result.Err = r.exec.Execute(ctx, t.d)
	return o
}

// aggregator is only touched by the goroutine that called Run.
type aggregator struct {
	r        *Runner
	ctx      context.Context
	jobs     []job.Descriptor
	finished int
	seen     []bool
	skipped  []bool
	results  []job.Result
}

func newAggregator(r *Runner, ctx context.Context, jobs []job.Descriptor) *aggregator {
	n := len(jobs)
	return &aggregator{
		r:       r,
		ctx:     ctx,
		jobs:    jobs,
		seen:    make([]bool, n),
		skipped: make([]bool, n),
		results: make([]job.Result, n),
	}
}

func (a *aggregator) add(o outcome) {
	a.seen[o.index] = true
	if o.skipped {
		a.skipped[o.index] = true
		a.r.recorder.JobSkipped()
		a.r.update(func(s *Status) { s.Skipped++ })
		return
	}

	res := o.result
	if a.r.sink != nil && len(o.tables) > 0 {
		if err := a.commit(o); err != nil {
			res.Err = errors.Join(res.Err, &SinkError{Err: err})
		}
	}
	res.Tables = o.tables
	a.results[o.index] = res
	a.finished++

	kind := Classify(res.Err)
	a.r.recorder.JobFinished(res.Success(), kind, res.Elapsed)
	a.r.update(func(s *Status) {
		s.Completed++
		if !res.Success() {
			s.Failed++
		}
	})

	if res.Success() {
		a.r.logger.Info("job finished",
			zap.String("job", res.Name),
			zap.Duration("elapsed", res.Elapsed))
	} else {
		a.r.logger.Error("job failed",
			zap.String("job", res.Name),
			zap.String("kind", kind),
			zap.Duration("elapsed", res.Elapsed),
			zap.Error(res.Err))
	}

	c := job.CompletedFrom(res, a.finished, len(a.jobs))
	for _, l := range a.r.listeners {
		l.JobCompleted(c)
	}
}

// commit writes a job's tables. Cancellation of the run does not abandon
// output already produced.
func (a *aggregator) commit(o outcome) error {
	d := a.jobs[o.index]
	return a.r.sink.WriteTables(context.WithoutCancel(a.ctx), d.Name, d.Folder, o.tables)
}

func (a *aggregator) summary() job.Summary {
	var s job.Summary
	for i, d := range a.jobs {
		if !a.seen[i] || a.skipped[i] {
			s.Skipped = append(s.Skipped, d.Name)
			continue
		}
		res := a.results[i]
		s.Results = append(s.Results, res)
		if res.Err != nil {
			s.Errors = append(s.Errors, job.JobError(res.Name, res.Err))
		}
	}
	if n := len(s.Skipped); n > 0 {
		s.AddError(fmt.Errorf("%w: %d of %d skipped", ErrStopped, n, len(a.jobs)))
		// Descriptors never handed to a worker were not counted yet.
		a.r.update(func(st *Status) { st.Skipped = n })
	}
	return s
}
