// Package job defines the values that flow between the expander, the
// runner and whoever listens for completion.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/output"
)

// FactorLevel records which level of a factor produced a job.
type FactorLevel struct {
	Factor string
	Level  string
}

// Descriptor is one fully materialized, independently runnable simulation.
// It must not be modified once handed to a runner.
type Descriptor struct {
	Name string
	// Root is the job's own copy of the simulation graph.
	Root *model.Node
	// File is the definition the job came from, if any.
	File string
	// Folder is the path of the folder or experiment containing the job.
	Folder     string
	Experiment string
	Factors    []FactorLevel
}

// Result is produced exactly once per descriptor that was started.
type Result struct {
	Name    string
	Index   int
	Err     error
	Elapsed time.Duration
	Tables  []*output.Table
}

// Success reports whether the job finished without error.
func (r Result) Success() bool { return r.Err == nil }

// Errors returns the individual errors carried by the result.
func (r Result) Errors() []error {
	if r.Err == nil {
		return nil
	}
	if j, ok := r.Err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{r.Err}
}

// Completed is emitted as each job finishes.
type Completed struct {
	Name     string
	Success  bool
	Err      error
	Elapsed  time.Duration
	Finished int
	Total    int
}

// CompletedFrom builds the notification for r.
func CompletedFrom(r Result, finished, total int) Completed {
	return Completed{
		Name:     r.Name,
		Success:  r.Success(),
		Err:      r.Err,
		Elapsed:  r.Elapsed,
		Finished: finished,
		Total:    total,
	}
}

// Summary is the aggregate emitted once every job has finished or been
// skipped. Results are ordered as the descriptors were.
type Summary struct {
	Results []Result
	// Errors holds every job error prefixed with the job name, followed by
	// errors raised outside any single job.
	Errors  []error
	Skipped []string
	Elapsed time.Duration
}

// Failed reports whether any job failed, any job was skipped or any
// aggregate error was recorded.
func (s Summary) Failed() bool {
	return len(s.Errors) > 0 || len(s.Skipped) > 0
}

// Failures returns the number of failed jobs.
func (s Summary) Failures() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success() {
			n++
		}
	}
	return n
}

// ExitCode maps the summary onto a process exit status.
func (s Summary) ExitCode() int {
	if s.Failed() {
		return 1
	}
	return 0
}

// Err joins every aggregate error, or returns nil.
func (s Summary) Err() error {
	return errors.Join(s.Errors...)
}

// AddError records an error raised outside any single job.
func (s *Summary) AddError(err error) {
	if err != nil {
		s.Errors = append(s.Errors, err)
	}
}

// JobError prefixes err with the job name.
func JobError(name string, err error) error {
	return fmt.Errorf("%s: %w", name, err)
}

// Listener receives completion notifications. Calls are serialized.
type Listener interface {
	JobCompleted(Completed)
	AllJobsCompleted(Summary)
}

// ListenerFuncs adapts plain functions to Listener. Nil funcs are skipped.
type ListenerFuncs struct {
	OnJob func(Completed)
	OnAll func(Summary)
}

func (l ListenerFuncs) JobCompleted(c Completed) {
	if l.OnJob != nil {
		l.OnJob(c)
	}
}

func (l ListenerFuncs) AllJobsCompleted(s Summary) {
	if l.OnAll != nil {
		l.OnAll(s)
	}
}
