// Package simulation executes a single job: it instantiates the job's
// model graph, resolves links, connects every node to a private bus and
// drives the clock to completion.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/links"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/models"
	"github.com/jward/paddock/internal/output"
	"github.com/jward/paddock/internal/runner"
)

var _ runner.Executor = (*Executor)(nil)

// ErrNotSimulation is returned when a job's root is not a Simulation.
var ErrNotSimulation = errors.New("simulation: job root is not a simulation")

// Executor runs jobs against a registry of node types. It holds no
// per-job state and is safe for concurrent use.
type Executor struct {
	registry *model.Registry
	logger   *zap.Logger
	baseDir  string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger handed to components.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBaseDir resolves relative file parameters of jobs that carry no
// definition file.
func WithBaseDir(dir string) Option {
	return func(e *Executor) { e.baseDir = dir }
}

// NewExecutor creates an Executor building components from reg.
func NewExecutor(reg *model.Registry, opts ...Option) *Executor {
	e := &Executor{registry: reg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs d on a private copy of its graph. The returned tables hold
// everything the job emitted, including its factor levels and, on failure,
// an error row in the messages table.
func (e *Executor) Execute(ctx context.Context, d job.Descriptor) ([]*output.Table, error) {
	batch := output.NewBatch()
	writeFactors(batch, d)

	date, err := e.run(ctx, d, batch)
	if err != nil {
		models.WriteMessage(batch, "Simulation", date, err.Error(), models.Error)
	}
	return batch.Tables(), err
}

// run returns the simulated date reached, for error reporting.
func (e *Executor) run(ctx context.Context, d job.Descriptor, batch *output.Batch) (time.Time, error) {
	if d.Root == nil {
		return time.Time{}, fmt.Errorf("simulation %s: no model graph", d.Name)
	}
	root := d.Root.Clone()

	baseDir := e.baseDir
	if d.File != "" {
		baseDir = filepath.Dir(d.File)
	}
	env := model.Env{
		BaseDir: baseDir,
		Logger:  e.logger.With(zap.String("simulation", d.Name)),
		Output:  batch,
	}
	if err := e.registry.Build(root, env); err != nil {
		return time.Time{}, err
	}
	sim, ok := root.Component.(*models.Simulation)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s is a %s", ErrNotSimulation, root.Path(), root.Type)
	}
	if err := links.Resolve(root); err != nil {
		return time.Time{}, err
	}
	clk, ok := sim.Clock()
	if !ok {
		return time.Time{}, fmt.Errorf("simulation %s: no clock", d.Name)
	}

	bus := events.NewBus()
	if err := connect(root, bus); err != nil {
		bus.Close()
		return time.Time{}, err
	}
	err := clk.Run(ctx, bus)
	return clk.Today(), err
}

// connect calls Connect on every enabled node in pre-order, giving each an
// endpoint owned by its path.
func connect(root *model.Node, bus *events.Bus) error {
	return root.Walk(func(n *model.Node) error {
		if !n.Enabled {
			return model.SkipChildren
		}
		c, ok := n.Component.(model.Connector)
		if !ok {
			return nil
		}
		if err := c.Connect(bus.Endpoint(n.Path())); err != nil {
			return fmt.Errorf("simulation: connect %s: %w", n.Path(), err)
		}
		return nil
	})
}

func writeFactors(batch *output.Batch, d job.Descriptor) {
	for _, f := range d.Factors {
		batch.Add(output.FactorsTable,
			output.Field{Name: "ExperimentName", Value: d.Experiment},
			output.Field{Name: "FolderName", Value: d.Folder},
			output.Field{Name: "FactorName", Value: f.Factor},
			output.Field{Name: "FactorValue", Value: f.Level},
		)
	}
}
