package simulation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/models"
	"github.com/jward/paddock/internal/output"
	"github.com/jward/paddock/internal/script"
	"github.com/jward/paddock/internal/simulation"
)

func newExecutor() *simulation.Executor {
	return simulation.NewExecutor(models.NewRegistry(script.NewRuntime("")))
}

func threeDays(t *testing.T) *model.Node {
	t.Helper()
	root := model.NewNode("Simulation", "Sim", nil)
	for _, c := range []*model.Node{
		model.NewNode("Clock", "Clock", model.Params{"start": "2000-01-01", "end": "2000-01-03"}),
		model.NewNode("Weather", "Weather", model.Params{"maxt": 25, "mint": 5}),
		model.NewNode("ThermalTime", "ThermalTime", nil),
		model.NewNode("Report", "Report", model.Params{"variables": []any{"[ThermalTime].Cumulative as TT"}}),
	} {
		require.NoError(t, root.AddChild(c))
	}
	return root
}

func rows(t *testing.T, tables []*output.Table, name string) [][]any {
	t.Helper()
	for _, tbl := range tables {
		if tbl.Name == name {
			return tbl.Rows
		}
	}
	require.Failf(t, "missing table", "no table %q", name)
	return nil
}

// =============================================================================
// Execute
// =============================================================================

func TestExecutor_NilRoot(t *testing.T) {
	t.Parallel()
	tables, err := newExecutor().Execute(context.Background(), job.Descriptor{Name: "Empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model graph")
	assert.Len(t, rows(t, tables, output.MessagesTable), 1)
}

func TestExecutor_RepeatableOnSameDescriptor(t *testing.T) {
	t.Parallel()
	d := job.Descriptor{Name: "Sim", Root: threeDays(t)}
	exec := newExecutor()

	first, err := exec.Execute(context.Background(), d)
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), d)
	require.NoError(t, err)

	assert.Len(t, rows(t, first, "Report"), 3)
	assert.Equal(t, rows(t, first, "Report"), rows(t, second, "Report"))
	assert.Nil(t, d.Root.Component, "descriptor graph is never built")
}

func TestExecutor_ConcurrentExecutions(t *testing.T) {
	t.Parallel()
	d := job.Descriptor{Name: "Sim", Root: threeDays(t)}
	exec := newExecutor()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = exec.Execute(context.Background(), d)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tables, err := newExecutor().Execute(ctx, job.Descriptor{Name: "Sim", Root: threeDays(t)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, rows(t, tables, output.MessagesTable), 1)
}
