package expand

import (
	"errors"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/model"
)

func node(t *testing.T, typ, name string, params model.Params, children ...*model.Node) *model.Node {
	t.Helper()
	n := model.NewNode(typ, name, params)
	for _, c := range children {
		require.NoError(t, n.AddChild(c))
	}
	return n
}

func sim(t *testing.T, name string) *model.Node {
	t.Helper()
	return node(t, "Simulation", name, nil,
		node(t, "Clock", "", model.Params{"start": "2000-01-01", "end": "2000-01-10"}),
		node(t, "Zone", "Field", nil,
			node(t, "Fertiliser", "", model.Params{"amount": 0}),
			node(t, "Manager", "Sow", model.Params{"cultivar": "Janz"}),
		),
	)
}

func param(t *testing.T, root *model.Node, path string) any {
	t.Helper()
	n, key, err := model.Locate(root, path)
	require.NoError(t, err)
	v, ok := n.Params.Get(key)
	require.True(t, ok, path)
	return v
}

// factorial builds an experiment with factors A:{a1,a2} and B:{b1,b2}.
func factorial(t *testing.T) *model.Node {
	t.Helper()
	return node(t, "Experiment", "Exp", nil,
		sim(t, "Base"),
		node(t, "Factors", "", nil,
			node(t, "Factor", "A", nil,
				node(t, "Level", "a1", model.Params{"overrides": map[string]any{"[Fertiliser].amount": 10}}),
				node(t, "Level", "a2", model.Params{"overrides": map[string]any{"[Fertiliser].amount": 20}}),
			),
			node(t, "Factor", "B", nil,
				node(t, "Level", "b1", model.Params{"overrides": map[string]any{"Field.Sow.cultivar": "Hartog"}}),
				node(t, "Level", "b2", model.Params{"overrides": map[string]any{"Field.Sow.cultivar": "Sunco"}}),
			),
		),
	)
}

func names(jobs []job.Descriptor) []string {
	out := make([]string, len(jobs))
	for i, d := range jobs {
		out[i] = d.Name
	}
	return out
}

// =============================================================================
// Plain simulations
// =============================================================================

func TestExpand_OneJobPerSimulation(t *testing.T) {
	t.Parallel()
	def := node(t, "Simulations", "", nil,
		sim(t, "North"),
		node(t, "Folder", "Trials", nil, sim(t, "South")),
		node(t, "Query", "Means", model.Params{"sql": "SELECT 1"}),
	)

	jobs, err := Expand(def, WithFile("/data/farm.yaml"))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "North", jobs[0].Name)
	assert.Equal(t, "Simulations", jobs[0].Folder)
	assert.Equal(t, "South", jobs[1].Name)
	assert.Equal(t, "Trials", jobs[1].Folder)
	assert.Equal(t, "/data/farm.yaml", jobs[1].File)

	// Descriptors own detached copies.
	assert.Nil(t, jobs[0].Root.Parent())
	assert.NotSame(t, def.Child("North"), jobs[0].Root)
}

func TestExpand_SkipsDisabled(t *testing.T) {
	t.Parallel()
	off := sim(t, "Off")
	off.Enabled = false
	folder := node(t, "Folder", "Old", nil, sim(t, "Archived"))
	folder.Enabled = false

	jobs, err := Expand(node(t, "Simulations", "", nil, sim(t, "On"), off, folder))
	require.NoError(t, err)
	assert.Equal(t, []string{"On"}, names(jobs))
}

func TestExpand_RootSimulation(t *testing.T) {
	t.Parallel()
	jobs, err := Expand(sim(t, "Solo"))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "", jobs[0].Folder)
}

func TestExpand_ModelOutsideSimulationIsError(t *testing.T) {
	t.Parallel()
	_, err := Expand(node(t, "Simulations", "", nil, node(t, "Weather", "", nil)))
	var ee *ExpansionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ".Simulations.Weather", ee.Path)
}

func TestExpand_DuplicateJobNames(t *testing.T) {
	t.Parallel()
	def := node(t, "Simulations", "", nil,
		node(t, "Folder", "A", nil, sim(t, "Same")),
		node(t, "Folder", "B", nil, sim(t, "Same")),
	)
	_, err := Expand(def)
	var ee *ExpansionError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, ee.Reason, "duplicate job name")
}

// =============================================================================
// Experiments
// =============================================================================

func TestExpand_FactorialCrossProduct(t *testing.T) {
	t.Parallel()
	jobs, err := Expand(node(t, "Simulations", "", nil, factorial(t)))
	require.NoError(t, err)

	want := []string{"ExpAa1Bb1", "ExpAa1Bb2", "ExpAa2Bb1", "ExpAa2Bb2"}
	if diff := cmp.Diff(want, names(jobs)); diff != "" {
		t.Fatalf("job names (-want +got):\n%s", diff)
	}

	again, err := Expand(node(t, "Simulations", "", nil, factorial(t)))
	require.NoError(t, err)
	assert.Equal(t, names(jobs), names(again))

	last := jobs[3]
	assert.Equal(t, "Exp", last.Experiment)
	assert.Equal(t, []job.FactorLevel{{Factor: "A", Level: "a2"}, {Factor: "B", Level: "b2"}}, last.Factors)
	assert.Equal(t, "ExpAa2Bb2", last.Root.Name)
	assert.Equal(t, 20, param(t, last.Root, "[Fertiliser].amount"))
	assert.Equal(t, "Sunco", param(t, last.Root, "Field.Sow.cultivar"))

	// Each job has its own graph.
	assert.Equal(t, 10, param(t, jobs[0].Root, "[Fertiliser].amount"))
	assert.Equal(t, "Hartog", param(t, jobs[0].Root, "Field.Sow.cultivar"))
}

func TestExpand_FactorWithPathAndLevels(t *testing.T) {
	t.Parallel()
	exp := node(t, "Experiment", "N", nil,
		sim(t, "Base"),
		node(t, "Factors", "", nil,
			node(t, "Factor", "Rate", model.Params{"path": "[Fertiliser].amount", "levels": []any{0, 50, 12.5}}),
		),
	)
	jobs, err := Expand(exp)
	require.NoError(t, err)
	assert.Equal(t, []string{"NRate0", "NRate50", "NRate12_5"}, names(jobs))
	assert.Equal(t, 12.5, param(t, jobs[2].Root, "[Fertiliser].amount"))
	assert.Equal(t, "12_5", jobs[2].Factors[0].Level)
}

func TestExpand_ExperimentErrors(t *testing.T) {
	t.Parallel()
	cases := map[string]*model.Node{
		"no base simulation": node(t, "Experiment", "E", nil, node(t, "Factors", "", nil)),
		"no factors":         node(t, "Experiment", "E", nil, sim(t, "Base")),
		"factor has no levels": node(t, "Experiment", "E", nil, sim(t, "Base"),
			node(t, "Factors", "", nil, node(t, "Factor", "Empty", nil))),
		"levels given without a path": node(t, "Experiment", "E", nil, sim(t, "Base"),
			node(t, "Factors", "", nil, node(t, "Factor", "F", model.Params{"levels": []any{1}}))),
		"duplicate level": node(t, "Experiment", "E", nil, sim(t, "Base"),
			node(t, "Factors", "", nil, node(t, "Factor", "F", model.Params{"path": "[Fertiliser].amount", "levels": []any{1, 1}}))),
		`no node named "Irrigation"`: node(t, "Experiment", "E", nil, sim(t, "Base"),
			node(t, "Factors", "", nil, node(t, "Factor", "F", model.Params{"path": "[Irrigation].amount", "levels": []any{1}}))),
	}
	for reason, def := range cases {
		_, err := Expand(def)
		var ee *ExpansionError
		require.True(t, errors.As(err, &ee), reason)
		assert.Contains(t, ee.Error(), reason)
	}
}

// =============================================================================
// Options
// =============================================================================

func TestExpand_NameFilter(t *testing.T) {
	t.Parallel()
	jobs, err := Expand(factorial(t), WithNames(regexp.MustCompile(`Bb2$`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"ExpAa1Bb2", "ExpAa2Bb2"}, names(jobs))

	// Duplicates are detected before filtering.
	def := node(t, "Simulations", "", nil,
		node(t, "Folder", "A", nil, sim(t, "Same")),
		node(t, "Folder", "B", nil, sim(t, "Same")),
	)
	_, err = Expand(def, WithNames(regexp.MustCompile("^$")))
	require.Error(t, err)
}

func TestExpand_OverridesApplyBeforeFactors(t *testing.T) {
	t.Parallel()
	jobs, err := Expand(factorial(t), WithOverrides(
		model.Override{Path: "[Fertiliser].amount", Value: 99},
		model.Override{Path: "Clock.end", Value: "2000-12-31"},
	))
	require.NoError(t, err)
	for _, d := range jobs {
		assert.Equal(t, "2000-12-31", param(t, d.Root, "Clock.end"), d.Name)
	}
	assert.Equal(t, 10, param(t, jobs[0].Root, "[Fertiliser].amount"), "factor levels win")
}

func TestExpand_OverrideOnlyWhereAddressed(t *testing.T) {
	t.Parallel()
	other := node(t, "Simulation", "Bare", nil,
		node(t, "Clock", "", model.Params{"start": "2000-01-01", "end": "2000-01-10"}))
	def := node(t, "Simulations", "", nil, sim(t, "Full"), other)

	jobs, err := Expand(def, WithOverrides(model.Override{Path: "Field.Sow.cultivar", Value: "Spitfire"}))
	require.NoError(t, err)
	assert.Equal(t, "Spitfire", param(t, jobs[0].Root, "Field.Sow.cultivar"))
	_, ok := jobs[1].Root.Params.Get("Field")
	assert.False(t, ok)

	_, err = Expand(def, WithOverrides(model.Override{Path: "[Irrigation].amount", Value: 1}))
	var ee *ExpansionError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, ee.Reason, "matches no simulation")
}

func TestExpand_OverrideCanDisableNode(t *testing.T) {
	t.Parallel()
	jobs, err := Expand(sim(t, "S"), WithOverrides(model.Override{Path: "[Sow].enabled", Value: false}))
	require.NoError(t, err)
	assert.False(t, jobs[0].Root.Child("Field").Child("Sow").Enabled)
}

func testRegistry() *model.Registry {
	reg := model.NewRegistry()
	build := func(*model.Node, model.Env) (model.Component, error) { return nil, nil }
	reg.Register("Simulation", build)
	reg.Register("Zone", build)
	reg.Register("Clock", build, struct {
		Start string `mapstructure:"start"`
		End   string `mapstructure:"end"`
	}{})
	reg.Register("Fertiliser", build, struct {
		Amount float64 `mapstructure:"amount"`
	}{})
	reg.Register("Manager", build, struct {
		Cultivar string `mapstructure:"cultivar"`
	}{})
	return reg
}

func TestExpand_MisspelledFactorPathIsError(t *testing.T) {
	t.Parallel()
	exp := node(t, "Experiment", "N", nil,
		sim(t, "Base"),
		node(t, "Factors", "", nil,
			node(t, "Factor", "Rate", model.Params{"path": "[Fertiliser].amuont", "levels": []any{0, 50, 100}}),
		),
	)
	jobs, err := Expand(exp, WithRegistry(testRegistry()))
	assert.Nil(t, jobs)
	var ee *ExpansionError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, ee.Reason, `Fertiliser has no parameter "amuont"`)

	jobs, err = Expand(factorial(t), WithRegistry(testRegistry()))
	require.NoError(t, err)
	assert.Len(t, jobs, 4)
}

func TestExpand_MisspelledOverrideIsError(t *testing.T) {
	t.Parallel()
	_, err := Expand(sim(t, "S"), WithRegistry(testRegistry()),
		WithOverrides(model.Override{Path: "Clock.ends", Value: "2000-12-31"}))
	var ee *ExpansionError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, ee.Reason, `Clock has no parameter "ends"`)

	jobs, err := Expand(sim(t, "S"), WithRegistry(testRegistry()),
		WithOverrides(model.Override{Path: "[Sow].enabled", Value: false}))
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestNames(t *testing.T) {
	t.Parallel()
	got, err := Names(factorial(t))
	require.NoError(t, err)
	assert.Len(t, got, 4)
}
