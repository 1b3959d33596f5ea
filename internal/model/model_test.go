package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct {
	caps  []Capability
	slots []*Slot
}

func (s *stub) Capabilities() []Capability { return s.caps }
func (s *stub) Links() []*Slot             { return s.slots }

func add(t *testing.T, parent *Node, typ, name string) *Node {
	t.Helper()
	n := NewNode(typ, name, nil)
	require.NoError(t, parent.AddChild(n))
	return n
}

// =============================================================================
// Tree structure
// =============================================================================

func TestNewNode_DefaultsNameToType(t *testing.T) {
	t.Parallel()
	n := NewNode("Clock", "", nil)
	assert.Equal(t, "Clock", n.Name)
	assert.True(t, n.Enabled)
	assert.NotNil(t, n.Params)
}

func TestAddChild_RejectsDuplicateSiblingName(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	add(t, root, "Zone", "Field")

	err := root.AddChild(NewNode("Zone", "Field", nil))
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Len(t, root.Children(), 1)
}

func TestAddChild_RejectsAttachedNodeAndCycles(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	field := add(t, root, "Zone", "Field")

	other := NewNode("Folder", "Other", nil)
	require.Error(t, other.AddChild(field), "field already has a parent")

	detached := NewNode("Folder", "Loop", nil)
	inner := add(t, detached, "Folder", "Inner")
	require.Error(t, inner.AddChild(detached))
}

func TestPath_And_Root(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulations", "", nil)
	sim := add(t, root, "Simulation", "Base")
	field := add(t, sim, "Zone", "Field")

	assert.Equal(t, ".Simulations.Base.Field", field.Path())
	assert.Same(t, root, field.Root())
	assert.Same(t, sim, field.Parent())
}

func TestWalk_PreOrderWithSkip(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	a := add(t, root, "Zone", "A")
	add(t, a, "Report", "A1")
	b := add(t, root, "Zone", "B")
	add(t, b, "Report", "B1")

	var seen []string
	require.NoError(t, root.Walk(func(n *Node) error {
		seen = append(seen, n.Name)
		if n.Name == "A" {
			return SkipChildren
		}
		return nil
	}))
	assert.Equal(t, []string{"Sim", "A", "B", "B1"}, seen)

	stop := errors.New("stop")
	err := root.Walk(func(n *Node) error {
		if n.Name == "B" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
}

func TestClone_DeepCopiesParamsAndDropsComponents(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	field := add(t, root, "Zone", "Field")
	field.Params["nested"] = map[string]any{"k": 1}
	field.Params["list"] = []any{1, 2}
	field.Component = &stub{}

	cp := root.Clone()
	cpField := cp.Child("Field")
	require.NotNil(t, cpField)
	assert.Nil(t, cpField.Component)
	assert.Same(t, cp, cpField.Parent())

	require.NoError(t, cpField.Params.Set("nested.k", 2))
	v, _ := field.Params.Get("nested.k")
	assert.Equal(t, 1, v, "original untouched")
}

func TestPruneDisabled(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	add(t, root, "Zone", "Keep")
	off := add(t, root, "Zone", "Off")
	off.Enabled = false

	root.PruneDisabled()
	require.Len(t, root.Children(), 1)
	assert.Equal(t, "Keep", root.Children()[0].Name)
	assert.Nil(t, off.Parent())
}

// =============================================================================
// Params
// =============================================================================

func TestParams_Decode(t *testing.T) {
	t.Parallel()
	var cfg struct {
		Start time.Time     `mapstructure:"start"`
		Base  float64       `mapstructure:"base"`
		Every time.Duration `mapstructure:"every"`
		Tags  []string      `mapstructure:"tags"`
	}
	p := Params{"Start": "2000-03-01", "base": "8", "every": "1h", "tags": "a,b"}
	require.NoError(t, p.Decode(&cfg))
	assert.Equal(t, time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Start)
	assert.Equal(t, 8.0, cfg.Base)
	assert.Equal(t, time.Hour, cfg.Every)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
}

func TestParams_Decode_BadDate(t *testing.T) {
	t.Parallel()
	var cfg struct {
		Start time.Time `mapstructure:"start"`
	}
	require.Error(t, Params{"start": "March"}.Decode(&cfg))
}

func TestParams_Decode_RejectsUnusedKeys(t *testing.T) {
	t.Parallel()
	var cfg struct {
		Amount float64 `mapstructure:"amount"`
	}
	err := Params{"amuont": 50}.Decode(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amuont")
}

func TestParams_SetIsCaseInsensitiveForExistingKeys(t *testing.T) {
	t.Parallel()
	p := Params{"Amount": 10}
	require.NoError(t, p.Set("amount", 50))
	assert.Equal(t, Params{"Amount": 50}, p)

	require.NoError(t, p.Set("handlers.DoManagement", "x := 1"))
	v, ok := p.Get("Handlers.domanagement")
	require.True(t, ok)
	assert.Equal(t, "x := 1", v)

	require.Error(t, p.Set("Amount.sub", 1), "scalar cannot hold a nested key")
}

// =============================================================================
// Paths and overrides
// =============================================================================

func TestLocate_BracketForm(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	field := add(t, root, "Zone", "Field")
	fert := add(t, field, "Fertiliser", "Fert")

	n, key, err := Locate(root, "[Fert].amount")
	require.NoError(t, err)
	assert.Same(t, fert, n)
	assert.Equal(t, "amount", key)

	_, _, err = Locate(root, "[Missing].amount")
	var pe *PathError
	require.ErrorAs(t, err, &pe)

	add(t, root, "Fertiliser", "Fert")
	_, _, err = Locate(root, "[Fert].amount")
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "2 nodes")
}

func TestLocate_DottedForm(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	field := add(t, root, "Zone", "Field")
	sow := add(t, field, "Manager", "Sow")

	n, key, err := Locate(root, ".Field.Sow.parameters.density")
	require.NoError(t, err)
	assert.Same(t, sow, n)
	assert.Equal(t, "parameters.density", key)

	_, _, err = Locate(root, "Field.Sow")
	require.Error(t, err)
}

func TestApply_SetsParameterAndEnabled(t *testing.T) {
	t.Parallel()
	root := NewNode("Simulation", "Sim", nil)
	fert := add(t, root, "Fertiliser", "Fert")

	require.NoError(t, Apply(root, Override{Path: "[Fert].amount", Value: 100}))
	assert.Equal(t, 100, fert.Params["amount"])

	require.NoError(t, Apply(root, Override{Path: "[Fert].enabled", Value: false}))
	assert.False(t, fert.Enabled)

	require.Error(t, Apply(root, Override{Path: "[Fert].enabled", Value: "no"}))
}

// =============================================================================
// Slots and registry
// =============================================================================

func TestSlot_As(t *testing.T) {
	t.Parallel()
	s := NewSlot("clock", "clock", In(ScopeChild), Optional(), Named("Clock"))
	assert.Equal(t, ScopeChild, s.Scope)
	assert.True(t, s.Optional)
	assert.Equal(t, "Clock", s.Target)

	_, ok := As[*stub](s)
	assert.False(t, ok)

	n := NewNode("Clock", "", nil)
	n.Component = &stub{caps: []Capability{"clock"}}
	s.Bind(n)
	got, ok := As[*stub](s)
	require.True(t, ok)
	assert.Same(t, n.Component, got)
	assert.True(t, n.Has("clock"))
}

func TestRegistry_Build(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	built := 0
	reg.Register("Zone", func(n *Node, env Env) (Component, error) {
		built++
		return &stub{caps: []Capability{"zone"}}, nil
	})
	assert.Equal(t, []string{"Zone"}, reg.Types())

	root := NewNode("Zone", "Field", nil)
	off := add(t, root, "Zone", "Off")
	off.Enabled = false
	add(t, off, "Unknown", "Ignored")

	require.NoError(t, reg.Build(root, Env{}))
	assert.Equal(t, 1, built)
	assert.True(t, root.Has("zone"))
	assert.Nil(t, off.Component)

	add(t, root, "Unknown", "Bad")
	err := reg.Build(root, Env{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "Unknown"`)
}

type fertiliserParams struct {
	Amount float64 `mapstructure:"amount"`
	Date   string  `mapstructure:"date"`
}

func paramRegistry() *Registry {
	reg := NewRegistry()
	build := func(*Node, Env) (Component, error) { return &stub{}, nil }
	reg.Register("Zone", build)
	reg.Register("Fertiliser", build, fertiliserParams{})
	return reg
}

func TestRegistry_CheckParam(t *testing.T) {
	t.Parallel()
	reg := paramRegistry()

	assert.NoError(t, reg.CheckParam("Fertiliser", "Amount"))
	assert.NoError(t, reg.CheckParam("Fertiliser", "date"))
	assert.NoError(t, reg.CheckParam("Unregistered", "anything"))

	var pe *ParamError
	require.ErrorAs(t, reg.CheckParam("Fertiliser", "amuont"), &pe)
	assert.Equal(t, "amuont", pe.Key)
	assert.Equal(t, []string{"amount", "date"}, pe.Accepted)

	require.ErrorAs(t, reg.CheckParam("Zone", "area.sub"), &pe)
	assert.Equal(t, "area", pe.Key)
	assert.Contains(t, pe.Error(), "takes no parameters")
}

func TestRegistry_Apply_RejectsUnknownParameter(t *testing.T) {
	t.Parallel()
	reg := paramRegistry()
	root := NewNode("Zone", "Field", nil)
	fert := add(t, root, "Fertiliser", "Fertiliser")

	require.NoError(t, reg.Apply(root, Override{Path: "[Fertiliser].amount", Value: 50}))
	require.NoError(t, reg.Apply(root, Override{Path: "[Fertiliser].enabled", Value: false}))
	assert.False(t, fert.Enabled)

	err := reg.Apply(root, Override{Path: "[Fertiliser].amuont", Value: 50})
	var pe *PathError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, `no parameter "amuont"`)
	_, ok := fert.Params.Get("amuont")
	assert.False(t, ok, "rejected override leaves params untouched")
}

func TestRegistry_Build_RejectsUnknownParameter(t *testing.T) {
	t.Parallel()
	reg := paramRegistry()
	root := NewNode("Zone", "Field", nil)
	add(t, root, "Fertiliser", "Fertiliser").Params = Params{"amount": 1, "rate": 2}

	err := reg.Build(root, Env{})
	var pe *ParamError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "rate", pe.Key)
	assert.Contains(t, err.Error(), ".Field.Fertiliser")
}
