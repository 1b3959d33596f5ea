package models

import (
	"strings"

	"github.com/jward/paddock/internal/clock"
	"github.com/jward/paddock/internal/model"
)

// Simulation is the root of every job. It owns exactly one clock among its
// descendants and, optionally, a summary.
type Simulation struct {
	name    string
	clock   *model.Slot
	summary *model.Slot
}

// NewSimulation builds the Simulation component.
func NewSimulation(n *model.Node, _ model.Env) (model.Component, error) {
	return &Simulation{
		name:    n.Name,
		clock:   model.NewSlot("clock", clock.Capability, model.In(model.ScopeChild)),
		summary: model.NewSlot("summary", CapSummary, model.In(model.ScopeChild), model.Optional()),
	}, nil
}

func (s *Simulation) Capabilities() []model.Capability {
	return []model.Capability{CapSimulation}
}

func (s *Simulation) Links() []*model.Slot { return []*model.Slot{s.clock, s.summary} }

// Clock returns the simulation's clock once links are resolved.
func (s *Simulation) Clock() (*clock.Clock, bool) {
	return model.As[*clock.Clock](s.clock)
}

// Summary returns the simulation's summary, if it has one.
func (s *Simulation) Summary() (*Summary, bool) {
	return model.As[*Summary](s.summary)
}

func (s *Simulation) Variable(name string) (any, bool) {
	if strings.EqualFold(name, "Name") {
		return s.name, true
	}
	return nil, false
}

// Zone is an area of the simulation, typically a paddock.
type Zone struct {
	area float64
}

type zoneConfig struct {
	Area float64 `mapstructure:"area"`
}

// NewZone builds a Zone. The area, in hectares, defaults to 1.
func NewZone(n *model.Node, _ model.Env) (model.Component, error) {
	cfg := zoneConfig{Area: 1}
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	return &Zone{area: cfg.Area}, nil
}

func (z *Zone) Capabilities() []model.Capability { return []model.Capability{CapZone} }

func (z *Zone) Variable(name string) (any, bool) {
	if strings.EqualFold(name, "Area") {
		return z.area, true
	}
	return nil, false
}

// Folder only groups nodes.
type Folder struct{}

func NewFolder(*model.Node, model.Env) (model.Component, error) { return Folder{}, nil }

func (Folder) Capabilities() []model.Capability { return []model.Capability{CapFolder} }
