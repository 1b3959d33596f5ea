package models

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jward/paddock/internal/clock"
	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/model"
)

// ThermalTime accumulates growing degree days above a base temperature.
// The sum restarts on Sowing.
type ThermalTime struct {
	base       float64
	daily      float64
	cumulative float64
	weather    *model.Slot
}

type thermalTimeConfig struct {
	Base float64 `mapstructure:"base"`
}

func NewThermalTime(n *model.Node, _ model.Env) (model.Component, error) {
	var cfg thermalTimeConfig
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	return &ThermalTime{base: cfg.Base, weather: model.NewSlot("weather", CapWeather)}, nil
}

func (tt *ThermalTime) Capabilities() []model.Capability {
	return []model.Capability{CapThermalTime}
}

func (tt *ThermalTime) Links() []*model.Slot { return []*model.Slot{tt.weather} }

func (tt *ThermalTime) Connect(ep *events.Endpoint) error {
	if _, err := ep.On(clock.TopicDoPotentialPlantGrowth, func(context.Context, any) error {
		w, ok := model.As[*Weather](tt.weather)
		if !ok {
			return fmt.Errorf("thermal time: weather not linked")
		}
		tt.daily = math.Max(0, w.Today().MeanT()-tt.base)
		tt.cumulative += tt.daily
		return nil
	}); err != nil {
		return err
	}
	_, err := ep.On(TopicSowing, func(context.Context, any) error {
		tt.cumulative = 0
		return nil
	})
	return err
}

func (tt *ThermalTime) Variable(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "daily":
		return tt.daily, true
	case "cumulative":
		return tt.cumulative, true
	case "base":
		return tt.base, true
	}
	return nil, false
}

// Fertiliser records nitrogen applications, either on Fertilise topics or
// on a scheduled date.
type Fertiliser struct {
	amount  float64
	date    string
	applied float64
	last    float64

	clock   *model.Slot
	summary *model.Slot
}

type fertiliserConfig struct {
	Amount float64 `mapstructure:"amount"`
	Date   string  `mapstructure:"date"`
}

// NewFertiliser builds a Fertiliser. With a date parameter, given as
// "YYYY-MM-DD" or "dd-mmm", amount is applied at DoManagement on that day.
func NewFertiliser(n *model.Node, _ model.Env) (model.Component, error) {
	var cfg fertiliserConfig
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Amount < 0 {
		return nil, fmt.Errorf("fertiliser: negative amount %g", cfg.Amount)
	}
	return &Fertiliser{
		amount:  cfg.Amount,
		date:    strings.ToLower(strings.TrimSpace(cfg.Date)),
		clock:   clockSlot(),
		summary: model.NewSlot("summary", CapSummary, model.Optional()),
	}, nil
}

func (f *Fertiliser) Capabilities() []model.Capability { return []model.Capability{CapFertiliser} }

func (f *Fertiliser) Links() []*model.Slot { return []*model.Slot{f.clock, f.summary} }

func (f *Fertiliser) Connect(ep *events.Endpoint) error {
	if _, err := ep.On(TopicFertilise, func(_ context.Context, payload any) error {
		amt, err := amountOf(payload)
		if err != nil {
			return fmt.Errorf("fertilise: %w", err)
		}
		return f.Apply(amt)
	}); err != nil {
		return err
	}
	if f.date == "" {
		return nil
	}
	_, err := ep.On(clock.TopicDoManagement, func(context.Context, any) error {
		d, err := today(f.clock)
		if err != nil {
			return err
		}
		if f.date == d.Format(model.DateLayout) || f.date == strings.ToLower(d.Format("2-Jan")) {
			return f.Apply(f.amount)
		}
		return nil
	})
	return err
}

// Apply adds amount kg/ha.
func (f *Fertiliser) Apply(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("fertiliser: negative amount %g", amount)
	}
	f.applied += amount
	f.last = amount
	if s, ok := model.As[*Summary](f.summary); ok {
		s.WriteMessage("Fertiliser", fmt.Sprintf("%g kg/ha of N applied", amount), Information)
	}
	return nil
}

func (f *Fertiliser) Variable(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "applied":
		return f.applied, true
	case "lastapplication":
		return f.last, true
	}
	return nil, false
}
