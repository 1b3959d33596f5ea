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

// WaterBalance is a single-bucket soil water model. Each day rain and any
// pending irrigation fill the bucket, water above capacity drains and a
// fixed amount evaporates.
type WaterBalance struct {
	capacity    float64
	evaporation float64

	sw         float64
	drainage   float64
	pending    float64
	irrigation float64

	weather *model.Slot
}

type waterBalanceConfig struct {
	Capacity    float64  `mapstructure:"capacity"`
	Initial     *float64 `mapstructure:"initial"`
	Evaporation float64  `mapstructure:"evaporation"`
}

// NewWaterBalance builds a WaterBalance. Capacity defaults to 150 mm, the
// initial store to half of capacity and evaporation to 2 mm/day.
func NewWaterBalance(n *model.Node, _ model.Env) (model.Component, error) {
	cfg := waterBalanceConfig{Capacity: 150, Evaporation: 2}
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("water balance: capacity must be positive")
	}
	wb := &WaterBalance{
		capacity:    cfg.Capacity,
		evaporation: cfg.Evaporation,
		sw:          cfg.Capacity / 2,
		weather:     model.NewSlot("weather", CapWeather),
	}
	if cfg.Initial != nil {
		wb.sw = math.Min(math.Max(*cfg.Initial, 0), cfg.Capacity)
	}
	return wb, nil
}

func (wb *WaterBalance) Capabilities() []model.Capability {
	return []model.Capability{CapSoilWater}
}

func (wb *WaterBalance) Links() []*model.Slot { return []*model.Slot{wb.weather} }

func (wb *WaterBalance) Connect(ep *events.Endpoint) error {
	if _, err := ep.On(clock.TopicDoSoilWaterMovement, func(context.Context, any) error {
		w, ok := model.As[*Weather](wb.weather)
		if !ok {
			return fmt.Errorf("water balance: weather not linked")
		}
		wb.step(w.Today().Rain)
		return nil
	}); err != nil {
		return err
	}
	_, err := ep.On(TopicIrrigate, func(_ context.Context, payload any) error {
		amt, err := amountOf(payload)
		if err != nil {
			return fmt.Errorf("irrigate: %w", err)
		}
		return wb.Irrigate(amt)
	})
	return err
}

func (wb *WaterBalance) step(rain float64) {
	wb.sw += rain + wb.pending
	wb.pending = 0
	wb.drainage = math.Max(0, wb.sw-wb.capacity)
	wb.sw -= wb.drainage
	wb.sw = math.Max(0, wb.sw-wb.evaporation)
}

// Irrigate queues amount mm for the next soil water step.
func (wb *WaterBalance) Irrigate(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("water balance: negative irrigation %g", amount)
	}
	wb.pending += amount
	wb.irrigation += amount
	return nil
}

func (wb *WaterBalance) Variable(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "sw", "esw":
		return wb.sw, true
	case "drainage":
		return wb.drainage, true
	case "irrigation":
		return wb.irrigation, true
	case "capacity":
		return wb.capacity, true
	}
	return nil, false
}

// SetVariable lets scripts reset the soil water store.
func (wb *WaterBalance) SetVariable(name string, v any) error {
	if !strings.EqualFold(name, "SW") {
		return fmt.Errorf("water balance: %s is read-only", name)
	}
	f, err := amountOf(v)
	if err != nil {
		return err
	}
	wb.sw = math.Min(math.Max(f, 0), wb.capacity)
	return nil
}
