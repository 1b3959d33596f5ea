// Package models provides the built-in node types a simulation definition
// can use. Each type is a component factory registered under its type name.
package models

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jward/paddock/internal/clock"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/script"
)

// Capabilities provided by the built-in models.
const (
	CapSimulation  model.Capability = "simulation"
	CapZone        model.Capability = "zone"
	CapFolder      model.Capability = "folder"
	CapWeather     model.Capability = "weather"
	CapSummary     model.Capability = "summary"
	CapReport      model.Capability = "report"
	CapManager     model.Capability = "manager"
	CapThermalTime model.Capability = "thermaltime"
	CapSoilWater   model.Capability = "soilwater"
	CapFertiliser  model.Capability = "fertiliser"
)

// Topics published by managers and consumed by the built-in models.
const (
	TopicSowing    = "Sowing"
	TopicIrrigate  = "Irrigate"
	TopicFertilise = "Fertilise"
)

// Register binds every built-in type. rt runs Manager scripts.
func Register(reg *model.Registry, rt *script.Runtime) {
	reg.Register("Simulation", NewSimulation)
	reg.Register("Zone", NewZone, zoneConfig{})
	reg.Register("Folder", NewFolder)
	reg.Register("Clock", clock.Factory, clock.Config{})
	reg.Register("Weather", NewWeather, weatherConfig{})
	reg.Register("Summary", NewSummary, summaryConfig{})
	reg.Register("Report", NewReport, reportConfig{})
	reg.Register("Manager", ManagerFactory(rt), managerConfig{})
	reg.Register("ThermalTime", NewThermalTime, thermalTimeConfig{})
	reg.Register("WaterBalance", NewWaterBalance, waterBalanceConfig{})
	reg.Register("Fertiliser", NewFertiliser, fertiliserConfig{})
}

// NewRegistry returns a registry with every built-in type.
func NewRegistry(rt *script.Runtime) *model.Registry {
	reg := model.NewRegistry()
	Register(reg, rt)
	return reg
}

// dater is what models need from the clock.
type dater interface {
	Today() time.Time
}

func clockSlot() *model.Slot {
	return model.NewSlot("clock", clock.Capability, model.In(model.ScopeSimulation))
}

func today(s *model.Slot) (time.Time, error) {
	c, ok := model.As[dater](s)
	if !ok {
		return time.Time{}, fmt.Errorf("clock not linked")
	}
	return c.Today(), nil
}

// resolvePath makes a file parameter relative to the definition's directory.
func resolvePath(env model.Env, path string) string {
	if path == "" || filepath.IsAbs(path) || env.BaseDir == "" {
		return path
	}
	return filepath.Join(env.BaseDir, path)
}

// amountOf reads a quantity from a topic payload: a number or a map with
// an "amount" entry.
func amountOf(payload any) (float64, error) {
	switch v := payload.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case map[string]any:
		return amountOf(v["amount"])
	}
	return 0, fmt.Errorf("expected an amount, got %T", payload)
}
