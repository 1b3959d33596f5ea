package models

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jward/paddock/internal/clock"
	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/model"
)

// Met is one day of weather.
type Met struct {
	MaxT float64
	MinT float64
	Rain float64
	Radn float64
}

// MeanT is the mean of the day's extremes.
func (m Met) MeanT() float64 { return (m.MaxT + m.MinT) / 2 }

// Weather supplies daily met data, read from a CSV file or held constant.
type Weather struct {
	records map[time.Time]Met
	fixed   Met
	today   Met
	clock   *model.Slot
}

type weatherConfig struct {
	File string  `mapstructure:"file"`
	MaxT float64 `mapstructure:"maxt"`
	MinT float64 `mapstructure:"mint"`
	Rain float64 `mapstructure:"rain"`
	Radn float64 `mapstructure:"radn"`
}

// NewWeather builds a Weather. With a file parameter every simulated day
// must have a record; otherwise the maxt, mint, rain and radn parameters
// are used on every day.
func NewWeather(n *model.Node, env model.Env) (model.Component, error) {
	var cfg weatherConfig
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	w := &Weather{
		fixed: Met{MaxT: cfg.MaxT, MinT: cfg.MinT, Rain: cfg.Rain, Radn: cfg.Radn},
		clock: clockSlot(),
	}
	if cfg.File != "" {
		f, err := os.Open(resolvePath(env, cfg.File))
		if err != nil {
			return nil, fmt.Errorf("weather: %w", err)
		}
		defer f.Close()
		if w.records, err = ReadMet(f); err != nil {
			return nil, fmt.Errorf("weather: %s: %w", cfg.File, err)
		}
	}
	return w, nil
}

// ReadMet parses CSV met data. The header must name a date column and may
// name maxt, mint, rain and radn in any order and case; missing columns
// read as zero.
func ReadMet(r io.Reader) (map[time.Time]Met, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		return nil, errors.New("no date column")
	}

	out := make(map[time.Time]Met)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		d, err := time.Parse(model.DateLayout, strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var m Met
		for name, dst := range map[string]*float64{"maxt": &m.MaxT, "mint": &m.MinT, "rain": &m.Rain, "radn": &m.Radn} {
			i, ok := cols[name]
			if !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				continue
			}
			if *dst, err = strconv.ParseFloat(strings.TrimSpace(rec[i]), 64); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
		}
		out[d] = m
	}
}

func (w *Weather) Capabilities() []model.Capability { return []model.Capability{CapWeather} }

func (w *Weather) Links() []*model.Slot { return []*model.Slot{w.clock} }

func (w *Weather) Connect(ep *events.Endpoint) error {
	_, err := ep.On(clock.TopicDoWeather, func(context.Context, any) error {
		d, err := today(w.clock)
		if err != nil {
			return err
		}
		return w.load(d)
	})
	return err
}

func (w *Weather) load(d time.Time) error {
	if w.records == nil {
		w.today = w.fixed
		return nil
	}
	m, ok := w.records[d]
	if !ok {
		return fmt.Errorf("weather: no record for %s", d.Format(model.DateLayout))
	}
	w.today = m
	return nil
}

// Today returns the met data loaded for the current day.
func (w *Weather) Today() Met { return w.today }

func (w *Weather) Variable(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "maxt":
		return w.today.MaxT, true
	case "mint":
		return w.today.MinT, true
	case "meant":
		return w.today.MeanT(), true
	case "rain":
		return w.today.Rain, true
	case "radn":
		return w.today.Radn, true
	}
	return nil, false
}
