package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/jward/paddock/internal/clock"
	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/links"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/output"
)

// Report writes one row per reporting event to a table named after its node.
//
// Variables are references, optionally aliased:
//
//	[Clock].Today
//	[Weather].Rain as DailyRain
//
// Without an alias the column is named Node.Variable. Slice values expand
// into one column per element, Name(1), Name(2) and so on.
type Report struct {
	node    *model.Node
	out     *output.Batch
	columns []reportColumn
	events  []string
	rows    int
}

type reportColumn struct {
	ref  string
	name string
}

type reportConfig struct {
	Variables []string `mapstructure:"variables"`
	Events    []string `mapstructure:"events"`
}

// NewReport builds a Report. Events default to DoReport.
func NewReport(n *model.Node, env model.Env) (model.Component, error) {
	var cfg reportConfig
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Variables) == 0 {
		return nil, fmt.Errorf("report: no variables")
	}
	r := &Report{node: n, out: env.Output, events: cfg.Events}
	if r.out == nil {
		r.out = output.NewBatch()
	}
	if len(r.events) == 0 {
		r.events = []string{clock.TopicDoReport}
	}
	for _, v := range cfg.Variables {
		col, err := parseColumn(v)
		if err != nil {
			return nil, err
		}
		r.columns = append(r.columns, col)
	}
	return r, nil
}

func parseColumn(s string) (reportColumn, error) {
	ref, alias := strings.TrimSpace(s), ""
	if i := strings.Index(strings.ToLower(ref), " as "); i >= 0 {
		ref, alias = strings.TrimSpace(ref[:i]), strings.TrimSpace(ref[i+4:])
	}
	r, err := links.ParseRef(ref)
	if err != nil {
		return reportColumn{}, fmt.Errorf("report: %w", err)
	}
	if alias == "" {
		alias = r.Node + "." + r.Variable
	}
	return reportColumn{ref: ref, name: alias}, nil
}

func (r *Report) Capabilities() []model.Capability { return []model.Capability{CapReport} }

func (r *Report) Connect(ep *events.Endpoint) error {
	for _, topic := range r.events {
		if _, err := ep.On(topic, func(context.Context, any) error { return r.record() }); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) record() error {
	fields := make([]output.Field, 0, len(r.columns))
	for _, c := range r.columns {
		v, err := links.Value(r.node, c.ref)
		if err != nil {
			return fmt.Errorf("report %s: %w", r.node.Name, err)
		}
		fields = append(fields, flatten(c.name, v)...)
	}
	r.out.Add(r.node.Name, fields...)
	r.rows++
	return nil
}

func flatten(name string, v any) []output.Field {
	var items []any
	switch x := v.(type) {
	case []float64:
		for _, f := range x {
			items = append(items, f)
		}
	case []int:
		for _, i := range x {
			items = append(items, i)
		}
	case []any:
		items = x
	default:
		return []output.Field{{Name: name, Value: v}}
	}
	fields := make([]output.Field, len(items))
	for i, item := range items {
		fields[i] = output.Field{Name: fmt.Sprintf("%s(%d)", name, i+1), Value: item}
	}
	return fields
}

func (r *Report) Variable(name string) (any, bool) {
	if strings.EqualFold(name, "Rows") {
		return r.rows, true
	}
	return nil, false
}
