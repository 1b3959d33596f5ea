package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jward/paddock/internal/clock"
	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/output"
)

// MessageType classifies summary messages.
type MessageType int

const (
	Information MessageType = iota
	Warning
	Error
)

func (m MessageType) String() string {
	switch m {
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	}
	return "Information"
}

// ParseMessageType accepts the names returned by String, case-insensitively.
func ParseMessageType(s string) (MessageType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "information", "info":
		return Information, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	}
	return Information, fmt.Errorf("unknown message type %q", s)
}

// WriteMessage appends a row to the messages table of out. It is used by
// the Summary model and by the engine when a job fails before any summary
// could be built.
func WriteMessage(out *output.Batch, component string, date time.Time, msg string, kind MessageType) {
	var d any
	if !date.IsZero() {
		d = date
	}
	out.Add(output.MessagesTable,
		output.Field{Name: "ComponentName", Value: component},
		output.Field{Name: "Date", Value: d},
		output.Field{Name: "Message", Value: msg},
		output.Field{Name: "MessageType", Value: kind.String()},
	)
}

// Summary collects the messages models write during a run.
type Summary struct {
	out       *output.Batch
	verbosity MessageType
	clock     *model.Slot
	written   int
}

type summaryConfig struct {
	Verbosity string `mapstructure:"verbosity"`
}

// NewSummary builds a Summary. Messages below the verbosity level
// (information, warning or error) are dropped.
func NewSummary(n *model.Node, env model.Env) (model.Component, error) {
	var cfg summaryConfig
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	v, err := ParseMessageType(cfg.Verbosity)
	if err != nil {
		return nil, err
	}
	out := env.Output
	if out == nil {
		out = output.NewBatch()
	}
	return &Summary{out: out, verbosity: v, clock: clockSlot()}, nil
}

func (s *Summary) Capabilities() []model.Capability { return []model.Capability{CapSummary} }

func (s *Summary) Links() []*model.Slot { return []*model.Slot{s.clock} }

func (s *Summary) Connect(ep *events.Endpoint) error {
	_, err := ep.On(clock.TopicCommencing, func(_ context.Context, payload any) error {
		if t, ok := payload.(clock.Tick); ok {
			s.write("Simulation", t.Date, "Simulation commencing", Information)
		}
		return nil
	})
	return err
}

// WriteMessage records msg from component, dated with the clock's today.
func (s *Summary) WriteMessage(component, msg string, kind MessageType) {
	d, _ := today(s.clock)
	s.write(component, d, msg, kind)
}

func (s *Summary) write(component string, date time.Time, msg string, kind MessageType) {
	if kind < s.verbosity {
		return
	}
	s.written++
	WriteMessage(s.out, component, date, msg, kind)
}

func (s *Summary) Variable(name string) (any, bool) {
	if strings.EqualFold(name, "Messages") {
		return s.written, true
	}
	return nil, false
}
