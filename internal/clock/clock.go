// Package clock drives a simulation through time. A Clock moves through
// Uninitialized, Commencing, Running, Completing and Terminated, publishing
// a fixed sequence of topics on the simulation's bus.
//
// # Topic order
//
// Commencing publishes, once:
//
//	Commencing, StartOfSimulation
//
// Every simulated day publishes, in this order and without skipping:
//
//	DoWeather, DoDailyInitialisation, NewWeatherDataAvailable, StartOfDay,
//	DoManagement, DoEnergyArbitration, DoCanopy, DoCanopyEnergyBalance,
//	DoSoilWaterMovement, DoSoilOrganicMatter, DoPotentialPlantGrowth,
//	DoActualPlantGrowth, DoUpdate, DoManagementCalculations,
//	DoReportCalculations, DoReport, EndOfDay
//
// Completing publishes EndOfSimulation (only if the run succeeded) and then
// Completed, after which the bus is closed.
package clock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jward/paddock/internal/model"
)

// Capability is provided by every Clock.
const Capability model.Capability = "clock"

// Lifecycle topics.
const (
	TopicCommencing        = "Commencing"
	TopicStartOfSimulation = "StartOfSimulation"
	TopicEndOfSimulation   = "EndOfSimulation"
	TopicCompleted         = "Completed"
)

// Daily topics.
const (
	TopicDoWeather                = "DoWeather"
	TopicDoDailyInitialisation    = "DoDailyInitialisation"
	TopicNewWeatherDataAvailable  = "NewWeatherDataAvailable"
	TopicStartOfDay               = "StartOfDay"
	TopicDoManagement             = "DoManagement"
	TopicDoEnergyArbitration      = "DoEnergyArbitration"
	TopicDoCanopy                 = "DoCanopy"
	TopicDoCanopyEnergyBalance    = "DoCanopyEnergyBalance"
	TopicDoSoilWaterMovement      = "DoSoilWaterMovement"
	TopicDoSoilOrganicMatter      = "DoSoilOrganicMatter"
	TopicDoPotentialPlantGrowth   = "DoPotentialPlantGrowth"
	TopicDoActualPlantGrowth      = "DoActualPlantGrowth"
	TopicDoUpdate                 = "DoUpdate"
	TopicDoManagementCalculations = "DoManagementCalculations"
	TopicDoReportCalculations     = "DoReportCalculations"
	TopicDoReport                 = "DoReport"
	TopicEndOfDay                 = "EndOfDay"
)

var dailyTopics = [...]string{
	TopicDoWeather,
	TopicDoDailyInitialisation,
	TopicNewWeatherDataAvailable,
	TopicStartOfDay,
	TopicDoManagement,
	TopicDoEnergyArbitration,
	TopicDoCanopy,
	TopicDoCanopyEnergyBalance,
	TopicDoSoilWaterMovement,
	TopicDoSoilOrganicMatter,
	TopicDoPotentialPlantGrowth,
	TopicDoActualPlantGrowth,
	TopicDoUpdate,
	TopicDoManagementCalculations,
	TopicDoReportCalculations,
	TopicDoReport,
	TopicEndOfDay,
}

// DailyTopics returns the per-tick topic sequence.
func DailyTopics() []string {
	return append([]string(nil), dailyTopics[:]...)
}

var (
	// ErrAlreadyRun is returned by Run on a clock that has left Uninitialized.
	ErrAlreadyRun = errors.New("clock: already run")
	// ErrTimeReversal guards the monotonic time cursor.
	ErrTimeReversal = errors.New("clock: time cannot move backwards")
)

// State is the clock's lifecycle position.
type State int

const (
	Uninitialized State = iota
	Commencing
	Running
	Completing
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Commencing:
		return "commencing"
	case Running:
		return "running"
	case Completing:
		return "completing"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Tick is the payload of every clock topic.
type Tick struct {
	Date time.Time
	// Day counts simulated days from 1; it is 0 before the first day.
	Day int
}

// Bus is what the clock publishes on.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Close()
}

// Config holds the simulated period. Both dates are inclusive.
type Config struct {
	Start time.Time `mapstructure:"start"`
	End   time.Time `mapstructure:"end"`
}

// Clock is the simulation's time cursor.
type Clock struct {
	start, end time.Time
	state      State
	today      time.Time
	day        int
}

// New validates cfg and returns an uninitialized clock.
func New(cfg Config) (*Clock, error) {
	if cfg.Start.IsZero() || cfg.End.IsZero() {
		return nil, fmt.Errorf("clock: start and end dates are required")
	}
	start, end := truncate(cfg.Start), truncate(cfg.End)
	if end.Before(start) {
		return nil, fmt.Errorf("clock: end %s is before start %s",
			end.Format(model.DateLayout), start.Format(model.DateLayout))
	}
	return &Clock{start: start, end: end}, nil
}

// Factory builds a Clock from node parameters.
func Factory(n *model.Node, _ model.Env) (model.Component, error) {
	var cfg Config
	if err := n.Params.Decode(&cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (c *Clock) Capabilities() []model.Capability { return []model.Capability{Capability} }

// State returns the lifecycle state.
func (c *Clock) State() State { return c.state }

// Today returns the current simulated date; before the first tick it is
// the start date.
func (c *Clock) Today() time.Time {
	if c.today.IsZero() {
		return c.start
	}
	return c.today
}

// Start returns the first simulated date.
func (c *Clock) Start() time.Time { return c.start }

// End returns the last simulated date.
func (c *Clock) End() time.Time { return c.end }

// Day returns the number of days simulated so far.
func (c *Clock) Day() int { return c.day }

// Variable exposes Today, DayOfYear, Day, StartDate and EndDate.
func (c *Clock) Variable(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "today":
		return c.Today(), true
	case "dayofyear":
		return c.Today().YearDay(), true
	case "day":
		return c.day, true
	case "startdate":
		return c.start, true
	case "enddate":
		return c.end, true
	}
	return nil, false
}

// Run drives the full lifecycle on bus. The context is checked between
// days; cancelling it abandons the run with the context's error. Completed
// is published even when the run fails so nodes can release resources.
// The bus is closed before Run returns.
func (c *Clock) Run(ctx context.Context, bus Bus) error {
	if c.state != Uninitialized {
		return ErrAlreadyRun
	}
	defer bus.Close()

	c.state = Commencing
	err := c.publish(ctx, bus, TopicCommencing, TopicStartOfSimulation)

	if err == nil {
		c.state = Running
		for d := c.start; !d.After(c.end); d = d.AddDate(0, 0, 1) {
			if err = ctx.Err(); err != nil {
				break
			}
			if err = c.advance(d); err != nil {
				break
			}
			if err = c.publish(ctx, bus, dailyTopics[:]...); err != nil {
				break
			}
		}
	}

	c.state = Completing
	if err == nil {
		err = c.publish(ctx, bus, TopicEndOfSimulation)
	}
	cerr := c.publish(context.WithoutCancel(ctx), bus, TopicCompleted)
	c.state = Terminated
	return errors.Join(err, cerr)
}

func (c *Clock) advance(d time.Time) error {
	if !c.today.IsZero() && !d.After(c.today) {
		return fmt.Errorf("%w: %s after %s", ErrTimeReversal,
			d.Format(model.DateLayout), c.today.Format(model.DateLayout))
	}
	c.today = d
	c.day++
	return nil
}

func (c *Clock) publish(ctx context.Context, bus Bus, topics ...string) error {
	tick := Tick{Date: c.Today(), Day: c.day}
	for _, topic := range topics {
		if err := bus.Publish(ctx, topic, tick); err != nil {
			return err
		}
	}
	return nil
}
