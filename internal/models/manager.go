package models

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/paddock/internal/clock"
	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/links"
	"github.com/jward/paddock/internal/model"
	"github.com/jward/paddock/internal/script"
)

// setter is implemented by models whose variables scripts may assign.
type setter interface {
	SetVariable(name string, v any) error
}

// Manager runs Risor handlers on bus topics. The script parameter names a
// file of shared definitions and code holds inline ones; both are evaluated
// ahead of every handler.
//
// Handlers see these globals:
//
//	today           current date as "YYYY-MM-DD"
//	day             days simulated so far
//	payload         the topic's payload
//	get(key)        a [Node].Variable reference or a key of this manager's state
//	value(ref)      a [Node].Variable reference only
//	set(key, v)     assigns state, or a [Node].Variable on a settable model
//	publish(t, p)   publishes topic t with optional payload p
//	summary(m, k)   writes message m of kind k to the summary
//	log             Info, Warn and Error
type Manager struct {
	node     *model.Node
	rt       *script.Runtime
	logger   *zap.Logger
	prelude  string
	handlers map[string]string
	state    map[string]any

	clock   *model.Slot
	summary *model.Slot
}

type managerConfig struct {
	Script   string            `mapstructure:"script"`
	Code     string            `mapstructure:"code"`
	Handlers map[string]string `mapstructure:"handlers"`
	State    map[string]any    `mapstructure:"state"`
}

// ManagerFactory returns the Manager factory bound to rt.
func ManagerFactory(rt *script.Runtime) model.Factory {
	return func(n *model.Node, env model.Env) (model.Component, error) {
		var cfg managerConfig
		if err := n.Params.Decode(&cfg); err != nil {
			return nil, err
		}
		if len(cfg.Handlers) == 0 {
			return nil, fmt.Errorf("manager: no handlers")
		}
		m := &Manager{
			node:     n,
			rt:       rt,
			logger:   env.Logger.With(zap.String("node", n.Path())),
			handlers: cfg.Handlers,
			state:    make(map[string]any, len(cfg.State)),
			clock:    clockSlot(),
			summary:  model.NewSlot("summary", CapSummary, model.Optional()),
		}
		for _, k := range sortedKeys(cfg.State) {
			if prev, ok := m.stateKey(k); ok {
				return nil, fmt.Errorf("manager: state keys %q and %q differ only in case", prev, k)
			}
			m.state[k] = cfg.State[k]
		}
		var parts []string
		if cfg.Script != "" {
			src, err := rt.LoadScript(resolvePath(env, cfg.Script))
			if err != nil {
				return nil, fmt.Errorf("manager: %w", err)
			}
			parts = append(parts, src)
		}
		if cfg.Code != "" {
			parts = append(parts, cfg.Code)
		}
		m.prelude = strings.Join(parts, "\n")
		return m, nil
	}
}

func (m *Manager) Capabilities() []model.Capability { return []model.Capability{CapManager} }

func (m *Manager) Links() []*model.Slot { return []*model.Slot{m.clock, m.summary} }

// Connect subscribes one handler per topic, in sorted topic order.
func (m *Manager) Connect(ep *events.Endpoint) error {
	builtins := map[string]any{
		"get":     script.Func("get", m.get),
		"set":     script.Func("set", m.set),
		"value":   script.Func("value", m.value),
		"publish": script.Func("publish", func(ctx context.Context, args []any) (any, error) { return nil, m.publish(ctx, ep, args) }),
		"summary": script.Func("summary", m.writeSummary),
		"log":     script.NewLog(m.logger),
	}

	topics := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		src := m.handlers[topic]
		if m.prelude != "" {
			src = m.prelude + "\n" + src
		}
		label := m.node.Path() + "/" + topic
		_, err := ep.On(topic, func(ctx context.Context, payload any) error {
			globals := make(map[string]any, len(builtins)+3)
			for k, v := range builtins {
				globals[k] = v
			}
			d, _ := today(m.clock)
			day := 0
			if c, ok := model.As[*clock.Clock](m.clock); ok {
				day = c.Day()
			}
			globals["today"] = script.FromGo(d.Format(model.DateLayout))
			globals["day"] = script.FromGo(day)
			globals["payload"] = payloadObject(payload)
			return m.rt.Eval(ctx, src, label, globals)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func payloadObject(p any) object.Object {
	if t, ok := p.(clock.Tick); ok {
		return script.FromGo(map[string]any{"date": t.Date, "day": t.Day})
	}
	return script.FromGo(p)
}

func (m *Manager) get(_ context.Context, args []any) (any, error) {
	if err := script.Arity(args, 1); err != nil {
		return nil, err
	}
	key, err := script.String(args, 0)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(key, "[") {
		return links.Value(m.node, key)
	}
	if k, ok := m.stateKey(key); ok {
		return m.state[k], nil
	}
	return nil, nil
}

func (m *Manager) value(_ context.Context, args []any) (any, error) {
	if err := script.Arity(args, 1); err != nil {
		return nil, err
	}
	ref, err := script.String(args, 0)
	if err != nil {
		return nil, err
	}
	return links.Value(m.node, ref)
}

func (m *Manager) set(_ context.Context, args []any) (any, error) {
	if err := script.Arity(args, 2); err != nil {
		return nil, err
	}
	key, err := script.String(args, 0)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(key, "[") {
		return nil, m.SetVariable(key, args[1])
	}
	ref, err := links.ParseRef(key)
	if err != nil {
		return nil, err
	}
	vp, err := links.Provider(m.node, ref)
	if err != nil {
		return nil, err
	}
	s, ok := vp.(setter)
	if !ok {
		return nil, fmt.Errorf("%s is read-only", ref)
	}
	return nil, s.SetVariable(ref.Variable, args[1])
}

func (m *Manager) publish(ctx context.Context, ep *events.Endpoint, args []any) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("expected a topic and an optional payload")
	}
	topic, err := script.String(args, 0)
	if err != nil {
		return err
	}
	var payload any
	if len(args) == 2 {
		payload = args[1]
	}
	return ep.Publish(ctx, topic, payload)
}

func (m *Manager) writeSummary(_ context.Context, args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("expected a message and an optional kind")
	}
	msg, err := script.String(args, 0)
	if err != nil {
		return nil, err
	}
	kind := Information
	if len(args) == 2 {
		s, err := script.String(args, 1)
		if err != nil {
			return nil, err
		}
		if kind, err = ParseMessageType(s); err != nil {
			return nil, err
		}
	}
	if s, ok := model.As[*Summary](m.summary); ok {
		s.WriteMessage(m.node.Name, msg, kind)
		return nil, nil
	}
	m.logger.Info(msg, zap.String("kind", kind.String()))
	return nil, nil
}

// Variable exposes the manager's state. Keys match case-insensitively.
func (m *Manager) Variable(name string) (any, bool) {
	k, ok := m.stateKey(name)
	if !ok {
		return nil, false
	}
	return m.state[k], true
}

// SetVariable assigns state, reusing an existing key's spelling so no two
// keys ever differ only in case.
func (m *Manager) SetVariable(name string, v any) error {
	if k, ok := m.stateKey(name); ok {
		name = k
	}
	m.state[name] = v
	return nil
}

func (m *Manager) stateKey(name string) (string, bool) {
	if _, ok := m.state[name]; ok {
		return name, true
	}
	for k := range m.state {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
