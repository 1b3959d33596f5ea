package model

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jward/paddock/internal/events"
	"github.com/jward/paddock/internal/output"
)

// Capability names a role a component can play, such as "clock" or
// "weather". Links are resolved by capability, never by concrete type.
type Capability string

// Component is the behaviour attached to a node.
type Component interface {
	Capabilities() []Capability
}

// Linker is implemented by components that declare dependency slots. The
// returned slots must be the same pointers on every call.
type Linker interface {
	Links() []*Slot
}

// Connector is implemented by components that subscribe to topics. Connect
// is called once, in pre-order, when the graph is activated.
type Connector interface {
	Connect(ep *events.Endpoint) error
}

// VariableProvider exposes named values to reports and scripts.
type VariableProvider interface {
	Variable(name string) (any, bool)
}

// Env carries per-job collaborators handed to component factories.
type Env struct {
	// BaseDir resolves relative file parameters.
	BaseDir string
	Logger  *zap.Logger
	Output  *output.Batch
}

// Factory builds the component for a node.
type Factory func(n *Node, env Env) (Component, error)

// Registry maps node types to component factories and the parameters
// each type accepts.
type Registry struct {
	factories map[string]Factory
	params    map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		params:    make(map[string][]string),
	}
}

// Register binds typ to f, replacing any previous binding. The
// `mapstructure` tags of each config struct name the parameters typ
// accepts; with no config, typ accepts none.
func (r *Registry) Register(typ string, f Factory, configs ...any) {
	r.factories[typ] = f
	var names []string
	for _, c := range configs {
		names = append(names, paramNames(reflect.TypeOf(c))...)
	}
	sort.Strings(names)
	r.params[typ] = names
}

// ParamError reports a parameter the node's type does not accept.
type ParamError struct {
	Type     string
	Key      string
	Accepted []string
}

func (e *ParamError) Error() string {
	if len(e.Accepted) == 0 {
		return fmt.Sprintf("%s takes no parameters, got %q", e.Type, e.Key)
	}
	return fmt.Sprintf("%s has no parameter %q (accepts %s)", e.Type, e.Key, strings.Join(e.Accepted, ", "))
}

// CheckParam returns a *ParamError unless the first element of the dotted
// key is a parameter typ accepts. Unregistered types are left to Build.
func (r *Registry) CheckParam(typ, key string) error {
	names, ok := r.params[typ]
	if !ok {
		return nil
	}
	head, _, _ := strings.Cut(key, ".")
	for _, n := range names {
		if strings.EqualFold(n, head) {
			return nil
		}
	}
	return &ParamError{Type: typ, Key: head, Accepted: names}
}

// Apply is the package-level Apply with the parameter key checked against
// the addressed node's type first.
func (r *Registry) Apply(root *Node, o Override) error {
	n, key, err := Locate(root, o.Path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(key, "enabled") {
		if err := r.CheckParam(n.Type, key); err != nil {
			return &PathError{Path: o.Path, Reason: err.Error()}
		}
	}
	return Apply(root, o)
}

func paramNames(t reflect.Type) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")
		switch {
		case name == "-":
		case strings.Contains(opts, "squash"):
			out = append(out, paramNames(f.Type)...)
		case name != "":
			out = append(out, name)
		case f.IsExported():
			out = append(out, f.Name)
		}
	}
	return out
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	_, ok := r.factories[typ]
	return ok
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build instantiates a component for every enabled node under root that
// does not already have one. Disabled subtrees are skipped.
func (r *Registry) Build(root *Node, env Env) error {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	return root.Walk(func(n *Node) error {
		if !n.Enabled {
			return SkipChildren
		}
		if n.Component != nil {
			return nil
		}
		f, ok := r.factories[n.Type]
		if !ok {
			return fmt.Errorf("model: unknown type %q at %s", n.Type, n.Path())
		}
		for _, k := range sortedParamKeys(n.Params) {
			if err := r.CheckParam(n.Type, k); err != nil {
				return fmt.Errorf("model: build %s: %w", n.Path(), err)
			}
		}
		c, err := f(n, env)
		if err != nil {
			return fmt.Errorf("model: build %s: %w", n.Path(), err)
		}
		n.Component = c
		return nil
	})
}

func sortedParamKeys(p Params) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
