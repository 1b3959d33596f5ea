// Package expand turns a definition tree into independent job descriptors.
//
// Simulation nodes become one job each. An Experiment holds a base
// Simulation and a Factors node; every combination of factor levels
// becomes a job named after the experiment and its levels, for example
// "NitrogenNRate50CultivarHartog". Combinations are enumerated with the
// last factor varying fastest, so numbering is stable across runs.
//
// Expansion never builds components, resolves links or runs anything.
package expand

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/model"
)

// Node types the expander interprets.
const (
	TypeSimulations = "Simulations"
	TypeFolder      = "Folder"
	TypeSimulation  = "Simulation"
	TypeExperiment  = "Experiment"
	TypeFactors     = "Factors"
	TypeFactor      = "Factor"
	TypeLevel       = "Level"
	TypeQuery       = "Query"
)

// ExpansionError reports a definition that cannot be enumerated.
type ExpansionError struct {
	Path   string
	Reason string
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expand: %s: %s", e.Path, e.Reason)
}

type options struct {
	names     *regexp.Regexp
	overrides []model.Override
	file      string
	apply     func(*model.Node, model.Override) error
}

// Option configures Expand.
type Option func(*options)

// WithNames keeps only jobs whose name matches re.
func WithNames(re *regexp.Regexp) Option {
	return func(o *options) { o.names = re }
}

// WithOverrides applies overrides to every simulation template before
// factor levels are applied. Each override must address a parameter in at
// least one simulation.
func WithOverrides(ovs ...model.Override) Option {
	return func(o *options) { o.overrides = append(o.overrides, ovs...) }
}

// WithRegistry rejects overrides whose parameter the addressed node's type
// does not accept.
func WithRegistry(reg *model.Registry) Option {
	return func(o *options) {
		if reg != nil {
			o.apply = reg.Apply
		}
	}
}

// WithFile records the definition file on every descriptor.
func WithFile(path string) Option {
	return func(o *options) { o.file = path }
}

type level struct {
	factor    string
	name      string
	overrides []model.Override
}

type expander struct {
	opts    options
	jobs    []job.Descriptor
	seen    map[string]string
	applied []int
}

// Expand enumerates the jobs under def. def itself may be a Simulation,
// an Experiment or any grouping node.
func Expand(def *model.Node, opts ...Option) ([]job.Descriptor, error) {
	o := options{apply: model.Apply}
	for _, opt := range opts {
		opt(&o)
	}
	e := &expander{opts: o, seen: make(map[string]string), applied: make([]int, len(o.overrides))}
	if err := e.visit(def); err != nil {
		return nil, err
	}
	for i, n := range e.applied {
		if n == 0 {
			return nil, &ExpansionError{Path: o.overrides[i].Path, Reason: "override matches no simulation"}
		}
	}
	if o.names == nil {
		return e.jobs, nil
	}
	kept := e.jobs[:0]
	for _, d := range e.jobs {
		if o.names.MatchString(d.Name) {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

// Names returns the job names under def without keeping the graphs.
func Names(def *model.Node, opts ...Option) ([]string, error) {
	jobs, err := Expand(def, opts...)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(jobs))
	for i, d := range jobs {
		names[i] = d.Name
	}
	return names, nil
}

func (e *expander) visit(n *model.Node) error {
	if !n.Enabled {
		return nil
	}
	switch n.Type {
	case TypeSimulation:
		return e.simulation(n)
	case TypeExperiment:
		return e.experiment(n)
	case TypeSimulations, TypeFolder:
		for _, c := range n.Children() {
			if err := e.visit(c); err != nil {
				return err
			}
		}
		return nil
	case TypeQuery:
		return nil
	}
	return &ExpansionError{Path: n.Path(), Reason: fmt.Sprintf("%s is not allowed outside a simulation", n.Type)}
}

func (e *expander) simulation(n *model.Node) error {
	root, err := e.template(n)
	if err != nil {
		return err
	}
	return e.add(job.Descriptor{
		Name:   n.Name,
		Root:   root,
		File:   e.opts.file,
		Folder: parentName(n),
	})
}

func (e *expander) experiment(n *model.Node) error {
	var base, factors *model.Node
	for _, c := range n.Children() {
		if !c.Enabled {
			continue
		}
		switch c.Type {
		case TypeSimulation:
			if base != nil {
				return &ExpansionError{Path: n.Path(), Reason: "more than one base simulation"}
			}
			base = c
		case TypeFactors:
			factors = c
		}
	}
	if base == nil {
		return &ExpansionError{Path: n.Path(), Reason: "no base simulation"}
	}
	if factors == nil {
		return &ExpansionError{Path: n.Path(), Reason: "no factors"}
	}
	dims, err := factorLevels(factors)
	if err != nil {
		return err
	}
	template, err := e.template(base)
	if err != nil {
		return err
	}

	idx := make([]int, len(dims))
	for {
		name := n.Name
		levels := make([]job.FactorLevel, len(dims))
		root := template.Clone()
		for i, d := range dims {
			l := d[idx[i]]
			name += l.factor + l.name
			levels[i] = job.FactorLevel{Factor: l.factor, Level: l.name}
			for _, o := range l.overrides {
				if err := e.opts.apply(root, o); err != nil {
					return &ExpansionError{Path: n.Path(), Reason: fmt.Sprintf("level %s%s: %v", l.factor, l.name, err)}
				}
			}
		}
		root.Name = name
		if err := e.add(job.Descriptor{
			Name:       name,
			Root:       root,
			File:       e.opts.file,
			Folder:     parentName(n),
			Experiment: n.Name,
			Factors:    levels,
		}); err != nil {
			return err
		}
		if !next(idx, dims) {
			return nil
		}
	}
}

// next advances idx like an odometer, returning false after the last
// combination.
func next(idx []int, dims [][]level) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < len(dims[i]) {
			return true
		}
		idx[i] = 0
	}
	return false
}

func factorLevels(factors *model.Node) ([][]level, error) {
	var dims [][]level
	for _, f := range factors.Children() {
		if !f.Enabled {
			continue
		}
		if f.Type != TypeFactor {
			return nil, &ExpansionError{Path: f.Path(), Reason: fmt.Sprintf("want Factor, got %s", f.Type)}
		}
		levels, err := factorLevelsOf(f)
		if err != nil {
			return nil, err
		}
		if len(levels) == 0 {
			return nil, &ExpansionError{Path: f.Path(), Reason: "factor has no levels"}
		}
		seen := make(map[string]bool, len(levels))
		for _, l := range levels {
			if seen[l.name] {
				return nil, &ExpansionError{Path: f.Path(), Reason: fmt.Sprintf("duplicate level %q", l.name)}
			}
			seen[l.name] = true
		}
		dims = append(dims, levels)
	}
	if len(dims) == 0 {
		return nil, &ExpansionError{Path: factors.Path(), Reason: "no factors"}
	}
	return dims, nil
}

type factorConfig struct {
	Path   string `mapstructure:"path"`
	Levels []any  `mapstructure:"levels"`
}

type levelConfig struct {
	Overrides map[string]any `mapstructure:"overrides"`
}

func factorLevelsOf(f *model.Node) ([]level, error) {
	var cfg factorConfig
	if err := f.Params.Decode(&cfg); err != nil {
		return nil, &ExpansionError{Path: f.Path(), Reason: err.Error()}
	}
	if cfg.Path != "" {
		out := make([]level, len(cfg.Levels))
		for i, v := range cfg.Levels {
			out[i] = level{
				factor:    f.Name,
				name:      levelName(v),
				overrides: []model.Override{{Path: cfg.Path, Value: v}},
			}
		}
		return out, nil
	}
	if len(cfg.Levels) > 0 {
		return nil, &ExpansionError{Path: f.Path(), Reason: "levels given without a path"}
	}

	var out []level
	for _, c := range f.Children() {
		if !c.Enabled {
			continue
		}
		if c.Type != TypeLevel {
			return nil, &ExpansionError{Path: c.Path(), Reason: fmt.Sprintf("want Level, got %s", c.Type)}
		}
		var lc levelConfig
		if err := c.Params.Decode(&lc); err != nil {
			return nil, &ExpansionError{Path: c.Path(), Reason: err.Error()}
		}
		l := level{factor: f.Name, name: c.Name}
		for _, p := range sortedKeys(lc.Overrides) {
			l.overrides = append(l.overrides, model.Override{Path: p, Value: lc.Overrides[p]})
		}
		out = append(out, l)
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func levelName(v any) string {
	s := fmt.Sprint(v)
	return strings.NewReplacer(" ", "", ".", "_").Replace(s)
}

// template clones a simulation and applies the global overrides that
// address it.
func (e *expander) template(sim *model.Node) (*model.Node, error) {
	root := sim.Clone()
	for i, o := range e.opts.overrides {
		if !addresses(root, o.Path) {
			continue
		}
		if err := e.opts.apply(root, o); err != nil {
			return nil, &ExpansionError{Path: sim.Path(), Reason: err.Error()}
		}
		e.applied[i]++
	}
	return root, nil
}

// addresses reports whether path names something inside root. A dotted
// path whose first element is not a child of root belongs to another
// simulation. An ambiguous [Name] counts as addressed so Apply reports it.
func addresses(root *model.Node, path string) bool {
	if strings.HasPrefix(path, "[") {
		end := strings.Index(path, "]")
		return end > 0 && len(root.FindAll(path[1:end])) > 0
	}
	n, key, err := model.Locate(root, path)
	if err != nil {
		return false
	}
	return n != root || !strings.Contains(key, ".")
}

func (e *expander) add(d job.Descriptor) error {
	if prev, dup := e.seen[d.Name]; dup {
		return &ExpansionError{Path: d.Name, Reason: fmt.Sprintf("duplicate job name (also produced by %s)", prev)}
	}
	e.seen[d.Name] = d.Folder + "/" + d.Name
	e.jobs = append(e.jobs, d)
	return nil
}

func parentName(n *model.Node) string {
	if p := n.Parent(); p != nil {
		return p.Name
	}
	return ""
}
