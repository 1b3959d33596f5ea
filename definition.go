package paddock

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/paddock/internal/expand"
	"github.com/jward/paddock/internal/job"
	"github.com/jward/paddock/internal/loader"
	"github.com/jward/paddock/internal/model"
)

// Definition is one loaded definition file.
type Definition struct {
	// File is the path the definition was read from, empty for parsed
	// definitions. Relative file parameters resolve against its directory.
	File string
	Root *model.Node
}

// LoadDefinition reads a YAML definition file.
func LoadDefinition(path string) (*Definition, error) {
	root, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("paddock: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Definition{File: abs, Root: root}, nil
}

// ParseDefinition parses a YAML definition held in memory.
func ParseDefinition(data []byte) (*Definition, error) {
	root, err := loader.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("paddock: %w", err)
	}
	return &Definition{Root: root}, nil
}

// FindDefinitions expands a list of file and directory arguments into
// definition files. Directories contribute their *.yaml and *.yml files;
// with recurse set their subdirectories are searched as well.
func FindDefinitions(args []string, recurse bool) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("paddock: %w", err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && !recurse {
					return filepath.SkipDir
				}
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml":
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("paddock: search %s: %w", arg, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("paddock: no definition files found")
	}
	return files, nil
}

// Query is a post-simulation step: SQL run against the datastore after
// every job has finished, its result stored as Table.
type Query struct {
	Path  string
	Table string
	SQL   string
}

// Plan is the set of jobs and queries produced by Expand. ID identifies the
// run in the datastore and in published events.
type Plan struct {
	ID      string
	Jobs    []job.Descriptor
	Queries []Query
}

// Names returns the job names in run order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Jobs))
	for i, d := range p.Jobs {
		names[i] = d.Name
	}
	return names
}

// Expand turns definitions into a plan using the engine's overrides.
func (e *Engine) Expand(names *regexp.Regexp, defs ...*Definition) (*Plan, error) {
	plan, err := ExpandDefinitions(e.registry, names, e.overrides, defs...)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("definitions expanded",
		zap.String("run_id", plan.ID),
		zap.Int("jobs", len(plan.Jobs)),
		zap.Int("queries", len(plan.Queries)))
	return plan, nil
}

// ExpandDefinitions turns definitions into a plan. A non-nil names
// expression keeps only the jobs whose name matches; queries are kept
// regardless. Every override must address a simulation in each definition.
// Job names must be unique across all definitions. A non-nil reg rejects
// overrides naming a parameter the addressed node's type does not accept.
func ExpandDefinitions(reg *model.Registry, names *regexp.Regexp, overrides []model.Override, defs ...*Definition) (*Plan, error) {
	plan := &Plan{ID: uuid.NewString()}
	seen := make(map[string]string)
	for _, def := range defs {
		opts := []expand.Option{expand.WithOverrides(overrides...), expand.WithFile(def.File), expand.WithRegistry(reg)}
		if names != nil {
			opts = append(opts, expand.WithNames(names))
		}
		jobs, err := expand.Expand(def.Root, opts...)
		if err != nil {
			return nil, fmt.Errorf("paddock: %s: %w", label(def), err)
		}
		for _, d := range jobs {
			if prev, ok := seen[d.Name]; ok {
				return nil, fmt.Errorf("paddock: job %q is defined in both %s and %s", d.Name, prev, label(def))
			}
			seen[d.Name] = label(def)
		}
		plan.Jobs = append(plan.Jobs, jobs...)

		queries, err := queriesOf(def)
		if err != nil {
			return nil, fmt.Errorf("paddock: %s: %w", label(def), err)
		}
		plan.Queries = append(plan.Queries, queries...)
	}
	return plan, nil
}

func label(def *Definition) string {
	if def.File == "" {
		return "<definition>"
	}
	return def.File
}

type queryParams struct {
	SQL   string `mapstructure:"sql"`
	File  string `mapstructure:"file"`
	Table string `mapstructure:"table"`
}

// queriesOf collects the enabled Query nodes outside any simulation.
func queriesOf(def *Definition) ([]Query, error) {
	var out []Query
	err := def.Root.Walk(func(n *model.Node) error {
		if !n.Enabled {
			return model.SkipChildren
		}
		switch n.Type {
		case expand.TypeSimulation, expand.TypeExperiment:
			return model.SkipChildren
		case expand.TypeQuery:
		default:
			return nil
		}

		var p queryParams
		if err := n.Params.Decode(&p); err != nil {
			return fmt.Errorf("%s: %w", n.Path(), err)
		}
		if p.SQL == "" && p.File != "" {
			path := p.File
			if !filepath.IsAbs(path) && def.File != "" {
				path = filepath.Join(filepath.Dir(def.File), path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", n.Path(), err)
			}
			p.SQL = string(data)
		}
		if strings.TrimSpace(p.SQL) == "" {
			return fmt.Errorf("%s: query has no sql", n.Path())
		}
		if p.Table == "" {
			p.Table = n.Name
		}
		out = append(out, Query{Path: n.Path(), Table: p.Table, SQL: p.SQL})
		return nil
	})
	return out, err
}
