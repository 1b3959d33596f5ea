// Package loader reads simulation definitions and override files.
//
// A definition is a YAML tree of nodes:
//
//	type: Simulations
//	children:
//	  - type: Simulation
//	    name: Base
//	    children:
//	      - type: Clock
//	        params: {start: 2000-01-01, end: 2000-12-31}
//
// name defaults to type and enabled defaults to true.
package loader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jward/paddock/internal/model"
)

type nodeDoc struct {
	Type     string         `yaml:"type"`
	Name     string         `yaml:"name"`
	Enabled  *bool          `yaml:"enabled"`
	Params   map[string]any `yaml:"params"`
	Children []nodeDoc      `yaml:"children"`
}

// Parse decodes a definition.
func Parse(data []byte) (*model.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("loader: definition is empty")
	}
	var doc nodeDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("loader: decode definition: %w", err)
	}
	return build(doc, "")
}

// LoadReader reads a definition from r.
func LoadReader(r io.Reader) (*model.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: read definition: %w", err)
	}
	return Parse(data)
}

// LoadFile reads a definition file.
func LoadFile(path string) (*model.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	root, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}
	return root, nil
}

func build(doc nodeDoc, parent string) (*model.Node, error) {
	if strings.TrimSpace(doc.Type) == "" {
		where := parent
		if where == "" {
			where = "root"
		}
		return nil, fmt.Errorf("node without type under %s", where)
	}
	n := model.NewNode(doc.Type, doc.Name, model.Params(doc.Params))
	if doc.Enabled != nil {
		n.Enabled = *doc.Enabled
	}
	path := parent + "." + n.Name
	for _, cd := range doc.Children {
		c, err := build(cd, path)
		if err != nil {
			return nil, err
		}
		if err := n.AddChild(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// ParseAssignment parses "path = value". The value is read as a YAML
// scalar or flow collection, so numbers, booleans and lists keep their type.
func ParseAssignment(s string) (model.Override, error) {
	path, raw, ok := strings.Cut(s, "=")
	path, raw = strings.TrimSpace(path), strings.TrimSpace(raw)
	if !ok || path == "" {
		return model.Override{}, fmt.Errorf("loader: %q: want path = value", s)
	}
	if raw == "" {
		return model.Override{Path: path, Value: ""}, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return model.Override{}, fmt.Errorf("loader: %q: %w", s, err)
	}
	return model.Override{Path: path, Value: v}, nil
}

// ParseOverrides reads one assignment per line. Blank lines and lines
// starting with # are ignored.
func ParseOverrides(r io.Reader) ([]model.Override, error) {
	var out []model.Override
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		o, err := ParseAssignment(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, o)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("loader: read overrides: %w", err)
	}
	return out, nil
}

// LoadOverrides reads an override file.
func LoadOverrides(path string) ([]model.Override, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defer f.Close()
	ovs, err := ParseOverrides(f)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}
	return ovs, nil
}
