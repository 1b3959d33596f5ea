package model

import (
	"fmt"
	"strings"
)

// PathError reports an override path that does not address a parameter.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("model: path %q: %s", e.Path, e.Reason)
}

// Override substitutes a parameter value addressed by path.
type Override struct {
	Path  string
	Value any
}

func (o Override) String() string {
	return fmt.Sprintf("%s = %v", o.Path, o.Value)
}

// Locate splits path into the addressed node under root and the remaining
// parameter key. Two forms are accepted:
//
//	[Name].key.sub     the single node called Name anywhere under root
//	Child.Grand.key    child names from root, then the parameter key
//
// A leading "." on the second form is ignored.
func Locate(root *Node, path string) (*Node, string, error) {
	if strings.HasPrefix(path, "[") {
		end := strings.Index(path, "]")
		if end < 0 {
			return nil, "", &PathError{Path: path, Reason: "missing ]"}
		}
		name := path[1:end]
		rest := strings.TrimPrefix(path[end+1:], ".")
		if name == "" || rest == "" {
			return nil, "", &PathError{Path: path, Reason: "want [Name].parameter"}
		}
		matches := root.FindAll(name)
		switch len(matches) {
		case 0:
			return nil, "", &PathError{Path: path, Reason: fmt.Sprintf("no node named %q", name)}
		case 1:
			return matches[0], rest, nil
		default:
			return nil, "", &PathError{Path: path, Reason: fmt.Sprintf("%d nodes named %q", len(matches), name)}
		}
	}

	parts := strings.Split(strings.TrimPrefix(path, "."), ".")
	n := root
	i := 0
	for ; i < len(parts); i++ {
		c := n.Child(parts[i])
		if c == nil {
			break
		}
		n = c
	}
	if i == len(parts) {
		return nil, "", &PathError{Path: path, Reason: "addresses a node, not a parameter"}
	}
	return n, strings.Join(parts[i:], "."), nil
}

// Apply sets the parameter addressed by o.Path under root.
func Apply(root *Node, o Override) error {
	n, key, err := Locate(root, o.Path)
	if err != nil {
		return err
	}
	if strings.EqualFold(key, "enabled") {
		b, ok := o.Value.(bool)
		if !ok {
			return &PathError{Path: o.Path, Reason: "enabled takes true or false"}
		}
		n.Enabled = b
		return nil
	}
	if n.Params == nil {
		n.Params = Params{}
	}
	if err := n.Params.Set(key, o.Value); err != nil {
		return &PathError{Path: o.Path, Reason: err.Error()}
	}
	return nil
}
