package links

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jward/paddock/internal/model"
)

// Ref is a parsed variable reference of the form "[Node].Variable".
type Ref struct {
	Node     string
	Variable string
}

func (r Ref) String() string { return "[" + r.Node + "]." + r.Variable }

// ParseRef parses "[Node].Variable".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return Ref{}, fmt.Errorf("links: reference %q: want [Node].Variable", s)
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return Ref{}, fmt.Errorf("links: reference %q: missing ]", s)
	}
	r := Ref{Node: s[1:end], Variable: strings.TrimPrefix(s[end+1:], ".")}
	if r.Node == "" || r.Variable == "" {
		return Ref{}, fmt.Errorf("links: reference %q: want [Node].Variable", s)
	}
	return r, nil
}

// Provider finds the node named ref.Node in scope of from and returns it
// as a variable provider. The scoped search runs first, then from's own
// descendants.
func Provider(from *model.Node, ref Ref) (model.VariableProvider, error) {
	n, err := Find(from, Query{Name: ref.Node, Scope: model.ScopeScoped})
	var le *LinkError
	if errors.As(err, &le) && le.Reason == Unresolved {
		n, err = Find(from, Query{Name: ref.Node, Scope: model.ScopeChild})
	}
	if err != nil {
		return nil, fmt.Errorf("links: %s: %w", ref, err)
	}
	vp, ok := n.Component.(model.VariableProvider)
	if !ok {
		return nil, fmt.Errorf("links: %s: %s exposes no variables", ref, n.Path())
	}
	return vp, nil
}

// Value looks up and reads a reference in one step.
func Value(from *model.Node, ref string) (any, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	vp, err := Provider(from, r)
	if err != nil {
		return nil, err
	}
	v, ok := vp.Variable(r.Variable)
	if !ok {
		return nil, fmt.Errorf("links: %s: no such variable", r)
	}
	return v, nil
}
