// Package links wires a model graph by filling every declared dependency
// slot with a node found by scoped tree search.
package links

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jward/paddock/internal/model"
)

// Reason classifies a LinkError.
type Reason string

const (
	Unresolved Reason = "unresolved"
	Ambiguous  Reason = "ambiguous"
)

// LinkError names the node and slot that could not be wired.
type LinkError struct {
	Node       string
	Slot       string
	Capability model.Capability
	Target     string
	Scope      model.Scope
	Reason     Reason
	Candidates []string
}

func (e *LinkError) Error() string {
	want := string(e.Capability)
	if e.Target != "" {
		want = fmt.Sprintf("%s named %q", want, e.Target)
	}
	msg := fmt.Sprintf("links: %s slot %q: %s %s (%s scope)", e.Node, e.Slot, e.Reason, want, e.Scope)
	if len(e.Candidates) > 0 {
		msg += ": " + strings.Join(e.Candidates, ", ")
	}
	return msg
}

// Query describes a search. An empty Capability matches any component; an
// empty Name matches any name.
type Query struct {
	Capability model.Capability
	Name       string
	Scope      model.Scope
}

func (q Query) matches(n *model.Node) bool {
	if !n.Enabled || n.Component == nil {
		return false
	}
	if q.Name != "" && n.Name != q.Name {
		return false
	}
	return q.Capability == "" || n.Has(q.Capability)
}

// Resolve fills every slot declared under root. Nodes are visited in
// pre-order and slots in declaration order. Bindings are computed first and
// applied only if every required slot resolves, so a failed call leaves the
// graph as it was. Resolve never calls into components beyond Links and
// Capabilities, and re-running it yields the same bindings.
func Resolve(root *model.Node) error {
	type binding struct {
		slot *model.Slot
		node *model.Node
	}
	var (
		pending []binding
		errs    []error
	)
	root.Walk(func(n *model.Node) error {
		if !n.Enabled {
			return model.SkipChildren
		}
		linker, ok := n.Component.(model.Linker)
		if !ok {
			return nil
		}
		for _, s := range linker.Links() {
			q := Query{Capability: s.Capability, Name: s.Target, Scope: s.Scope}
			target, err := Find(n, q)
			if err != nil {
				var le *LinkError
				if errors.As(err, &le) {
					le.Slot = s.Name
					if le.Reason == Unresolved && s.Optional {
						pending = append(pending, binding{slot: s})
						continue
					}
				}
				errs = append(errs, err)
				continue
			}
			pending = append(pending, binding{slot: s, node: target})
		}
		return nil
	})
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, b := range pending {
		b.slot.Bind(b.node)
	}
	return nil
}

// Find searches from n according to q. Levels are searched nearest first;
// the first level with exactly one match wins and a level with several
// matches is an Ambiguous error.
func Find(n *model.Node, q Query) (*model.Node, error) {
	for _, level := range levels(n, q.Scope) {
		var found []*model.Node
		for _, c := range level {
			if c != n && q.matches(c) {
				found = append(found, c)
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], nil
		default:
			paths := make([]string, len(found))
			for i, f := range found {
				paths[i] = f.Path()
			}
			return nil, &LinkError{
				Node: n.Path(), Capability: q.Capability, Target: q.Name,
				Scope: q.Scope, Reason: Ambiguous, Candidates: paths,
			}
		}
	}
	return nil, &LinkError{
		Node: n.Path(), Capability: q.Capability, Target: q.Name,
		Scope: q.Scope, Reason: Unresolved,
	}
}

// levels returns the candidate groups for scope, nearest first. Disabled
// subtrees are never candidates.
func levels(n *model.Node, scope model.Scope) [][]*model.Node {
	switch scope {
	case model.ScopeChild:
		var out [][]*model.Node
		frontier := enabled(n.Children())
		for len(frontier) > 0 {
			out = append(out, frontier)
			var next []*model.Node
			for _, c := range frontier {
				next = append(next, enabled(c.Children())...)
			}
			frontier = next
		}
		return out

	case model.ScopeAncestor:
		var out [][]*model.Node
		for a := n.Parent(); a != nil; a = a.Parent() {
			out = append(out, []*model.Node{a})
		}
		return out

	case model.ScopeSimulation:
		return [][]*model.Node{subtree(n.Root())}

	default:
		var out [][]*model.Node
		searched := n
		for a := n.Parent(); a != nil; a = a.Parent() {
			level := []*model.Node{a}
			for _, c := range a.Children() {
				if c != searched {
					level = append(level, subtree(c)...)
				}
			}
			out = append(out, level)
			searched = a
		}
		return out
	}
}

func enabled(nodes []*model.Node) []*model.Node {
	var out []*model.Node
	for _, c := range nodes {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// subtree returns n and its descendants in pre-order, skipping disabled
// subtrees.
func subtree(n *model.Node) []*model.Node {
	var out []*model.Node
	n.Walk(func(d *model.Node) error {
		if !d.Enabled {
			return model.SkipChildren
		}
		out = append(out, d)
		return nil
	})
	return out
}
