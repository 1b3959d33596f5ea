// Package model defines the simulation model graph: a tree of named, typed
// nodes whose components declare the capabilities they provide, the
// dependency slots they need filled and the topics they subscribe to.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateName is returned when a child's name collides with a sibling.
var ErrDuplicateName = errors.New("model: duplicate sibling name")

// SkipChildren may be returned by a Walk callback to skip a node's subtree.
var SkipChildren = errors.New("model: skip children")

// Node is one element of the model graph. The parent pointer is a
// back-reference maintained by AddChild; ownership flows parent to child.
type Node struct {
	Name    string
	Type    string
	Enabled bool
	Params  Params

	// Component is the behaviour instantiated for this node. It is nil on
	// template graphs and filled in by Registry.Build.
	Component Component

	parent   *Node
	children []*Node
}

// NewNode creates a detached, enabled node. An empty name defaults to the type.
func NewNode(typ, name string, params Params) *Node {
	if name == "" {
		name = typ
	}
	if params == nil {
		params = Params{}
	}
	return &Node{Name: name, Type: typ, Enabled: true, Params: params}
}

// Parent returns the node's parent, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the ordered child list. Callers must not modify it.
func (n *Node) Children() []*Node { return n.children }

// Child returns the immediate child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AddChild appends c to n's children. c must be detached, must not be an
// ancestor of n and its name must be unique among n's children.
func (n *Node) AddChild(c *Node) error {
	if c.parent != nil {
		return fmt.Errorf("model: %s is already attached to %s", c.Name, c.parent.Path())
	}
	for a := n; a != nil; a = a.parent {
		if a == c {
			return fmt.Errorf("model: adding %s under %s would create a cycle", c.Name, n.Path())
		}
	}
	if n.Child(c.Name) != nil {
		return fmt.Errorf("%w: %q under %s", ErrDuplicateName, c.Name, n.Path())
	}
	c.parent = n
	n.children = append(n.children, c)
	return nil
}

// RemoveChild detaches and returns the named child, or nil if absent.
func (n *Node) RemoveChild(name string) *Node {
	for i, c := range n.children {
		if c.Name == name {
			n.children = append(n.children[:i], n.children[i+1:]...)
			c.parent = nil
			return c
		}
	}
	return nil
}

// Root returns the topmost ancestor.
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Path returns the dotted path from the root, e.g. ".Simulations.Base.Field".
func (n *Node) Path() string {
	var parts []string
	for a := n; a != nil; a = a.parent {
		parts = append(parts, a.Name)
	}
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('.')
		b.WriteString(parts[i])
	}
	return b.String()
}

// Walk visits n and its descendants in pre-order. Returning SkipChildren
// skips the current node's subtree; any other error stops the walk.
func (n *Node) Walk(fn func(*Node) error) error {
	err := n.walk(fn)
	if errors.Is(err, SkipChildren) {
		return nil
	}
	return err
}

func (n *Node) walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := c.walk(fn); err != nil && !errors.Is(err, SkipChildren) {
			return err
		}
	}
	return nil
}

// Descendants returns every node below n in pre-order.
func (n *Node) Descendants() []*Node {
	var out []*Node
	for _, c := range n.children {
		c.Walk(func(d *Node) error {
			out = append(out, d)
			return nil
		})
	}
	return out
}

// FindAll returns n and every descendant named name, in pre-order.
func (n *Node) FindAll(name string) []*Node {
	var out []*Node
	n.Walk(func(d *Node) error {
		if d.Name == name {
			out = append(out, d)
		}
		return nil
	})
	return out
}

// Capabilities returns the roles the node's component plays.
func (n *Node) Capabilities() []Capability {
	if n.Component == nil {
		return nil
	}
	return n.Component.Capabilities()
}

// Has reports whether the node's component provides capability c.
func (n *Node) Has(c Capability) bool {
	for _, have := range n.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

// Clone deep-copies the subtree rooted at n, including parameters. The
// copy is detached and carries no components.
func (n *Node) Clone() *Node {
	c := &Node{
		Name:    n.Name,
		Type:    n.Type,
		Enabled: n.Enabled,
		Params:  n.Params.Clone(),
	}
	for _, child := range n.children {
		cc := child.Clone()
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}

// PruneDisabled removes every disabled descendant of n.
func (n *Node) PruneDisabled() {
	kept := n.children[:0]
	for _, c := range n.children {
		if !c.Enabled {
			c.parent = nil
			continue
		}
		c.PruneDisabled()
		kept = append(kept, c)
	}
	for i := len(kept); i < len(n.children); i++ {
		n.children[i] = nil
	}
	n.children = kept
}
