package model

// Scope selects where the link resolver searches for a slot's target.
type Scope int

const (
	// ScopeScoped walks up the ancestors and, at each one, searches the
	// ancestor itself and its descendants not already searched.
	ScopeScoped Scope = iota
	// ScopeChild searches the node's own descendants, nearest depth first.
	ScopeChild
	// ScopeAncestor searches only the node's ancestors, nearest first.
	ScopeAncestor
	// ScopeSimulation searches the whole tree as a single level.
	ScopeSimulation
)

func (s Scope) String() string {
	switch s {
	case ScopeScoped:
		return "scoped"
	case ScopeChild:
		return "child"
	case ScopeAncestor:
		return "ancestor"
	case ScopeSimulation:
		return "simulation"
	}
	return "unknown"
}

// Slot is a declared dependency: a capability, optionally a target name,
// a search scope and whether it may remain empty.
type Slot struct {
	Name       string
	Capability Capability
	Target     string
	Scope      Scope
	Optional   bool

	node *Node
}

// SlotOption adjusts a slot declaration.
type SlotOption func(*Slot)

// Named restricts matches to nodes called target.
func Named(target string) SlotOption {
	return func(s *Slot) { s.Target = target }
}

// In sets the search scope.
func In(scope Scope) SlotOption {
	return func(s *Slot) { s.Scope = scope }
}

// Optional marks the slot as allowed to stay empty.
func Optional() SlotOption {
	return func(s *Slot) { s.Optional = true }
}

// NewSlot declares a slot for capability c. The default scope is ScopeScoped.
func NewSlot(name string, c Capability, opts ...SlotOption) *Slot {
	s := &Slot{Name: name, Capability: c}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind sets the slot's target. A nil node clears it.
func (s *Slot) Bind(n *Node) { s.node = n }

// Node returns the bound node, or nil.
func (s *Slot) Node() *Node { return s.node }

// Bound reports whether the slot has a target.
func (s *Slot) Bound() bool { return s.node != nil }

// As returns the bound node's component as T.
func As[T any](s *Slot) (T, bool) {
	var zero T
	if s == nil || s.node == nil || s.node.Component == nil {
		return zero, false
	}
	v, ok := s.node.Component.(T)
	return v, ok
}
