package pathx

import (
	"sort"

	"github.com/agentic-research/arbor/internal/tree"
)

// BindingKind tags a Binding.
type BindingKind int

const (
	// BindNodes holds a materialized node-set.
	BindNodes BindingKind = iota + 1
	// BindValue holds a scalar computed when the variable was defined.
	BindValue
)

// Binding is the value of a variable.
type Binding struct {
	Kind  BindingKind
	Nodes []tree.ID
	Value Value
	// Expr is the expression the binding was defined from.
	Expr string
}

// Vars is a session's variable table.
type Vars struct {
	m map[string]*Binding
}

func NewVars() *Vars {
	return &Vars{m: make(map[string]*Binding)}
}

// Lookup implements Resolver.
func (v *Vars) Lookup(name string) (Binding, bool) {
	b, ok := v.m[name]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// Define binds name, replacing any previous binding.
func (v *Vars) Define(name string, b Binding) {
	if b.Kind == BindNodes {
		b.Nodes = append([]tree.ID(nil), b.Nodes...)
	}
	v.m[name] = &b
}

// Bind is Define for the result of an evaluation.
func (v *Vars) Bind(name, expr string, val Value) {
	if val.Kind == KindNodes {
		v.Define(name, Binding{Kind: BindNodes, Nodes: val.Nodes, Expr: expr})
		return
	}
	v.Define(name, Binding{Kind: BindValue, Value: val, Expr: expr})
}

// Remove deletes a binding and reports whether it existed.
func (v *Vars) Remove(name string) bool {
	_, ok := v.m[name]
	delete(v.m, name)
	return ok
}

// Names lists bound variables, sorted.
func (v *Vars) Names() []string {
	out := make([]string, 0, len(v.m))
	for name := range v.m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Prune drops removed nodes from every node-set binding.
func (v *Vars) Prune(removed []tree.ID) {
	if len(removed) == 0 {
		return
	}
	gone := make(map[tree.ID]struct{}, len(removed))
	for _, id := range removed {
		gone[id] = struct{}{}
	}
	for _, b := range v.m {
		if b.Kind != BindNodes {
			continue
		}
		kept := b.Nodes[:0]
		for _, id := range b.Nodes {
			if _, ok := gone[id]; !ok {
				kept = append(kept, id)
			}
		}
		b.Nodes = kept
	}
}

// Clear removes every binding.
func (v *Vars) Clear() {
	clear(v.m)
}
