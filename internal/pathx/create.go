package pathx

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/tree"
)

// Plan describes how to create the node a path denotes: Parent is the
// deepest existing node and Labels the chain of children to add below
// it. An empty Labels means Parent itself is the single match.
type Plan struct {
	Parent tree.ID
	Labels []string
}

// Exists reports whether the path already denotes exactly one node.
func (p *Plan) Exists() bool { return len(p.Labels) == 0 }

// PlanCreate finds the longest prefix of p that matches exactly one node
// and checks that the remaining steps are plain child names with at most
// positional predicates.
func (e *Engine) PlanCreate(p *Path, ctx tree.ID) (*Plan, error) {
	plan, err := e.planCreate(p, ctx)
	if err != nil {
		err.Expr = p.src
		return nil, err
	}
	return plan, nil
}

func (e *Engine) planCreate(p *Path, ctx tree.ID) (*Plan, *Error) {
	pe, ok := p.root.(*pathExpr)
	if !ok {
		return nil, errorf(ErrCreate, 0, "not a location path")
	}
	cur := ctx
	switch {
	case pe.filter != nil:
		v, err := e.eval(pe.filter, evalCtx{node: ctx, pos: 1, size: 1})
		if err != nil {
			return nil, err
		}
		if v.Kind != KindNodes {
			return nil, errorf(ErrCreate, 0, "path starts from a %s", v.Kind)
		}
		switch len(v.Nodes) {
		case 0:
			return nil, errorf(ErrCreate, 0, "path starts from an empty nodeset")
		case 1:
			cur = v.Nodes[0]
		default:
			return nil, errorf(ErrMultiple, 0, "path starts from %d nodes", len(v.Nodes))
		}
	case pe.absolute:
		cur = tree.RootID
	}

	i := 0
	for ; i < len(pe.steps); i++ {
		next, err := e.applyStep([]tree.ID{cur}, pe.steps[i])
		if err != nil {
			return nil, err
		}
		if len(next) == 0 {
			break
		}
		if len(next) > 1 {
			return nil, errorf(ErrMultiple, pe.steps[i].pos, "%d nodes match", len(next))
		}
		cur = next[0]
	}

	plan := &Plan{Parent: cur}
	for _, st := range pe.steps[i:] {
		if st.axis != AxisChild || st.any {
			return nil, errorf(ErrCreate, st.pos, "only child name steps can be created")
		}
		if !tree.ValidLabel(st.name) {
			return nil, errorf(ErrCreate, st.pos, "invalid label %q", st.name)
		}
		for _, pred := range st.preds {
			if !positional(pred) {
				return nil, errorf(ErrCreate, st.pos, "predicate on %q is not positional", st.name)
			}
		}
		plan.Labels = append(plan.Labels, st.name)
	}
	return plan, nil
}

// positional reports whether pred only selects by position: a number,
// last(), or sums and differences of those.
func positional(pred expr) bool {
	switch x := pred.(type) {
	case *numberLit:
		return true
	case *funcCall:
		return x.name == "last"
	case *binaryExpr:
		return (x.op == tkPlus || x.op == tkMinus) && positional(x.l) && positional(x.r)
	}
	return false
}

// Create adds the nodes of plan and returns the final node and the IDs
// created, outermost first. New nodes follow the last sibling sharing
// their label.
func (e *Engine) Create(plan *Plan) (tree.ID, []tree.ID, error) {
	parent := plan.Parent
	created := make([]tree.ID, 0, len(plan.Labels))
	for _, label := range plan.Labels {
		n, err := e.Store.AppendAfterLabel(parent, label)
		if err != nil {
			return tree.None, created, fmt.Errorf("create %q: %w", label, err)
		}
		created = append(created, n.ID)
		parent = n.ID
	}
	return parent, created, nil
}
