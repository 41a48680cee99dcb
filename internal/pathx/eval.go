package pathx

import (
	"sort"
	"strconv"

	"github.com/agentic-research/arbor/internal/tree"
)

// Resolver looks up variable bindings.
type Resolver interface {
	Lookup(name string) (Binding, bool)
}

// Engine evaluates parsed expressions against a store.
type Engine struct {
	Store *tree.Store
	Vars  Resolver
}

type evalCtx struct {
	node      tree.ID
	pos, size int
}

// Eval evaluates p with ctx as the context node.
func (e *Engine) Eval(p *Path, ctx tree.ID) (Value, error) {
	v, err := e.eval(p.root, evalCtx{node: ctx, pos: 1, size: 1})
	if err != nil {
		err.Expr = p.src
		return Value{}, err
	}
	return v, nil
}

// Nodes evaluates p and requires a node-set result, returned in
// document order without duplicates.
func (e *Engine) Nodes(p *Path, ctx tree.ID) ([]tree.ID, error) {
	v, err := e.Eval(p, ctx)
	if err != nil {
		return nil, err
	}
	if v.Kind != KindNodes {
		return nil, &Error{Kind: ErrType, Expr: p.src, Msg: "expected a nodeset, got a " + v.Kind.String()}
	}
	return v.Nodes, nil
}

func (e *Engine) eval(x expr, c evalCtx) (Value, *Error) {
	switch x := x.(type) {
	case *stringLit:
		return stringValue(x.val), nil
	case *numberLit:
		return numberValue(x.val), nil
	case *varRef:
		return e.lookup(x)
	case *funcCall:
		return e.call(x, c)
	case *pathExpr:
		return e.evalPath(x, c)
	case *binaryExpr:
		return e.evalBinary(x, c)
	}
	return Value{}, errorf(ErrSyntax, 0, "unsupported expression")
}

func (e *Engine) lookup(v *varRef) (Value, *Error) {
	if e.Vars == nil {
		return Value{}, errorf(ErrUndefinedVar, v.pos, "$%s", v.name)
	}
	b, ok := e.Vars.Lookup(v.name)
	if !ok {
		return Value{}, errorf(ErrUndefinedVar, v.pos, "$%s", v.name)
	}
	if b.Kind == BindValue {
		return b.Value, nil
	}
	live := make([]tree.ID, 0, len(b.Nodes))
	for _, id := range b.Nodes {
		if e.Store.Node(id) != nil {
			live = append(live, id)
		}
	}
	return nodesValue(live), nil
}

func (e *Engine) evalPath(pe *pathExpr, c evalCtx) (Value, *Error) {
	var set []tree.ID
	switch {
	case pe.filter != nil:
		v, err := e.eval(pe.filter, c)
		if err != nil {
			return Value{}, err
		}
		if len(pe.steps) == 0 {
			return v, nil
		}
		if v.Kind != KindNodes {
			return Value{}, errorf(ErrType, pe.steps[0].pos, "path step applied to a %s", v.Kind)
		}
		set = v.Nodes
	case pe.absolute:
		set = []tree.ID{tree.RootID}
	default:
		set = []tree.ID{c.node}
	}
	for _, st := range pe.steps {
		next, err := e.applyStep(set, st)
		if err != nil {
			return Value{}, err
		}
		set = next
		if len(set) == 0 {
			break
		}
	}
	return nodesValue(set), nil
}

// applyStep evaluates st for every node of set and merges the results.
func (e *Engine) applyStep(set []tree.ID, st *step) ([]tree.ID, *Error) {
	var out []tree.ID
	seen := make(map[tree.ID]struct{})
	for _, ctx := range set {
		cands := e.axis(ctx, st.axis)
		if !st.any {
			kept := cands[:0]
			for _, id := range cands {
				if e.Store.Node(id).Label == st.name {
					kept = append(kept, id)
				}
			}
			cands = kept
		}
		for _, pred := range st.preds {
			var err *Error
			if cands, err = e.filter(cands, pred); err != nil {
				return nil, err
			}
		}
		for _, id := range cands {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	if len(set) > 1 || st.axis.reverse() {
		e.sortDocument(out)
	}
	return out, nil
}

// axis returns fresh candidate slices in proximity order.
func (e *Engine) axis(ctx tree.ID, ax Axis) []tree.ID {
	n := e.Store.Node(ctx)
	if n == nil {
		return nil
	}
	switch ax {
	case AxisChild:
		return append([]tree.ID(nil), n.Children...)
	case AxisSelf:
		return []tree.ID{ctx}
	case AxisDescendant:
		return e.Store.Subtree(ctx)[1:]
	case AxisDescendantOrSelf:
		return e.Store.Subtree(ctx)
	case AxisParent:
		if n.Parent == tree.None {
			return nil
		}
		return []tree.ID{n.Parent}
	case AxisAncestor:
		var out []tree.ID
		for p := e.Store.Node(n.Parent); p != nil; p = e.Store.Node(p.Parent) {
			out = append(out, p.ID)
		}
		return out
	case AxisRoot:
		return []tree.ID{tree.RootID}
	case AxisFollowingSibling, AxisPrecedingSibling:
		p := e.Store.Node(n.Parent)
		if p == nil {
			return nil
		}
		i := e.Store.IndexOf(ctx)
		if ax == AxisFollowingSibling {
			return append([]tree.ID(nil), p.Children[i+1:]...)
		}
		out := make([]tree.ID, 0, i)
		for j := i - 1; j >= 0; j-- {
			out = append(out, p.Children[j])
		}
		return out
	}
	return nil
}

// filter keeps the candidates for which pred holds. A numeric predicate
// selects by 1-based position.
func (e *Engine) filter(cands []tree.ID, pred expr) ([]tree.ID, *Error) {
	var out []tree.ID
	for i, id := range cands {
		v, err := e.eval(pred, evalCtx{node: id, pos: i + 1, size: len(cands)})
		if err != nil {
			return nil, err
		}
		if v.Kind == KindNumber {
			if v.Num == int64(i+1) {
				out = append(out, id)
			}
			continue
		}
		ok, err := truth(v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (e *Engine) sortDocument(ids []tree.ID) {
	sort.SliceStable(ids, func(i, j int) bool { return e.Store.Before(ids[i], ids[j]) })
}

func (e *Engine) evalBinary(b *binaryExpr, c evalCtx) (Value, *Error) {
	l, err := e.eval(b.l, c)
	if err != nil {
		return Value{}, err
	}
	switch b.op {
	case opOr, opAnd:
		lt, err := truth(l)
		if err != nil {
			return Value{}, err
		}
		if (b.op == opOr && lt) || (b.op == opAnd && !lt) {
			return boolValue(lt), nil
		}
		r, err := e.eval(b.r, c)
		if err != nil {
			return Value{}, err
		}
		rt, err := truth(r)
		if err != nil {
			return Value{}, err
		}
		return boolValue(rt), nil
	}

	r, err := e.eval(b.r, c)
	if err != nil {
		return Value{}, err
	}
	switch b.op {
	case tkPipe:
		if l.Kind != KindNodes || r.Kind != KindNodes {
			return Value{}, errorf(ErrType, b.pos, "union of %s and %s", l.Kind, r.Kind)
		}
		seen := make(map[tree.ID]struct{}, len(l.Nodes))
		out := append([]tree.ID(nil), l.Nodes...)
		for _, id := range l.Nodes {
			seen[id] = struct{}{}
		}
		for _, id := range r.Nodes {
			if _, dup := seen[id]; !dup {
				out = append(out, id)
			}
		}
		e.sortDocument(out)
		return nodesValue(out), nil
	case tkPlus, tkMinus:
		ln, err := e.number(l, b.pos)
		if err != nil {
			return Value{}, err
		}
		rn, err := e.number(r, b.pos)
		if err != nil {
			return Value{}, err
		}
		if b.op == tkMinus {
			rn = -rn
		}
		return numberValue(ln + rn), nil
	case tkMatch, tkNoMatch:
		ok, err := e.match(l, r, b.op == tkMatch, b.pos)
		if err != nil {
			return Value{}, err
		}
		return boolValue(ok), nil
	}
	ok, err := e.compare(b.op, l, r, b.pos)
	if err != nil {
		return Value{}, err
	}
	return boolValue(ok), nil
}

// texts returns the string forms a value contributes to a comparison.
// Nodes without a value contribute nothing.
func (e *Engine) texts(v Value) []string {
	if v.Kind != KindNodes {
		return []string{v.String()}
	}
	out := make([]string, 0, len(v.Nodes))
	for _, id := range v.Nodes {
		if n := e.Store.Node(id); n != nil && n.Value != nil {
			out = append(out, *n.Value)
		}
	}
	return out
}

// match reports whether any value of l matches r (want) or fails to
// match it (!want).
func (e *Engine) match(l, r Value, want bool, pos int) (bool, *Error) {
	re := r.Re
	switch r.Kind {
	case KindRegexp:
	case KindString:
		var err error
		if re, err = compileRegexp(r.Str, false); err != nil {
			return false, errorf(ErrType, pos, "invalid regexp %q: %v", r.Str, err)
		}
	default:
		return false, errorf(ErrType, pos, "right side of a match must be a regexp, got a %s", r.Kind)
	}
	if l.Kind == KindRegexp {
		return false, errorf(ErrType, pos, "cannot match a regexp against a regexp")
	}
	for _, s := range e.texts(l) {
		if re.MatchString(s) == want {
			return true, nil
		}
	}
	return false, nil
}

// compare implements = != < <= > >=. Node-sets compare existentially.
func (e *Engine) compare(op tokenKind, l, r Value, pos int) (bool, *Error) {
	if l.Kind == KindRegexp || r.Kind == KindRegexp {
		return false, errorf(ErrType, pos, "regexp used in a comparison")
	}
	if l.Kind != KindNodes && r.Kind != KindNodes {
		switch {
		case l.Kind == KindBool || r.Kind == KindBool:
			lt, _ := truth(l)
			rt, _ := truth(r)
			return cmpResult(op, boolInt(lt)-boolInt(rt)), nil
		case l.Kind == KindNumber || r.Kind == KindNumber:
			ln, lerr := e.number(l, pos)
			rn, rerr := e.number(r, pos)
			if lerr == nil && rerr == nil {
				return cmpResult(op, sign(ln-rn)), nil
			}
		}
	}
	ordered := op != tkEq && op != tkNeq
	for _, a := range e.texts(l) {
		for _, b := range e.texts(r) {
			if ordered {
				an, aerr := strconv.ParseInt(a, 10, 64)
				bn, berr := strconv.ParseInt(b, 10, 64)
				if aerr != nil || berr != nil {
					continue
				}
				if cmpResult(op, sign(an-bn)) {
					return true, nil
				}
				continue
			}
			if (a == b) == (op == tkEq) {
				return true, nil
			}
		}
	}
	return false, nil
}

func cmpResult(op tokenKind, d int) bool {
	switch op {
	case tkEq:
		return d == 0
	case tkNeq:
		return d != 0
	case tkLt:
		return d < 0
	case tkLe:
		return d <= 0
	case tkGt:
		return d > 0
	case tkGe:
		return d >= 0
	}
	return false
}

func sign(n int64) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// number converts v to an integer. A node-set converts through the
// value of its first node.
func (e *Engine) number(v Value, pos int) (int64, *Error) {
	switch v.Kind {
	case KindNumber:
		return v.Num, nil
	case KindBool:
		return int64(boolInt(v.Bool)), nil
	case KindString:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, errorf(ErrType, pos, "%q is not a number", v.Str)
		}
		return n, nil
	case KindNodes:
		if len(v.Nodes) == 0 {
			return 0, errorf(ErrType, pos, "empty nodeset used as a number")
		}
		n := e.Store.Node(v.Nodes[0])
		if n == nil || n.Value == nil {
			return 0, errorf(ErrType, pos, "node without a value used as a number")
		}
		return e.number(stringValue(*n.Value), pos)
	}
	return 0, errorf(ErrType, pos, "%s used as a number", v.Kind)
}

func truth(v Value) (bool, *Error) {
	switch v.Kind {
	case KindNodes:
		return len(v.Nodes) > 0, nil
	case KindString:
		return v.Str != "", nil
	case KindNumber:
		return v.Num != 0, nil
	case KindBool:
		return v.Bool, nil
	}
	return false, errorf(ErrType, 0, "%s used as a boolean", v.Kind)
}
