package pathx

// Axis selects the candidate nodes of a step relative to a context node.
type Axis int

const (
	AxisChild Axis = iota
	AxisSelf
	AxisDescendant
	AxisDescendantOrSelf
	AxisParent
	AxisAncestor
	AxisRoot
	AxisFollowingSibling
	AxisPrecedingSibling
)

var axisNames = map[string]Axis{
	"child":              AxisChild,
	"self":               AxisSelf,
	"descendant":         AxisDescendant,
	"descendant-or-self": AxisDescendantOrSelf,
	"parent":             AxisParent,
	"ancestor":           AxisAncestor,
	"root":               AxisRoot,
	"following-sibling":  AxisFollowingSibling,
	"preceding-sibling":  AxisPrecedingSibling,
}

func (a Axis) String() string {
	for name, v := range axisNames {
		if v == a {
			return name
		}
	}
	return "unknown"
}

// reverse axes number their candidates from the context node outwards.
func (a Axis) reverse() bool {
	return a == AxisAncestor || a == AxisPrecedingSibling || a == AxisParent
}

type expr interface{ exprNode() }

type binaryExpr struct {
	op   tokenKind // tkEq..tkNoMatch, tkPlus, tkMinus, tkPipe, or opAnd/opOr
	l, r expr
	pos  int
}

const (
	opAnd tokenKind = 1000 + iota
	opOr
)

type stringLit struct{ val string }

type numberLit struct{ val int64 }

type varRef struct {
	name string
	pos  int
}

type funcCall struct {
	name string
	args []expr
	pos  int
}

// pathExpr is a location path, optionally starting from a filter
// expression such as $var or (a|b).
type pathExpr struct {
	filter   expr
	absolute bool
	steps    []*step
}

type step struct {
	axis  Axis
	name  string // "" with any=true for '*'
	any   bool
	preds []expr
	pos   int
}

func (*binaryExpr) exprNode() {}
func (*stringLit) exprNode()  {}
func (*numberLit) exprNode()  {}
func (*varRef) exprNode()     {}
func (*funcCall) exprNode()   {}
func (*pathExpr) exprNode()   {}

// Path is a parsed expression, reusable across evaluations.
type Path struct {
	src  string
	root expr
}

// String returns the source text.
func (p *Path) String() string { return p.src }

// IsLocation reports whether the expression is a plain location path
// (possibly rooted at a variable), as opposed to a scalar expression.
func (p *Path) IsLocation() bool {
	_, ok := p.root.(*pathExpr)
	return ok
}
