package pathx

import (
	"strconv"
)

type parser struct {
	src  string
	toks []token
	i    int
}

// Parse compiles a path expression.
func Parse(src string) (*Path, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	root, perr := p.parseOr()
	if perr == nil && p.peek().kind != tkEOF {
		perr = p.unexpected()
	}
	if perr != nil {
		perr.Expr = src
		return nil, perr
	}
	return &Path{src: src, root: root}, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) *Path {
	p, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *parser) peek() token      { return p.toks[p.i] }
func (p *parser) peekN(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}
func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tkEOF {
		p.i++
	}
	return t
}

func (p *parser) unexpected() *Error {
	t := p.peek()
	if t.kind == tkEOF {
		return errorf(ErrSyntax, t.pos, "unexpected end of expression")
	}
	return errorf(ErrSyntax, t.pos, "unexpected %s", t.kind)
}

func (p *parser) expect(k tokenKind) *Error {
	if p.peek().kind != k {
		t := p.peek()
		return errorf(ErrSyntax, t.pos, "expected %s, found %s", k, t.kind)
	}
	p.advance()
	return nil
}

// keyword reports whether the next token is the bare name kw in operator
// position.
func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tkName && t.text == kw
}

func (p *parser) parseOr() (expr, *Error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		pos := p.advance().pos
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{op: opOr, l: l, r: r, pos: pos}
	}
	return l, nil
}

func (p *parser) parseAnd() (expr, *Error) {
	l, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		pos := p.advance().pos
		r, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{op: opAnd, l: l, r: r, pos: pos}
	}
	return l, nil
}

func (p *parser) parseCmp() (expr, *Error) {
	l, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	switch k := p.peek().kind; k {
	case tkEq, tkNeq, tkLt, tkLe, tkGt, tkGe, tkMatch, tkNoMatch:
		pos := p.advance().pos
		r, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: k, l: l, r: r, pos: pos}, nil
	}
	return l, nil
}

func (p *parser) parseAdd() (expr, *Error) {
	l, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		if k != tkPlus && k != tkMinus {
			return l, nil
		}
		pos := p.advance().pos
		r, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{op: k, l: l, r: r, pos: pos}
	}
}

func (p *parser) parseUnion() (expr, *Error) {
	l, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tkPipe {
		pos := p.advance().pos
		r, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{op: tkPipe, l: l, r: r, pos: pos}
	}
	return l, nil
}

func (p *parser) parsePath() (expr, *Error) {
	t := p.peek()
	switch t.kind {
	case tkSlash:
		p.advance()
		pe := &pathExpr{absolute: true}
		if p.startsStep() {
			if err := p.parseRelPath(pe); err != nil {
				return nil, err
			}
		}
		return pe, nil
	case tkDSlash:
		p.advance()
		pe := &pathExpr{absolute: true}
		pe.steps = append(pe.steps, anyDescendant(t.pos))
		if err := p.parseRelPath(pe); err != nil {
			return nil, err
		}
		return pe, nil
	case tkVar, tkString, tkLParen:
		prim, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return p.parseFilterPath(prim)
	case tkNumber:
		// A bare number is a literal unless a path continues after it,
		// in which case it names a step (entries such as /files/etc/hosts/1
		// are reached relative to a context as 1/ipaddr).
		if k := p.peekN(1).kind; k == tkSlash || k == tkDSlash || k == tkLBrack {
			pe := &pathExpr{}
			return pe, p.parseRelPath(pe)
		}
		p.advance()
		n, _ := strconv.ParseInt(t.text, 10, 64)
		return &numberLit{val: n}, nil
	case tkName:
		if p.peekN(1).kind == tkLParen {
			prim, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return p.parseFilterPath(prim)
		}
	}
	if !p.startsStep() {
		return nil, p.unexpected()
	}
	pe := &pathExpr{}
	return pe, p.parseRelPath(pe)
}

// parseFilterPath continues a primary expression with '/' steps.
func (p *parser) parseFilterPath(prim expr) (expr, *Error) {
	k := p.peek().kind
	if k != tkSlash && k != tkDSlash {
		return prim, nil
	}
	pe := &pathExpr{filter: prim}
	if k == tkDSlash {
		pos := p.advance().pos
		pe.steps = append(pe.steps, anyDescendant(pos))
	} else {
		p.advance()
	}
	return pe, p.parseRelPath(pe)
}

func (p *parser) parsePrimary() (expr, *Error) {
	t := p.peek()
	switch t.kind {
	case tkVar:
		p.advance()
		return &varRef{name: t.text, pos: t.pos}, nil
	case tkString:
		p.advance()
		return &stringLit{val: t.text}, nil
	case tkLParen:
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		return e, p.expect(tkRParen)
	case tkName:
		p.advance()
		return p.parseCall(t)
	}
	return nil, p.unexpected()
}

func (p *parser) parseCall(name token) (expr, *Error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, errorf(ErrSyntax, name.pos, "unknown function %s", name.text)
	}
	if err := p.expect(tkLParen); err != nil {
		return nil, err
	}
	call := &funcCall{name: name.text, pos: name.pos}
	if p.peek().kind != tkRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			call.args = append(call.args, arg)
			if p.peek().kind != tkComma {
				break
			}
			p.advance()
		}
	}
	if err := p.expect(tkRParen); err != nil {
		return nil, err
	}
	if len(call.args) < fn.minArgs || len(call.args) > fn.maxArgs {
		return nil, errorf(ErrSyntax, name.pos, "wrong number of arguments for %s()", name.text)
	}
	return call, nil
}

func (p *parser) startsStep() bool {
	switch p.peek().kind {
	case tkName, tkNumber, tkStar, tkDot, tkDotDot, tkAxis:
		return true
	}
	return false
}

func (p *parser) parseRelPath(pe *pathExpr) *Error {
	for {
		st, err := p.parseStep()
		if err != nil {
			return err
		}
		pe.steps = append(pe.steps, st)
		switch p.peek().kind {
		case tkSlash:
			p.advance()
		case tkDSlash:
			pos := p.advance().pos
			pe.steps = append(pe.steps, anyDescendant(pos))
		default:
			return nil
		}
	}
}

func (p *parser) parseStep() (*step, *Error) {
	t := p.peek()
	switch t.kind {
	case tkDot:
		p.advance()
		return &step{axis: AxisSelf, any: true, pos: t.pos}, nil
	case tkDotDot:
		p.advance()
		return &step{axis: AxisParent, any: true, pos: t.pos}, nil
	}
	st := &step{axis: AxisChild, pos: t.pos}
	if t.kind == tkAxis {
		ax, ok := axisNames[t.text]
		if !ok {
			return nil, errorf(ErrSyntax, t.pos, "unknown axis %s", t.text)
		}
		st.axis = ax
		p.advance()
		t = p.peek()
	}
	switch t.kind {
	case tkStar:
		st.any = true
	case tkName, tkNumber:
		st.name = t.text
	default:
		return nil, p.unexpected()
	}
	p.advance()
	for p.peek().kind == tkLBrack {
		p.advance()
		pred, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tkRBrack); err != nil {
			return nil, err
		}
		st.preds = append(st.preds, pred)
	}
	return st, nil
}

func anyDescendant(pos int) *step {
	return &step{axis: AxisDescendantOrSelf, any: true, pos: pos}
}
