package pathx

import (
	"strings"

	"github.com/agentic-research/arbor/internal/tree"
)

type function struct {
	minArgs, maxArgs int
	fn               func(e *Engine, c evalCtx, args []Value, pos int) (Value, *Error)
}

var functions = map[string]function{
	"last":     {0, 0, fnLast},
	"position": {0, 0, fnPosition},
	"count":    {1, 1, fnCount},
	"label":    {0, 1, fnLabel},
	"value":    {0, 1, fnValue},
	"regexp":   {1, 2, fnRegexp},
	"glob":     {1, 1, fnGlob},
	"int":      {1, 1, fnInt},
	"not":      {1, 1, fnNot},
	"modified": {0, 0, fnModified},
}

func (e *Engine) call(f *funcCall, c evalCtx) (Value, *Error) {
	args := make([]Value, 0, len(f.args))
	for _, a := range f.args {
		v, err := e.eval(a, c)
		if err != nil {
			return Value{}, err
		}
		args = append(args, v)
	}
	return functions[f.name].fn(e, c, args, f.pos)
}

func fnLast(_ *Engine, c evalCtx, _ []Value, _ int) (Value, *Error) {
	return numberValue(int64(c.size)), nil
}

func fnPosition(_ *Engine, c evalCtx, _ []Value, _ int) (Value, *Error) {
	return numberValue(int64(c.pos)), nil
}

func fnCount(_ *Engine, _ evalCtx, args []Value, pos int) (Value, *Error) {
	if args[0].Kind != KindNodes {
		return Value{}, errorf(ErrType, pos, "count() expects a nodeset, got a %s", args[0].Kind)
	}
	return numberValue(int64(len(args[0].Nodes))), nil
}

// subject picks the node a label()/value() call looks at: the context
// node, or the first node of the optional argument.
func subject(e *Engine, c evalCtx, args []Value, name string, pos int) (*tree.Node, *Error) {
	if len(args) == 0 {
		return e.Store.Node(c.node), nil
	}
	if args[0].Kind != KindNodes {
		return nil, errorf(ErrType, pos, "%s() expects a nodeset, got a %s", name, args[0].Kind)
	}
	if len(args[0].Nodes) == 0 {
		return nil, nil
	}
	return e.Store.Node(args[0].Nodes[0]), nil
}

func fnLabel(e *Engine, c evalCtx, args []Value, pos int) (Value, *Error) {
	n, err := subject(e, c, args, "label", pos)
	if err != nil || n == nil {
		return stringValue(""), err
	}
	return stringValue(n.Label), nil
}

func fnValue(e *Engine, c evalCtx, args []Value, pos int) (Value, *Error) {
	n, err := subject(e, c, args, "value", pos)
	if err != nil || n == nil {
		return stringValue(""), err
	}
	return stringValue(n.ValueString()), nil
}

// fnRegexp builds a regexp from a string, or from the values of a
// nodeset as alternatives. The optional flag "i" folds case.
func fnRegexp(e *Engine, _ evalCtx, args []Value, pos int) (Value, *Error) {
	var pattern string
	switch args[0].Kind {
	case KindString:
		pattern = args[0].Str
	case KindNodes:
		alts := e.texts(args[0])
		for i, a := range alts {
			alts[i] = "(?:" + a + ")"
		}
		pattern = strings.Join(alts, "|")
	default:
		return Value{}, errorf(ErrType, pos, "regexp() expects a string or nodeset, got a %s", args[0].Kind)
	}
	fold := false
	if len(args) == 2 {
		if args[1].Kind != KindString || strings.Trim(args[1].Str, "i") != "" {
			return Value{}, errorf(ErrType, pos, "regexp() flags must be \"i\"")
		}
		fold = args[1].Str != ""
	}
	re, err := compileRegexp(pattern, fold)
	if err != nil {
		return Value{}, errorf(ErrType, pos, "invalid regexp %q: %v", pattern, err)
	}
	return regexpValue(re), nil
}

func fnGlob(_ *Engine, _ evalCtx, args []Value, pos int) (Value, *Error) {
	if args[0].Kind != KindString {
		return Value{}, errorf(ErrType, pos, "glob() expects a string, got a %s", args[0].Kind)
	}
	re, err := compileRegexp(globToRegexp(args[0].Str), false)
	if err != nil {
		return Value{}, errorf(ErrType, pos, "invalid glob %q: %v", args[0].Str, err)
	}
	return regexpValue(re), nil
}

func fnInt(e *Engine, _ evalCtx, args []Value, pos int) (Value, *Error) {
	n, err := e.number(args[0], pos)
	if err != nil {
		return Value{}, err
	}
	return numberValue(n), nil
}

func fnNot(_ *Engine, _ evalCtx, args []Value, _ int) (Value, *Error) {
	b, err := truth(args[0])
	if err != nil {
		return Value{}, err
	}
	return boolValue(!b), nil
}

func fnModified(e *Engine, c evalCtx, _ []Value, _ int) (Value, *Error) {
	n := e.Store.Node(c.node)
	return boolValue(n != nil && n.Dirty), nil
}
