package pathx

import "fmt"

// ErrorKind classifies path expression failures.
type ErrorKind int

const (
	ErrSyntax ErrorKind = iota + 1
	ErrUndefinedVar
	ErrType
	ErrCreate
	// ErrMultiple is reported when node creation cannot decide where to
	// create because a prefix of the path matches several nodes.
	ErrMultiple
)

func (k ErrorKind) String() string {
	switch k {
	case ErrSyntax:
		return "syntax error"
	case ErrUndefinedVar:
		return "undefined variable"
	case ErrType:
		return "type mismatch"
	case ErrCreate:
		return "path not creatable"
	case ErrMultiple:
		return "multiple matches"
	default:
		return "unknown error"
	}
}

// Error is a positioned path expression error.
type Error struct {
	Kind ErrorKind
	Expr string
	Pos  int
	Msg  string
}

func (e *Error) Error() string {
	if e.Expr == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s in %q at %d: %s", e.Kind, e.Expr, e.Pos, e.Msg)
}

// Caret renders the expression with a marker under the failing position.
func (e *Error) Caret() string {
	if e.Expr == "" {
		return ""
	}
	pos := e.Pos
	if pos > len(e.Expr) {
		pos = len(e.Expr)
	}
	return e.Expr[:pos] + "|=|" + e.Expr[pos:]
}

func errorf(kind ErrorKind, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
