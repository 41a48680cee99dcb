package pathx

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agentic-research/arbor/internal/tree"
)

// Kind is the type of an evaluated expression.
type Kind int

const (
	KindNodes Kind = iota
	KindString
	KindNumber
	KindBool
	KindRegexp
)

func (k Kind) String() string {
	switch k {
	case KindNodes:
		return "nodeset"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindRegexp:
		return "regexp"
	}
	return "unknown"
}

// Value is the result of evaluating an expression.
type Value struct {
	Kind  Kind
	Nodes []tree.ID
	Str   string
	Num   int64
	Bool  bool
	Re    *regexp.Regexp
}

func nodesValue(ids []tree.ID) Value { return Value{Kind: KindNodes, Nodes: ids} }
func stringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func numberValue(n int64) Value { return Value{Kind: KindNumber, Num: n} }
func boolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func regexpValue(re *regexp.Regexp) Value { return Value{Kind: KindRegexp, Re: re} }

// String renders a scalar the way it would be stored as a node value.
// Node-sets render as their size.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatInt(v.Num, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindRegexp:
		return v.Re.String()
	default:
		return strconv.Itoa(len(v.Nodes))
	}
}

// compileRegexp anchors pattern so it must match a whole value.
func compileRegexp(pattern string, fold bool) (*regexp.Regexp, error) {
	prefix := "^(?:"
	if fold {
		prefix = "(?i)" + prefix
	}
	return regexp.Compile(prefix + pattern + ")$")
}

// globToRegexp converts a shell glob to a regexp source.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
