package tree

import (
	"strconv"
	"strings"
)

// NameDelims are the characters that end a name in a path expression.
// Labels containing them are written with a backslash escape.
const NameDelims = "/[]|=()!,<>'\"*\\ \t\r\n"

// IsNameDelim reports whether c ends a name in a path expression.
func IsNameDelim(c byte) bool {
	return strings.IndexByte(NameDelims, c) >= 0
}

// EscapeLabel writes label so that a path expression reads it back as a
// single name step.
func EscapeLabel(label string) string {
	if label == "." || label == ".." {
		return `\` + label
	}
	var b strings.Builder
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case IsNameDelim(c):
			b.WriteByte('\\')
		case i == 0 && (c == '$' || c == '-' || c == '+'):
			b.WriteByte('\\')
		case c == ':' && i+1 < len(label) && label[i+1] == ':':
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ValidLabel reports whether label may name a non-root node.
func ValidLabel(label string) bool {
	return label != "" && !strings.ContainsRune(label, '/')
}

// Path returns the canonical absolute path of id. Siblings sharing a
// label are told apart with a 1-based position, e.g. /files/etc/hosts/1/alias[2].
func (s *Store) Path(id ID) string {
	n := s.Node(id)
	if n == nil {
		return ""
	}
	if n.Parent == None {
		return "/"
	}
	var segs []string
	for ; n != nil && n.Parent != None; n = s.Node(n.Parent) {
		segs = append(segs, s.segment(n))
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	return b.String()
}

func (s *Store) segment(n *Node) string {
	p := s.nodes[n.Parent]
	same, pos := 0, 0
	for _, c := range p.Children {
		if s.nodes[c].Label == n.Label {
			same++
			if c == n.ID {
				pos = same
			}
		}
	}
	seg := EscapeLabel(n.Label)
	if same > 1 {
		seg += "[" + strconv.Itoa(pos) + "]"
	}
	return seg
}
