package lens

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/agentic-research/arbor/internal/span"
)

// Shellvars reads KEY=value files such as /etc/default/* and
// /etc/environment. A leading "export" is kept in the text but not in
// the tree.
type Shellvars struct{}

func (Shellvars) Name() string { return "Shellvars.lns" }

func (s Shellvars) Get(text []byte, file string) (*Node, error) {
	b := &builder{file: file, text: text}
	root := b.root()
	for _, l := range scanLines(text) {
		i := skipBlank(text, l.start, l.end)
		if i == l.end {
			continue
		}
		if text[i] == '#' {
			b.commentNode(root, i, l.end, l.start, l.next)
			continue
		}
		if bytes.HasPrefix(text[i:l.end], []byte("export")) && i+6 < l.end && isBlank(text[i+6]) {
			i = skipBlank(text, i+6, l.end)
		}

		ks := i
		for i < l.end && isIdent(text[i], i == ks) {
			i++
		}
		if i == ks || i == l.end || text[i] != '=' {
			return nil, parseErrorAt(s.Name(), file, text, i, "expected KEY=value")
		}
		key := rng(ks, i)
		i++

		var (
			value string
			vr    span.Range
			quote byte
		)
		switch {
		case i < l.end && (text[i] == '"' || text[i] == '\''):
			quote = text[i]
			j := i + 1
			var sb strings.Builder
			for ; j < l.end && text[j] != quote; j++ {
				if quote == '"' && text[j] == '\\' && j+1 < l.end {
					j++
				}
				sb.WriteByte(text[j])
			}
			if j == l.end {
				return nil, parseErrorAt(s.Name(), file, text, i, "unterminated quoted value")
			}
			value, vr = sb.String(), rng(i+1, j)
			i = j + 1
		default:
			j := i
			for j < l.end && !isBlank(text[j]) && text[j] != '#' {
				j++
			}
			value, vr = string(text[i:j]), rng(i, j)
			i = j
		}

		i = skipBlank(text, i, l.end)
		if i < l.end && text[i] != '#' {
			return nil, parseErrorAt(s.Name(), file, text, i, "unexpected text after value")
		}
		b.add(root, string(key.Slice(text)), Str(value), span.Origin{
			Label: key,
			Value: vr,
			Node:  rng(l.start, l.next),
			Quote: quote,
		})
	}
	return seal(root), nil
}

func isIdent(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func (s Shellvars) Put(tree *Node, orig []byte, file string) ([]byte, error) {
	return Print(s, tree, orig, file)
}

func (s Shellvars) Render(w *bytes.Buffer, n *Node, _ int) error {
	if n.Label == "#comment" {
		w.WriteString("# " + n.ValueString() + "\n")
		return nil
	}
	for i := 0; i < len(n.Label); i++ {
		if !isIdent(n.Label[i], i == 0) {
			return fmt.Errorf("%s: invalid variable name %q", s.Name(), n.Label)
		}
	}
	w.WriteString(n.Label + "=" + shellQuote(n.ValueString()) + "\n")
	return nil
}

func (s Shellvars) Value(n *Node, v string) (string, error) {
	if n.Origin == nil {
		return shellQuote(v), nil
	}
	switch n.Origin.Quote {
	case '"':
		return shellEscape(v), nil
	case '\'':
		if strings.ContainsRune(v, '\'') {
			return "", fmt.Errorf("%s: value for %s cannot contain a single quote", s.Name(), n.Label)
		}
		return v, nil
	}
	if n.Label == "#comment" {
		return v, nil
	}
	return shellQuote(v), nil
}

func (Shellvars) Separator(out []byte, _, _, _ *Node, _ int) string {
	return lineSeparator(out)
}

const shellSpecial = " \t\n#;&|<>()$`\\\"'*?[]~{}"

func shellQuote(v string) string {
	if !strings.ContainsAny(v, shellSpecial) {
		return v
	}
	return `"` + shellEscape(v) + `"`
}

func shellEscape(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if strings.IndexByte("\"\\$`", v[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	return b.String()
}
