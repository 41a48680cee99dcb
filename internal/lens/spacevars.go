package lens

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/agentic-research/arbor/internal/span"
)

// Spacevars reads "Key value" files such as sshd_config. The value is
// the rest of the line; a key alone has no value.
type Spacevars struct{}

func (Spacevars) Name() string { return "Spacevars.lns" }

func (s Spacevars) Get(text []byte, file string) (*Node, error) {
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
		ks := i
		for i < l.end && !isBlank(text[i]) {
			i++
		}
		o := span.Origin{Label: rng(ks, i), Node: rng(l.start, l.next)}
		var value *string
		vs := skipBlank(text, i, l.end)
		ve := trimBlankRight(text, vs, l.end)
		if vs < ve {
			value = Str(string(text[vs:ve]))
			o.Value = rng(vs, ve)
		} else {
			o.Value = rng(i, i)
		}
		b.add(root, string(text[ks:i]), value, o)
	}
	return seal(root), nil
}

func (s Spacevars) Put(tree *Node, orig []byte, file string) ([]byte, error) {
	return Print(s, tree, orig, file)
}

func (s Spacevars) Render(w *bytes.Buffer, n *Node, _ int) error {
	if n.Label == "#comment" {
		v, err := s.Value(n, n.ValueString())
		if err != nil {
			return err
		}
		w.WriteString("# " + v + "\n")
		return nil
	}
	if strings.ContainsAny(n.Label, " \t\n#") {
		return fmt.Errorf("%s: invalid key %q", s.Name(), n.Label)
	}
	w.WriteString(n.Label)
	if n.Value != nil && *n.Value != "" {
		v, err := s.Value(n, *n.Value)
		if err != nil {
			return err
		}
		w.WriteString(" " + v)
	}
	w.WriteByte('\n')
	return nil
}

// Value rejects text the parser would read back differently: line
// breaks, '#', and blanks at either end.
func (s Spacevars) Value(n *Node, v string) (string, error) {
	if n.Label == "#comment" {
		if strings.ContainsAny(v, "\r\n") {
			return "", fmt.Errorf("%s: comment spans lines", s.Name())
		}
		return v, nil
	}
	switch {
	case strings.ContainsAny(v, "\r\n"):
		return "", fmt.Errorf("%s: value for %s spans lines", s.Name(), n.Label)
	case strings.ContainsRune(v, '#'):
		return "", fmt.Errorf("%s: value for %s cannot contain '#'", s.Name(), n.Label)
	case strings.TrimLeft(v, " \t") != v || strings.TrimRight(v, " \t") != v:
		return "", fmt.Errorf("%s: value for %s has leading or trailing blanks", s.Name(), n.Label)
	}
	return v, nil
}

func (Spacevars) Separator(out []byte, _, _, _ *Node, _ int) string {
	return lineSeparator(out)
}
