package lens

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/arbor/internal/span"
)

// Hosts reads /etc/hosts. Each entry becomes a numbered node holding
// ipaddr, canonical and any alias children; comments become #comment.
type Hosts struct{}

func (Hosts) Name() string { return "Hosts.lns" }

func (h Hosts) Get(text []byte, file string) (*Node, error) {
	b := &builder{file: file, text: text}
	root := b.root()
	entries := 0
	for _, l := range scanLines(text) {
		i := skipBlank(text, l.start, l.end)
		if i == l.end {
			continue
		}
		if text[i] == '#' {
			b.commentNode(root, i, l.end, l.start, l.next)
			continue
		}

		end := l.end
		hash := bytes.IndexByte(text[i:l.end], '#')
		if hash >= 0 {
			end = i + hash
		}
		var toks []span.Range
		for j := i; j < end; {
			j = skipBlank(text, j, end)
			if j == end {
				break
			}
			k := j
			for k < end && !isBlank(text[k]) {
				k++
			}
			toks = append(toks, rng(j, k))
			j = k
		}
		if len(toks) < 2 {
			return nil, parseErrorAt(h.Name(), file, text, i, "expected an address followed by a canonical name")
		}

		entries++
		bodyEnd := int(toks[len(toks)-1].End)
		if hash >= 0 {
			bodyEnd = trimBlankRight(text, end, l.end)
		}
		entry := b.add(root, strconv.Itoa(entries), nil, span.Origin{
			Label: rng(l.start, l.start),
			Value: rng(l.start, l.start),
			Node:  rng(l.start, l.next),
			Body:  rng(int(toks[0].Start), bodyEnd),
			Tag:   "entry",
		})
		for n, t := range toks {
			label := "alias"
			switch n {
			case 0:
				label = "ipaddr"
			case 1:
				label = "canonical"
			}
			b.add(entry, label, Str(string(t.Slice(text))), span.Origin{
				Label: span.Range{Start: t.Start, End: t.Start},
				Value: t,
				Node:  t,
			})
		}
		if hash >= 0 {
			b.commentNode(entry, end, l.end, end, bodyEnd)
		}
	}
	return seal(root), nil
}

func (h Hosts) Put(tree *Node, orig []byte, file string) ([]byte, error) {
	return Print(h, tree, orig, file)
}

func (h Hosts) Render(w *bytes.Buffer, n *Node, depth int) error {
	if n.Label == "#comment" {
		v, err := h.Value(n, n.ValueString())
		if err != nil {
			return err
		}
		w.WriteString("# " + v)
		if depth == 0 {
			w.WriteByte('\n')
		}
		return nil
	}
	if depth > 0 {
		if n.Value == nil {
			return fmt.Errorf("%s: %s needs a value", h.Name(), n.Label)
		}
		v, err := h.Value(n, *n.Value)
		if err != nil {
			return err
		}
		w.WriteString(v)
		return nil
	}
	for i, c := range n.Children {
		if i > 0 {
			w.WriteString(h.Separator(w.Bytes(), n, n.Children[i-1], c, 1))
		}
		if err := h.Render(w, c, 1); err != nil {
			return err
		}
	}
	w.WriteByte('\n')
	return nil
}

// Value accepts a single token for addresses and names and any one-line
// text for comments.
func (h Hosts) Value(n *Node, v string) (string, error) {
	if n.Label == "#comment" {
		if strings.ContainsAny(v, "\r\n") {
			return "", fmt.Errorf("%s: comment spans lines", h.Name())
		}
		return v, nil
	}
	if v == "" || strings.ContainsAny(v, " \t\r\n#") {
		return "", fmt.Errorf("%s: %s must be a single word without '#', got %q", h.Name(), n.Label, v)
	}
	return v, nil
}

func (Hosts) Separator(out []byte, _, prev, next *Node, depth int) string {
	if depth == 0 {
		return lineSeparator(out)
	}
	switch {
	case prev == nil || next == nil:
		return ""
	case prev.Label == "ipaddr":
		return "\t"
	}
	return " "
}
