package lens

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/yaml"

	"github.com/agentic-research/arbor/internal/span"
)

// YAML reads block-style YAML documents. Mapping keys become labels,
// sequence items are numbered from 1, and scalars become values. Flow
// collections, block scalars and aliases are kept as raw value text.
type YAML struct{}

const (
	tagPair = "pair"
	tagItem = "item"
)

func (YAML) Name() string { return "YAML.lns" }

func (y YAML) Get(text []byte, file string) (*Node, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(yaml.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, text)
	if err != nil {
		return nil, fmt.Errorf("%s: parse %s: %w", y.Name(), file, err)
	}
	stream := tree.RootNode()
	if stream.HasError() {
		off := 0
		if bad := firstSyntaxError(stream); bad != nil {
			off = int(bad.StartByte())
		}
		return nil, parseErrorAt(y.Name(), file, text, off, "syntax error")
	}

	b := &builder{file: file, text: text}
	root := b.root()
	var doc *sitter.Node
	for _, c := range namedChildren(stream) {
		if c.Type() != "document" {
			continue
		}
		if doc != nil {
			return nil, parseErrorAt(y.Name(), file, text, int(c.StartByte()), "multiple documents are not supported")
		}
		doc = c
	}
	if doc != nil {
		var content *sitter.Node
		for _, c := range namedChildren(doc) {
			if c.Type() == "block_node" || c.Type() == "flow_node" {
				content = c
			}
		}
		if content != nil {
			if err := y.collection(b, root, unwrap(content)); err != nil {
				return nil, err
			}
		}
	}
	return seal(root), nil
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// unwrap steps from a block_node or flow_node to the node holding its
// content, past any anchor or tag.
func unwrap(n *sitter.Node) *sitter.Node {
	if n.Type() != "block_node" && n.Type() != "flow_node" {
		return n
	}
	var inner *sitter.Node
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "anchor", "tag", "comment":
		default:
			inner = c
		}
	}
	if inner == nil {
		return n
	}
	return inner
}

func firstSyntaxError(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.HasError() || c.IsError() || c.IsMissing() {
			if found := firstSyntaxError(c); found != nil {
				return found
			}
		}
	}
	return nil
}

func (y YAML) collection(b *builder, parent *Node, n *sitter.Node) error {
	switch n.Type() {
	case "block_mapping":
		for _, pair := range namedChildren(n) {
			if pair.Type() != "block_mapping_pair" {
				continue
			}
			key := pair.ChildByFieldName("key")
			if key == nil {
				return parseErrorAt(y.Name(), b.file, b.text, int(pair.StartByte()), "mapping entry without a key")
			}
			label, lr, _ := y.scalar(b.text, key)
			o := span.Origin{Label: lr, Node: rng(int(pair.StartByte()), int(pair.EndByte())), Tag: tagPair}
			if err := y.entry(b, parent, label, o, pair.ChildByFieldName("value")); err != nil {
				return err
			}
		}
	case "block_sequence":
		i := 0
		for _, item := range namedChildren(n) {
			if item.Type() != "block_sequence_item" {
				continue
			}
			i++
			start := int(item.StartByte())
			o := span.Origin{Label: rng(start, start), Node: rng(start, int(item.EndByte())), Tag: tagItem}
			var content *sitter.Node
			for _, c := range namedChildren(item) {
				if c.Type() != "comment" {
					content = c
				}
			}
			if err := y.entry(b, parent, strconv.Itoa(i), o, content); err != nil {
				return err
			}
		}
	default:
		return parseErrorAt(y.Name(), b.file, b.text, int(n.StartByte()), "document must be a mapping or a sequence")
	}
	return nil
}

// entry adds a mapping pair or sequence item whose content is val.
func (y YAML) entry(b *builder, parent *Node, label string, o span.Origin, val *sitter.Node) error {
	if val == nil {
		o.Value = rng(int(o.Node.End), int(o.Node.End))
		b.add(parent, label, nil, o)
		return nil
	}
	inner := unwrap(val)
	switch inner.Type() {
	case "block_mapping", "block_sequence":
		start := int(val.StartByte())
		o.Value = rng(start, start)
		o.Body = rng(start, int(val.EndByte()))
		return y.collection(b, b.add(parent, label, nil, o), inner)
	}
	v, vr, quote := y.scalar(b.text, val)
	o.Value, o.Quote = vr, quote
	b.add(parent, label, Str(v), o)
	return nil
}

// scalar decodes a scalar node and returns its value range without
// quotes.
func (y YAML) scalar(text []byte, n *sitter.Node) (string, span.Range, byte) {
	inner := unwrap(n)
	start, end := int(inner.StartByte()), int(inner.EndByte())
	raw := string(text[start:end])
	switch inner.Type() {
	case "double_quote_scalar":
		body := raw[1 : len(raw)-1]
		if s, err := strconv.Unquote(`"` + body + `"`); err == nil {
			return s, rng(start+1, end-1), '"'
		}
		return body, rng(start+1, end-1), '"'
	case "single_quote_scalar":
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), rng(start+1, end-1), '\''
	}
	return raw, rng(start, end), 0
}

func (y YAML) Put(tree *Node, orig []byte, file string) ([]byte, error) {
	return Print(y, tree, orig, file)
}

func isItem(n *Node) bool {
	if n.Origin != nil && n.Origin.Tag != "" {
		return n.Origin.Tag == tagItem
	}
	_, err := strconv.Atoi(n.Label)
	return err == nil
}

func (y YAML) Render(w *bytes.Buffer, n *Node, depth int) error {
	indent := lineIndent(w.Bytes())
	item := isItem(n)
	if item {
		w.WriteString("-")
	} else {
		w.WriteString(yamlScalar(n.Label) + ":")
	}
	if len(n.Children) == 0 {
		if n.Value != nil {
			w.WriteString(" " + yamlScalar(*n.Value))
		}
		return nil
	}
	for i, c := range n.Children {
		if item && i == 0 {
			w.WriteString(" ")
		} else {
			w.WriteString("\n" + indent + "  ")
		}
		if err := y.Render(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (y YAML) Value(n *Node, v string) (string, error) {
	if n.Origin != nil {
		switch n.Origin.Quote {
		case '"':
			q := strconv.Quote(v)
			return q[1 : len(q)-1], nil
		case '\'':
			return strings.ReplaceAll(v, "'", "''"), nil
		}
	}
	return yamlScalar(v), nil
}

func (YAML) Separator(out []byte, parent, _, next *Node, depth int) string {
	if next == nil {
		if depth == 0 {
			return lineSeparator(out)
		}
		return ""
	}
	indent := childIndent(parent)
	switch {
	case len(out) == 0:
		return ""
	case out[len(out)-1] == '\n':
		return indent
	case blankLastLine(out):
		return ""
	}
	return "\n" + indent
}

// childIndent is the column the children of parent start at.
func childIndent(parent *Node) string {
	for _, c := range parent.Children {
		if c.Origin != nil && c.Origin.Tag != "" {
			return strings.Repeat(" ", int(c.Origin.Col))
		}
	}
	if o := parent.Origin; o != nil && o.Tag != "" {
		return strings.Repeat(" ", int(o.Col)+2)
	}
	return ""
}

// yamlScalar writes s plain when YAML reads it back unchanged and
// double-quoted otherwise.
func yamlScalar(s string) string {
	if s == "" || strings.TrimSpace(s) != s ||
		strings.ContainsAny(s, "\n\t") ||
		strings.Contains(s, ": ") || strings.Contains(s, " #") || strings.HasSuffix(s, ":") ||
		strings.IndexByte("-?:,[]{}#&*!|>'\"%@`", s[0]) >= 0 {
		return strconv.Quote(s)
	}
	return s
}
