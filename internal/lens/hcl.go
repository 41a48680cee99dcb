package lens

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/agentic-research/arbor/internal/span"
)

// HCL reads HCL and Terraform files. An attribute becomes a node
// labeled with its name whose value is the expression text, or the
// decoded string for quoted string literals. A block becomes a node
// labeled with its type whose value is its labels joined by spaces.
// Comments stay in the text between nodes.
type HCL struct{}

const (
	tagBlock = "block"
	tagAttr  = "attr"
)

func (HCL) Name() string { return "HCL.lns" }

func (h HCL) Get(text []byte, file string) (*Node, error) {
	f, diags := hclsyntax.ParseConfig(text, file, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, h.diagError(file, diags)
	}
	body, ok := f.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected body type %T", h.Name(), f.Body)
	}
	b := &builder{file: file, text: text}
	root := b.root()
	h.body(b, root, body)
	return seal(root), nil
}

func (h HCL) diagError(file string, diags hcl.Diagnostics) error {
	d := diags[0]
	for _, cand := range diags {
		if cand.Severity == hcl.DiagError {
			d = cand
			break
		}
	}
	pe := &ParseError{Lens: h.Name(), File: file, Msg: d.Summary}
	if d.Detail != "" {
		pe.Msg += ": " + d.Detail
	}
	if d.Subject != nil {
		pe.Line, pe.Col = d.Subject.Start.Line, d.Subject.Start.Column
	}
	return pe
}

func byteRange(r hcl.Range) span.Range {
	return rng(r.Start.Byte, r.End.Byte)
}

// body adds attributes and blocks of body under parent in source order.
func (h HCL) body(b *builder, parent *Node, body *hclsyntax.Body) {
	type item struct {
		start int
		attr  *hclsyntax.Attribute
		block *hclsyntax.Block
	}
	items := make([]item, 0, len(body.Attributes)+len(body.Blocks))
	for _, a := range body.Attributes {
		items = append(items, item{start: a.SrcRange.Start.Byte, attr: a})
	}
	for _, blk := range body.Blocks {
		items = append(items, item{start: blk.TypeRange.Start.Byte, block: blk})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].start < items[j].start })

	for _, it := range items {
		if it.attr != nil {
			h.attr(b, parent, it.attr)
			continue
		}
		blk := it.block
		o := span.Origin{
			Label: byteRange(blk.TypeRange),
			Node:  rng(blk.TypeRange.Start.Byte, blk.CloseBraceRange.End.Byte),
			Body:  rng(blk.OpenBraceRange.End.Byte, blk.CloseBraceRange.Start.Byte),
			Tag:   tagBlock,
		}
		var value *string
		if n := len(blk.LabelRanges); n > 0 {
			value = Str(strings.Join(blk.Labels, " "))
			o.Value = rng(blk.LabelRanges[0].Start.Byte, blk.LabelRanges[n-1].End.Byte)
		} else {
			o.Value = rng(blk.TypeRange.End.Byte, blk.TypeRange.End.Byte)
		}
		node := b.add(parent, blk.Type, value, o)
		h.body(b, node, blk.Body)
	}
}

func (h HCL) attr(b *builder, parent *Node, a *hclsyntax.Attribute) {
	er := a.Expr.Range()
	o := span.Origin{
		Label: byteRange(a.NameRange),
		Value: byteRange(er),
		Node:  byteRange(a.SrcRange),
		Tag:   tagAttr,
	}
	value := string(b.text[er.Start.Byte:er.End.Byte])
	if s, ok := stringLiteral(a.Expr, b.text); ok {
		value = s
		o.Quote = '"'
		o.Value = rng(er.Start.Byte+1, er.End.Byte-1)
	}
	b.add(parent, a.Name, Str(value), o)
}

// stringLiteral decodes a quoted string without interpolations.
func stringLiteral(expr hclsyntax.Expression, text []byte) (string, bool) {
	t, ok := expr.(*hclsyntax.TemplateExpr)
	if !ok {
		return "", false
	}
	r := t.Range()
	if r.End.Byte-r.Start.Byte < 2 || text[r.Start.Byte] != '"' || text[r.End.Byte-1] != '"' {
		return "", false
	}
	for _, part := range t.Parts {
		if _, lit := part.(*hclsyntax.LiteralValueExpr); !lit {
			return "", false
		}
	}
	v, diags := t.Value(nil)
	if diags.HasErrors() || !v.Type().Equals(cty.String) || v.IsNull() {
		return "", false
	}
	return v.AsString(), true
}

func (h HCL) Put(tree *Node, orig []byte, file string) ([]byte, error) {
	return Print(h, tree, orig, file)
}

func (h HCL) isBlock(n *Node) bool {
	if n.Origin != nil && n.Origin.Tag != "" {
		return n.Origin.Tag == tagBlock
	}
	return len(n.Children) > 0
}

func (h HCL) Render(w *bytes.Buffer, n *Node, depth int) error {
	if !hclsyntax.ValidIdentifier(n.Label) {
		return fmt.Errorf("%s: %q is not a valid identifier", h.Name(), n.Label)
	}
	if !h.isBlock(n) {
		w.WriteString(n.Label + " = " + freshExpr(n.Value))
		return nil
	}
	indent := lineIndent(w.Bytes())
	w.WriteString(n.Label)
	if n.Value != nil {
		w.WriteString(" " + quoteLabels(*n.Value))
	}
	w.WriteString(" {")
	for _, c := range n.Children {
		w.WriteString("\n" + indent + "  ")
		if err := h.Render(w, c, depth+1); err != nil {
			return err
		}
	}
	if len(n.Children) > 0 {
		w.WriteString("\n" + indent)
	}
	w.WriteString("}")
	return nil
}

func (h HCL) Value(n *Node, v string) (string, error) {
	switch {
	case h.isBlock(n):
		return quoteLabels(v), nil
	case n.Origin != nil && n.Origin.Quote == '"':
		q := quoteString(v)
		return q[1 : len(q)-1], nil
	}
	if _, diags := hclsyntax.ParseExpression([]byte(v), "", hcl.InitialPos); !diags.HasErrors() && v != "" {
		return v, nil
	}
	return quoteString(v), nil
}

func (HCL) Separator(out []byte, _, prev, next *Node, depth int) string {
	if depth == 0 {
		if prev != nil && next != nil {
			return "\n" + lineIndent(out)
		}
		return lineSeparator(out)
	}
	indent := lineIndent(out)
	switch {
	case next == nil:
		return "\n" + outdent(indent)
	case prev == nil:
		if blankLastLine(out) {
			return ""
		}
		return "\n" + indent + "  "
	}
	return "\n" + indent
}

func quoteString(v string) string {
	return string(hclwrite.TokensForValue(cty.StringVal(v)).Bytes())
}

func quoteLabels(v string) string {
	fields := strings.Fields(v)
	for i, f := range fields {
		fields[i] = quoteString(f)
	}
	return strings.Join(fields, " ")
}

// freshExpr renders the value of a new attribute. Literals that HCL
// reads as numbers, booleans or collections stay bare; anything else is
// quoted.
func freshExpr(v *string) string {
	if v == nil {
		return "null"
	}
	expr, diags := hclsyntax.ParseExpression([]byte(*v), "", hcl.InitialPos)
	if !diags.HasErrors() {
		switch expr.(type) {
		case *hclsyntax.LiteralValueExpr, *hclsyntax.TupleConsExpr, *hclsyntax.ObjectConsExpr:
			return *v
		}
	}
	return quoteString(*v)
}

// lineIndent returns the leading blanks of the last line of out.
func lineIndent(out []byte) string {
	start := bytes.LastIndexByte(out, '\n') + 1
	end := start
	for end < len(out) && (out[end] == ' ' || out[end] == '\t') {
		end++
	}
	return string(out[start:end])
}

func blankLastLine(out []byte) bool {
	start := bytes.LastIndexByte(out, '\n')
	return start >= 0 && len(bytes.Trim(out[start+1:], " \t")) == 0
}

func outdent(indent string) string {
	if strings.HasSuffix(indent, "\t") {
		return indent[:len(indent)-1]
	}
	for i := 0; i < 2 && strings.HasSuffix(indent, " "); i++ {
		indent = indent[:len(indent)-1]
	}
	return indent
}
