package lens

import (
	"bytes"

	"github.com/agentic-research/arbor/internal/span"
)

// line is one line of text: [start, end) without the newline, next is
// the offset of the following line.
type line struct {
	start, end, next int
}

func scanLines(text []byte) []line {
	var out []line
	for off := 0; off < len(text); {
		nl := bytes.IndexByte(text[off:], '\n')
		if nl < 0 {
			out = append(out, line{off, len(text), len(text)})
			break
		}
		out = append(out, line{off, off + nl, off + nl + 1})
		off += nl + 1
	}
	return out
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' || c == '\r' }

func skipBlank(text []byte, i, end int) int {
	for i < end && isBlank(text[i]) {
		i++
	}
	return i
}

func trimBlankRight(text []byte, start, end int) int {
	for end > start && isBlank(text[end-1]) {
		end--
	}
	return end
}

func rng(start, end int) span.Range {
	return span.Range{Start: uint32(start), End: uint32(end)}
}

// commentNode adds a "#comment" node for the text after '#' at hash.
// nodeEnd is the end of the node (the whole line for full-line comments).
func (b *builder) commentNode(parent *Node, hash, end, nodeStart, nodeEnd int) *Node {
	vs := skipBlank(b.text, hash+1, end)
	ve := trimBlankRight(b.text, vs, end)
	return b.add(parent, "#comment", Str(string(b.text[vs:ve])), span.Origin{
		Label: rng(hash, hash),
		Value: rng(vs, ve),
		Node:  rng(nodeStart, nodeEnd),
		Tag:   "comment",
	})
}

// lineSeparator keeps every top-level node of a line format on its own
// line.
func lineSeparator(out []byte) string {
	if len(out) > 0 && out[len(out)-1] != '\n' {
		return "\n"
	}
	return ""
}
