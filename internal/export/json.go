// Package export writes a session tree out as JSON or as a SQLite
// database for tools that do not speak path expressions.
package export

import (
	"fmt"
	"io"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/arbor/internal/session"
)

// Nest turns a Print listing into nested maps with label, path, value
// (when set) and children keys. Each top-level entry becomes one element.
func Nest(entries []session.Entry) []any {
	var (
		roots []any
		stack []map[string]any
	)
	for _, e := range entries {
		m := map[string]any{
			"label": e.Label,
			"path":  e.Path,
		}
		if e.Value != nil {
			m["value"] = *e.Value
		}
		if e.Depth < len(stack) {
			stack = stack[:e.Depth]
		}
		if len(stack) == 0 {
			roots = append(roots, m)
		} else {
			parent := stack[len(stack)-1]
			kids, _ := parent["children"].([]any)
			parent["children"] = append(kids, m)
		}
		stack = append(stack, m)
	}
	return roots
}

// Query applies a JSONPath expression to the nested form of entries.
func Query(entries []session.Entry, selector string) ([]any, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	return x.Get(Nest(entries)), nil
}

// WriteJSON writes entries as indented JSON, filtered by selector when
// it is not empty.
func WriteJSON(w io.Writer, entries []session.Entry, selector string) error {
	var data any = Nest(entries)
	if selector != "" {
		res, err := Query(entries, selector)
		if err != nil {
			return err
		}
		data = res
	}
	out := oj.JSON(data, &oj.Options{Indent: 2, Sort: true})
	if _, err := io.WriteString(w, out+"\n"); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
