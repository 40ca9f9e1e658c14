package tools

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Translator converts a single path value.
type Translator func(string) string

// RewriteArguments returns a copy of args with every declared path field
// translated. args itself is never modified; values outside the declared
// fields are shared with the input.
func RewriteArguments(args map[string]any, paths []FieldPath, tr Translator) map[string]any {
	if args == nil || len(paths) == 0 {
		return args
	}
	out, _ := rewriteAll(args, paths, tr)
	m, ok := out.(map[string]any)
	if !ok {
		return args
	}
	return m
}

// RewriteResult returns result with declared path fields translated in its
// structured content and in any text content that holds a JSON document.
// Content without matching fields is returned untouched, byte for byte.
func RewriteResult(result *mcp.CallToolResult, paths []FieldPath, tr Translator) *mcp.CallToolResult {
	if result == nil || len(paths) == 0 {
		return result
	}

	out := *result
	changed := false

	if result.StructuredContent != nil {
		if v, ok := rewriteAll(result.StructuredContent, paths, tr); ok {
			out.StructuredContent = v
			changed = true
		}
	}

	var content []mcp.Content
	for i, c := range result.Content {
		text, ok := textOf(c)
		if !ok {
			continue
		}
		rewritten, ok := rewriteJSONText(text, paths, tr)
		if !ok {
			continue
		}
		if content == nil {
			content = make([]mcp.Content, len(result.Content))
			copy(content, result.Content)
		}
		content[i] = withText(c, rewritten)
		changed = true
	}
	if content != nil {
		out.Content = content
	}

	if !changed {
		return result
	}
	return &out
}

func textOf(c mcp.Content) (string, bool) {
	switch tc := c.(type) {
	case mcp.TextContent:
		return tc.Text, true
	case *mcp.TextContent:
		return tc.Text, true
	}
	return "", false
}

// withText copies a text content item, replacing only its text
func withText(c mcp.Content, text string) mcp.Content {
	switch tc := c.(type) {
	case mcp.TextContent:
		tc.Text = text
		return tc
	case *mcp.TextContent:
		cp := *tc
		cp.Text = text
		return &cp
	}
	return c
}

func rewriteJSONText(text string, paths []FieldPath, tr Translator) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return "", false
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return "", false
	}

	rewritten, ok := rewriteAll(doc, paths, tr)
	if !ok {
		return "", false
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rewritten); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}

func rewriteAll(doc any, paths []FieldPath, tr Translator) (any, bool) {
	changed := false
	for _, p := range paths {
		apply := tr
		if p.FirstLine {
			apply = firstLine(tr)
		}
		if v, ok := rewriteValue(doc, parseFieldPath(p.Path), apply); ok {
			doc = v
			changed = true
		}
	}
	return doc, changed
}

// rewriteValue walks segs into v, copying maps and slices on the way down so
// only the modified branch is new.
func rewriteValue(v any, segs []segment, tr Translator) (any, bool) {
	if len(segs) == 0 {
		s, ok := v.(string)
		if !ok {
			return v, false
		}
		ns := tr(s)
		return ns, ns != s
	}

	seg := segs[0]

	// a root-level sequence
	if seg.key == "" && seg.seq {
		return rewriteSeq(v, segs[1:], tr)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return v, false
	}
	child, ok := m[seg.key]
	if !ok {
		return v, false
	}

	var nv any
	var changed bool
	if seg.seq {
		nv, changed = rewriteSeq(child, segs[1:], tr)
	} else {
		nv, changed = rewriteValue(child, segs[1:], tr)
	}
	if !changed {
		return v, false
	}

	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	out[seg.key] = nv
	return out, true
}

func rewriteSeq(v any, rest []segment, tr Translator) (any, bool) {
	switch arr := v.(type) {
	case []any:
		var out []any
		for i, elem := range arr {
			nv, ok := rewriteValue(elem, rest, tr)
			if !ok {
				continue
			}
			if out == nil {
				out = make([]any, len(arr))
				copy(out, arr)
			}
			out[i] = nv
		}
		if out == nil {
			return v, false
		}
		return out, true
	case []string:
		if len(rest) != 0 {
			return v, false
		}
		var out []string
		for i, s := range arr {
			ns := tr(s)
			if ns == s {
				continue
			}
			if out == nil {
				out = make([]string, len(arr))
				copy(out, arr)
			}
			out[i] = ns
		}
		if out == nil {
			return v, false
		}
		return out, true
	}
	return v, false
}

func firstLine(tr Translator) Translator {
	return func(s string) string {
		head, tail, found := strings.Cut(s, "\n")
		if !found {
			return tr(s)
		}
		return tr(head) + "\n" + tail
	}
}
