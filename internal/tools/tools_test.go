package tools

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/pathconv"
)

func toNative(s string) string {
	return pathconv.Translate(s, pathconv.WSL, pathconv.Native)
}

func toWSL(s string) string {
	return pathconv.Translate(s, pathconv.Native, pathconv.WSL)
}

func TestDefaultAllowList(t *testing.T) {
	al := DefaultAllowList()

	assert.Equal(t, 12, al.Len())
	for _, name := range []string{
		"get_all_open_file_paths", "get_file_problems", "get_file_text_by_path",
		"get_project_dependencies", "get_project_modules", "get_project_problems",
		"list_directory_tree", "reformat_file", "rename_refactoring",
		"replace_text_in_file", "search_in_files_by_regex", "search_in_files_by_text",
	} {
		assert.True(t, al.IsAllowed(name), name)
	}

	for _, name := range []string{"", "execute_terminal_command", "Get_File_Text_By_Path", "create_new_file"} {
		assert.False(t, al.IsAllowed(name), name)
	}

	names := al.Names()
	assert.IsIncreasing(t, names)
}

func TestRewriteArguments(t *testing.T) {
	spec, ok := DefaultAllowList().Spec("get_file_text_by_path")
	require.True(t, ok)

	args := map[string]any{
		"pathInProject": "/mnt/c/proj/a.txt",
		"maxLinesCount": 100,
		"note":          "/mnt/c/leave/me",
	}
	out := RewriteArguments(args, spec.ArgPaths, toNative)

	assert.Equal(t, `C:\proj\a.txt`, out["pathInProject"])
	assert.Equal(t, 100, out["maxLinesCount"])
	assert.Equal(t, "/mnt/c/leave/me", out["note"])
	// input untouched
	assert.Equal(t, "/mnt/c/proj/a.txt", args["pathInProject"])
}

func TestRewriteArgumentsNoPathFields(t *testing.T) {
	args := map[string]any{"path": "/mnt/c/x"}
	out := RewriteArguments(args, nil, toNative)
	assert.Equal(t, args, out)
}

func TestRewriteArgumentsNonString(t *testing.T) {
	args := map[string]any{"path": 42}
	out := RewriteArguments(args, fields("path"), toNative)
	assert.Equal(t, 42, out["path"])
}

func TestRewriteResultJSONText(t *testing.T) {
	spec, _ := DefaultAllowList().Spec("search_in_files_by_text")
	result := mcp.NewToolResultText(`{"entries":[{"filePath":"C:\\proj\\a.go","lineNumber":3,"lineText":"x <b> & y"},{"filePath":"C:\\proj\\b.go","lineNumber":7}],"probablyHasMoreMatchingEntries":false}`)

	out := RewriteResult(result, spec.ResultPaths, toWSL)

	require.Len(t, out.Content, 1)
	text, ok := textOf(out.Content[0])
	require.True(t, ok)
	assert.JSONEq(t, `{"entries":[{"filePath":"/mnt/c/proj/a.go","lineNumber":3,"lineText":"x <b> & y"},{"filePath":"/mnt/c/proj/b.go","lineNumber":7}],"probablyHasMoreMatchingEntries":false}`, text)
	assert.Contains(t, text, "<b> & y")

	orig, _ := textOf(result.Content[0])
	assert.Contains(t, orig, `C:\\proj\\a.go`)
}

func TestRewriteResultOpenFiles(t *testing.T) {
	spec, _ := DefaultAllowList().Spec("get_all_open_file_paths")
	result := mcp.NewToolResultText(`{"activeFilePath":"D:\\w\\main.go","openFiles":["D:\\w\\main.go","D:\\w\\go.mod"]}`)

	out := RewriteResult(result, spec.ResultPaths, toWSL)
	text, _ := textOf(out.Content[0])
	assert.JSONEq(t, `{"activeFilePath":"/mnt/d/w/main.go","openFiles":["/mnt/d/w/main.go","/mnt/d/w/go.mod"]}`, text)
}

func TestRewriteResultTreeFirstLine(t *testing.T) {
	spec, _ := DefaultAllowList().Spec("list_directory_tree")
	result := mcp.NewToolResultText(`{"traversedDirectory":"C:\\proj","tree":"C:\\proj/\n├── src/\n│   └── C:\\not-a-root\n","errors":[]}`)

	out := RewriteResult(result, spec.ResultPaths, toWSL)
	text, _ := textOf(out.Content[0])
	assert.JSONEq(t, `{"traversedDirectory":"/mnt/c/proj","tree":"/mnt/c/proj/\n├── src/\n│   └── C:\\not-a-root\n","errors":[]}`, text)
}

func TestRewriteResultStructuredContent(t *testing.T) {
	spec, _ := DefaultAllowList().Spec("get_file_problems")
	result := &mcp.CallToolResult{
		StructuredContent: map[string]any{"filePath": `C:\a.kt`, "errors": []any{}},
	}

	out := RewriteResult(result, spec.ResultPaths, toWSL)
	assert.Equal(t, map[string]any{"filePath": "/mnt/c/a.kt", "errors": []any{}}, out.StructuredContent)
	assert.Equal(t, `C:\a.kt`, result.StructuredContent.(map[string]any)["filePath"])
}

func TestRewriteResultPassThrough(t *testing.T) {
	spec, _ := DefaultAllowList().Spec("search_in_files_by_text")

	tests := []struct {
		name string
		text string
	}{
		{"plain text", "No occurrences found"},
		{"json without path fields", `{"entries":[],  "other": "C:\\x"}`},
		{"invalid json", `{"entries": [`},
		{"trailing data", `{"entries":[]} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mcp.NewToolResultText(tt.text)
			out := RewriteResult(result, spec.ResultPaths, toWSL)
			assert.Same(t, result, out)
			text, _ := textOf(out.Content[0])
			assert.Equal(t, tt.text, text)
		})
	}
}

func TestRewriteResultUntaggedTool(t *testing.T) {
	spec, _ := DefaultAllowList().Spec("get_project_modules")
	result := mcp.NewToolResultText(`{"modules":[{"name":"app","type":"JAVA_MODULE","path":"C:\\proj"}]}`)

	out := RewriteResult(result, spec.ResultPaths, toWSL)
	assert.Same(t, result, out)
}

func TestRootSequence(t *testing.T) {
	doc := []any{`C:\a`, `C:\b`, 3}
	out, changed := rewriteAll(doc, fields("[]"), toWSL)
	assert.True(t, changed)
	assert.Equal(t, []any{"/mnt/c/a", "/mnt/c/b", 3}, out)
}

func TestFieldPathString(t *testing.T) {
	assert.Equal(t, "tree (first line)", FieldPath{Path: "tree", FirstLine: true}.String())
	assert.Equal(t, "entries[].filePath", FieldPath{Path: "entries[].filePath"}.String())
}

func TestRewriteResultKeepsContentAnnotations(t *testing.T) {
	spec, _ := DefaultAllowList().Spec("get_file_problems")
	text := mcp.NewTextContent(`{"filePath":"C:\\a.kt","errors":[]}`)
	text.Annotations = &mcp.Annotations{Audience: []mcp.Role{mcp.RoleUser}, LastModified: "2026-01-12T15:00:58Z"}
	result := &mcp.CallToolResult{Content: []mcp.Content{text, &text}}

	out := RewriteResult(result, spec.ResultPaths, toWSL)
	require.Len(t, out.Content, 2)

	value, ok := out.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"filePath":"/mnt/c/a.kt","errors":[]}`, value.Text)
	assert.Equal(t, text.Annotations, value.Annotations)

	pointer, ok := out.Content[1].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"filePath":"/mnt/c/a.kt","errors":[]}`, pointer.Text)
	assert.Equal(t, text.Annotations, pointer.Annotations)
	assert.Equal(t, `{"filePath":"C:\\a.kt","errors":[]}`, text.Text)
}
