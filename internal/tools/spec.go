// Package tools holds the curated set of forwarded JetBrains tools and the
// path-field rewriting applied to their arguments and results.
package tools

import (
	"sort"
	"strings"
)

// FieldPath addresses a path-bearing value inside a JSON object.
//
// Path is dotted; a segment ending in "[]" visits every element of a sequence,
// and a bare "[]" denotes a sequence at the root. FirstLine restricts rewriting
// to the first line of a multi-line string.
type FieldPath struct {
	Path      string
	FirstLine bool
}

func (f FieldPath) String() string {
	if f.FirstLine {
		return f.Path + " (first line)"
	}
	return f.Path
}

// ToolSpec declares which fields of a tool's arguments and results are paths.
type ToolSpec struct {
	Name        string
	ArgPaths    []FieldPath
	ResultPaths []FieldPath
}

func fields(paths ...string) []FieldPath {
	out := make([]FieldPath, 0, len(paths))
	for _, p := range paths {
		out = append(out, FieldPath{Path: p})
	}
	return out
}

// Supported returns the curated tool specs, sorted by name.
func Supported() []ToolSpec {
	specs := []ToolSpec{
		{
			Name:        "get_all_open_file_paths",
			ResultPaths: fields("activeFilePath", "openFiles[]"),
		},
		{
			Name:        "get_file_problems",
			ArgPaths:    fields("filePath"),
			ResultPaths: fields("filePath"),
		},
		{
			Name:     "get_file_text_by_path",
			ArgPaths: fields("pathInProject", "path"),
		},
		{Name: "get_project_dependencies"},
		{Name: "get_project_modules"},
		{Name: "get_project_problems"},
		{
			Name:     "list_directory_tree",
			ArgPaths: fields("directoryPath"),
			ResultPaths: []FieldPath{
				{Path: "traversedDirectory"},
				{Path: "tree", FirstLine: true},
			},
		},
		{
			Name:     "reformat_file",
			ArgPaths: fields("path"),
		},
		{
			Name:     "rename_refactoring",
			ArgPaths: fields("pathInProject"),
		},
		{
			Name:     "replace_text_in_file",
			ArgPaths: fields("pathInProject"),
		},
		{
			Name:        "search_in_files_by_regex",
			ArgPaths:    fields("directoryToSearch"),
			ResultPaths: fields("entries[].filePath"),
		},
		{
			Name:        "search_in_files_by_text",
			ArgPaths:    fields("directoryToSearch"),
			ResultPaths: fields("entries[].filePath"),
		},
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

type segment struct {
	key string
	seq bool
}

func parseFieldPath(path string) []segment {
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if key, ok := strings.CutSuffix(p, "[]"); ok {
			segs = append(segs, segment{key: key, seq: true})
			continue
		}
		segs = append(segs, segment{key: p})
	}
	return segs
}
