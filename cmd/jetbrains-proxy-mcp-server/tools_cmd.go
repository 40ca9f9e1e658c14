package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/tools"
)

func newToolsCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the JetBrains tools this proxy forwards",
		Long: `List the curated JetBrains tools together with the argument and result
fields whose paths are translated. Any other downstream tool is hidden from clients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return outputTools(cmd.OutOrStdout(), tools.Supported(), outputFormat)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

type toolView struct {
	Name        string   `json:"name"`
	ArgPaths    []string `json:"arg_paths"`
	ResultPaths []string `json:"result_paths"`
}

func fieldNames(paths []tools.FieldPath) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, p.String())
	}
	return names
}

// outputTools formats the tool specs in the requested format
func outputTools(w io.Writer, specs []tools.ToolSpec, format string) error {
	switch format {
	case "json":
		views := make([]toolView, 0, len(specs))
		for _, spec := range specs {
			views = append(views, toolView{
				Name:        spec.Name,
				ArgPaths:    fieldNames(spec.ArgPaths),
				ResultPaths: fieldNames(spec.ResultPaths),
			})
		}
		output, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format tools as JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(output))
		return err
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TOOL\tARGUMENT PATHS\tRESULT PATHS")
		for _, spec := range specs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", spec.Name, joinOrDash(fieldNames(spec.ArgPaths)), joinOrDash(fieldNames(spec.ResultPaths)))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q, use table or json", format)
	}
}

func joinOrDash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ", ")
}
