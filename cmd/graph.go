package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cascade/internal/config"
	"cascade/internal/graph"
	"cascade/pkg/logging"
)

var graphConfigPath string

// graphCmd validates a dependency file and prints the resulting DAG without
// starting anything. Useful to check a file before serving it.
var graphCmd = &cobra.Command{
	Use:   "graph [dependency-file]",
	Short: "Validate a dependency file and print the service graph",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	logging.Init(logging.LevelWarn, os.Stderr)

	settings, err := config.LoadSettings(graphConfigPath)
	if err != nil {
		return err
	}
	path := settings.DependencyFile
	if len(args) > 0 {
		path = args[0]
	}

	g, err := graph.Load(path)
	if err != nil {
		return err
	}

	renderGraph(cmd.OutOrStdout(), g)
	return nil
}

func renderGraph(out io.Writer, g *graph.Graph) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVICE", "INDEGREE", "DEPENDENCIES", "DEPENDENTS"})
	for _, id := range g.IDs() {
		n := g.Get(id)
		t.AppendRow(table.Row{
			id,
			n.Indegree(),
			strings.Join(n.DependsOn, ", "),
			strings.Join(n.RequiredBy, ", "),
		})
	}
	t.Render()

	fmt.Fprintf(out, "Sources: %v\n", g.Sources())
	fmt.Fprintf(out, "Sinks: %v\n", g.Sinks())
	fmt.Fprintf(out, "Topological order: %v\n", g.TopologicalOrder())
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringVar(&graphConfigPath, "config", config.DefaultSettingsFile, "Path to the settings file")
}
