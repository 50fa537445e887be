package graph

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"cascade/pkg/logging"
)

// Parse reads the dependency file format from r: one service per line, the
// first whitespace-separated token is the service id, the remaining tokens are
// the ids it depends on. Blank lines are ignored. Line order is irrelevant and
// ids may appear as dependencies before (or without) a dedicated line.
func Parse(r io.Reader) (*Graph, error) {
	g := New()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		g.AddDependencies(tokens[0], tokens[1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dependency lines: %w", err)
	}
	return g, nil
}

// Load reads and validates the dependency file at path. Any read error or a
// cycle in the declared dependencies fails the whole load; no partial graph
// is returned.
func Load(path string) (*Graph, error) {
	logging.Info("GraphLoader", "Reading dependencies from %s", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dependency file %s: %w", path, err)
	}
	defer f.Close()

	g, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing dependency file %s: %w", path, err)
	}

	logging.Info("GraphLoader", "Checking for cycles in dependencies...")
	if err := g.CheckAcyclic(); err != nil {
		return nil, fmt.Errorf("dependency file %s: %w", path, err)
	}

	logging.Info("GraphLoader", "Loaded %d services", g.Len())
	return g, nil
}
