package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cascade/internal/config"
	"cascade/internal/graph"
	"cascade/internal/supervisor"
)

const exampleFile = "d b c\nb a\nc a\ne\n"

func newTestApp(t *testing.T, commands string) *Application {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.txt")
	require.NoError(t, os.WriteFile(path, []byte(exampleFile), 0o644))

	settings := config.GetDefaultSettings()
	settings.DependencyFile = path
	settings.StopTimeoutMs = 200

	application, err := New(settings)
	require.NoError(t, err)
	application.in = strings.NewReader(commands)
	return application
}

func runApp(t *testing.T, a *Application) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
}

func TestNew_MissingDependencyFile(t *testing.T) {
	settings := config.GetDefaultSettings()
	settings.DependencyFile = filepath.Join(t.TempDir(), "absent.txt")

	_, err := New(settings)
	assert.Error(t, err)
}

func TestNew_CyclicDependencyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.txt")
	require.NoError(t, os.WriteFile(path, []byte("a b\nb a\n"), 0o644))

	settings := config.GetDefaultSettings()
	settings.DependencyFile = path

	_, err := New(settings)
	assert.ErrorIs(t, err, graph.ErrCyclicGraph)
}

func TestRun_ExitCommand(t *testing.T) {
	a := newTestApp(t, "RESUME-ALL\nEXIT\n")
	runApp(t, a)

	for _, svc := range a.Manager().Services() {
		assert.Equal(t, supervisor.StateTerminated, svc.State())
	}
}

func TestRun_EOFMeansExit(t *testing.T) {
	// The input ends without an explicit EXIT.
	a := newTestApp(t, "RESUME-SERVICE b\n")
	runApp(t, a)

	for _, svc := range a.Manager().Services() {
		assert.Equal(t, supervisor.StateTerminated, svc.State())
	}
}

func TestRun_IgnoresBlankAndUnknownLines(t *testing.T) {
	a := newTestApp(t, "\nNOT-A-COMMAND\n\nEXIT\n")
	runApp(t, a)
}
