package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cascade/internal/graph"
)

// exampleGraph is the dependency file from the README: d requires b and c,
// which both require a; e stands alone.
const exampleGraph = "d b c\nb a\nc a\ne\n"

// quiescence bounds how long tests wait for the fleet to settle.
const quiescence = 2 * time.Second

// fastPayloads makes every service poll its stop flag every millisecond so
// scenarios settle quickly.
func fastPayloads(string) Payload {
	return SleepingPayload{MaxInterval: time.Millisecond}
}

func buildManager(t *testing.T, file string) *Manager {
	t.Helper()
	g, err := graph.Parse(strings.NewReader(file))
	require.NoError(t, err)
	require.NoError(t, g.CheckAcyclic())
	return New(Config{
		Graph:       g,
		StopTimeout: 500 * time.Millisecond,
		Payloads:    fastPayloads,
	})
}

// harness runs a manager's dispatcher on its own goroutine and guarantees a
// clean shutdown at the end of the test.
type harness struct {
	m      *Manager
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

func startManager(t *testing.T, file string) *harness {
	t.Helper()
	m := buildManager(t, file)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{m: m, cancel: cancel, done: make(chan struct{})}
	go func() {
		h.runErr = m.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		select {
		case <-h.done:
		default:
			m.Enqueue(CmdExit)
			select {
			case <-h.done:
			case <-time.After(5 * time.Second):
				cancel()
				<-h.done
			}
		}
		cancel()
		for _, svc := range m.Services() {
			waitForState(t, svc, StateTerminated)
		}
	})
	return h
}

// wait blocks until the dispatcher returned and yields its error.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.runErr
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not terminate")
		return nil
	}
}

func get(t *testing.T, m *Manager, id string) *Service {
	t.Helper()
	svc, ok := m.Get(id)
	require.True(t, ok, "service %s not in registry", id)
	return svc
}

func waitForState(t *testing.T, svc *Service, want ServiceState) {
	t.Helper()
	deadline := time.Now().Add(quiescence)
	for time.Now().Before(deadline) {
		if svc.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("service %s did not reach %s, still %s", svc.ID(), want, svc.State())
}

func waitForStates(t *testing.T, m *Manager, want ServiceState, ids ...string) {
	t.Helper()
	for _, id := range ids {
		waitForState(t, get(t, m, id), want)
	}
}
