package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WiresRegistry(t *testing.T) {
	m := buildManager(t, exampleGraph)

	a := get(t, m, "a")
	b := get(t, m, "b")
	d := get(t, m, "d")
	e := get(t, m, "e")

	assert.ElementsMatch(t, []string{"b", "c"}, d.Dependencies())
	assert.ElementsMatch(t, []string{"a"}, b.Dependencies())
	assert.ElementsMatch(t, []string{"b", "c"}, a.Dependents())
	assert.Empty(t, e.Dependencies())
	assert.Empty(t, e.Dependents())

	_, ok := m.Get("ghost")
	assert.False(t, ok)
}

func TestNew_AppliesDefaults(t *testing.T) {
	m := buildManager(t, exampleGraph)
	assert.Equal(t, 500*time.Millisecond, get(t, m, "a").StopTimeout())

	services := m.Services()
	require.Len(t, services, 5)
	assert.Equal(t, "a", services[0].ID())
	assert.Equal(t, "e", services[4].ID())
}

func TestRun_SpawnsAllWorkers(t *testing.T) {
	h := startManager(t, exampleGraph)

	// Every worker parks in WAITING_RUN before any resume arrives.
	waitForStates(t, h.m, StateWaitingRun, "a", "b", "c", "d", "e")
}

func TestDispatcher_UnknownServiceAndVerb(t *testing.T) {
	h := startManager(t, exampleGraph)

	// None of these must kill or wedge the dispatcher.
	h.m.Enqueue("FROBNICATE")
	h.m.Enqueue("RESUME-SERVICE ghost")
	h.m.Enqueue("STOP-SERVICE ghost")
	h.m.Enqueue("RESUME-SERVICE")
	h.m.Enqueue(CmdResumeAll)

	waitForStates(t, h.m, StateRunning, "a", "b", "c", "d", "e")
}

func TestDispatcher_StartSynonyms(t *testing.T) {
	h := startManager(t, exampleGraph)

	h.m.Enqueue("START-SERVICE b")
	waitForStates(t, h.m, StateRunning, "a", "b")

	h.m.Enqueue(CmdStopAll)
	waitForStates(t, h.m, StateWaitingRun, "a", "b")

	h.m.Enqueue("START-ALL")
	waitForStates(t, h.m, StateRunning, "a", "b", "c", "d", "e")
}

func TestResumeService_UnknownID(t *testing.T) {
	m := buildManager(t, exampleGraph)

	var notFound *ServiceNotFoundError
	require.ErrorAs(t, m.ResumeService("ghost"), &notFound)
	assert.Equal(t, "ghost", notFound.ID)
	require.ErrorAs(t, m.StopService("ghost"), &notFound)
}

func TestRun_InterruptForcesExit(t *testing.T) {
	m := buildManager(t, exampleGraph)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.Enqueue(CmdResumeAll)
	waitForStates(t, m, StateRunning, "a", "b", "c", "d", "e")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not return after interrupt")
	}

	// The forced exit still terminates the whole fleet.
	waitForStates(t, m, StateTerminated, "a", "b", "c", "d", "e")
}

func TestSubscribe_SeesDependencyOrdering(t *testing.T) {
	h := startManager(t, exampleGraph)
	events := h.m.Subscribe()

	h.m.Enqueue("RESUME-SERVICE b")
	waitForStates(t, h.m, StateRunning, "a", "b")

	running := make(map[string]int)
	deadline := time.After(quiescence)
	for len(running) < 2 {
		select {
		case event := <-events:
			require.NotEmpty(t, event.EventID)
			if event.NewState == StateRunning {
				if _, seen := running[event.Service]; !seen {
					running[event.Service] = len(running)
				}
			}
		case <-deadline:
			t.Fatalf("missing running events, got %v", running)
		}
	}

	// b depends on a, so a must have entered running first.
	assert.Less(t, running["a"], running["b"])
}

func TestSubscribe_StopOrdering(t *testing.T) {
	h := startManager(t, exampleGraph)

	h.m.Enqueue("RESUME-SERVICE b")
	waitForStates(t, h.m, StateRunning, "a", "b")

	events := h.m.Subscribe()
	h.m.Enqueue("STOP-SERVICE a")
	waitForStates(t, h.m, StateWaitingRun, "a", "b")

	// The dependent must be asked to stop before its dependency completes
	// the stop: b enters waiting-stop before a leaves it for waiting-run.
	bStopping := -1
	aStopped := -1
	index := 0
	for aStopped < 0 {
		select {
		case event := <-events:
			if event.Service == "b" && event.NewState == StateWaitingStop && bStopping < 0 {
				bStopping = index
			}
			if event.Service == "a" && event.OldState == StateWaitingStop && event.NewState == StateWaitingRun {
				aStopped = index
			}
			index++
		case <-time.After(quiescence):
			t.Fatalf("missing stop events (bStopping=%d, aStopped=%d)", bStopping, aStopped)
		}
	}
	require.GreaterOrEqual(t, bStopping, 0, "b never entered waiting-stop")
	assert.Less(t, bStopping, aStopped)
}
