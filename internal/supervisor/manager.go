package supervisor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cascade/internal/graph"
	"cascade/pkg/logging"
)

// Command verbs understood by the dispatcher. RESUME-* is canonical; the
// START-* spellings are accepted as synonyms.
const (
	CmdResumeAll     = "RESUME-ALL"
	CmdStopAll       = "STOP-ALL"
	CmdResumeService = "RESUME-SERVICE"
	CmdStopService   = "STOP-SERVICE"
	CmdExit          = "EXIT"

	cmdStartAll     = "START-ALL"
	cmdStartService = "START-SERVICE"
)

// DefaultStopTimeout bounds the dependent drain wait when the configuration
// does not say otherwise.
const DefaultStopTimeout = 1500 * time.Millisecond

// DefaultQueueSize is the command queue capacity when the configuration does
// not say otherwise.
const DefaultQueueSize = 64

// Config holds the knobs for building a Manager.
type Config struct {
	// Graph is the validated dependency DAG. Required.
	Graph *graph.Graph

	// StopTimeout is the default per-service dependent drain bound.
	// Zero or negative means DefaultStopTimeout.
	StopTimeout time.Duration

	// QueueSize is the command queue capacity. Zero or negative means
	// DefaultQueueSize.
	QueueSize int

	// Payloads produces the payload for each service. Nil means the
	// sleeping demo payload.
	Payloads PayloadFactory
}

// Manager owns the service registry and the command dispatcher. The registry
// is read-only after New; all external requests are serialized through the
// command queue onto the single dispatcher goroutine.
type Manager struct {
	graph    *graph.Graph
	services map[string]*Service
	queue    chan string

	subMu       sync.RWMutex
	subscribers []chan<- StateChangedEvent
}

// New builds the manager for a validated graph: one service per node, wired
// to its dependencies and dependents by reference.
func New(cfg Config) *Manager {
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	payloads := cfg.Payloads
	if payloads == nil {
		payloads = func(string) Payload { return SleepingPayload{} }
	}

	m := &Manager{
		graph:    cfg.Graph,
		services: make(map[string]*Service, cfg.Graph.Len()),
		queue:    make(chan string, queueSize),
	}

	for _, id := range cfg.Graph.IDs() {
		svc := newService(id, payloads(id), stopTimeout)
		svc.stateCallback = m.publishStateChange
		m.services[id] = svc
	}
	for _, id := range cfg.Graph.IDs() {
		svc := m.services[id]
		for _, dep := range cfg.Graph.Dependencies(id) {
			svc.deps = append(svc.deps, m.services[dep])
		}
		for _, parent := range cfg.Graph.Dependents(id) {
			svc.dependents = append(svc.dependents, m.services[parent])
		}
	}
	return m
}

// Queue returns the command queue for external producers such as the stdin
// reader.
func (m *Manager) Queue() chan<- string {
	return m.queue
}

// Enqueue pushes a command, blocking while the queue is full.
func (m *Manager) Enqueue(command string) {
	m.queue <- command
}

// Get fetches a service handle by id.
func (m *Manager) Get(id string) (*Service, bool) {
	svc, ok := m.services[id]
	return svc, ok
}

// Services returns every service, ordered by id.
func (m *Manager) Services() []*Service {
	ids := make([]string, 0, len(m.services))
	for id := range m.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	services := make([]*Service, len(ids))
	for i, id := range ids {
		services[i] = m.services[id]
	}
	return services
}

// Graph returns the dependency graph the manager was built from.
func (m *Manager) Graph() *graph.Graph {
	return m.graph
}

// Run is the dispatcher loop: it consumes commands one at a time until EXIT
// or until the context is cancelled, which is treated as an implicit EXIT.
func (m *Manager) Run(ctx context.Context) error {
	m.startWorkers()
	logging.Info("Dispatcher", "Listening to commands...")
	for {
		select {
		case <-ctx.Done():
			logging.Warn("Dispatcher", "Interrupted, forcing exit")
			m.exit(ctx)
			return ctx.Err()
		case command := <-m.queue:
			if m.dispatch(ctx, command) {
				return nil
			}
		}
	}
}

// startWorkers spawns the worker for every service up front; each parks in
// WAITING_RUN until a resume request reaches it.
func (m *Manager) startWorkers() {
	for _, svc := range m.services {
		svc.mu.Lock()
		svc.ensureWorkerLocked()
		svc.mu.Unlock()
	}
}

// dispatch translates one text command into a graph-level operation. Returns
// true when the dispatcher should terminate.
func (m *Manager) dispatch(ctx context.Context, command string) bool {
	commandID := uuid.New().String()
	fields := strings.Fields(command)
	if len(fields) == 0 {
		logging.Warn("Dispatcher", "Ignoring empty command")
		return false
	}
	verb := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	logging.Debug("Dispatcher", "Processing %q [command %s]", command, commandID)

	switch verb {
	case CmdResumeAll, cmdStartAll:
		m.resumeAll()
	case CmdStopAll:
		m.stopAll()
	case CmdResumeService, cmdStartService:
		if err := m.ResumeService(arg); err != nil {
			logging.Warn("Dispatcher", "%v", err)
		}
	case CmdStopService:
		if err := m.StopService(arg); err != nil {
			logging.Warn("Dispatcher", "%v", err)
		}
	case CmdExit:
		m.exit(ctx)
		return true
	default:
		logging.Warn("Dispatcher", "Unknown command %s in message %q", verb, command)
	}
	return false
}

// resumeAll resumes every source; the start handshake drags the rest of each
// sub-DAG into running.
func (m *Manager) resumeAll() {
	logging.Info("Manager", "Starting all services...")
	for _, id := range m.graph.Sources() {
		m.services[id].Resume()
	}
}

// stopAll stops every sink; the cascade propagates the stop upward through
// all running dependents.
func (m *Manager) stopAll() {
	sinks := m.graph.Sinks()
	logging.Info("Manager", "Stopping services: %v", sinks)
	for _, id := range sinks {
		m.services[id].Stop()
	}
	logging.Info("Manager", "All running services stopped")
}

// ResumeService resumes the named service only.
func (m *Manager) ResumeService(id string) error {
	svc, ok := m.services[id]
	if !ok {
		return NewServiceNotFoundError(id)
	}
	logging.Info("Manager", "Starting service %s...", id)
	svc.Resume()
	return nil
}

// StopService stops the named service, cascading upward through its running
// dependents first.
func (m *Manager) StopService(id string) error {
	svc, ok := m.services[id]
	if !ok {
		return NewServiceNotFoundError(id)
	}
	logging.Info("Manager", "Stopping service %s...", id)
	svc.Stop()
	return nil
}

// exit terminates the whole fleet: sinks first so the stop ordering cascades
// upward, then every remaining service directly (services that never ran are
// not reachable by the cascade), then a join on all of them.
func (m *Manager) exit(ctx context.Context) {
	logging.Info("Manager", "Stopping services: %v", m.graph.Sinks())
	for _, id := range m.graph.Sinks() {
		m.services[id].Terminate()
	}
	for _, id := range m.graph.IDs() {
		m.services[id].Terminate()
	}

	logging.Info("Manager", "Waiting for running services before terminating...")
	for _, id := range m.graph.IDs() {
		if err := m.services[id].Join(ctx); err != nil {
			logging.Warn("Manager", "Termination was forced before all services could be stopped")
			return
		}
	}
	logging.Info("Manager", "Terminated")
}
