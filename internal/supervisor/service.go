package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cascade/pkg/logging"
)

// Service is a single supervised unit in the dependency graph. It is a
// passive record: the engine spawns at most one worker goroutine for it, and
// every peer interaction goes through the exported control surface (Resume,
// Stop, Terminate, Join).
//
// All mutable fields are guarded by mu; cond (bound to mu) carries every
// notification: resume requests, dependency-running and dependent-stopped
// signals. Cross-service calls lock only the target service, never two
// services at once.
type Service struct {
	id        string
	subsystem string
	payload   Payload

	// Wired by the manager at build time, immutable afterwards.
	deps       []*Service
	dependents []*Service

	mu   sync.Mutex
	cond *sync.Cond

	state              ServiceState
	stopRequested      bool
	terminateRequested bool
	stopTimeout        time.Duration
	bad                bool

	// Dependencies currently observed running, and dependents that are
	// running or have requested to run through this service.
	runningDeps       map[*Service]struct{}
	runningDependents map[*Service]struct{}

	workerStarted bool
	workCtx       context.Context
	workCancel    context.CancelFunc

	stateCallback StateChangeCallback

	done     chan struct{}
	doneOnce sync.Once
}

func newService(id string, payload Payload, stopTimeout time.Duration) *Service {
	s := &Service{
		id:                id,
		subsystem:         fmt.Sprintf("Service[%s]", id),
		payload:           payload,
		state:             StateCreated,
		stopRequested:     true,
		stopTimeout:       stopTimeout,
		runningDeps:       make(map[*Service]struct{}),
		runningDependents: make(map[*Service]struct{}),
		done:              make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the service id.
func (s *Service) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Service) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StopRequested reports whether the payload has been asked to stop. Payloads
// must poll this (or watch their context) and return promptly when it is set.
func (s *Service) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// SetBad configures the test hook that makes the demo payload ignore stop
// requests, exercising the stop-timeout path.
func (s *Service) SetBad(bad bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bad = bad
}

// Bad reports the test hook flag.
func (s *Service) Bad() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad
}

// SetStopTimeout configures the bound on the wait for running dependents to
// drain during a stop. Negative values are rejected.
func (s *Service) SetStopTimeout(timeout time.Duration) error {
	if timeout < 0 {
		return &InvalidTimeoutError{Timeout: timeout}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimeout = timeout
	return nil
}

// StopTimeout returns the configured drain bound.
func (s *Service) StopTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopTimeout
}

// Dependencies returns the ids of the services this one requires.
func (s *Service) Dependencies() []string {
	ids := make([]string, len(s.deps))
	for i, dep := range s.deps {
		ids[i] = dep.id
	}
	return ids
}

// Dependents returns the ids of the services that require this one.
func (s *Service) Dependents() []string {
	ids := make([]string, len(s.dependents))
	for i, p := range s.dependents {
		ids[i] = p.id
	}
	return ids
}

// Resume requests that the service start doing work, spawning the worker on
// first use. Idempotent: resuming a running service is a no-op.
func (s *Service) Resume() {
	s.resume(nil)
}

// resume is the shared resume path. When invoked through a dependent's start
// handshake, parent is registered as a running dependent so the stop protocol
// knows who to wait for.
func (s *Service) resume(parent *Service) {
	s.mu.Lock()
	if s.state == StateTerminated || s.terminateRequested {
		s.mu.Unlock()
		return
	}
	if parent != nil {
		s.runningDependents[parent] = struct{}{}
	}
	s.stopRequested = false
	s.ensureWorkerLocked()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// ensureWorkerLocked spawns the worker goroutine if none exists. The flag
// swap under mu is what guarantees at most one worker per service.
func (s *Service) ensureWorkerLocked() {
	if s.workerStarted {
		return
	}
	s.workerStarted = true
	go s.run()
}

// Stop requests an orderly stop: dependents drain first, then the payload is
// told to stop. Blocks the caller until the dependents drained or the stop
// timeout elapsed. Idempotent if the service is already stopped or stopping.
func (s *Service) Stop() {
	s.requestStop(false)
}

// Terminate is Stop plus the terminate flag: once the payload returns the
// worker exits for good instead of re-entering the wait-for-resume state.
func (s *Service) Terminate() {
	logging.Debug(s.subsystem, "Trying to terminate...")
	s.requestStop(true)
}

func (s *Service) requestStop(terminate bool) {
	s.mu.Lock()
	if terminate {
		s.terminateRequested = true
	}
	if s.stopRequested || s.state == StateTerminated {
		// Already stopped; a terminate still has to release the worker, or
		// retire the service on the spot if no worker ever existed.
		if terminate && s.state != StateTerminated && !s.workerStarted {
			s.setStateLocked(StateTerminated)
			s.doneOnce.Do(func() { close(s.done) })
		}
		s.cond.Broadcast()
		s.mu.Unlock()
		return
	}

	logging.Debug(s.subsystem, "Stopping")
	// Only a running service passes through the draining state; a service
	// still waiting to run just has its stop flag raised below.
	if s.state == StateRunning {
		s.setStateLocked(StateWaitingStop)
	}
	waitingOn := s.runningDependentsLocked()
	s.mu.Unlock()

	// Cascade upward before waiting: every running dependent has to leave
	// running before this service may.
	for _, p := range waitingOn {
		p.requestStop(terminate)
	}

	deadline := time.Now().Add(s.StopTimeout())
	s.mu.Lock()
	for len(s.runningDependents) > 0 {
		logging.Debug(s.subsystem, "Waiting for dependents to stop: %v", s.runningDependentIDsLocked())
		if !s.waitUntilLocked(deadline) {
			logging.Warn(s.subsystem, "Timeout while waiting for dependents %v to stop", s.runningDependentIDsLocked())
			break
		}
	}
	s.stopRequested = true
	if terminate {
		s.terminateRequested = true
	}
	cancel := s.workCancel
	s.cond.Broadcast()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	logging.Debug(s.subsystem, "Is able to stop")
}

// waitUntilLocked blocks on the service condition until a notification or the
// deadline. Returns false once the deadline has passed. The deadline is fixed
// by the caller, so spurious wakeups do not extend the wait.
func (s *Service) waitUntilLocked(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.AfterFunc(remaining, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	s.cond.Wait()
	timer.Stop()
	return time.Now().Before(deadline)
}

// Join blocks until the service reaches TERMINATED or the context is
// cancelled.
func (s *Service) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the worker loop. It owns the WAITING_RUN / RUNNING / WAITING_STOP
// cycle for this service until a terminate request retires it.
func (s *Service) run() {
	defer s.doneOnce.Do(func() { close(s.done) })
	for {
		if terminating := s.awaitResume(); terminating {
			s.setState(StateTerminated)
			logging.Info(s.subsystem, "Terminated")
			return
		}
		if s.startHandshake() {
			s.executePayload()
		}
		s.withdraw()
		if s.terminating() {
			s.setState(StateTerminated)
			logging.Info(s.subsystem, "Terminated")
			return
		}
	}
}

// awaitResume parks the worker in WAITING_RUN until a resume request clears
// the stop flag, or a terminate request retires the service. Returns true
// when terminating.
func (s *Service) awaitResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(StateWaitingRun)
	logging.Debug(s.subsystem, "Waiting for resuming...")
	for s.stopRequested && !s.terminateRequested {
		s.cond.Wait()
	}
	return s.terminateRequested
}

// startHandshake drags every dependency toward running, waits until all of
// them were observed running, and enters RUNNING. Returns false when a stop
// request arrives while waiting; the worker then skips the payload and goes
// straight to the stop path.
func (s *Service) startHandshake() bool {
	logging.Debug(s.subsystem, "Waiting for dependencies to start: %v", s.Dependencies())
	for _, dep := range s.deps {
		dep.resume(s)
	}

	s.mu.Lock()
	for !s.stopRequested && len(s.runningDeps) != len(s.deps) {
		s.cond.Wait()
	}
	if s.stopRequested {
		s.mu.Unlock()
		logging.Debug(s.subsystem, "Interrupted while trying to start")
		return false
	}
	s.setStateLocked(StateRunning)
	s.workCtx, s.workCancel = context.WithCancel(context.Background())
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, p := range s.dependents {
		p.dependencyResumed(s)
	}
	logging.Info(s.subsystem, "Resumed")
	return true
}

// executePayload runs the payload until it returns or the stop request
// cancels its context. A panicking payload retires the whole service.
func (s *Service) executePayload() {
	s.mu.Lock()
	ctx := s.workCtx
	cancel := s.workCancel
	payload := s.payload
	s.mu.Unlock()
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.Error(s.subsystem, fmt.Errorf("%v", r), "Payload panicked")
			s.mu.Lock()
			s.stopRequested = true
			s.terminateRequested = true
			s.cond.Broadcast()
			s.mu.Unlock()
		}
	}()

	payload.Run(ctx, s)
}

// withdraw deregisters the service from its peers after it left running (or
// aborted a start): dependents no longer see it among their running
// dependencies, dependencies no longer wait on it as a running dependent.
func (s *Service) withdraw() {
	for _, p := range s.dependents {
		p.dependencyStopped(s)
	}
	for _, dep := range s.deps {
		dep.dependentStopped(s)
	}
	logging.Debug(s.subsystem, "Withdrew from peers")
}

func (s *Service) terminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminateRequested
}

// dependencyResumed records that dep entered RUNNING and wakes the worker if
// it is blocked in the start handshake.
func (s *Service) dependencyResumed(dep *Service) {
	s.mu.Lock()
	s.runningDeps[dep] = struct{}{}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// dependencyStopped records that dep left RUNNING.
func (s *Service) dependencyStopped(dep *Service) {
	s.mu.Lock()
	delete(s.runningDeps, dep)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// dependentStopped records that p no longer runs (or no longer intends to
// run) on top of this service, waking a stopper blocked on the drain.
func (s *Service) dependentStopped(p *Service) {
	s.mu.Lock()
	delete(s.runningDependents, p)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// runningDependentsLocked snapshots the running dependents so cascades can
// iterate without holding this service's lock.
func (s *Service) runningDependentsLocked() []*Service {
	snapshot := make([]*Service, 0, len(s.runningDependents))
	for p := range s.runningDependents {
		snapshot = append(snapshot, p)
	}
	return snapshot
}

func (s *Service) runningDependentIDsLocked() []string {
	ids := make([]string, 0, len(s.runningDependents))
	for p := range s.runningDependents {
		ids = append(ids, p.id)
	}
	return ids
}

// setState performs a state transition with the lock taken.
func (s *Service) setState(newState ServiceState) {
	s.mu.Lock()
	s.setStateLocked(newState)
	s.mu.Unlock()
}

// setStateLocked performs a state transition and fires the state callback.
// Must be called with mu held.
func (s *Service) setStateLocked(newState ServiceState) {
	oldState := s.state
	if oldState == newState || oldState == StateTerminated {
		return
	}
	s.state = newState
	s.cond.Broadcast()
	if cb := s.stateCallback; cb != nil {
		cb(s.id, oldState, newState)
	}
}
