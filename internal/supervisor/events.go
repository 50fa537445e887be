package supervisor

import (
	"time"

	"github.com/google/uuid"

	"cascade/pkg/logging"
)

// eventBuffer is the per-subscriber channel capacity. Publishing never
// blocks; a full subscriber drops the event.
const eventBuffer = 100

// StateChangedEvent represents a service state transition.
type StateChangedEvent struct {
	EventID   string
	Service   string
	OldState  ServiceState
	NewState  ServiceState
	Timestamp time.Time
}

// Subscribe returns a channel receiving every service state transition.
// Subscribers must drain the channel; events beyond the buffer are dropped.
func (m *Manager) Subscribe() <-chan StateChangedEvent {
	ch := make(chan StateChangedEvent, eventBuffer)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

// publishStateChange fans a transition out to all subscribers. It is invoked
// from the transitioning goroutine and must not block.
func (m *Manager) publishStateChange(id string, oldState, newState ServiceState) {
	event := StateChangedEvent{
		EventID:   uuid.New().String(),
		Service:   id,
		OldState:  oldState,
		NewState:  newState,
		Timestamp: time.Now(),
	}

	m.subMu.RLock()
	subscribers := make([]chan<- StateChangedEvent, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.subMu.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			logging.Debug("Manager", "Subscriber blocked, dropping event for service %s", id)
		}
	}
}
