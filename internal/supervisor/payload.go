package supervisor

import (
	"context"
	"math/rand/v2"
	"time"

	"cascade/pkg/logging"
)

// Payload is the work a service performs while running. Run is called once
// per running epoch; it must either return promptly once the service's stop
// flag is set (poll StopRequested, or watch ctx which is cancelled on stop)
// or be non-blocking.
type Payload interface {
	Run(ctx context.Context, svc *Service)
}

// PayloadFunc adapts a plain function to the Payload interface.
type PayloadFunc func(ctx context.Context, svc *Service)

// Run implements Payload.
func (f PayloadFunc) Run(ctx context.Context, svc *Service) {
	f(ctx, svc)
}

// PayloadFactory produces the payload for a service id at build time.
type PayloadFactory func(id string) Payload

// SleepingPayload is the demo payload: it sleeps for a uniformly random
// interval below MaxInterval, logs, and loops until the service's stop flag
// is observed. A bad service keeps looping regardless, which exercises the
// stop-timeout path.
type SleepingPayload struct {
	// MaxInterval bounds each sleep. Zero means the 1 second default.
	MaxInterval time.Duration
}

// Run implements Payload.
func (p SleepingPayload) Run(ctx context.Context, svc *Service) {
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = time.Second
	}
	subsystem := "Service[" + svc.ID() + "]"
	for !svc.StopRequested() || svc.Bad() {
		time.Sleep(rand.N(maxInterval))
		logging.Info(subsystem, "Working...")
	}
	logging.Info(subsystem, "Stopped working.")
}
