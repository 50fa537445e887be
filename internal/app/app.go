package app

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/sync/errgroup"

	"cascade/internal/config"
	"cascade/internal/graph"
	"cascade/internal/supervisor"
	"cascade/pkg/logging"
)

// Application wires the loaded dependency graph, the supervisor manager and
// the command reader together for the serve command.
type Application struct {
	settings config.Settings
	manager  *supervisor.Manager

	// in is the command source; os.Stdin outside of tests.
	in io.Reader
}

// New loads the dependency file and builds the manager. Load failures (I/O,
// parse, cycle) are returned as-is and abort startup.
func New(settings config.Settings) (*Application, error) {
	g, err := graph.Load(settings.DependencyFile)
	if err != nil {
		return nil, err
	}

	manager := supervisor.New(supervisor.Config{
		Graph:       g,
		StopTimeout: time.Duration(settings.StopTimeoutMs) * time.Millisecond,
		QueueSize:   settings.QueueSize,
	})

	return &Application{
		settings: settings,
		manager:  manager,
		in:       os.Stdin,
	}, nil
}

// Manager exposes the supervisor manager, mainly for tests.
func (a *Application) Manager() *supervisor.Manager {
	return a.manager
}

// Run starts the dispatcher and the command reader and blocks until the
// dispatcher terminates. SIGINT and SIGTERM are treated as an implicit EXIT.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.manager.Run(ctx)
		if errors.Is(err, context.Canceled) {
			// An interrupt is an implicit EXIT, not a failure.
			return nil
		}
		return err
	})
	g.Go(func() error {
		return a.readCommands(ctx)
	})
	return g.Wait()
}

// readCommands forwards command lines from the input into the manager queue
// until EXIT or end of input. EOF is equivalent to EXIT.
func (a *Application) readCommands(ctx context.Context) error {
	if a.in == os.Stdin && readline.DefaultIsTerminal() {
		return a.readInteractive(ctx)
	}
	return a.readPlain(ctx)
}

// readInteractive runs a readline prompt on the terminal.
func (a *Application) readInteractive(ctx context.Context) error {
	rl, err := readline.New("cascade> ")
	if err != nil {
		logging.Warn("Reader", "Falling back to plain input: %v", err)
		return a.readPlain(ctx)
	}
	defer rl.Close()
	go func() {
		// Unblocks a pending Readline when the dispatcher is interrupted.
		<-ctx.Done()
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			// Interrupt and EOF both end the session.
			a.manager.Enqueue(supervisor.CmdExit)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		a.manager.Enqueue(line)
		if line == supervisor.CmdExit {
			return nil
		}
	}
}

// readPlain consumes newline-separated commands from a non-interactive input.
func (a *Application) readPlain(ctx context.Context) error {
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a.manager.Enqueue(line)
		if line == supervisor.CmdExit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Warn("Reader", "Command input failed: %v", err)
	}
	a.manager.Enqueue(supervisor.CmdExit)
	return nil
}
