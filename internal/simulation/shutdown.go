package simulation

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// ShutdownNotifier runs registered handlers once when the process is asked to
// stop, either by a signal or by an explicit Trigger.
type ShutdownNotifier struct {
	mu       sync.Mutex
	handlers []func()
	fired    bool
	done     chan struct{}
	log      zerolog.Logger
}

func NewShutdownNotifier(log zerolog.Logger) *ShutdownNotifier {
	return &ShutdownNotifier{
		done: make(chan struct{}),
		log:  log,
	}
}

// OnShutdown registers fn. Handlers run in registration order. Registering
// after shutdown has fired runs fn immediately.
func (n *ShutdownNotifier) OnShutdown(fn func()) {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		fn()
		return
	}
	n.handlers = append(n.handlers, fn)
	n.mu.Unlock()
}

// Trigger runs every handler once. Later calls do nothing.
func (n *ShutdownNotifier) Trigger() {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return
	}
	n.fired = true
	handlers := n.handlers
	n.handlers = nil
	n.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
	close(n.done)
}

// Done is closed after every handler has returned.
func (n *ShutdownNotifier) Done() <-chan struct{} { return n.done }

// Listen triggers shutdown on SIGINT, SIGTERM or when ctx is cancelled, and
// returns once the handlers have run.
func (n *ShutdownNotifier) Listen(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		n.log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-ctx.Done():
		n.log.Info().Msg("context cancelled, shutting down")
	case <-n.done:
		return
	}
	n.Trigger()
}
