package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/router"
)

var errDispatcherClosed = errors.New("dispatcher closed")

// dispatcher runs each routed request on its own goroutine so a slow
// downstream call never blocks a connection's read loop. Tasks run on the
// server's base context; a disconnect does not cancel them.
type dispatcher struct {
	ctx    context.Context
	router *router.Router
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(ctx context.Context, r *router.Router, logger *slog.Logger) *dispatcher {
	return &dispatcher{ctx: ctx, router: r, logger: logger}
}

// Submit routes req in the background and hands the payload to deliver.
func (d *dispatcher) Submit(req router.Request, deliver func(router.Payload)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDispatcherClosed
	}
	d.wg.Add(1)
	go d.run(req, deliver)
	return nil
}

func (d *dispatcher) run(req router.Request, deliver func(router.Payload)) {
	defer d.wg.Done()
	payload := d.route(req)
	deliver(payload)
}

func (d *dispatcher) route(req router.Request) (payload router.Payload) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch task panicked",
				"connection_id", req.ConnectionID,
				"instruction", req.Instruction,
				"panic", fmt.Sprint(r),
			)
			payload = router.ErrorPayload(router.ErrAIUnavailable)
		}
	}()
	return d.router.Route(d.ctx, req)
}

// Close stops accepting tasks and waits for in-flight ones until ctx ends.
func (d *dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
