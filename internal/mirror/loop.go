// Package mirror runs the reconciliation engine and the interaction
// controllers on a single goroutine, and relays user changes back to the
// peer network without blocking that goroutine.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"patchbay/internal/reconcile"

	"github.com/rs/zerolog"
)

var (
	ErrBusy    = errors.New("mirror loop queue is full")
	ErrStopped = errors.New("mirror loop stopped")
)

type LoopOptions struct {
	QueueSize     int
	SweepInterval time.Duration
}

// Loop owns the graph store. Every read or write of the store, the engine or
// a controller must run as a task on the loop.
type Loop struct {
	tasks      chan func()
	engine     *reconcile.Engine
	sweepEvery time.Duration
	logger     zerolog.Logger
	done       chan struct{}
}

func NewLoop(engine *reconcile.Engine, logger zerolog.Logger, opts LoopOptions) *Loop {
	size := opts.QueueSize
	if size <= 0 {
		size = 1024
	}
	return &Loop{
		tasks:      make(chan func(), size),
		engine:     engine,
		sweepEvery: opts.SweepInterval,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled. Tasks still queued at that
// point are discarded.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	var sweep <-chan time.Time
	if l.sweepEvery > 0 {
		ticker := time.NewTicker(l.sweepEvery)
		defer ticker.Stop()
		sweep = ticker.C
	}

	l.logger.Info().Int("queueSize", cap(l.tasks)).Dur("sweepInterval", l.sweepEvery).Msg("Mirror loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Int("discarded", len(l.tasks)).Msg("Mirror loop stopped")
			return
		case task := <-l.tasks:
			l.run(task)
		case <-sweep:
			l.run(func() { l.engine.Sweep() })
		}
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Mirror task panicked")
		}
	}()
	task()
}

// Submit queues task, waiting for room in the queue.
func (l *Loop) Submit(ctx context.Context, task func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- task:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues task or fails immediately with ErrBusy.
func (l *Loop) TrySubmit(task func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- task:
		return nil
	default:
		return ErrBusy
	}
}

// Call runs task on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	err := l.Submit(ctx, func() {
		defer close(finished)
		task()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return fmt.Errorf("%w before the task ran", ErrStopped)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
