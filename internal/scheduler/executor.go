package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrExecutorStopped is returned when work is submitted after Stop.
var ErrExecutorStopped = errors.New("executor stopped")

// Executor runs submitted functions one at a time, in submission order, on a
// single goroutine. Code that mutates node state runs here.
type Executor struct {
	tasks    chan func()
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	startMu  sync.Mutex
	started  bool
}

// NewExecutor creates an executor with a queue of the given size.
func NewExecutor(queueSize int, logger zerolog.Logger) *Executor {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Executor{
		tasks:  make(chan func(), queueSize),
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the executor goroutine.
func (e *Executor) Start() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.loop()
}

func (e *Executor) loop() {
	defer close(e.doneCh)
	for {
		select {
		case task := <-e.tasks:
			e.exec(task)
		case <-e.stopCh:
			// Drain what was queued before Stop.
			for {
				select {
				case task := <-e.tasks:
					e.exec(task)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("executor task panicked")
		}
	}()
	task()
}

// Submit queues fn. It blocks while the queue is full.
func (e *Executor) Submit(fn func()) error {
	select {
	case <-e.stopCh:
		return ErrExecutorStopped
	default:
	}
	select {
	case e.tasks <- fn:
		return nil
	case <-e.stopCh:
		return ErrExecutorStopped
	}
}

// Call runs fn on the executor and waits for it to finish.
func (e *Executor) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := e.Submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop runs the remaining queued tasks and stops the goroutine.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.startMu.Lock()
	started := e.started
	e.startMu.Unlock()
	if started {
		<-e.doneCh
	}
}
