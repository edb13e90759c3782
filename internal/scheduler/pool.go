package scheduler

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrPoolFull is returned when a task is rejected by a saturated pool.
var ErrPoolFull = errors.New("worker pool queue full")

// Pool is a fixed set of background workers fed from a bounded queue.
// Persistence and publishing run here, off the state executor.
type Pool struct {
	tasks    chan func()
	logger   zerolog.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	onReject func()
}

// NewPool starts size workers reading from a queue of queueSize tasks.
func NewPool(size, queueSize int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{
		tasks:  make(chan func(), queueSize),
		logger: logger,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// OnReject registers a callback for rejected tasks.
func (p *Pool) OnReject(fn func()) {
	p.onReject = fn
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.exec(task)
	}
}

func (p *Pool) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("background task panicked")
		}
	}()
	task()
}

// Go queues fn without blocking. A full or closed pool drops the task.
func (p *Pool) Go(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolFull
	}
	select {
	case p.tasks <- fn:
		return nil
	default:
		p.logger.Warn().Msg("worker pool saturated, task dropped")
		if p.onReject != nil {
			p.onReject()
		}
		return ErrPoolFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
