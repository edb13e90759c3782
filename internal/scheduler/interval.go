// Package scheduler provides the execution contexts of a node: the serial
// state executor, the bounded background worker pool and interval jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is the body of an interval job.
type JobFunc func(ctx context.Context) error

// IntervalConfig holds configuration for an interval job.
type IntervalConfig struct {
	// Name identifies the job in logs.
	Name string

	// Interval is how often the job runs.
	Interval time.Duration

	// InitialDelay postpones the first run after Start. Zero waits one
	// full interval.
	InitialDelay time.Duration

	// Timeout bounds a single run. Default: the interval.
	Timeout time.Duration
}

// IntervalJob runs a function periodically until stopped.
type IntervalJob struct {
	fn        JobFunc
	config    IntervalConfig
	logger    zerolog.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
	runMu     sync.Mutex
	wg        sync.WaitGroup
}

// NewIntervalJob creates an interval job. It does not run until Start.
func NewIntervalJob(config IntervalConfig, logger zerolog.Logger, fn JobFunc) *IntervalJob {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}

	return &IntervalJob{
		fn:     fn,
		config: config,
		logger: logger.With().Str("job", config.Name).Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start begins the schedule. Calling Start twice is a no-op.
func (j *IntervalJob) Start() {
	j.mu.Lock()
	if j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = true
	j.ticker = time.NewTicker(j.config.Interval)
	j.mu.Unlock()

	j.logger.Info().Dur("interval", j.config.Interval).Msg("interval job started")

	j.wg.Add(1)
	go j.run()
}

func (j *IntervalJob) run() {
	defer j.wg.Done()

	if j.config.InitialDelay > 0 {
		select {
		case <-time.After(j.config.InitialDelay):
			j.runOnce()
		case <-j.stopCh:
			return
		}
	}

	for {
		select {
		case <-j.ticker.C:
			j.runOnce()
		case <-j.stopCh:
			j.logger.Info().Msg("interval job stopped")
			return
		}
	}
}

func (j *IntervalJob) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
	defer cancel()

	if err := j.RunNow(ctx); err != nil {
		j.logger.Error().Err(err).Msg("interval job run failed")
	}
}

// RunNow triggers an immediate run. Runs never overlap.
func (j *IntervalJob) RunNow(ctx context.Context) (err error) {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			j.logger.Error().Interface("panic", r).Msg("interval job panicked")
		}
	}()
	return j.fn(ctx)
}

// Stop stops the schedule and waits for an in-flight run to finish.
func (j *IntervalJob) Stop() {
	j.stopOnce.Do(func() {
		j.mu.Lock()
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.stopCh)
		j.isRunning = false
		j.mu.Unlock()
	})
	j.wg.Wait()
}
