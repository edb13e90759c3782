package processor

import (
	"context"
	"sync/atomic"
	"time"

	"shopsync/internal/scheduler"
	"shopsync/internal/state"

	"github.com/rs/zerolog"
)

// DefaultInterval is the default time between two processor runs.
const DefaultInterval = 60 * time.Second

const runTimeout = 2 * time.Minute

// Runner ticks the processor: scans run on the pool, the batch is applied
// on the executor.
type Runner struct {
	proc     *Processor
	pool     state.TaskRunner
	executor state.TaskSubmitter
	job      *scheduler.IntervalJob
	running  atomic.Bool
	logger   zerolog.Logger
}

func NewRunner(proc *Processor, pool state.TaskRunner, executor state.TaskSubmitter, interval time.Duration, logger zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Runner{
		proc:     proc,
		pool:     pool,
		executor: executor,
		logger:   logger,
	}
	r.job = scheduler.NewIntervalJob(scheduler.IntervalConfig{
		Name:     "processor",
		Interval: interval,
	}, logger, r.tick)
	return r
}

func (r *Runner) Start() { r.job.Start() }

func (r *Runner) Stop() { r.job.Stop() }

// Trigger starts a run now unless one is in flight.
func (r *Runner) Trigger(ctx context.Context) error {
	return r.job.RunNow(ctx)
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool { return r.running.Load() }

func (r *Runner) tick(context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug().Msg("previous processor run still in flight, skipping")
		return nil
	}

	err := r.pool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		start := time.Now()

		batch := r.proc.Process(ctx)
		if !batch.HasUpdates() {
			cancel()
			r.running.Store(false)
			r.proc.metrics.ObserveProcessorRun(time.Since(start).Seconds())
			return
		}

		err := r.executor.Submit(func() {
			defer cancel()
			defer r.running.Store(false)

			res := r.proc.Apply(ctx, batch)
			r.proc.metrics.ObserveProcessorRun(time.Since(start).Seconds())
			r.logger.Debug().
				Int("repriced", res.Repriced).
				Int("restocked", res.Restocked).
				Int("refreshed", res.Refreshed).
				Int("failed", res.Failed).
				Int("flushed", res.Flushed.Total()).
				Msg("processor batch applied")
		})
		if err != nil {
			cancel()
			r.running.Store(false)
			r.logger.Warn().Err(err).Msg("failed to schedule processor batch")
		}
	})
	if err != nil {
		r.running.Store(false)
		return err
	}
	return nil
}
