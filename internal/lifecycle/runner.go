package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/curaline/telecare-platform/internal/config"
	"github.com/curaline/telecare-platform/pkg/logging"
)

// SweepObserver receives the outcome of each sweep run, typically for
// metrics export.
type SweepObserver interface {
	ObserveSweep(name string, res SweepResult, elapsed time.Duration)
}

// Runner schedules the orchestrator's sweeps on fixed intervals. The main
// set and the defensive set tick independently, and each set holds a
// try-lock so a slow run is skipped over, never overlapped.
type Runner struct {
	orch     *Orchestrator
	logger   *logging.Logger
	observer SweepObserver

	sweepInterval     time.Duration
	defensiveInterval time.Duration

	mainMu      sync.Mutex
	defensiveMu sync.Mutex
}

// NewRunner creates a sweep runner.
func NewRunner(orch *Orchestrator, cfg *config.Config, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		orch:              orch,
		logger:            logger,
		sweepInterval:     cfg.SweepInterval,
		defensiveInterval: cfg.DefensiveSweepInterval,
	}
}

// WithObserver attaches a sweep metrics observer.
func (r *Runner) WithObserver(obs SweepObserver) *Runner {
	r.observer = obs
	return r
}

// Start runs both sweep loops until the context is cancelled. It blocks.
func (r *Runner) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.loop(ctx, r.sweepInterval, "main", r.RunMainSweeps)
	}()
	go func() {
		defer wg.Done()
		r.loop(ctx, r.defensiveInterval, "defensive", r.RunDefensiveSweeps)
	}()

	wg.Wait()
	r.logger.Info("lifecycle runner stopped")
}

func (r *Runner) loop(ctx context.Context, interval time.Duration, name string, run func(context.Context) bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("sweep loop started", "set", name, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !run(ctx) {
				r.logger.Warn("previous sweep run still in flight, skipping tick", "set", name)
			}
		}
	}
}

// RunMainSweeps executes the regular sweep set once. Returns false when a
// previous run still holds the set's lock.
func (r *Runner) RunMainSweeps(ctx context.Context) bool {
	if !r.mainMu.TryLock() {
		return false
	}
	defer r.mainMu.Unlock()

	r.runSweep(ctx, r.orch.SweepAutoConfirm)
	r.runSweep(ctx, r.orch.SweepAutoCancelUnpaid)
	r.runSweep(ctx, r.orch.SweepReadyForCall)
	r.runSweep(ctx, r.orch.SweepStartPhysical)
	r.runSweep(ctx, r.orch.SweepReminders)
	r.runSweep(ctx, r.orch.SweepNoShow)
	return true
}

// RunDefensiveSweeps executes the timeout and stuck-state sweeps once.
func (r *Runner) RunDefensiveSweeps(ctx context.Context) bool {
	if !r.defensiveMu.TryLock() {
		return false
	}
	defer r.defensiveMu.Unlock()

	r.runSweep(ctx, r.orch.SweepSessionTimeout)
	r.runSweep(ctx, r.orch.SweepStuckStates)
	return true
}

func (r *Runner) runSweep(ctx context.Context, sweep func(context.Context) SweepResult) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	res := sweep(ctx)
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer.ObserveSweep(res.Name, res, elapsed)
	}
	if res.Applied > 0 || res.Failed > 0 {
		r.logger.Info("sweep finished",
			"sweep", res.Name,
			"examined", res.Examined,
			"applied", res.Applied,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"elapsed", elapsed,
		)
	} else {
		r.logger.Debug("sweep finished with no changes", "sweep", res.Name, "examined", res.Examined)
	}
}
