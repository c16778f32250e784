package service

import (
	"context"
	"fmt"
	"time"

	"giftcard-ledger/internal/core/ports"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// maxSweepPasses bounds one run of a batched job when the backlog exceeds several batches.
const maxSweepPasses = 20

// WorkerConfig controls the background jobs. A zero interval disables the job.
type WorkerConfig struct {
	ExpiryInterval    time.Duration
	ExpiryBatch       int
	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
	ReconcileBatch    int
	// PruneInterval and Retention both must be set for idempotency log pruning.
	PruneInterval time.Duration
	Retention     time.Duration
	PruneBatch    int
	JobTimeout    time.Duration
}

// Workers runs the expiry sweep, the stale-payment reconciler and idempotency
// log pruning on a cron schedule.
type Workers struct {
	cron   *cron.Cron
	ledger ports.LedgerService
	orch   ports.PaymentOrchestrator
	idem   ports.IdempotencyStore
	cfg    WorkerConfig
	log    zerolog.Logger
	now    func() time.Time
}

// NewWorkers registers the enabled jobs. Overlapping runs of a job are skipped.
func NewWorkers(
	ledger ports.LedgerService,
	orch ports.PaymentOrchestrator,
	idem ports.IdempotencyStore,
	cfg WorkerConfig,
	log zerolog.Logger,
) (*Workers, error) {
	if cfg.ExpiryBatch <= 0 {
		cfg.ExpiryBatch = 200
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 50
	}
	if cfg.PruneBatch <= 0 {
		cfg.PruneBatch = 1000
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 4 * time.Minute
	}

	clog := cronLogger{log: log.With().Str("component", "workers").Logger()}
	w := &Workers{
		cron:   cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog))),
		ledger: ledger,
		orch:   orch,
		idem:   idem,
		cfg:    cfg,
		log:    clog.log,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if cfg.ExpiryInterval > 0 {
		if _, err := w.cron.AddFunc(every(cfg.ExpiryInterval), w.job("expiry_sweep", w.SweepExpired)); err != nil {
			return nil, fmt.Errorf("schedule expiry sweep: %w", err)
		}
	}
	if cfg.ReconcileInterval > 0 && orch != nil {
		if _, err := w.cron.AddFunc(every(cfg.ReconcileInterval), w.job("reconcile_pending", w.ReconcileStale)); err != nil {
			return nil, fmt.Errorf("schedule payment reconciliation: %w", err)
		}
	}
	if cfg.PruneInterval > 0 && cfg.Retention > 0 && idem != nil {
		if _, err := w.cron.AddFunc(every(cfg.PruneInterval), w.job("idempotency_prune", w.PruneIdempotency)); err != nil {
			return nil, fmt.Errorf("schedule idempotency pruning: %w", err)
		}
	}
	return w, nil
}

// Start runs the scheduler in its own goroutine.
func (w *Workers) Start() {
	w.log.Info().Int("jobs", len(w.cron.Entries())).Msg("background workers started")
	w.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (w *Workers) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepExpired expires due cards batch by batch.
func (w *Workers) SweepExpired(ctx context.Context) (int, error) {
	now := w.now()
	return drain(w.cfg.ExpiryBatch, func(limit int) (int, error) {
		return w.ledger.ExpireDue(ctx, now, limit)
	})
}

// PruneIdempotency drops idempotency logs older than the retention window.
func (w *Workers) PruneIdempotency(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.cfg.Retention)
	return drain(w.cfg.PruneBatch, func(limit int) (int, error) {
		return w.idem.Prune(ctx, cutoff, limit)
	})
}

// drain calls fn until a batch comes back short, at most maxSweepPasses times.
func drain(batch int, fn func(limit int) (int, error)) (int, error) {
	total := 0
	for pass := 0; pass < maxSweepPasses; pass++ {
		n, err := fn(batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < batch {
			break
		}
	}
	return total, nil
}

// ReconcileStale resolves payments stuck in PENDING.
func (w *Workers) ReconcileStale(ctx context.Context) (int, error) {
	return w.orch.ReconcilePending(ctx, w.cfg.ReconcileAfter, w.cfg.ReconcileBatch)
}

func (w *Workers) job(name string, fn func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
		defer cancel()

		start := time.Now()
		n, err := fn(ctx)
		if err != nil {
			w.log.Error().Err(err).Str("job", name).Msg("background job failed")
			return
		}
		ev := w.log.Debug()
		if n > 0 {
			ev = w.log.Info()
		}
		ev.Str("job", name).Int("processed", n).Dur("took", time.Since(start)).Msg("background job finished")
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
