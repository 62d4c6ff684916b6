// Package failsafe re-enqueues executions whose owner stopped making progress.
package failsafe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/metis/pkg/events"
	"github.com/dukex/metis/pkg/lock"
	"github.com/dukex/metis/pkg/metrics"
	"github.com/dukex/metis/pkg/models"
	"github.com/dukex/metis/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval       = time.Minute
	DefaultLivenessWindow = 10 * time.Minute
	DefaultBatchSize      = 100
	DefaultLockTTL        = 30 * time.Second
)

// Enqueuer puts an execution back on the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, executionID, datasetID string, priority int, reason events.QueueReason) error
}

type Config struct {
	Interval time.Duration `validate:"gt=0"`
	// LivenessWindow is how long an INQUEUE or RUNNING execution may go without
	// a write before it is considered orphaned.
	LivenessWindow time.Duration `validate:"gt=0"`
	BatchSize      int           `validate:"min=1"`
	LockTTL        time.Duration `validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Interval:       DefaultInterval,
		LivenessWindow: DefaultLivenessWindow,
		BatchSize:      DefaultBatchSize,
		LockTTL:        DefaultLockTTL,
	}
}

func (c Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

type Sweeper struct {
	store    persistence.ExecutionStore
	locker   lock.Locker
	enqueuer Enqueuer
	config   Config
	logger   *slog.Logger
	metrics  metrics.Sink
	now      func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(
	store persistence.ExecutionStore,
	locker lock.Locker,
	enqueuer Enqueuer,
	config Config,
	logger *slog.Logger,
	sink metrics.Sink,
) *Sweeper {
	return &Sweeper{
		store:    store,
		locker:   locker,
		enqueuer: enqueuer,
		config:   config,
		logger:   logger.With("module", "failsafe"),
		metrics:  sink,
		now:      time.Now,
	}
}

// Start schedules the sweep every Interval and runs the first one right away.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting failsafe sweeper",
		"interval", s.config.Interval,
		"liveness_window", s.config.LivenessWindow,
	)

	s.ctx, s.cancel = context.WithCancel(ctx)

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn))
	s.cron = cron.New()

	job := cron.NewChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	).Then(cron.FuncJob(s.run))

	entryID := s.cron.Schedule(cron.Every(s.config.Interval), job)
	s.logger.DebugContext(ctx, "Added failsafe cron job", "entry_id", entryID)

	s.cron.Start()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		job.Run()
	}()

	return nil
}

// Stop cancels a running sweep and waits for it to return or for ctx to be done.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Stopping failsafe sweeper")

	if s.cancel != nil {
		s.cancel()
	}

	if s.cron == nil {
		return nil
	}

	stopped := make(chan struct{})

	go func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	started := s.now()

	requeued, err := s.Sweep(s.ctx)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "Failsafe sweep finished with errors", "requeued", requeued, "error", err)
	} else if requeued > 0 {
		s.logger.InfoContext(s.ctx, "Failsafe sweep re-enqueued executions", "requeued", requeued)
	}

	s.metrics.SweepCompleted(s.now().Sub(started), requeued, err)
}

// Sweep re-enqueues every orphaned execution whose dataset lock it can take.
// It returns how many executions were re-enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	olderThan := s.now().Add(-s.config.LivenessWindow)

	stale, err := s.store.StaleExecutions(ctx, olderThan, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale executions: %w", err)
	}

	var (
		requeued int
		errs     []error
	)

	for _, candidate := range stale {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())

			break
		}

		ok, err := s.requeue(ctx, candidate, olderThan)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to recover execution", "execution_id", candidate.ID, "error", err)
			errs = append(errs, err)

			continue
		}

		if ok {
			requeued++
		}
	}

	return requeued, errors.Join(errs...)
}

func (s *Sweeper) requeue(ctx context.Context, candidate *models.Execution, olderThan time.Time) (bool, error) {
	logger := s.logger.With("execution_id", candidate.ID, "dataset_id", candidate.DatasetID)

	release, err := s.locker.TryLock(ctx, lock.DatasetKey(candidate.DatasetID), s.config.LockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.DebugContext(ctx, "Dataset is locked, retrying next sweep")

		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to lock dataset %s: %w", candidate.DatasetID, err)
	}

	defer func() {
		err := release(context.WithoutCancel(ctx))
		if err != nil {
			logger.WarnContext(ctx, "Failed to release dataset lock", "error", err)
		}
	}()

	execution, err := s.store.GetByID(ctx, candidate.ID)
	if persistence.IsExecutionNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if execution.Status.IsTerminal() || !execution.LastActivity().Before(olderThan) {
		logger.DebugContext(ctx, "Execution recovered by its owner, skipping")

		return false, nil
	}

	err = s.enqueuer.Enqueue(ctx, execution.ID, execution.DatasetID, execution.Priority, events.QueueReasonFailsafe)
	if err != nil {
		return false, fmt.Errorf("failed to re-enqueue execution: %w", err)
	}

	logger.InfoContext(ctx, "Re-enqueued orphaned execution",
		"status", execution.Status,
		"last_activity", execution.LastActivity(),
	)

	return true, nil
}
