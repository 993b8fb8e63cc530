package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/odyssey-recurring/internal/jobs"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring"
	"github.com/odyssey-erp/odyssey-recurring/internal/shared"
)

// DueLister returns active templates whose next run date has arrived.
type DueLister interface {
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]recurring.DueTemplate, error)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Locker hands out exclusive, expiring locks.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, func(context.Context), error)
}

// KeyCleaner prunes old idempotency records.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SweepResult summarises one sweep run.
type SweepResult struct {
	RunID      string    `json:"run_id"`
	AsOf       time.Time `json:"as_of"`
	Due        int       `json:"due"`
	Enqueued   int       `json:"enqueued"`
	Duplicates int       `json:"duplicates"`
	Skipped    bool      `json:"skipped"`
}

// RecurringSweepJob enqueues one generate task per due template slot.
type RecurringSweepJob struct {
	Service     DueLister
	Queue       Enqueuer
	Locker      Locker
	Keys        KeyCleaner
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	BatchSize   int
	LockTTL     time.Duration
	MaxRetry    int
	Concurrency int
	// KeyRetention bounds how long generate idempotency records are kept.
	KeyRetention time.Duration
	clock        func() time.Time
}

// NewRecurringSweepJob constructs the sweep handler with default tuning.
func NewRecurringSweepJob(service DueLister, queue Enqueuer, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringSweepJob {
	return &RecurringSweepJob{
		Service:      service,
		Queue:        queue,
		Locker:       locker,
		Logger:       logger,
		Metrics:      metrics,
		BatchSize:    200,
		LockTTL:      5 * time.Minute,
		MaxRetry:     5,
		Concurrency:  8,
		KeyRetention: 90 * 24 * time.Hour,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep for the task's as-of date.
func (j *RecurringSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil || j.Queue == nil || j.Locker == nil {
		return errors.New("recurring sweep: handler not configured")
	}
	var payload RecurringSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("recurring sweep: payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse(slotLayout, payload.AsOf)
		if err != nil {
			return fmt.Errorf("recurring sweep: as_of: %v: %w", err, asynq.SkipRetry)
		}
		asOf = parsed
	}
	_, err := j.Run(ctx, asOf)
	return err
}

// Run sweeps templates due on or before asOf.
func (j *RecurringSweepJob) Run(ctx context.Context, asOf time.Time) (result SweepResult, err error) {
	tracker := j.Metrics.Track(TaskRecurringSweep)
	defer func() {
		err = tracker.End(err)
	}()

	asOf = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	result = SweepResult{RunID: uuid.NewString(), AsOf: asOf}
	logger := j.logger().With(
		slog.String("job", TaskRecurringSweep),
		slog.String("run_id", result.RunID),
		slog.String("as_of", asOf.Format(slotLayout)),
	)

	acquired, release, err := j.Locker.TryLock(ctx, shared.RecurringSweepLockKey(asOf), result.RunID, j.lockTTL())
	if err != nil {
		logger.Error("acquire sweep lock", slog.Any("error", err))
		return result, err
	}
	if !acquired {
		logger.Info("sweep already running elsewhere")
		result.Skipped = true
		return result, nil
	}
	defer release(context.WithoutCancel(ctx))

	due, err := j.Service.ListDue(ctx, asOf, j.batchSize())
	if err != nil {
		logger.Error("list due templates", slog.Any("error", err))
		return result, err
	}
	result.Due = len(due)

	var enqueued, duplicates atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency())
	for _, tpl := range due {
		tpl := tpl
		g.Go(func() error {
			dup, err := j.enqueue(gctx, tpl)
			if err != nil {
				return fmt.Errorf("recurring sweep: enqueue template %d: %w", tpl.ID, err)
			}
			if dup {
				duplicates.Add(1)
			} else {
				enqueued.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	result.Enqueued = int(enqueued.Load())
	result.Duplicates = int(duplicates.Load())
	j.Metrics.SweepEnqueued(result.Enqueued, result.Duplicates)
	if err != nil {
		logger.Error("sweep aborted", slog.Int("enqueued", result.Enqueued), slog.Any("error", err))
		return result, err
	}

	if j.Keys != nil && j.KeyRetention > 0 {
		if removed, err := j.Keys.Cleanup(ctx, j.KeyRetention); err != nil {
			logger.Warn("prune idempotency keys", slog.Any("error", err))
		} else if removed > 0 {
			logger.Info("pruned idempotency keys", slog.Int64("removed", removed))
		}
	}

	logger.Info("sweep completed",
		slog.Int("due", result.Due),
		slog.Int("enqueued", result.Enqueued),
		slog.Int("duplicates", result.Duplicates),
	)
	return result, nil
}

func (j *RecurringSweepJob) enqueue(ctx context.Context, tpl recurring.DueTemplate) (bool, error) {
	task, err := NewRecurringGenerateTask(tpl.CompanyID, tpl.ID, tpl.NextRunDate, j.MaxRetry)
	if err != nil {
		return false, err
	}
	if _, err := j.Queue.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (j *RecurringSweepJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *RecurringSweepJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

func (j *RecurringSweepJob) batchSize() int {
	if j.BatchSize <= 0 {
		return 200
	}
	return j.BatchSize
}

func (j *RecurringSweepJob) lockTTL() time.Duration {
	if j.LockTTL <= 0 {
		return 5 * time.Minute
	}
	return j.LockTTL
}

func (j *RecurringSweepJob) concurrency() int {
	if j.Concurrency <= 0 {
		return 1
	}
	return j.Concurrency
}
