package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-recurring/internal/jobs"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring"
	"github.com/odyssey-erp/odyssey-recurring/internal/shared"
)

// IdempotencyModule tags generate records in idempotency_keys.
const IdempotencyModule = "recurring.generate"

// ScheduledGenerator runs the generation transaction for one slot.
type ScheduledGenerator interface {
	GenerateScheduled(ctx context.Context, companyID, id int64, slot time.Time) (recurring.GenerationResult, error)
}

// SlotLedger records slots that already produced an invoice.
type SlotLedger interface {
	Exists(ctx context.Context, key string) (bool, error)
	CheckAndInsert(ctx context.Context, key, module string) error
}

// RecurringGenerateJob handles TaskRecurringGenerate.
type RecurringGenerateJob struct {
	Service ScheduledGenerator
	Ledger  SlotLedger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRecurringGenerateJob constructs the generate handler.
func NewRecurringGenerateJob(service ScheduledGenerator, ledger SlotLedger, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringGenerateJob {
	return &RecurringGenerateJob{Service: service, Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle generates the invoice for the payload's slot. A slot that was already
// generated, or that the template has moved past, completes without error.
func (j *RecurringGenerateJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("recurring generate: handler not configured")
	}
	var payload RecurringGeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("recurring generate: payload: %v: %w", err, asynq.SkipRetry)
	}
	slot, err := payload.slot()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskRecurringGenerate)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.String("job", TaskRecurringGenerate),
		slog.Int64("company_id", payload.CompanyID),
		slog.Int64("template_id", payload.TemplateID),
		slog.String("slot", payload.Slot),
	)
	if id, ok := asynq.GetTaskID(ctx); ok {
		logger = logger.With(slog.String("task_id", id))
	}

	key := shared.RecurringGenerateKey(payload.TemplateID, slot)
	if j.Ledger != nil {
		done, err := j.Ledger.Exists(ctx, key)
		if err != nil {
			logger.Warn("slot ledger lookup failed", slog.Any("error", err))
			return err
		}
		if done {
			logger.Info("slot already generated")
			return nil
		}
	}

	res, err := j.Service.GenerateScheduled(ctx, payload.CompanyID, payload.TemplateID, slot)
	switch {
	case err == nil:
	case errors.Is(err, recurring.ErrNotDue):
		logger.Info("slot no longer due", slog.String("reason", err.Error()))
		return nil
	case recurring.IsRetryable(err):
		logger.Warn("generation failed, will retry", slog.Any("error", err))
		return err
	default:
		logger.Error("generation rejected", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if j.Ledger != nil {
		if err := j.Ledger.CheckAndInsert(ctx, key, IdempotencyModule); err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			// The invoice is committed; a replay is rejected by the schedule check.
			logger.Warn("record generated slot", slog.Any("error", err))
		}
	}

	attrs := []any{
		slog.Int64("invoice_id", res.InvoiceID),
		slog.String("invoice_number", res.InvoiceNumber),
		slog.String("status", string(res.Status)),
	}
	if res.NextRunDate != nil {
		attrs = append(attrs, slog.String("next_run_date", res.NextRunDate.Format(slotLayout)))
	}
	logger.Info("scheduled invoice generated", attrs...)
	return nil
}

func (j *RecurringGenerateJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
