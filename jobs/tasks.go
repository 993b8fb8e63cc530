package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecurringSweep scans for due templates and fans out generate tasks.
	TaskRecurringSweep = "recurring:sweep"
	// TaskRecurringGenerate produces the invoice for one template slot.
	TaskRecurringGenerate = "recurring:generate"
)

const slotLayout = "2006-01-02"

// RecurringSweepPayload optionally pins the sweep to a calendar date.
type RecurringSweepPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// RecurringGeneratePayload identifies a scheduled slot of one template.
type RecurringGeneratePayload struct {
	CompanyID  int64  `json:"company_id"`
	TemplateID int64  `json:"template_id"`
	Slot       string `json:"slot"`
}

func (p RecurringGeneratePayload) slot() (time.Time, error) {
	if p.CompanyID <= 0 || p.TemplateID <= 0 {
		return time.Time{}, fmt.Errorf("recurring generate: company and template required")
	}
	slot, err := time.Parse(slotLayout, p.Slot)
	if err != nil {
		return time.Time{}, fmt.Errorf("recurring generate: slot: %w", err)
	}
	return slot, nil
}

// NewRecurringSweepTask creates the sweep task. A zero asOf sweeps as of the run time.
func NewRecurringSweepTask(asOf time.Time) (*asynq.Task, error) {
	payload := RecurringSweepPayload{}
	if !asOf.IsZero() {
		payload.AsOf = asOf.UTC().Format(slotLayout)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurringSweep, body, asynq.Queue(QueueDefault)), nil
}

// RecurringGenerateTaskID is the dedupe id of a slot; a slot is enqueued at most once
// while its task is retained.
func RecurringGenerateTaskID(companyID, templateID int64, slot time.Time) string {
	return fmt.Sprintf("recurring:%d:%d:%s", companyID, templateID, slot.UTC().Format(slotLayout))
}

// NewRecurringGenerateTask creates the generate task for one template slot.
func NewRecurringGenerateTask(companyID, templateID int64, slot time.Time, maxRetry int) (*asynq.Task, error) {
	body, err := json.Marshal(RecurringGeneratePayload{
		CompanyID:  companyID,
		TemplateID: templateID,
		Slot:       slot.UTC().Format(slotLayout),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurringGenerate, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(RecurringGenerateTaskID(companyID, templateID, slot)),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(24*time.Hour),
	), nil
}
