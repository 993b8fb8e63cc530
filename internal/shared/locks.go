package shared

import (
	"fmt"
	"time"
)

// RecurringSweepLockKey guards the due-template sweep so only one worker enqueues
// a given slot at a time.
func RecurringSweepLockKey(asOf time.Time) string {
	return fmt.Sprintf("recurring:sweep:%s:lock", asOf.UTC().Format("2006-01-02"))
}

// RecurringGenerateKey identifies one scheduled generation of a template.
func RecurringGenerateKey(templateID int64, slot time.Time) string {
	return fmt.Sprintf("recurring:%d:%s", templateID, slot.UTC().Format("2006-01-02"))
}
