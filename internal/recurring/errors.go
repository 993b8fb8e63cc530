package recurring

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var (
	// ErrNotFound covers templates and source invoices that are absent or belong to
	// another company.
	ErrNotFound = errors.New("recurring: not found")
	// ErrInvalidState reports an illegal lifecycle transition.
	ErrInvalidState = errors.New("recurring: invalid state")
	// ErrValidation reports malformed input.
	ErrValidation = errors.New("recurring: validation failed")
	// ErrPersistence reports a store failure. Nothing was committed and the whole
	// operation may be retried.
	ErrPersistence = errors.New("recurring: persistence failure")
	// ErrNotDue is returned by scheduled generation when the slot was already handled.
	ErrNotDue = errors.New("recurring: template not due for slot")
)

// IsRetryable reports whether err is a transient persistence failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotDue) ||
		errors.Is(err, ErrPersistence)
}

// persistence classifies err: domain errors pass through and everything else becomes
// ErrPersistence.
func persistence(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
			return fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
		})
		return fmt.Errorf("%w: invalid fields %v", ErrValidation, fields)
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
