/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The lifecycle manager and job runner classify failures with the helpers
  at the bottom of this file; nothing else decides retryability.

ERROR CATEGORIES:
  1. Configuration errors - missing tariff data; retrying never helps
  2. Business-rule violations - bad input for this request; the citizen may
     correct and resubmit, but a retry of the same input always fails
  3. Not-found errors - dangling references
  4. Transient errors - storage or notification faults; the only class the
     job runner's retry counter should see

USAGE:
  if errors.Is(err, billing.ErrDuplicateBill) {
      // already billed - treat as success for idempotent re-runs
  }

SEE ALSO:
  - store/sqlite: Wraps driver faults in ErrStoreUnavailable
  - jobs/runner.go: Uses IsClientError to route failures terminally
  - api/handlers.go: Uses IsRetryable to pick 503 over 500
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoTariffFound is returned when no active slab schedule covers a
	// (service, load class) pair at the requested time. This is operator-facing
	// misconfiguration, never retried.
	ErrNoTariffFound = errors.New("no tariff found")

	// ErrNonMonotonicReading is returned when a submitted reading is lower than
	// the connection's most recent reading. Never clamped, always rejected.
	ErrNonMonotonicReading = errors.New("reading lower than previous reading")

	// ErrInvalidConsumption is returned when bill generation is attempted for a
	// non-positive consumption delta.
	ErrInvalidConsumption = errors.New("invalid consumption delta")

	// ErrDuplicateBill is returned when a bill already covers the reading's
	// period for that connection. For retry logic this means "already done",
	// not "failed".
	ErrDuplicateBill = errors.New("bill already exists for period")

	// ErrDuplicateReading is returned when a reading with the same connection
	// and date already exists.
	ErrDuplicateReading = errors.New("duplicate reading for date")

	// ErrNoPriorReading is returned when bill generation is attempted for a
	// connection's first reading. The first reading only establishes the
	// baseline; there is nothing to bill.
	ErrNoPriorReading = errors.New("no prior reading for connection")

	// ErrNegativeUnits is returned by the pricing engine for negative input.
	ErrNegativeUnits = errors.New("units consumed cannot be negative")

	// ErrInvalidSchedule is returned when a slab schedule violates the
	// contiguity/ordering/open-band invariants.
	ErrInvalidSchedule = errors.New("invalid slab schedule")

	// ErrInvalidStatusTransition is returned for illegal bill status moves
	// (e.g. paying a cancelled bill).
	ErrInvalidStatusTransition = errors.New("invalid bill status transition")

	ErrReadingNotFound    = errors.New("meter reading not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrBillNotFound       = errors.New("bill not found")
	ErrJobNotFound        = errors.New("job not found")

	// ErrStoreUnavailable wraps storage-level faults that are safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NonMonotonicError reports the offending pair of readings.
type NonMonotonicError struct {
	ConnectionID string
	Previous     decimal.Decimal
	Submitted    decimal.Decimal
}

func (e *NonMonotonicError) Error() string {
	return fmt.Sprintf("reading %s cannot be less than previous reading %s for connection %s",
		e.Submitted, e.Previous, e.ConnectionID)
}

func (e *NonMonotonicError) Unwrap() error {
	return ErrNonMonotonicReading
}

// ScheduleError reports which invariant a slab schedule violates.
type ScheduleError struct {
	Service ServiceType
	Class   LoadClass
	Reason  string
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule for %s/%s: %s", e.Service, e.Class, e.Reason)
}

func (e *ScheduleError) Unwrap() error {
	return ErrInvalidSchedule
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on a later attempt.
// Only transient infrastructure faults qualify; business-rule and
// configuration errors always fail identically on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
// The citizen may correct and resubmit; requeueing the same input is useless.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNonMonotonicReading) ||
		errors.Is(err, ErrInvalidConsumption) ||
		errors.Is(err, ErrDuplicateBill) ||
		errors.Is(err, ErrDuplicateReading) ||
		errors.Is(err, ErrNoPriorReading) ||
		errors.Is(err, ErrNegativeUnits) ||
		errors.Is(err, ErrInvalidStatusTransition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReadingNotFound) ||
		errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrBillNotFound) ||
		errors.Is(err, ErrJobNotFound)
}
