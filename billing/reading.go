/*
reading.go - Meter readings and the monotonicity validator

PURPOSE:
  A meter only counts up. Every submitted reading is checked against the
  connection's most recent prior reading before anything is persisted;
  a lower value is rejected outright, never clamped. The accepted delta is
  what feeds the pricing engine.

SEE ALSO:
  - lifecycle.go: Orders the prior-reading lookup and calls ValidateReading
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// METER READING - Immutable once accepted
// =============================================================================

// MeterReading is one accepted meter observation. Immutable: corrections
// happen by submitting a later reading, never by editing this one.
type MeterReading struct {
	ID           string
	ConnectionID string
	Value        decimal.Decimal
	ReadingDate  time.Time
	SubmittedBy  string
	PhotoRef     string
	CreatedAt    time.Time
}

// ConsumptionDelta is the validated difference between two readings.
type ConsumptionDelta struct {
	ConnectionID string
	Units        decimal.Decimal
	// FirstReading marks a baseline-establishing reading with no prior.
	// Consumption is undefined for billing purposes.
	FirstReading bool
}

// =============================================================================
// VALIDATOR
// =============================================================================

// ValidateReading enforces the non-decreasing meter rule and computes the
// consumption delta. prior may be nil for a connection's first reading, which
// establishes the baseline and yields a zero, unbillable delta.
func ValidateReading(connectionID string, newValue decimal.Decimal, prior *MeterReading) (ConsumptionDelta, error) {
	if prior == nil {
		return ConsumptionDelta{ConnectionID: connectionID, Units: decimal.Zero, FirstReading: true}, nil
	}
	if newValue.LessThan(prior.Value) {
		return ConsumptionDelta{}, &NonMonotonicError{
			ConnectionID: connectionID,
			Previous:     prior.Value,
			Submitted:    newValue,
		}
	}
	return ConsumptionDelta{
		ConnectionID: connectionID,
		Units:        newValue.Sub(prior.Value),
	}, nil
}
