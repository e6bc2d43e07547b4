package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priorReading(value string) *MeterReading {
	return &MeterReading{
		ID:           "r-prior",
		ConnectionID: "conn-1",
		Value:        MustDecimal(value),
		ReadingDate:  time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidateReadingFirstIsBaseline(t *testing.T) {
	delta, err := ValidateReading("conn-1", MustDecimal("1000"), nil)
	require.NoError(t, err)
	assert.True(t, delta.FirstReading)
	assert.True(t, delta.Units.IsZero())
}

func TestValidateReadingComputesDelta(t *testing.T) {
	delta, err := ValidateReading("conn-1", MustDecimal("1300"), priorReading("1000"))
	require.NoError(t, err)
	assert.False(t, delta.FirstReading)
	assert.Equal(t, "300", delta.Units.String())
}

func TestValidateReadingRejectsLowerValue(t *testing.T) {
	// The worked example: previous 150, submitted 100. Rejected, never clamped.
	_, err := ValidateReading("conn-1", MustDecimal("100"), priorReading("150"))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrNonMonotonicReading)
	var nonMono *NonMonotonicError
	require.True(t, errors.As(err, &nonMono))
	assert.Equal(t, "150", nonMono.Previous.String())
	assert.Equal(t, "100", nonMono.Submitted.String())
	assert.Contains(t, err.Error(), "100")
	assert.Contains(t, err.Error(), "150")
}

func TestValidateReadingEqualValueIsZeroDelta(t *testing.T) {
	// A meter that did not move is valid; zero delta is the caller's problem.
	delta, err := ValidateReading("conn-1", MustDecimal("150"), priorReading("150"))
	require.NoError(t, err)
	assert.True(t, delta.Units.IsZero())
	assert.False(t, delta.FirstReading)
}

func TestValidateReadingFractionalDelta(t *testing.T) {
	delta, err := ValidateReading("conn-1", MustDecimal("150.75"), priorReading("150.25"))
	require.NoError(t, err)
	assert.Equal(t, "0.50", delta.Units.String())
}
