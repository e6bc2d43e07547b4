package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSchedule() Schedule {
	return Schedule{
		Service: ServiceElectricity,
		Class:   ClassResidential,
		Slabs:   electricitySlabs(),
	}
}

func TestScheduleValidateAccepts(t *testing.T) {
	require.NoError(t, validSchedule().Validate())

	// A single open band is also a complete schedule (the gas tariff)
	single := Schedule{
		Service: ServiceGas,
		Class:   ClassResidential,
		Slabs:   []TariffSlab{openBand("0", "17.62", "0")},
	}
	require.NoError(t, single.Validate())
}

func TestScheduleValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		slabs  []TariffSlab
		reason string
	}{
		{
			name:   "empty",
			slabs:  nil,
			reason: "no slabs",
		},
		{
			name: "gap between bands",
			slabs: []TariffSlab{
				band("0", "120", "4.90", "60"),
				band("150", "240", "6.30", "60"),
				openBand("240", "7.50", "60"),
			},
			reason: "gap or overlap",
		},
		{
			name: "overlapping bands",
			slabs: []TariffSlab{
				band("0", "120", "4.90", "60"),
				band("100", "240", "6.30", "60"),
				openBand("240", "7.50", "60"),
			},
			reason: "gap or overlap",
		},
		{
			name: "no open band",
			slabs: []TariffSlab{
				band("0", "120", "4.90", "60"),
				band("120", "240", "6.30", "60"),
			},
			reason: "exactly one open-ended slab",
		},
		{
			name: "open band not last",
			slabs: []TariffSlab{
				openBand("0", "4.90", "60"),
				band("120", "240", "6.30", "60"),
			},
			reason: "must be last",
		},
		{
			name: "negative rate",
			slabs: []TariffSlab{
				band("0", "120", "-4.90", "60"),
				openBand("120", "6.30", "60"),
			},
			reason: "negative rate",
		},
		{
			name: "inverted band",
			slabs: []TariffSlab{
				band("0", "0", "4.90", "60"),
				openBand("0", "6.30", "60"),
			},
			reason: "empty or inverted",
		},
		{
			name: "first band does not start at zero",
			slabs: []TariffSlab{
				band("10", "120", "4.90", "60"),
				openBand("120", "6.30", "60"),
			},
			reason: "start at zero",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Schedule{Service: ServiceElectricity, Class: ClassResidential, Slabs: tc.slabs}.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestSlabLabel(t *testing.T) {
	assert.Equal(t, "0-120", band("0", "120", "4.90", "60").Label())
	assert.Equal(t, "240+", openBand("240", "7.50", "60").Label())
}

func TestSlabCoversAt(t *testing.T) {
	slab := band("0", "120", "4.90", "60")
	slab.ValidFrom = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, slab.CoversAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, slab.CoversAt(time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)))

	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	slab.ValidTo = &to
	assert.False(t, slab.CoversAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))

	slab.ValidTo = nil
	slab.Active = false
	assert.False(t, slab.CoversAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}
