package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// electricitySlabs is the residential schedule the worked examples use:
// 0-120 @ 4.90, 120-240 @ 6.30, 240+ @ 7.50, fixed charge 60.
func electricitySlabs() []TariffSlab {
	return []TariffSlab{
		band("0", "120", "4.90", "60"),
		band("120", "240", "6.30", "60"),
		openBand("240", "7.50", "60"),
	}
}

func band(start, end, rate, fixed string) TariffSlab {
	e := MustDecimal(end)
	return TariffSlab{
		Service:     ServiceElectricity,
		Class:       ClassResidential,
		SlabStart:   MustDecimal(start),
		SlabEnd:     &e,
		RatePerUnit: MustDecimal(rate),
		FixedCharge: MustDecimal(fixed),
		Active:      true,
	}
}

func openBand(start, rate, fixed string) TariffSlab {
	return TariffSlab{
		Service:     ServiceElectricity,
		Class:       ClassResidential,
		SlabStart:   MustDecimal(start),
		RatePerUnit: MustDecimal(rate),
		FixedCharge: MustDecimal(fixed),
		Active:      true,
	}
}

func electricityRules() ServiceRules {
	return ServiceRules{
		Service:        ServiceElectricity,
		TotalPrecision: 2,
		BillNoPrefix:   "ELEC",
		Surcharges: []SurchargeRule{
			{Label: "FPPPA", Kind: SurchargePerUnit, Rate: MustDecimal("0.69")},
		},
	}
}

func gasRules() ServiceRules {
	return ServiceRules{
		Service:        ServiceGas,
		MinimumUnits:   MustDecimal("5"),
		TotalPrecision: 0,
		BillNoPrefix:   "GAS",
		Surcharges: []SurchargeRule{
			{Label: "VAT", Kind: SurchargePercent, Rate: MustDecimal("0.145")},
		},
	}
}

func TestPriceElectricityWorkedExample(t *testing.T) {
	// GIVEN 300 units against the three-band residential schedule
	calc, err := Price(PricingInput{
		Units: MustDecimal("300"),
		Slabs: electricitySlabs(),
		Rules: electricityRules(),
	})
	require.NoError(t, err)

	// THEN each band charges min(remaining, size) at its rate
	require.Len(t, calc.Breakdown, 3)
	assert.Equal(t, "0-120", calc.Breakdown[0].Label)
	assert.Equal(t, "588.00", calc.Breakdown[0].Amount.String())
	assert.Equal(t, "120-240", calc.Breakdown[1].Label)
	assert.Equal(t, "756.00", calc.Breakdown[1].Amount.String())
	assert.Equal(t, "240+", calc.Breakdown[2].Label)
	assert.Equal(t, "60", calc.Breakdown[2].Units.String())
	assert.Equal(t, "450.00", calc.Breakdown[2].Amount.String())

	assert.Equal(t, "1794.00", calc.EnergyCharge.String())
	assert.Equal(t, "60.00", calc.FixedCharge.String())

	// FPPPA: 300 * 0.69 = 207.00
	require.Len(t, calc.Surcharges, 1)
	assert.Equal(t, "207.00", calc.Surcharges[0].Amount.String())

	assert.Equal(t, "2061.00", calc.TotalAmount.String())
}

func TestPriceGasFloorAndWholeRupees(t *testing.T) {
	// GIVEN 3 SCM against the flat gas tariff (17.62/SCM, no fixed charge)
	slabs := []TariffSlab{openBand("0", "17.62", "0")}
	calc, err := Price(PricingInput{
		Units: MustDecimal("3"),
		Slabs: slabs,
		Rules: gasRules(),
	})
	require.NoError(t, err)

	// THEN the 5 SCM billable floor applies before the slab walk
	assert.Equal(t, "3", calc.UnitsConsumed.String())
	assert.Equal(t, "5", calc.BilledUnits.String())
	assert.Equal(t, "88.10", calc.EnergyCharge.String())

	// VAT 14.5% of 88.10 = 12.77 (rounded half-up)
	require.Len(t, calc.Surcharges, 1)
	assert.Equal(t, "12.77", calc.Surcharges[0].Amount.String())

	// 100.87 rounds to whole rupees
	assert.Equal(t, "101", calc.TotalAmount.String())
}

func TestPriceFloorDoesNotApplyAboveMinimum(t *testing.T) {
	slabs := []TariffSlab{openBand("0", "17.62", "0")}
	calc, err := Price(PricingInput{
		Units: MustDecimal("8"),
		Slabs: slabs,
		Rules: gasRules(),
	})
	require.NoError(t, err)
	assert.Equal(t, "8", calc.BilledUnits.String())
}

func TestPriceDeterministic(t *testing.T) {
	in := PricingInput{
		Units: MustDecimal("173.5"),
		Slabs: electricitySlabs(),
		Rules: electricityRules(),
	}
	first, err := Price(in)
	require.NoError(t, err)
	second, err := Price(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPriceBreakdownCoversBilledUnits(t *testing.T) {
	// Breakdown unit counts must sum exactly to the billed quantity,
	// whatever the consumption.
	for _, units := range []string{"0.5", "1", "119.99", "120", "120.01", "240", "999", "10000"} {
		calc, err := Price(PricingInput{
			Units: MustDecimal(units),
			Slabs: electricitySlabs(),
			Rules: electricityRules(),
		})
		require.NoError(t, err, "units=%s", units)

		sum := decimal.Zero
		for _, line := range calc.Breakdown {
			sum = sum.Add(line.Units)
		}
		assert.True(t, sum.Equal(calc.BilledUnits),
			"units=%s: breakdown sums to %s, billed %s", units, sum, calc.BilledUnits)
	}
}

func TestPriceExactBoundary(t *testing.T) {
	// Exactly 120 units consumes the whole first band and nothing more.
	calc, err := Price(PricingInput{
		Units: MustDecimal("120"),
		Slabs: electricitySlabs(),
		Rules: electricityRules(),
	})
	require.NoError(t, err)
	require.Len(t, calc.Breakdown, 1)
	assert.Equal(t, "588.00", calc.Breakdown[0].Amount.String())
}

func TestPriceZeroUnits(t *testing.T) {
	// Zero is a legal input; the caller decides whether a zero period bills.
	calc, err := Price(PricingInput{
		Units: decimal.Zero,
		Slabs: electricitySlabs(),
		Rules: electricityRules(),
	})
	require.NoError(t, err)
	assert.Empty(t, calc.Breakdown)
	assert.True(t, calc.EnergyCharge.IsZero())
	assert.Equal(t, "60.00", calc.FixedCharge.String())
}

func TestPriceNegativeUnits(t *testing.T) {
	_, err := Price(PricingInput{
		Units: MustDecimal("-1"),
		Slabs: electricitySlabs(),
		Rules: electricityRules(),
	})
	assert.ErrorIs(t, err, ErrNegativeUnits)
}

func TestPriceEmptySchedule(t *testing.T) {
	_, err := Price(PricingInput{
		Units: MustDecimal("10"),
		Rules: electricityRules(),
	})
	assert.ErrorIs(t, err, ErrNoTariffFound)
}

func TestPriceRejectsBrokenSchedule(t *testing.T) {
	// Gap between 120 and 150
	slabs := []TariffSlab{
		band("0", "120", "4.90", "60"),
		band("150", "240", "6.30", "60"),
		openBand("240", "7.50", "60"),
	}
	_, err := Price(PricingInput{
		Units: MustDecimal("10"),
		Slabs: slabs,
		Rules: electricityRules(),
	})
	var schedErr *ScheduleError
	assert.ErrorAs(t, err, &schedErr)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
