/*
pricing.go - The slab pricing engine

PURPOSE:
  Pure function from (units consumed, slab schedule, service rules) to an
  itemized charge breakdown. This is the only place slab arithmetic lives;
  real billing and the estimate endpoint share it, so a quote can never
  diverge from an invoice.

ALGORITHM:
  1. Apply the service's billable floor to the units BEFORE walking slabs,
     so slab boundaries see the floored quantity
  2. Walk slabs in order, charging min(remaining, slabSize) at each rate
  3. Take the fixed charge from the first slab
  4. Apply surcharge rules (per-unit or percent-of-subtotal) after slab
     summation, each rounded half-up to 2 decimals
  5. Round the total to the service's precision (2 for electricity/water,
     0 for gas)

DETERMINISM:
  No wall clock, no randomness, no I/O. Identical inputs always yield an
  identical BillCalculation. Tests rely on this bit-for-bit.

SEE ALSO:
  - tariff.go: Schedule invariants the walk depends on
  - services/: Concrete surcharge rules per utility
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SURCHARGE RULES - Composable post-slab adjustments
// =============================================================================

type SurchargeKind string

const (
	// SurchargePerUnit charges rate * billed units (e.g. electricity FPPPA).
	SurchargePerUnit SurchargeKind = "per_unit"

	// SurchargePercent charges rate% of (fixed + energy) subtotal
	// (e.g. gas VAT, water sewerage).
	SurchargePercent SurchargeKind = "percent_of_subtotal"
)

// SurchargeRule is one post-slab adjustment. Rate is either a currency amount
// per unit or a percentage expressed as a fraction (14.5% -> 0.145).
type SurchargeRule struct {
	Label string
	Kind  SurchargeKind
	Rate  decimal.Decimal
}

// ServiceRules bundles everything service-specific the engine needs.
type ServiceRules struct {
	Service ServiceType

	// MinimumUnits is the billable floor: consumption below it is billed at
	// the floor. Applied before slab walking. Zero means no floor.
	MinimumUnits decimal.Decimal

	// Surcharges are applied in order after slab summation.
	Surcharges []SurchargeRule

	// TotalPrecision is the rounding scale for the bill total.
	// Electricity and water bill to paise (2); gas bills to whole rupees (0).
	TotalPrecision int32

	// BillNoPrefix leads generated bill numbers, e.g. "ELEC".
	BillNoPrefix string

	// BillZeroConsumption controls whether a zero-delta period produces a
	// bill at all. No current service bills zero periods.
	BillZeroConsumption bool
}

// =============================================================================
// BILL CALCULATION - The itemized result
// =============================================================================

// SlabLine is one row of the slab breakdown.
type SlabLine struct {
	Label  string
	Units  decimal.Decimal
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// SurchargeLine is one applied surcharge.
type SurchargeLine struct {
	Label  string
	Kind   SurchargeKind
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// BillCalculation is the ephemeral pricing result. It is never persisted on
// its own; the lifecycle manager folds it into a Bill record.
type BillCalculation struct {
	UnitsConsumed decimal.Decimal // metered delta, pre-floor
	BilledUnits   decimal.Decimal // after billable floor
	FixedCharge   decimal.Decimal
	EnergyCharge  decimal.Decimal
	Breakdown     []SlabLine
	Surcharges    []SurchargeLine
	TotalAmount   decimal.Decimal
}

// SurchargeTotal sums the surcharge lines.
func (bc BillCalculation) SurchargeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range bc.Surcharges {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// PRICE - The engine
// =============================================================================

// PricingInput carries everything Price needs. Slabs must already be filtered
// to the active schedule (see TariffStore.ActiveSlabs) and sorted ascending.
type PricingInput struct {
	Units decimal.Decimal
	Slabs []TariffSlab
	Rules ServiceRules
}

// Price computes the itemized charge breakdown for a consumption quantity.
// Pure: no clock, no I/O, fully deterministic.
func Price(in PricingInput) (BillCalculation, error) {
	if in.Units.IsNegative() {
		return BillCalculation{}, ErrNegativeUnits
	}
	if len(in.Slabs) == 0 {
		return BillCalculation{}, ErrNoTariffFound
	}

	schedule := Schedule{Service: in.Rules.Service, Slabs: in.Slabs}
	if err := schedule.Validate(); err != nil {
		return BillCalculation{}, err
	}

	// Billable floor applies before the slab walk so boundaries are computed
	// against the floored quantity.
	billed := in.Units
	if in.Rules.MinimumUnits.IsPositive() && billed.LessThan(in.Rules.MinimumUnits) {
		billed = in.Rules.MinimumUnits
	}

	calc := BillCalculation{
		UnitsConsumed: in.Units,
		BilledUnits:   billed,
		FixedCharge:   RoundMoney(in.Slabs[0].FixedCharge),
		EnergyCharge:  decimal.Zero,
	}

	remaining := billed
	for _, slab := range in.Slabs {
		if !remaining.IsPositive() {
			break
		}
		unitsInSlab := remaining
		if !slab.Open() {
			if size := slab.Size(); size.LessThan(remaining) {
				unitsInSlab = size
			}
		}
		amount := RoundMoney(unitsInSlab.Mul(slab.RatePerUnit))
		calc.Breakdown = append(calc.Breakdown, SlabLine{
			Label:  slab.Label(),
			Units:  unitsInSlab,
			Rate:   slab.RatePerUnit,
			Amount: amount,
		})
		calc.EnergyCharge = calc.EnergyCharge.Add(amount)
		remaining = remaining.Sub(unitsInSlab)
	}

	subtotal := calc.FixedCharge.Add(calc.EnergyCharge)
	for _, rule := range in.Rules.Surcharges {
		var amount decimal.Decimal
		switch rule.Kind {
		case SurchargePercent:
			amount = RoundMoney(subtotal.Mul(rule.Rate))
		default:
			amount = RoundMoney(billed.Mul(rule.Rate))
		}
		calc.Surcharges = append(calc.Surcharges, SurchargeLine{
			Label:  rule.Label,
			Kind:   rule.Kind,
			Rate:   rule.Rate,
			Amount: amount,
		})
	}

	calc.TotalAmount = RoundTo(subtotal.Add(calc.SurchargeTotal()), in.Rules.TotalPrecision)
	return calc, nil
}
