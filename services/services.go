/*
Package services defines the per-utility rule sets for the billing engine.

PURPOSE:
  Each utility prices the same way (slab walk + surcharges) but with its own
  surcharge formulas, billable floor, and rounding convention:

    Electricity: flat per-unit FPPPA surcharge, bills to paise
    Gas:         5 SCM billable floor, 14.5% VAT on the subtotal,
                 bills to whole rupees
    Water:       percentage sewerage charge on the subtotal, bills to paise

  Expressing each as composable SurchargeRules keeps the arithmetic in one
  engine instead of duplicating bespoke math per service module.

CUSTOMIZATION:
  Rates here are the current defaults. A deployment overrides them by
  building its own billing.ServiceRules map.

SEE ALSO:
  - billing/pricing.go: How rules are applied
  - seed.go: Default slab schedules for bootstrapping a database
*/
package services

import (
	"github.com/gridworks/billing-engine/billing"
)

// =============================================================================
// ELECTRICITY
// =============================================================================

// Electricity bills metered kWh with a flat per-unit Fuel and Power Purchase
// Price Adjustment (FPPPA) surcharge.
func Electricity() billing.ServiceRules {
	return billing.ServiceRules{
		Service:        billing.ServiceElectricity,
		TotalPrecision: 2,
		BillNoPrefix:   "ELEC",
		Surcharges: []billing.SurchargeRule{
			{Label: "FPPPA", Kind: billing.SurchargePerUnit, Rate: billing.MustDecimal("0.69")},
		},
	}
}

// =============================================================================
// GAS
// =============================================================================

// Gas bills SCM with a minimum billable quantity of 5 SCM, 14.5% VAT on the
// subtotal, and whole-rupee totals.
func Gas() billing.ServiceRules {
	return billing.ServiceRules{
		Service:        billing.ServiceGas,
		MinimumUnits:   billing.MustDecimal("5"),
		TotalPrecision: 0,
		BillNoPrefix:   "GAS",
		Surcharges: []billing.SurchargeRule{
			{Label: "VAT", Kind: billing.SurchargePercent, Rate: billing.MustDecimal("0.145")},
		},
	}
}

// =============================================================================
// WATER
// =============================================================================

// Water bills kilolitres with a sewerage charge of 20% of the subtotal.
func Water() billing.ServiceRules {
	return billing.ServiceRules{
		Service:        billing.ServiceWater,
		TotalPrecision: 2,
		BillNoPrefix:   "WTR",
		Surcharges: []billing.SurchargeRule{
			{Label: "Sewerage", Kind: billing.SurchargePercent, Rate: billing.MustDecimal("0.20")},
		},
	}
}

// All returns the rules map for every supported utility, keyed the way the
// lifecycle manager expects.
func All() map[billing.ServiceType]billing.ServiceRules {
	return map[billing.ServiceType]billing.ServiceRules{
		billing.ServiceElectricity: Electricity(),
		billing.ServiceGas:         Gas(),
		billing.ServiceWater:       Water(),
	}
}
