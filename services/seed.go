/*
seed.go - Default slab schedules for bootstrapping

PURPOSE:
  Ready-made residential/commercial schedules so a fresh database can bill
  immediately. Production deployments replace these through the tariff admin
  API; the shapes here mirror typical state utility tariff orders.

SEE ALSO:
  - billing/tariff.go: The invariants every schedule must satisfy
*/
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/gridworks/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// DefaultValidFrom is the validity start for seeded schedules.
var DefaultValidFrom = time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)

type seedBand struct {
	start, end string // end == "" means open
	rate       string
}

func buildSchedule(service billing.ServiceType, class billing.LoadClass, fixed string, bands []seedBand) billing.Schedule {
	fixedCharge := billing.MustDecimal(fixed)
	slabs := make([]billing.TariffSlab, 0, len(bands))
	for i, b := range bands {
		var end *decimal.Decimal
		if b.end != "" {
			e := billing.MustDecimal(b.end)
			end = &e
		}
		slabs = append(slabs, billing.TariffSlab{
			ID:          fmt.Sprintf("%s-%s-%d", service, class, i),
			Service:     service,
			Class:       class,
			SlabStart:   billing.MustDecimal(b.start),
			SlabEnd:     end,
			RatePerUnit: billing.MustDecimal(b.rate),
			FixedCharge: fixedCharge,
			ValidFrom:   DefaultValidFrom,
			Active:      true,
		})
	}
	return billing.Schedule{Service: service, Class: class, Slabs: slabs}
}

// DefaultSchedules returns the seed schedules for all services and classes.
func DefaultSchedules() []billing.Schedule {
	return []billing.Schedule{
		// Electricity: residential telescopic slabs, fixed charge 60/month.
		buildSchedule(billing.ServiceElectricity, billing.ClassResidential, "60", []seedBand{
			{start: "0", end: "120", rate: "4.90"},
			{start: "120", end: "240", rate: "6.30"},
			{start: "240", rate: "7.50"},
		}),
		buildSchedule(billing.ServiceElectricity, billing.ClassCommercial, "150", []seedBand{
			{start: "0", end: "500", rate: "7.10"},
			{start: "500", rate: "8.40"},
		}),
		// Gas: flat base+margin rate per SCM, no fixed charge.
		buildSchedule(billing.ServiceGas, billing.ClassResidential, "0", []seedBand{
			{start: "0", rate: "17.62"},
		}),
		// Water: per-KL slabs, fixed charge 45/month.
		buildSchedule(billing.ServiceWater, billing.ClassResidential, "45", []seedBand{
			{start: "0", end: "10", rate: "7.00"},
			{start: "10", end: "25", rate: "12.00"},
			{start: "25", rate: "20.00"},
		}),
	}
}

// Seed validates and persists the default schedules. Existing tariff data is
// left untouched; call only on an empty catalog.
func Seed(ctx context.Context, store billing.TariffStore) error {
	for _, sc := range DefaultSchedules() {
		if err := sc.Validate(); err != nil {
			return err
		}
		for _, slab := range sc.Slabs {
			if err := store.SaveSlab(ctx, slab); err != nil {
				return err
			}
		}
	}
	return nil
}
