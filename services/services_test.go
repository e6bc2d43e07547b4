package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridworks/billing-engine/billing"
	memstore "github.com/gridworks/billing-engine/billing/store"
)

func TestAllCoversEveryService(t *testing.T) {
	rules := All()

	require.Len(t, rules, 3)
	for _, service := range []billing.ServiceType{
		billing.ServiceElectricity, billing.ServiceGas, billing.ServiceWater,
	} {
		r, ok := rules[service]
		require.True(t, ok, "missing rules for %s", service)
		assert.Equal(t, service, r.Service)
		assert.NotEmpty(t, r.BillNoPrefix)
	}
}

func TestElectricityRules(t *testing.T) {
	r := Electricity()

	assert.Equal(t, "ELEC", r.BillNoPrefix)
	assert.Equal(t, int32(2), r.TotalPrecision)
	assert.True(t, r.MinimumUnits.IsZero())
	require.Len(t, r.Surcharges, 1)
	assert.Equal(t, "FPPPA", r.Surcharges[0].Label)
	assert.Equal(t, billing.SurchargePerUnit, r.Surcharges[0].Kind)
	assert.Equal(t, "0.69", r.Surcharges[0].Rate.String())
}

func TestGasRules(t *testing.T) {
	r := Gas()

	// Gas bills a 5 SCM minimum and rounds totals to whole rupees.
	assert.Equal(t, "GAS", r.BillNoPrefix)
	assert.Equal(t, "5", r.MinimumUnits.String())
	assert.Equal(t, int32(0), r.TotalPrecision)
	require.Len(t, r.Surcharges, 1)
	assert.Equal(t, "VAT", r.Surcharges[0].Label)
	assert.Equal(t, billing.SurchargePercent, r.Surcharges[0].Kind)
	assert.Equal(t, "0.145", r.Surcharges[0].Rate.String())
}

func TestWaterRules(t *testing.T) {
	r := Water()

	assert.Equal(t, "WTR", r.BillNoPrefix)
	require.Len(t, r.Surcharges, 1)
	assert.Equal(t, "Sewerage", r.Surcharges[0].Label)
	assert.Equal(t, billing.SurchargePercent, r.Surcharges[0].Kind)
}

func TestDefaultSchedulesAreValid(t *testing.T) {
	schedules := DefaultSchedules()
	require.NotEmpty(t, schedules)

	for _, sc := range schedules {
		require.NoError(t, sc.Validate(), "%s/%s", sc.Service, sc.Class)
	}
}

func TestDefaultSchedulesCoverBilledServices(t *testing.T) {
	// Every service the rules map knows how to surcharge must have at least
	// one seed schedule, or a fresh deployment cannot bill it.
	seeded := make(map[billing.ServiceType]bool)
	for _, sc := range DefaultSchedules() {
		seeded[sc.Service] = true
	}
	for service := range All() {
		assert.True(t, seeded[service], "no seed schedule for %s", service)
	}
}

func TestSeedPersistsAllSlabs(t *testing.T) {
	store := memstore.NewMemory()

	require.NoError(t, Seed(context.Background(), store))

	// Seeded slabs must be live for pricing as of today.
	asOf := DefaultValidFrom.Add(24 * time.Hour)
	slabs, err := store.ActiveSlabs(context.Background(),
		billing.ServiceElectricity, billing.ClassResidential, asOf)
	require.NoError(t, err)
	require.Len(t, slabs, 3)
	assert.Equal(t, "4.90", slabs[0].RatePerUnit.String())
	assert.Nil(t, slabs[2].SlabEnd)

	gas, err := store.ActiveSlabs(context.Background(),
		billing.ServiceGas, billing.ClassResidential, asOf)
	require.NoError(t, err)
	require.Len(t, gas, 1)
	assert.Equal(t, "17.62", gas[0].RatePerUnit.String())
}

func TestSeededElectricityMatchesWorkedTariff(t *testing.T) {
	store := memstore.NewMemory()
	require.NoError(t, Seed(context.Background(), store))

	slabs, err := store.ActiveSlabs(context.Background(),
		billing.ServiceElectricity, billing.ClassResidential, DefaultValidFrom)
	require.NoError(t, err)

	// 300 units on the residential schedule: 120*4.90 + 120*6.30 + 60*7.50
	// + 60 fixed + 300*0.69 FPPPA.
	calc, err := billing.Price(billing.PricingInput{
		Units: billing.MustDecimal("300"),
		Slabs: slabs,
		Rules: Electricity(),
	})
	require.NoError(t, err)
	assert.Equal(t, "2061.00", calc.TotalAmount.String())
}
