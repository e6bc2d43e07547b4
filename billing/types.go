/*
Package billing provides the core utility billing engine.

PURPOSE:
  This package contains the service-agnostic types and algorithms that turn a
  meter reading into a priced, persisted, auditable bill. The same engine bills
  electricity (kWh), water (KL), and gas (SCM) consumption: slab walking,
  surcharge application, monotonicity validation, and the bill lifecycle are
  identical across services; only the tariff data and surcharge rules differ.

KEY CONCEPTS IN THIS FILE (types.go):
  - ServiceType / LoadClass: the tariff-determining coordinates of a connection
  - Connection: a citizen's metered service point
  - Money helpers: decimal arithmetic with an explicit half-up rounding rule

DESIGN PRINCIPLES:
  1. Purity: pricing and validation are pure functions; no clock, no randomness
  2. Precision: decimal.Decimal everywhere money or units appear; float64 never
     enters the arithmetic path
  3. Determinism: identical inputs always produce identical calculations
  4. Auditability: every bill carries its full slab breakdown

SEE ALSO:
  - tariff.go: Slab schedules and their invariants
  - pricing.go: The slab pricing engine
  - lifecycle.go: Orchestration from reading to bill
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE COORDINATES - What determines which tariff applies
// =============================================================================

type ServiceType string

const (
	ServiceElectricity ServiceType = "electricity"
	ServiceWater       ServiceType = "water"
	ServiceGas         ServiceType = "gas"
)

// Valid reports whether s is a known service type.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceElectricity, ServiceWater, ServiceGas:
		return true
	}
	return false
}

type LoadClass string

const (
	ClassResidential LoadClass = "residential"
	ClassCommercial  LoadClass = "commercial"
	ClassIndustrial  LoadClass = "industrial"
)

func (c LoadClass) Valid() bool {
	switch c {
	case ClassResidential, ClassCommercial, ClassIndustrial:
		return true
	}
	return false
}

// =============================================================================
// CONNECTION - A citizen's metered service point
// =============================================================================

type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "active"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Connection identifies a metered service point. Authentication and ownership
// checks happen upstream; the core receives already-resolved connection IDs.
type Connection struct {
	ID        string
	UserID    string
	Service   ServiceType
	Class     LoadClass
	Status    ConnectionStatus
	CreatedAt time.Time
}

// =============================================================================
// MONEY - Decimal arithmetic with an explicit rounding rule
// =============================================================================

// CurrencyScale is the presentation precision for money amounts.
const CurrencyScale = 2

// RoundMoney rounds to the service currency precision using round-half-up.
// decimal.Round is half-away-from-zero, which is half-up for the non-negative
// amounts this engine produces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyScale)
}

// RoundTo rounds to an arbitrary scale, half-up. Gas bills round their total to
// whole rupees (scale 0); everything else uses CurrencyScale.
func RoundTo(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Round(scale)
}

// MustDecimal parses a decimal literal, panicking on malformed input.
// Intended for compile-time constants (tariff seed data, surcharge rates).
func MustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
