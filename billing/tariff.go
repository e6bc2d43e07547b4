/*
tariff.go - Versioned, time-bounded slab schedules

PURPOSE:
  Defines the tariff catalog data model: piecewise consumption bands
  ("slabs") keyed by (service, load class) and bounded by a validity window.
  The catalog is pure data plus lookup - all writes happen through an
  administrative side channel, and readers never take locks.

INVARIANTS (enforced by Schedule.Validate):
  1. Slabs sorted by SlabStart ascending
  2. Contiguous: each slab starts exactly where the previous one ends
  3. Exactly one open-ended slab (SlabEnd == nil), and it is last
  4. Non-negative rates and charges

VERSIONING:
  Slabs carry ValidFrom/ValidTo. A rate revision deactivates the old rows and
  inserts new ones with a later ValidFrom; historical bills stay explicable
  because old slabs are never deleted.

SEE ALSO:
  - pricing.go: Walks the schedule returned by ActiveSlabs
  - store.go: TariffStore interface
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TARIFF SLAB - One priced consumption band
// =============================================================================

// TariffSlab is one band of a slab schedule. SlabEnd == nil marks the
// top-open band. FixedCharge is the schedule's per-period standing charge,
// duplicated across the schedule's rows; the pricing engine reads it from
// the first slab only.
type TariffSlab struct {
	ID          string
	Service     ServiceType
	Class       LoadClass
	SlabStart   decimal.Decimal
	SlabEnd     *decimal.Decimal
	RatePerUnit decimal.Decimal
	FixedCharge decimal.Decimal
	ValidFrom   time.Time
	ValidTo     *time.Time
	Active      bool
}

// Open reports whether this is the top-open band.
func (s TariffSlab) Open() bool { return s.SlabEnd == nil }

// Size returns the band width. Only meaningful for closed bands.
func (s TariffSlab) Size() decimal.Decimal {
	if s.SlabEnd == nil {
		return decimal.Zero
	}
	return s.SlabEnd.Sub(s.SlabStart)
}

// Label renders the band for breakdown rows: "0-120" or "240+".
func (s TariffSlab) Label() string {
	if s.SlabEnd == nil {
		return fmt.Sprintf("%s+", s.SlabStart)
	}
	return fmt.Sprintf("%s-%s", s.SlabStart, s.SlabEnd)
}

// CoversAt reports whether the slab is active and valid at the given time.
func (s TariffSlab) CoversAt(asOf time.Time) bool {
	if !s.Active {
		return false
	}
	if s.ValidFrom.After(asOf) {
		return false
	}
	if s.ValidTo != nil && s.ValidTo.Before(asOf) {
		return false
	}
	return true
}

// =============================================================================
// SCHEDULE - The ordered slabs for one (service, class) pair
// =============================================================================

// Schedule is the full set of slabs the pricing engine walks for one
// (service, load class) pair within a single validity window.
type Schedule struct {
	Service ServiceType
	Class   LoadClass
	Slabs   []TariffSlab
}

// Validate enforces the catalog invariants. Called when administrative
// writes assemble a schedule, and defensively before pricing.
func (sc Schedule) Validate() error {
	if len(sc.Slabs) == 0 {
		return &ScheduleError{Service: sc.Service, Class: sc.Class, Reason: "no slabs"}
	}

	openCount := 0
	for i, slab := range sc.Slabs {
		if slab.RatePerUnit.IsNegative() || slab.FixedCharge.IsNegative() {
			return &ScheduleError{Service: sc.Service, Class: sc.Class,
				Reason: fmt.Sprintf("slab %s has negative rate or fixed charge", slab.Label())}
		}
		if i > 0 {
			prev := sc.Slabs[i-1]
			if prev.SlabEnd == nil || !slab.SlabStart.Equal(*prev.SlabEnd) {
				return &ScheduleError{Service: sc.Service, Class: sc.Class,
					Reason: fmt.Sprintf("gap or overlap before slab %s", slab.Label())}
			}
		}
		if slab.Open() {
			openCount++
			if i != len(sc.Slabs)-1 {
				return &ScheduleError{Service: sc.Service, Class: sc.Class,
					Reason: "open-ended slab must be last"}
			}
			continue
		}
		if !slab.SlabEnd.GreaterThan(slab.SlabStart) {
			return &ScheduleError{Service: sc.Service, Class: sc.Class,
				Reason: fmt.Sprintf("slab %s is empty or inverted", slab.Label())}
		}
	}
	if openCount != 1 {
		return &ScheduleError{Service: sc.Service, Class: sc.Class,
			Reason: fmt.Sprintf("expected exactly one open-ended slab, found %d", openCount)}
	}
	if !sc.Slabs[0].SlabStart.IsZero() {
		return &ScheduleError{Service: sc.Service, Class: sc.Class,
			Reason: "first slab must start at zero"}
	}
	return nil
}
