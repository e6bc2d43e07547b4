/*
bill.go - The bill record and its status machine

PURPOSE:
  A Bill is the persisted outcome of pricing one consumption period. Bills
  are never deleted; payment confirmation is the only mutation, and OVERDUE
  is a lazy, reader-side view rather than a stored state.

STATUS MACHINE:
  PENDING -> PAID       (external payment confirmation)
  PENDING -> CANCELLED  (administrative action, from PENDING only)
  PENDING -> OVERDUE    (virtual: now > dueDate and unpaid; computed by
                         EffectiveStatus, never written back)

IDEMPOTENCY:
  At most one bill per (connectionID, periodTo). The storage layer enforces
  this with a unique constraint; a violated insert surfaces as
  ErrDuplicateBill, which retry logic reads as "already done".

SEE ALSO:
  - lifecycle.go: Creates bills and maps payment callbacks
  - store/sqlite: The unique constraint
*/
package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BILL STATUS
// =============================================================================

type BillStatus string

const (
	BillPending   BillStatus = "PENDING"
	BillPaid      BillStatus = "PAID"
	BillOverdue   BillStatus = "OVERDUE"
	BillCancelled BillStatus = "CANCELLED"
)

// =============================================================================
// BILL
// =============================================================================

type Bill struct {
	ID            string
	BillNo        string
	ConnectionID  string
	BillDate      time.Time
	PeriodFrom    time.Time
	PeriodTo      time.Time
	DueDate       time.Time
	UnitsConsumed decimal.Decimal
	FixedCharge   decimal.Decimal
	EnergyCharge  decimal.Decimal
	Surcharge     decimal.Decimal
	TotalAmount   decimal.Decimal
	AmountPaid    decimal.Decimal
	Status        BillStatus
	Breakdown     []SlabLine
	CreatedAt     time.Time
}

// EffectiveStatus applies the lazy OVERDUE transition: a stored PENDING bill
// past its due date reads as OVERDUE. Nothing is written back.
func (b Bill) EffectiveStatus(now time.Time) BillStatus {
	if b.Status == BillPending && now.After(b.DueDate) {
		return BillOverdue
	}
	return b.Status
}

// Payable reports whether a payment confirmation may apply to this bill.
func (b Bill) Payable() bool {
	return b.Status == BillPending
}

// NewBillNo builds a bill identifier from service prefix, timestamp,
// connection suffix, and a random nonce, e.g. "ELEC-20250901143005-4821-9f3c2ab1".
// The nonce keeps two bills for one connection in the same second from
// colliding on the UNIQUE bill_no column.
func NewBillNo(prefix string, at time.Time, connectionID string) string {
	suffix := connectionID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	nonce := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s-%s-%s", prefix, at.UTC().Format("20060102150405"), suffix, nonce)
}
