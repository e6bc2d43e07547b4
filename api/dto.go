/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific formatting (decimal amounts as strings, dates as RFC3339)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FORMATTING:
  All amounts serialize as decimal strings ("2061.00"), never JSON numbers.
  Clients must not do float arithmetic on them.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/pricing.go: BillCalculation, the source of breakdown data
*/
package api

import (
	"time"

	"github.com/gridworks/billing-engine/billing"
)

// =============================================================================
// READINGS
// =============================================================================

// SubmitReadingRequest is a citizen-submitted meter reading.
type SubmitReadingRequest struct {
	Value       string `json:"value"`
	PhotoRef    string `json:"photo_ref,omitempty"`
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// ReadingDTO represents an accepted reading in API responses.
type ReadingDTO struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connection_id"`
	Value        string `json:"value"`
	ReadingDate  string `json:"reading_date"`
	PhotoRef     string `json:"photo_ref,omitempty"`
}

// SubmitReadingResponse pairs the accepted reading with the bill inline
// generation produced, if any. Bill is null when the reading was a baseline,
// the delta was zero, or billing was deferred to the job queue.
type SubmitReadingResponse struct {
	Reading ReadingDTO `json:"reading"`
	Bill    *BillDTO   `json:"bill,omitempty"`
}

// =============================================================================
// BILLS
// =============================================================================

// SlabLineDTO is one row of a bill's slab breakdown.
type SlabLineDTO struct {
	Slab   string `json:"slab"`
	Units  string `json:"units"`
	Rate   string `json:"rate"`
	Amount string `json:"amount"`
}

// SurchargeLineDTO is one applied surcharge on an estimate.
type SurchargeLineDTO struct {
	Label  string `json:"label"`
	Kind   string `json:"kind"`
	Rate   string `json:"rate"`
	Amount string `json:"amount"`
}

// BillDTO represents a bill in API responses. Status reflects the effective
// status at response time: a PENDING bill past its due date reads OVERDUE.
type BillDTO struct {
	ID            string        `json:"id"`
	BillNo        string        `json:"bill_no"`
	ConnectionID  string        `json:"connection_id"`
	BillDate      string        `json:"bill_date"`
	PeriodFrom    string        `json:"period_from"`
	PeriodTo      string        `json:"period_to"`
	DueDate       string        `json:"due_date"`
	UnitsConsumed string        `json:"units_consumed"`
	FixedCharge   string        `json:"fixed_charge"`
	EnergyCharge  string        `json:"energy_charge"`
	Surcharge     string        `json:"surcharge"`
	TotalAmount   string        `json:"total_amount"`
	AmountPaid    string        `json:"amount_paid"`
	Status        string        `json:"status"`
	Breakdown     []SlabLineDTO `json:"breakdown,omitempty"`
}

// PaymentRequest is the payment gateway's confirmation callback body.
type PaymentRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// =============================================================================
// ESTIMATES
// =============================================================================

// EstimateRequest asks for a hypothetical bill amount.
type EstimateRequest struct {
	Service   string `json:"service"`
	LoadClass string `json:"load_class"`
	Units     string `json:"units"`
}

// EstimateResponse is the itemized quote. It is produced by the same pricing
// path real bills use.
type EstimateResponse struct {
	UnitsConsumed string             `json:"units_consumed"`
	BilledUnits   string             `json:"billed_units"`
	FixedCharge   string             `json:"fixed_charge"`
	EnergyCharge  string             `json:"energy_charge"`
	Breakdown     []SlabLineDTO      `json:"breakdown"`
	Surcharges    []SurchargeLineDTO `json:"surcharges"`
	TotalAmount   string             `json:"total_amount"`
}

// =============================================================================
// ADMIN
// =============================================================================

// GenerateRequest selects what an enqueued generation job should bill.
// All fields empty means "scan every eligible pending reading".
type GenerateRequest struct {
	ReadingID    string `json:"reading_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// CreateSlabRequest is the admin request to add a tariff slab.
type CreateSlabRequest struct {
	Service     string  `json:"service"`
	LoadClass   string  `json:"load_class"`
	SlabStart   string  `json:"slab_start"`
	SlabEnd     *string `json:"slab_end,omitempty"`
	RatePerUnit string  `json:"rate_per_unit"`
	FixedCharge string  `json:"fixed_charge"`
	ValidFrom   string  `json:"valid_from"`
	ValidTo     *string `json:"valid_to,omitempty"`
}

// CreateConnectionRequest registers a metered service point.
type CreateConnectionRequest struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Service   string `json:"service"`
	LoadClass string `json:"load_class"`
}

// ConnectionDTO represents a connection in API responses.
type ConnectionDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Service   string `json:"service"`
	LoadClass string `json:"load_class"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// JobDTO exposes a queued job for operator inspection.
type JobDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Payload     string `json:"payload"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduled_at"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toReadingDTO(r billing.MeterReading) ReadingDTO {
	return ReadingDTO{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		Value:        r.Value.String(),
		ReadingDate:  r.ReadingDate.Format(time.RFC3339),
		PhotoRef:     r.PhotoRef,
	}
}

func toBillDTO(b billing.Bill, now time.Time) BillDTO {
	breakdown := make([]SlabLineDTO, len(b.Breakdown))
	for i, line := range b.Breakdown {
		breakdown[i] = SlabLineDTO{
			Slab:   line.Label,
			Units:  line.Units.String(),
			Rate:   line.Rate.String(),
			Amount: line.Amount.String(),
		}
	}
	return BillDTO{
		ID:            b.ID,
		BillNo:        b.BillNo,
		ConnectionID:  b.ConnectionID,
		BillDate:      b.BillDate.Format(time.RFC3339),
		PeriodFrom:    b.PeriodFrom.Format(time.RFC3339),
		PeriodTo:      b.PeriodTo.Format(time.RFC3339),
		DueDate:       b.DueDate.Format(time.RFC3339),
		UnitsConsumed: b.UnitsConsumed.String(),
		FixedCharge:   b.FixedCharge.String(),
		EnergyCharge:  b.EnergyCharge.String(),
		Surcharge:     b.Surcharge.String(),
		TotalAmount:   b.TotalAmount.String(),
		AmountPaid:    b.AmountPaid.String(),
		Status:        string(b.EffectiveStatus(now)),
		Breakdown:     breakdown,
	}
}

func toEstimateResponse(calc billing.BillCalculation) EstimateResponse {
	breakdown := make([]SlabLineDTO, len(calc.Breakdown))
	for i, line := range calc.Breakdown {
		breakdown[i] = SlabLineDTO{
			Slab:   line.Label,
			Units:  line.Units.String(),
			Rate:   line.Rate.String(),
			Amount: line.Amount.String(),
		}
	}
	surcharges := make([]SurchargeLineDTO, len(calc.Surcharges))
	for i, line := range calc.Surcharges {
		surcharges[i] = SurchargeLineDTO{
			Label:  line.Label,
			Kind:   string(line.Kind),
			Rate:   line.Rate.String(),
			Amount: line.Amount.String(),
		}
	}
	return EstimateResponse{
		UnitsConsumed: calc.UnitsConsumed.String(),
		BilledUnits:   calc.BilledUnits.String(),
		FixedCharge:   calc.FixedCharge.String(),
		EnergyCharge:  calc.EnergyCharge.String(),
		Breakdown:     breakdown,
		Surcharges:    surcharges,
		TotalAmount:   calc.TotalAmount.String(),
	}
}

func toConnectionDTO(c billing.Connection) ConnectionDTO {
	return ConnectionDTO{
		ID:        c.ID,
		UserID:    c.UserID,
		Service:   string(c.Service),
		LoadClass: string(c.Class),
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func toJobDTO(j billing.Job) JobDTO {
	dto := JobDTO{
		ID:          j.ID,
		Type:        string(j.Type),
		Payload:     j.Payload,
		Status:      string(j.Status),
		ScheduledAt: j.ScheduledAt.Format(time.RFC3339),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		dto.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
