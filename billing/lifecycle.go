/*
lifecycle.go - Bill lifecycle orchestration

PURPOSE:
  The Manager is the boundary between pure computation and I/O. It owns the
  sequence: look up reading -> find prior -> validate delta -> price -> persist
  bill -> emit notification, and it decides which failures surface immediately
  to the caller versus which are safe to hand to the job runner for retry.

IDEMPOTENCY:
  Re-running bill generation for an already-billed reading is expected
  (worker retries, double submits). The duplicate check is a fast pre-read,
  but correctness rests on the store's UNIQUE (connection_id, period_to)
  constraint; the race between check and insert resolves to ErrDuplicateBill
  for exactly one of two concurrent generators.

NOTIFICATION FAILURE:
  A bill that priced and persisted correctly stands even if the notification
  publish fails. The event is requeued as a DELIVER_NOTIFICATION job instead
  of rolling back the bill.

CONCURRENCY:
  Within one process, submissions for the same connection are serialized by a
  per-connection lock so a delta is never computed against a stale prior
  reading. Across processes the unique constraint is the backstop.

SEE ALSO:
  - pricing.go: The shared pricing path (billing and estimates)
  - jobs/: Deferred and bulk generation
*/
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// NOTIFICATION CONTRACT
// =============================================================================

// BillGeneratedEvent is what the core emits to the notification sink.
// Delivery and localization are the collaborator's concern.
type BillGeneratedEvent struct {
	UserID      string          `json:"userId"`
	Kind        string          `json:"kind"`
	BillID      string          `json:"billId"`
	BillNo      string          `json:"billNo"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	DueDate     time.Time       `json:"dueDate"`
}

// EventBillGenerated is the only event kind the core currently emits.
const EventBillGenerated = "BILL_GENERATED"

// Sink receives billing events. Implementations live in the notify package.
type Sink interface {
	Publish(ctx context.Context, ev BillGeneratedEvent) error
}

// =============================================================================
// JOB PAYLOADS - Schemas for the producer side of the queue
// =============================================================================

// GeneratePayload selects what a GENERATE_BILLS job should bill:
// a single reading, a connection's latest unbilled reading, or (both empty)
// every eligible pending reading.
type GeneratePayload struct {
	ReadingID    string `json:"readingId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// NotifyPayload carries an event awaiting redelivery.
type NotifyPayload struct {
	Event BillGeneratedEvent `json:"event"`
}

// =============================================================================
// MANAGER
// =============================================================================

// Config holds the tunable billing knobs. The first-period boundary for a
// connection with no prior reading has no stated business rule, so it is
// configurable rather than hardcoded.
type Config struct {
	GracePeriod         time.Duration // billDate -> dueDate
	FirstPeriodLookback time.Duration // periodFrom fallback when no prior reading
}

// DefaultConfig matches the service owner's current practice: 15-day payment
// grace, 30-day first-period lookback.
func DefaultConfig() Config {
	return Config{
		GracePeriod:         15 * 24 * time.Hour,
		FirstPeriodLookback: 30 * 24 * time.Hour,
	}
}

// Manager orchestrates the reading-to-bill pipeline.
type Manager struct {
	store Store
	sink  Sink
	rules map[ServiceType]ServiceRules
	cfg   Config
	log   *slog.Logger

	// clock is injectable so tests can pin "now".
	clock func() time.Time

	mu        sync.Mutex
	connLocks map[string]*sync.Mutex
}

// NewManager wires a Manager. rules must cover every service the deployment
// bills; a reading for an unregistered service is a configuration error.
func NewManager(store Store, sink Sink, rules map[ServiceType]ServiceRules, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:     store,
		sink:      sink,
		rules:     rules,
		cfg:       cfg,
		log:       log.With(slog.String("component", "lifecycle")),
		clock:     time.Now,
		connLocks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// lockConnection serializes same-connection work within this process.
func (m *Manager) lockConnection(id string) func() {
	m.mu.Lock()
	l, ok := m.connLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.connLocks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// =============================================================================
// SUBMIT READING - The synchronous citizen-facing path
// =============================================================================

// SubmitReading validates and persists a citizen-submitted reading, then
// attempts inline bill generation. Business outcomes that legitimately
// produce no bill (first reading, zero delta, already billed) return the
// reading with a nil bill and no error.
func (m *Manager) SubmitReading(ctx context.Context, connectionID string, value decimal.Decimal, photoRef, submittedBy string) (*MeterReading, *Bill, error) {
	conn, err := m.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	if conn == nil {
		return nil, nil, ErrConnectionNotFound
	}

	unlock := m.lockConnection(connectionID)
	defer unlock()

	prior, err := m.store.LatestReading(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}

	// Reject before persisting; a non-monotonic reading must leave no trace
	// and enqueue nothing.
	if _, err := ValidateReading(connectionID, value, prior); err != nil {
		return nil, nil, err
	}

	reading := MeterReading{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Value:        value,
		ReadingDate:  m.clock(),
		SubmittedBy:  submittedBy,
		PhotoRef:     photoRef,
		CreatedAt:    m.clock(),
	}
	if err := m.store.InsertReading(ctx, reading); err != nil {
		return nil, nil, err
	}

	bill, err := m.generateLocked(ctx, &reading, conn)
	switch {
	case err == nil:
		return &reading, bill, nil
	case errors.Is(err, ErrNoPriorReading), errors.Is(err, ErrInvalidConsumption), errors.Is(err, ErrDuplicateBill):
		// Legitimate no-bill outcomes for an accepted reading.
		return &reading, nil, nil
	case errors.Is(err, ErrNoTariffFound):
		// The reading stands; the misconfiguration must surface.
		return &reading, nil, err
	default:
		// Transient fault: keep the accepted reading and defer billing.
		m.log.Warn("inline bill generation failed, deferring",
			slog.String("reading_id", reading.ID), slog.Any("error", err))
		if _, qErr := m.EnqueueBillGeneration(ctx, GeneratePayload{ReadingID: reading.ID}); qErr != nil {
			return &reading, nil, qErr
		}
		return &reading, nil, nil
	}
}

// =============================================================================
// GENERATE BILL
// =============================================================================

// GenerateBill prices and persists a bill for an accepted reading.
// Idempotent: a second call for the same reading fails with ErrDuplicateBill
// and leaves exactly one bill in place.
func (m *Manager) GenerateBill(ctx context.Context, readingID string) (*Bill, error) {
	reading, err := m.store.GetReading(ctx, readingID)
	if err != nil {
		return nil, err
	}
	if reading == nil {
		return nil, ErrReadingNotFound
	}
	conn, err := m.store.GetConnection(ctx, reading.ConnectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrConnectionNotFound
	}

	unlock := m.lockConnection(conn.ID)
	defer unlock()

	return m.generateLocked(ctx, reading, conn)
}

// generateLocked is the core path; callers hold the connection lock.
func (m *Manager) generateLocked(ctx context.Context, reading *MeterReading, conn *Connection) (*Bill, error) {
	rules, ok := m.rules[conn.Service]
	if !ok {
		return nil, fmt.Errorf("%w: no rules registered for service %s", ErrNoTariffFound, conn.Service)
	}

	prior, err := m.store.PriorReading(ctx, conn.ID, reading.ReadingDate)
	if err != nil {
		return nil, err
	}

	delta, err := ValidateReading(conn.ID, reading.Value, prior)
	if err != nil {
		return nil, err
	}
	if delta.FirstReading {
		return nil, ErrNoPriorReading
	}
	if !delta.Units.IsPositive() && !rules.BillZeroConsumption {
		return nil, fmt.Errorf("%w: delta %s for connection %s", ErrInvalidConsumption, delta.Units, conn.ID)
	}

	// Fast-path duplicate check; the unique constraint on insert is the
	// authoritative guard under concurrency.
	existing, err := m.store.BillForPeriod(ctx, conn.ID, reading.ReadingDate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateBill
	}

	slabs, err := m.store.ActiveSlabs(ctx, conn.Service, conn.Class, reading.ReadingDate)
	if err != nil {
		return nil, err
	}

	calc, err := Price(PricingInput{Units: delta.Units, Slabs: slabs, Rules: rules})
	if err != nil {
		return nil, err
	}

	billDate := reading.ReadingDate
	periodFrom := billDate.Add(-m.cfg.FirstPeriodLookback)
	if prior != nil {
		periodFrom = prior.ReadingDate
	}

	bill := Bill{
		ID:            uuid.NewString(),
		BillNo:        NewBillNo(rules.BillNoPrefix, billDate, conn.ID),
		ConnectionID:  conn.ID,
		BillDate:      billDate,
		PeriodFrom:    periodFrom,
		PeriodTo:      billDate,
		DueDate:       billDate.Add(m.cfg.GracePeriod),
		UnitsConsumed: calc.BilledUnits,
		FixedCharge:   calc.FixedCharge,
		EnergyCharge:  calc.EnergyCharge,
		Surcharge:     calc.SurchargeTotal(),
		TotalAmount:   calc.TotalAmount,
		AmountPaid:    decimal.Zero,
		Status:        BillPending,
		Breakdown:     calc.Breakdown,
		CreatedAt:     m.clock(),
	}

	if err := m.store.InsertBill(ctx, bill); err != nil {
		return nil, err
	}

	m.log.Info("bill generated",
		slog.String("bill_no", bill.BillNo),
		slog.String("connection_id", conn.ID),
		slog.String("total", bill.TotalAmount.String()))

	m.emit(ctx, conn.UserID, bill)
	return &bill, nil
}

// emit publishes the bill-generated event. Publish failure never unwinds the
// bill; the event is parked as a redelivery job instead.
func (m *Manager) emit(ctx context.Context, userID string, bill Bill) {
	ev := BillGeneratedEvent{
		UserID:      userID,
		Kind:        EventBillGenerated,
		BillID:      bill.ID,
		BillNo:      bill.BillNo,
		TotalAmount: bill.TotalAmount,
		DueDate:     bill.DueDate,
	}
	if m.sink == nil {
		return
	}
	if err := m.sink.Publish(ctx, ev); err != nil {
		m.log.Warn("notification publish failed, queueing redelivery",
			slog.String("bill_id", bill.ID), slog.Any("error", err))
		payload, _ := json.Marshal(NotifyPayload{Event: ev})
		job := Job{
			ID:          uuid.NewString(),
			Type:        JobDeliverNotification,
			Payload:     string(payload),
			Status:      JobPending,
			ScheduledAt: m.clock(),
			MaxAttempts: DefaultMaxAttempts,
			CreatedAt:   m.clock(),
			UpdatedAt:   m.clock(),
		}
		if err := m.store.Enqueue(ctx, job); err != nil {
			m.log.Error("failed to queue notification redelivery",
				slog.String("bill_id", bill.ID), slog.Any("error", err))
		}
	}
}

// =============================================================================
// ESTIMATE - Side-effect-free quote sharing the real pricing path
// =============================================================================

// EstimateBill prices a hypothetical consumption against the schedule active
// right now. Uses the exact Price path real billing uses, so a calculator
// quote can never diverge from an invoice.
func (m *Manager) EstimateBill(ctx context.Context, service ServiceType, class LoadClass, units decimal.Decimal) (BillCalculation, error) {
	rules, ok := m.rules[service]
	if !ok {
		return BillCalculation{}, fmt.Errorf("%w: no rules registered for service %s", ErrNoTariffFound, service)
	}
	slabs, err := m.store.ActiveSlabs(ctx, service, class, m.clock())
	if err != nil {
		return BillCalculation{}, err
	}
	return Price(PricingInput{Units: units, Slabs: slabs, Rules: rules})
}

// =============================================================================
// PAYMENT CONFIRMATION - External gateway callback
// =============================================================================

// ConfirmPayment applies an external payment confirmation. The gateway calls
// this exactly once per settled checkout; paying a paid or cancelled bill is
// rejected.
func (m *Manager) ConfirmPayment(ctx context.Context, billID string, amount decimal.Decimal) (*Bill, error) {
	bill, err := m.store.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, ErrBillNotFound
	}
	if !bill.Payable() {
		return nil, fmt.Errorf("%w: bill %s is %s", ErrInvalidStatusTransition, bill.BillNo, bill.Status)
	}
	if err := m.store.UpdateBillPayment(ctx, billID, amount, BillPaid); err != nil {
		return nil, err
	}
	bill.AmountPaid = amount
	bill.Status = BillPaid
	return bill, nil
}

// =============================================================================
// ENQUEUE - Producer side of the durable queue
// =============================================================================

// EnqueueBillGeneration queues a GENERATE_BILLS job. An empty payload means
// "scan all eligible pending readings".
func (m *Manager) EnqueueBillGeneration(ctx context.Context, p GeneratePayload) (*Job, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	job := Job{
		ID:          uuid.NewString(),
		Type:        JobGenerateBills,
		Payload:     string(payload),
		Status:      JobPending,
		ScheduledAt: m.clock(),
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   m.clock(),
		UpdatedAt:   m.clock(),
	}
	if err := m.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Store exposes the backing store to collaborating packages (job handlers,
// API listings) without widening the Manager surface.
func (m *Manager) Store() Store { return m.store }

// Sink exposes the notification sink for the redelivery job handler.
func (m *Manager) Sink() Sink { return m.sink }
