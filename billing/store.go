/*
store.go - Persistence interfaces for the billing core

PURPOSE:
  Defines the contract between the billing logic and the relational store.
  The core needs a transactional store with three hard guarantees:

    1. UNIQUE (connection_id, period_to) on bills - the idempotency guard
       for re-running bill generation against the same reading
    2. UNIQUE bill_no
    3. Atomic job claiming - a conditional update guarded by status, so a
       job is handed to at most one worker under concurrent polling

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (same SQL shape applies to PostgreSQL)
  - billing/store/memory: In-memory for engine and runner tests

ERROR MAPPING:
  Implementations translate constraint violations into the typed errors in
  errors.go (ErrDuplicateBill, ErrDuplicateReading) rather than leaking
  driver errors; the lifecycle manager branches on errors.Is.

SEE ALSO:
  - lifecycle.go: The only writer of readings and bills
  - jobs/runner.go: The only mutator of claimed jobs
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TARIFF STORE
// =============================================================================

// TariffStore reads and administers slab schedules. Readers take no locks;
// writes are an administrative side channel.
type TariffStore interface {
	// ActiveSlabs returns the slabs for (service, class) that are active and
	// valid at asOf, sorted by SlabStart ascending. An empty schedule is
	// reported as ErrNoTariffFound: misconfiguration, not a transient fault.
	ActiveSlabs(ctx context.Context, service ServiceType, class LoadClass, asOf time.Time) ([]TariffSlab, error)

	// SaveSlab inserts a slab row (administrative).
	SaveSlab(ctx context.Context, slab TariffSlab) error

	// DeactivateSlab marks a slab inactive (administrative). Slabs are never
	// deleted; historical bills must stay explicable.
	DeactivateSlab(ctx context.Context, id string) error
}

// =============================================================================
// CONNECTION STORE
// =============================================================================

type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*Connection, error)
	SaveConnection(ctx context.Context, conn Connection) error
	ListConnections(ctx context.Context) ([]Connection, error)
}

// =============================================================================
// READING STORE
// =============================================================================

type ReadingStore interface {
	// InsertReading persists an accepted reading. Returns ErrDuplicateReading
	// if the connection already has a reading for that date.
	InsertReading(ctx context.Context, r MeterReading) error

	GetReading(ctx context.Context, id string) (*MeterReading, error)

	// PriorReading returns the latest reading for the connection strictly
	// before the given date, or nil if none exists.
	PriorReading(ctx context.Context, connectionID string, before time.Time) (*MeterReading, error)

	// LatestReading returns the connection's most recent reading, or nil.
	LatestReading(ctx context.Context, connectionID string) (*MeterReading, error)

	// UnbilledReadings returns readings not yet covered by a bill
	// (reading_date later than the connection's last bill period), oldest
	// first per connection. Feeds the scan-all bulk generation path.
	UnbilledReadings(ctx context.Context) ([]MeterReading, error)
}

// =============================================================================
// BILL STORE
// =============================================================================

type BillStore interface {
	// InsertBill persists a new bill. A violated (connection_id, period_to)
	// or bill_no constraint surfaces as ErrDuplicateBill.
	InsertBill(ctx context.Context, b Bill) error

	GetBill(ctx context.Context, id string) (*Bill, error)

	// BillForPeriod returns the bill covering (connectionID, periodTo),
	// or nil if none exists.
	BillForPeriod(ctx context.Context, connectionID string, periodTo time.Time) (*Bill, error)

	// ListBills returns a connection's bills, newest first.
	ListBills(ctx context.Context, connectionID string) ([]Bill, error)

	// UpdateBillPayment applies a payment confirmation. The only mutation a
	// bill ever sees.
	UpdateBillPayment(ctx context.Context, id string, amountPaid decimal.Decimal, status BillStatus) error
}

// =============================================================================
// JOB STORE
// =============================================================================

// JobStore is the durable work queue. Jobs are retained indefinitely for
// audit; no method deletes.
type JobStore interface {
	// Enqueue persists a new PENDING job.
	Enqueue(ctx context.Context, j Job) error

	GetJob(ctx context.Context, id string) (*Job, error)

	// ClaimNext atomically claims the oldest PENDING job with
	// scheduled_at <= now and attempts < max_attempts: transitions it to
	// PROCESSING, stamps claimed_at, increments attempts, and returns it.
	// Returns (nil, nil) when no job is eligible.
	ClaimNext(ctx context.Context, now time.Time) (*Job, error)

	// CompleteJob transitions a PROCESSING job to terminal COMPLETED.
	CompleteJob(ctx context.Context, id string, at time.Time) error

	// RequeueJob returns a PROCESSING job to PENDING for another attempt,
	// recording the error and the backoff-adjusted next run time.
	RequeueJob(ctx context.Context, id string, errMsg string, runAt time.Time) error

	// MarkJobFailed transitions a job to terminal FAILED, retaining the error
	// message for operator inspection.
	MarkJobFailed(ctx context.Context, id string, errMsg string, at time.Time) error

	// ReapStale requeues PROCESSING jobs claimed before the cutoff (crashed
	// worker recovery). Returns the number of jobs requeued.
	ReapStale(ctx context.Context, claimedBefore time.Time) (int, error)

	// ListJobs returns the most recent jobs for inspection, newest first.
	ListJobs(ctx context.Context, limit int) ([]Job, error)
}

// =============================================================================
// STORE - The full surface the lifecycle manager is wired with
// =============================================================================

// Store aggregates the persistence interfaces a deployment provides from a
// single backing database.
type Store interface {
	TariffStore
	ConnectionStore
	ReadingStore
	BillStore
	JobStore
}
