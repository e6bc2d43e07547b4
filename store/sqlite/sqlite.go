/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Implements every persistence interface the billing core needs using one
  SQLite database. In production the same SQL shapes apply to PostgreSQL -
  only minor dialect differences.

KEY TABLES:
  connections:    Metered service points
  tariff_slabs:   Versioned slab schedules (never deleted, only deactivated)
  meter_readings: Immutable accepted readings
  bills:          Bills; payment confirmation is the only mutation
  jobs:           Durable work queue, retained forever for audit

CONSTRAINTS THE CORE DEPENDS ON:
  - UNIQUE (connection_id, period_to) on bills: the idempotency guard for
    bill generation; violations map to billing.ErrDuplicateBill
  - UNIQUE bill_no
  - UNIQUE (connection_id, reading_date) on meter_readings
  - Job claiming is a conditional UPDATE guarded by status, so concurrent
    workers never double-claim

WAL MODE:
  The database opens with WAL for concurrent readers and better crash
  recovery; a sync.RWMutex serializes writers within the process.

DECIMALS:
  Money and unit quantities are stored as decimal strings, never floats,
  so what was billed is exactly what is read back.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool.

SEE ALSO:
  - billing/store.go: Interface definitions and error contract
  - billing/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/gridworks/billing-engine/billing"
)

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		service TEXT NOT NULL,
		load_class TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_connections_user
		ON connections(user_id);

	CREATE TABLE IF NOT EXISTS tariff_slabs (
		id TEXT PRIMARY KEY,
		service TEXT NOT NULL,
		load_class TEXT NOT NULL,
		slab_start TEXT NOT NULL,
		slab_end TEXT,
		rate_per_unit TEXT NOT NULL,
		fixed_charge TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Hot path: ActiveSlabs(service, class, asOf)
	CREATE INDEX IF NOT EXISTS idx_tariff_slabs_lookup
		ON tariff_slabs(service, load_class, active);

	CREATE TABLE IF NOT EXISTS meter_readings (
		id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL,
		value TEXT NOT NULL,
		reading_date TEXT NOT NULL,
		submitted_by TEXT,
		photo_ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_readings_connection_date
		ON meter_readings(connection_id, reading_date);

	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		bill_no TEXT NOT NULL UNIQUE,
		connection_id TEXT NOT NULL,
		bill_date TEXT NOT NULL,
		period_from TEXT NOT NULL,
		period_to TEXT NOT NULL,
		due_date TEXT NOT NULL,
		units_consumed TEXT NOT NULL,
		fixed_charge TEXT NOT NULL,
		energy_charge TEXT NOT NULL,
		surcharge TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'PENDING',
		breakdown_json TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the idempotency guard. Re-running bill generation against
	-- the same reading period hits this constraint, not a second insert.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_connection_period
		ON bills(connection_id, period_to);

	CREATE INDEX IF NOT EXISTS idx_bills_connection
		ON bills(connection_id, bill_date DESC);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'PENDING',
		scheduled_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		claimed_at TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: ClaimNext scans eligible PENDING jobs
	CREATE INDEX IF NOT EXISTS idx_jobs_claim
		ON jobs(status, scheduled_at, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return storeErr("apply schema", err)
	}
	return nil
}

// =============================================================================
// TARIFF STORE
// =============================================================================

// ActiveSlabs returns the slabs active and valid at asOf, sorted ascending.
func (s *Store) ActiveSlabs(ctx context.Context, service billing.ServiceType, class billing.LoadClass, asOf time.Time) ([]billing.TariffSlab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, service, load_class, slab_start, slab_end, rate_per_unit,
		       fixed_charge, valid_from, valid_to, active
		FROM tariff_slabs
		WHERE service = ? AND load_class = ? AND active = 1
		  AND valid_from <= ?
		  AND (valid_to IS NULL OR valid_to >= ?)
		ORDER BY CAST(slab_start AS REAL) ASC
	`
	at := fmtTime(asOf)
	rows, err := s.db.QueryContext(ctx, query, service, class, at, at)
	if err != nil {
		return nil, storeErr("query slabs", err)
	}
	defer rows.Close()

	var slabs []billing.TariffSlab
	for rows.Next() {
		var (
			slab               billing.TariffSlab
			start, rate, fixed string
			end, validTo       sql.NullString
			validFrom          string
			active             bool
		)
		if err := rows.Scan(&slab.ID, &slab.Service, &slab.Class, &start, &end,
			&rate, &fixed, &validFrom, &validTo, &active); err != nil {
			return nil, storeErr("scan slab", err)
		}
		slab.SlabStart = mustParse(start)
		if end.Valid {
			e := mustParse(end.String)
			slab.SlabEnd = &e
		}
		slab.RatePerUnit = mustParse(rate)
		slab.FixedCharge = mustParse(fixed)
		slab.ValidFrom = parseTime(validFrom)
		if validTo.Valid {
			t := parseTime(validTo.String)
			slab.ValidTo = &t
		}
		slab.Active = active
		slabs = append(slabs, slab)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate slabs", err)
	}
	if len(slabs) == 0 {
		return nil, billing.ErrNoTariffFound
	}
	return slabs, nil
}

// SaveSlab inserts a slab row.
func (s *Store) SaveSlab(ctx context.Context, slab billing.TariffSlab) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var end, validTo *string
	if slab.SlabEnd != nil {
		v := slab.SlabEnd.String()
		end = &v
	}
	if slab.ValidTo != nil {
		v := fmtTime(*slab.ValidTo)
		validTo = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tariff_slabs
		(id, service, load_class, slab_start, slab_end, rate_per_unit,
		 fixed_charge, valid_from, valid_to, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		slab.ID, slab.Service, slab.Class, slab.SlabStart.String(), end,
		slab.RatePerUnit.String(), slab.FixedCharge.String(),
		fmtTime(slab.ValidFrom), validTo, slab.Active,
	)
	if err != nil {
		return storeErr("save slab", err)
	}
	return nil
}

// DeactivateSlab marks a slab inactive. Slabs are never deleted.
func (s *Store) DeactivateSlab(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"UPDATE tariff_slabs SET active = 0 WHERE id = ?", id); err != nil {
		return storeErr("deactivate slab", err)
	}
	return nil
}

// =============================================================================
// CONNECTION STORE
// =============================================================================

func (s *Store) GetConnection(ctx context.Context, id string) (*billing.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c         billing.Connection
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, service, load_class, status, created_at
		FROM connections WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Service, &c.Class, &c.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("query connection", err)
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *Store) SaveConnection(ctx context.Context, conn billing.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, user_id, service, load_class, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		conn.ID, conn.UserID, conn.Service, conn.Class, conn.Status, fmtTime(conn.CreatedAt),
	)
	if err != nil {
		return storeErr("save connection", err)
	}
	return nil
}

func (s *Store) ListConnections(ctx context.Context) ([]billing.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, service, load_class, status, created_at
		FROM connections ORDER BY id`)
	if err != nil {
		return nil, storeErr("query connections", err)
	}
	defer rows.Close()

	var out []billing.Connection
	for rows.Next() {
		var (
			c         billing.Connection
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Service, &c.Class, &c.Status, &createdAt); err != nil {
			return nil, storeErr("scan connection", err)
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate connections", err)
	}
	return out, nil
}

// =============================================================================
// READING STORE
// =============================================================================

func (s *Store) InsertReading(ctx context.Context, r billing.MeterReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meter_readings
		(id, connection_id, value, reading_date, submitted_by, photo_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConnectionID, r.Value.String(), fmtTime(r.ReadingDate),
		nullString(r.SubmittedBy), nullString(r.PhotoRef), fmtTime(r.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateReading
		}
		return storeErr("insert reading", err)
	}
	return nil
}

func (s *Store) GetReading(ctx context.Context, id string) (*billing.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOneReading(ctx, `
		SELECT id, connection_id, value, reading_date, submitted_by, photo_ref, created_at
		FROM meter_readings WHERE id = ?`, id)
}

// PriorReading returns the latest reading strictly before the given date.
func (s *Store) PriorReading(ctx context.Context, connectionID string, before time.Time) (*billing.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOneReading(ctx, `
		SELECT id, connection_id, value, reading_date, submitted_by, photo_ref, created_at
		FROM meter_readings
		WHERE connection_id = ? AND reading_date < ?
		ORDER BY reading_date DESC
		LIMIT 1`, connectionID, fmtTime(before))
}

func (s *Store) LatestReading(ctx context.Context, connectionID string) (*billing.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOneReading(ctx, `
		SELECT id, connection_id, value, reading_date, submitted_by, photo_ref, created_at
		FROM meter_readings
		WHERE connection_id = ?
		ORDER BY reading_date DESC
		LIMIT 1`, connectionID)
}

// UnbilledReadings returns readings newer than their connection's last billed
// period, oldest first, so batch generation bills each connection's readings
// in meter order.
func (s *Store) UnbilledReadings(ctx context.Context) ([]billing.MeterReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT r.id, r.connection_id, r.value, r.reading_date, r.submitted_by, r.photo_ref, r.created_at
		FROM meter_readings r
		WHERE r.reading_date > COALESCE(
			(SELECT MAX(b.period_to) FROM bills b WHERE b.connection_id = r.connection_id),
			'')
		ORDER BY r.reading_date ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("query unbilled readings", err)
	}
	defer rows.Close()

	var out []billing.MeterReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate unbilled readings", err)
	}
	return out, nil
}

func (s *Store) queryOneReading(ctx context.Context, query string, args ...any) (*billing.MeterReading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query reading", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storeErr("query reading", err)
		}
		return nil, nil
	}
	r, err := scanReading(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReading(rows *sql.Rows) (billing.MeterReading, error) {
	var (
		r                     billing.MeterReading
		value, readingDate    string
		submittedBy, photoRef sql.NullString
		createdAt             string
	)
	if err := rows.Scan(&r.ID, &r.ConnectionID, &value, &readingDate,
		&submittedBy, &photoRef, &createdAt); err != nil {
		return r, storeErr("scan reading", err)
	}
	r.Value = mustParse(value)
	r.ReadingDate = parseTime(readingDate)
	r.SubmittedBy = submittedBy.String
	r.PhotoRef = photoRef.String
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// =============================================================================
// BILL STORE
// =============================================================================

func (s *Store) InsertBill(ctx context.Context, b billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	breakdown, err := json.Marshal(b.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bills
		(id, bill_no, connection_id, bill_date, period_from, period_to, due_date,
		 units_consumed, fixed_charge, energy_charge, surcharge, total_amount,
		 amount_paid, status, breakdown_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.BillNo, b.ConnectionID, fmtTime(b.BillDate), fmtTime(b.PeriodFrom),
		fmtTime(b.PeriodTo), fmtTime(b.DueDate), b.UnitsConsumed.String(),
		b.FixedCharge.String(), b.EnergyCharge.String(), b.Surcharge.String(),
		b.TotalAmount.String(), b.AmountPaid.String(), b.Status,
		string(breakdown), fmtTime(b.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return billing.ErrDuplicateBill
		}
		return storeErr("insert bill", err)
	}
	return nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOneBill(ctx, billSelect+" WHERE id = ?", id)
}

func (s *Store) BillForPeriod(ctx context.Context, connectionID string, periodTo time.Time) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOneBill(ctx, billSelect+" WHERE connection_id = ? AND period_to = ?",
		connectionID, fmtTime(periodTo))
}

func (s *Store) ListBills(ctx context.Context, connectionID string) ([]billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		billSelect+" WHERE connection_id = ? ORDER BY bill_date DESC", connectionID)
	if err != nil {
		return nil, storeErr("query bills", err)
	}
	defer rows.Close()

	var out []billing.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate bills", err)
	}
	return out, nil
}

// UpdateBillPayment records payment. This is the only UPDATE bills ever see;
// everything else about a bill is immutable once generated.
func (s *Store) UpdateBillPayment(ctx context.Context, id string, amountPaid decimal.Decimal, status billing.BillStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE bills SET amount_paid = ?, status = ? WHERE id = ?",
		amountPaid.String(), status, id)
	if err != nil {
		return storeErr("update bill payment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrBillNotFound
	}
	return nil
}

const billSelect = `
	SELECT id, bill_no, connection_id, bill_date, period_from, period_to, due_date,
	       units_consumed, fixed_charge, energy_charge, surcharge, total_amount,
	       amount_paid, status, breakdown_json, created_at
	FROM bills`

func (s *Store) queryOneBill(ctx context.Context, query string, args ...any) (*billing.Bill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query bill", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storeErr("query bill", err)
		}
		return nil, nil
	}
	b, err := scanBill(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBill(rows *sql.Rows) (billing.Bill, error) {
	var (
		b                                            billing.Bill
		billDate, periodFrom, periodTo, dueDate      string
		units, fixed, energy, surcharge, total, paid string
		breakdownJSON                                sql.NullString
		createdAt                                    string
	)
	if err := rows.Scan(&b.ID, &b.BillNo, &b.ConnectionID, &billDate, &periodFrom,
		&periodTo, &dueDate, &units, &fixed, &energy, &surcharge, &total,
		&paid, &b.Status, &breakdownJSON, &createdAt); err != nil {
		return b, storeErr("scan bill", err)
	}
	b.BillDate = parseTime(billDate)
	b.PeriodFrom = parseTime(periodFrom)
	b.PeriodTo = parseTime(periodTo)
	b.DueDate = parseTime(dueDate)
	b.UnitsConsumed = mustParse(units)
	b.FixedCharge = mustParse(fixed)
	b.EnergyCharge = mustParse(energy)
	b.Surcharge = mustParse(surcharge)
	b.TotalAmount = mustParse(total)
	b.AmountPaid = mustParse(paid)
	b.CreatedAt = parseTime(createdAt)
	if breakdownJSON.Valid && breakdownJSON.String != "" {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &b.Breakdown); err != nil {
			return b, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
	}
	return b, nil
}

// =============================================================================
// JOB STORE
// =============================================================================

func (s *Store) Enqueue(ctx context.Context, j billing.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.MaxAttempts <= 0 {
		j.MaxAttempts = billing.DefaultMaxAttempts
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs
		(id, type, payload, status, scheduled_at, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, j.Payload, billing.JobPending, fmtTime(j.ScheduledAt),
		j.Attempts, j.MaxAttempts, fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt),
	)
	if err != nil {
		return storeErr("enqueue job", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*billing.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOneJob(ctx, jobSelect+" WHERE id = ?", id)
}

// ClaimNext hands the oldest eligible PENDING job to exactly one caller.
// The UPDATE is guarded by status, so if another worker claims the candidate
// between select and update, zero rows change and we pick again.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (*billing.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		var id string
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE status = ? AND scheduled_at <= ? AND attempts < max_attempts
			ORDER BY created_at ASC, id ASC
			LIMIT 1`,
			billing.JobPending, fmtTime(now),
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, storeErr("select claimable job", err)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = ?, attempts = attempts + 1,
			    claimed_at = ?, started_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			billing.JobProcessing, fmtTime(now), fmtTime(now), fmtTime(now),
			id, billing.JobPending,
		)
		if err != nil {
			return nil, storeErr("claim job", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // lost the race to another worker, pick again
		}
		return s.queryOneJob(ctx, jobSelect+" WHERE id = ?", id)
	}
}

func (s *Store) CompleteJob(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		billing.JobCompleted, fmtTime(at), fmtTime(at), id, billing.JobProcessing)
	if err != nil {
		return storeErr("complete job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrJobNotFound
	}
	return nil
}

func (s *Store) RequeueJob(ctx context.Context, id string, errMsg string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = ?, scheduled_at = ?,
		       claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		billing.JobPending, errMsg, fmtTime(runAt), fmtTime(runAt),
		id, billing.JobProcessing)
	if err != nil {
		return storeErr("requeue job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrJobNotFound
	}
	return nil
}

func (s *Store) MarkJobFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		billing.JobFailed, errMsg, fmtTime(at), fmtTime(at), id)
	if err != nil {
		return storeErr("fail job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrJobNotFound
	}
	return nil
}

// ReapStale requeues PROCESSING jobs claimed before the cutoff. Attempts
// incremented at claim time are kept, so a job that repeatedly crashes its
// worker still exhausts its budget.
func (s *Store) ReapStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, claimed_at = NULL, updated_at = ?
		WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?`,
		billing.JobPending, fmtTime(claimedBefore), billing.JobProcessing,
		fmtTime(claimedBefore))
	if err != nil {
		return 0, storeErr("reap stale jobs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]billing.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		jobSelect+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, storeErr("query jobs", err)
	}
	defer rows.Close()

	var out []billing.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate jobs", err)
	}
	return out, nil
}

const jobSelect = `
	SELECT id, type, payload, status, scheduled_at, attempts, max_attempts,
	       last_error, claimed_at, started_at, completed_at, created_at, updated_at
	FROM jobs`

func (s *Store) queryOneJob(ctx context.Context, query string, args ...any) (*billing.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query job", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, storeErr("query job", err)
		}
		return nil, nil
	}
	j, err := scanJob(rows)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJob(rows *sql.Rows) (billing.Job, error) {
	var (
		j                                 billing.Job
		scheduledAt, createdAt, updatedAt string
		lastError                         sql.NullString
		claimedAt, startedAt, completedAt sql.NullString
	)
	if err := rows.Scan(&j.ID, &j.Type, &j.Payload, &j.Status, &scheduledAt,
		&j.Attempts, &j.MaxAttempts, &lastError, &claimedAt, &startedAt,
		&completedAt, &createdAt, &updatedAt); err != nil {
		return j, storeErr("scan job", err)
	}
	j.ScheduledAt = parseTime(scheduledAt)
	j.LastError = lastError.String
	j.ClaimedAt = nullTime(claimedAt)
	j.StartedAt = nullTime(startedAt)
	j.CompletedAt = nullTime(completedAt)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return j, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// storeErr classifies a driver-level fault as a retryable transient
// (billing.IsRetryable). Constraint violations and not-found results are
// mapped to their sentinels before reaching it.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", billing.ErrStoreUnavailable, op, err)
}

// timeLayout is fixed-width so that the TEXT columns compare lexically in
// chronological order. RFC3339Nano would trim trailing fractional zeros,
// making "...05.12Z" sort after "...05.123Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
