// Package store provides billing.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gridworks/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.Store with maps. Claim/insert semantics match the
// SQLite store: duplicate bills surface as billing.ErrDuplicateBill and job
// claiming is atomic under the store mutex.
type Memory struct {
	mu          sync.Mutex
	slabs       []billing.TariffSlab
	connections map[string]billing.Connection
	readings    map[string]billing.MeterReading
	bills       map[string]billing.Bill
	jobs        map[string]billing.Job
}

func NewMemory() *Memory {
	return &Memory{
		connections: make(map[string]billing.Connection),
		readings:    make(map[string]billing.MeterReading),
		bills:       make(map[string]billing.Bill),
		jobs:        make(map[string]billing.Job),
	}
}

// =============================================================================
// TARIFF STORE
// =============================================================================

func (m *Memory) ActiveSlabs(_ context.Context, service billing.ServiceType, class billing.LoadClass, asOf time.Time) ([]billing.TariffSlab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.TariffSlab
	for _, s := range m.slabs {
		if s.Service == service && s.Class == class && s.CoversAt(asOf) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, billing.ErrNoTariffFound
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SlabStart.LessThan(out[j].SlabStart)
	})
	return out, nil
}

func (m *Memory) SaveSlab(_ context.Context, slab billing.TariffSlab) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slabs = append(m.slabs, slab)
	return nil
}

func (m *Memory) DeactivateSlab(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slabs {
		if m.slabs[i].ID == id {
			m.slabs[i].Active = false
		}
	}
	return nil
}

// =============================================================================
// CONNECTION STORE
// =============================================================================

func (m *Memory) GetConnection(_ context.Context, id string) (*billing.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) SaveConnection(_ context.Context, conn billing.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ID] = conn
	return nil
}

func (m *Memory) ListConnections(_ context.Context) ([]billing.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]billing.Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// READING STORE
// =============================================================================

func (m *Memory) InsertReading(_ context.Context, r billing.MeterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.readings {
		if existing.ConnectionID == r.ConnectionID && existing.ReadingDate.Equal(r.ReadingDate) {
			return billing.ErrDuplicateReading
		}
	}
	m.readings[r.ID] = r
	return nil
}

func (m *Memory) GetReading(_ context.Context, id string) (*billing.MeterReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.readings[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *Memory) PriorReading(_ context.Context, connectionID string, before time.Time) (*billing.MeterReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prior *billing.MeterReading
	for _, r := range m.readings {
		r := r
		if r.ConnectionID != connectionID || !r.ReadingDate.Before(before) {
			continue
		}
		if prior == nil || r.ReadingDate.After(prior.ReadingDate) {
			prior = &r
		}
	}
	return prior, nil
}

func (m *Memory) LatestReading(_ context.Context, connectionID string) (*billing.MeterReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *billing.MeterReading
	for _, r := range m.readings {
		r := r
		if r.ConnectionID != connectionID {
			continue
		}
		if latest == nil || r.ReadingDate.After(latest.ReadingDate) {
			latest = &r
		}
	}
	return latest, nil
}

func (m *Memory) UnbilledReadings(_ context.Context) ([]billing.MeterReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastBilled := make(map[string]time.Time)
	for _, b := range m.bills {
		if t, ok := lastBilled[b.ConnectionID]; !ok || b.PeriodTo.After(t) {
			lastBilled[b.ConnectionID] = b.PeriodTo
		}
	}

	var out []billing.MeterReading
	for _, r := range m.readings {
		if t, ok := lastBilled[r.ConnectionID]; ok && !r.ReadingDate.After(t) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReadingDate.Before(out[j].ReadingDate) })
	return out, nil
}

// =============================================================================
// BILL STORE
// =============================================================================

func (m *Memory) InsertBill(_ context.Context, b billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bills {
		if existing.BillNo == b.BillNo {
			return billing.ErrDuplicateBill
		}
		if existing.ConnectionID == b.ConnectionID && existing.PeriodTo.Equal(b.PeriodTo) {
			return billing.ErrDuplicateBill
		}
	}
	m.bills[b.ID] = b
	return nil
}

func (m *Memory) GetBill(_ context.Context, id string) (*billing.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bills[id]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Memory) BillForPeriod(_ context.Context, connectionID string, periodTo time.Time) (*billing.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if b.ConnectionID == connectionID && b.PeriodTo.Equal(periodTo) {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListBills(_ context.Context, connectionID string) ([]billing.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.Bill
	for _, b := range m.bills {
		if b.ConnectionID == connectionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BillDate.After(out[j].BillDate) })
	return out, nil
}

func (m *Memory) UpdateBillPayment(_ context.Context, id string, amountPaid decimal.Decimal, status billing.BillStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return billing.ErrBillNotFound
	}
	b.AmountPaid = amountPaid
	b.Status = status
	m.bills[id] = b
	return nil
}

// =============================================================================
// JOB STORE
// =============================================================================

func (m *Memory) Enqueue(_ context.Context, j billing.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = billing.DefaultMaxAttempts
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*billing.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return &j, nil
	}
	return nil, nil
}

func (m *Memory) ClaimNext(_ context.Context, now time.Time) (*billing.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *billing.Job
	for id := range m.jobs {
		j := m.jobs[id]
		if j.Status != billing.JobPending || j.ScheduledAt.After(now) || j.Attempts >= j.MaxAttempts {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			j := j
			oldest = &j
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Status = billing.JobProcessing
	oldest.Attempts++
	claimed := now
	oldest.ClaimedAt = &claimed
	oldest.StartedAt = &claimed
	oldest.UpdatedAt = now
	m.jobs[oldest.ID] = *oldest
	return oldest, nil
}

func (m *Memory) CompleteJob(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return billing.ErrJobNotFound
	}
	j.Status = billing.JobCompleted
	j.CompletedAt = &at
	j.UpdatedAt = at
	m.jobs[id] = j
	return nil
}

func (m *Memory) RequeueJob(_ context.Context, id string, errMsg string, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return billing.ErrJobNotFound
	}
	j.Status = billing.JobPending
	j.LastError = errMsg
	j.ScheduledAt = runAt
	j.ClaimedAt = nil
	j.UpdatedAt = runAt
	m.jobs[id] = j
	return nil
}

func (m *Memory) MarkJobFailed(_ context.Context, id string, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return billing.ErrJobNotFound
	}
	j.Status = billing.JobFailed
	j.LastError = errMsg
	j.CompletedAt = &at
	j.UpdatedAt = at
	m.jobs[id] = j
	return nil
}

func (m *Memory) ReapStale(_ context.Context, claimedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.Status == billing.JobProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			j.Status = billing.JobPending
			j.ClaimedAt = nil
			m.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListJobs(_ context.Context, limit int) ([]billing.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]billing.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
