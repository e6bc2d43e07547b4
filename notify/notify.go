/*
Package notify provides billing.Sink implementations.

The core emits BillGeneratedEvent and is done; delivery, localization, and
fan-out to SMS/email belong to the notification collaborator consuming the
topic. The Kafka sink is the production transport; the Memory sink backs
tests.
*/
package notify

import (
	"context"
	"sync"

	"github.com/gridworks/billing-engine/billing"
)

// =============================================================================
// MEMORY SINK - For tests and single-process development
// =============================================================================

// Memory records published events. FailNext forces the next n publishes to
// fail so tests can exercise the redelivery path.
type Memory struct {
	mu       sync.Mutex
	events   []billing.BillGeneratedEvent
	failNext int
	err      error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, ev billing.BillGeneratedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []billing.BillGeneratedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]billing.BillGeneratedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// FailNext makes the next n publishes return err.
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.err = err
}

var _ billing.Sink = (*Memory)(nil)
