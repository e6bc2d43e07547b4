/*
handlers.go - Job handlers for the billing queue

PURPOSE:
  Binds job types to the lifecycle manager. The GENERATE_BILLS handler is the
  asynchronous twin of the synchronous submission path - same generation code,
  just driven from the queue in one of three scopes (one reading, one
  connection, or a full scan).

SEE ALSO:
  - runner.go: How handler outcomes map onto job states
  - billing/lifecycle.go: GeneratePayload / NotifyPayload schemas
*/
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gridworks/billing-engine/billing"
	"github.com/gridworks/billing-engine/metrics"
)

// ErrBadPayload marks a job whose payload cannot be decoded. Terminal:
// retrying can never fix a malformed payload.
var ErrBadPayload = errors.New("malformed job payload")

// RegisterBillingHandlers installs the standard handler set on a runner.
func RegisterBillingHandlers(r *Runner, m *billing.Manager, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "job-handlers"))
	r.Register(billing.JobGenerateBills, GenerateBillsHandler(m, log))
	r.Register(billing.JobDeliverNotification, DeliverNotificationHandler(m))
}

// GenerateBillsHandler bills one reading, one connection's latest reading, or
// every eligible pending reading depending on the payload.
func GenerateBillsHandler(m *billing.Manager, log *slog.Logger) Handler {
	return func(ctx context.Context, job billing.Job) error {
		var p billing.GeneratePayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}

		switch {
		case p.ReadingID != "":
			_, err := m.GenerateBill(ctx, p.ReadingID)
			if err == nil {
				metrics.BillsGenerated.Inc()
			}
			return err

		case p.ConnectionID != "":
			reading, err := m.Store().LatestReading(ctx, p.ConnectionID)
			if err != nil {
				return err
			}
			if reading == nil {
				return nil // nothing to bill
			}
			_, err = m.GenerateBill(ctx, reading.ID)
			if err == nil {
				metrics.BillsGenerated.Inc()
			}
			return err

		default:
			return generateAll(ctx, m, log)
		}
	}
}

// generateAll scans every unbilled reading. Business outcomes that produce no
// bill (first reading, zero delta, already billed) are skipped; the first
// transient fault aborts the scan so the job retries from where it left off -
// already-billed readings are no-ops on the next pass.
func generateAll(ctx context.Context, m *billing.Manager, log *slog.Logger) error {
	readings, err := m.Store().UnbilledReadings(ctx)
	if err != nil {
		return err
	}

	billed, skipped := 0, 0
	for _, reading := range readings {
		_, err := m.GenerateBill(ctx, reading.ID)
		switch {
		case err == nil:
			metrics.BillsGenerated.Inc()
			billed++
		case billing.IsClientError(err), errors.Is(err, billing.ErrNoTariffFound):
			skipped++
		default:
			return err
		}
	}

	log.Info("bulk generation pass finished",
		slog.Int("billed", billed), slog.Int("skipped", skipped))
	return nil
}

// DeliverNotificationHandler republishes an event whose inline publish failed.
func DeliverNotificationHandler(m *billing.Manager) Handler {
	return func(ctx context.Context, job billing.Job) error {
		var p billing.NotifyPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		sink := m.Sink()
		if sink == nil {
			return nil
		}
		return sink.Publish(ctx, p.Event)
	}
}
