/*
job.go - Durable deferred-work records

PURPOSE:
  A Job is one unit of deferred work (bulk bill generation, notification
  redelivery) persisted in the relational store so it survives restarts and
  can be shared by multiple worker processes. Jobs are retained forever:
  a terminal FAILED job keeps its error message for operator inspection.

STATUS MACHINE:
  PENDING -> PROCESSING -> COMPLETED
                        -> PENDING    (retry, attempts < maxAttempts,
                                       scheduledAt pushed by exponential backoff)
                        -> FAILED     (terminal, attempts == maxAttempts)

CLAIMING:
  Workers claim with a single conditional UPDATE (see store/sqlite), so a job
  is handed to at most one worker even with concurrent pollers. claimed_at
  lets the reaper requeue jobs orphaned by a crashed worker.

SEE ALSO:
  - jobs/runner.go: The polling worker loop
  - store/sqlite: ClaimNext / Fail / ReapStale
*/
package billing

import (
	"time"
)

// =============================================================================
// JOB STATUS
// =============================================================================

type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// =============================================================================
// JOB TYPES
// =============================================================================

type JobType string

const (
	// JobGenerateBills prices and persists bills for one reading, one
	// connection, or all eligible pending readings (see jobs.GeneratePayload).
	JobGenerateBills JobType = "GENERATE_BILLS"

	// JobDeliverNotification redelivers a bill-generated event that failed
	// its inline publish.
	JobDeliverNotification JobType = "DELIVER_NOTIFICATION"
)

// DefaultMaxAttempts bounds retries for jobs that don't specify their own.
const DefaultMaxAttempts = 3

// =============================================================================
// JOB
// =============================================================================

type Job struct {
	ID          string
	Type        JobType
	Payload     string // JSON, schema owned by the handler for Type
	Status      JobStatus
	ScheduledAt time.Time
	Attempts    int
	MaxAttempts int
	LastError   string
	ClaimedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exhausted reports whether the retry budget is spent.
func (j Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// RetryDelay returns the exponential backoff before the next attempt:
// base, 2*base, 4*base, ... capped at max. attempts is the count already
// made, so the first retry waits one base interval.
func RetryDelay(attempts int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
