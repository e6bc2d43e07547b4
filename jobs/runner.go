/*
Package jobs runs the durable work queue.

PURPOSE:
  A Runner is one polling worker: it claims due jobs from the shared store,
  dispatches them to registered handlers, and routes outcomes back into the
  job state machine. Multiple Runner processes may poll the same database;
  the store's conditional-update claim guarantees at-most-one-worker-per-job.

DESIGN:
  - Fixed-interval polling (default 5s), no busy-spin; each tick drains
    every currently-eligible job before sleeping again
  - Panic in a handler is a normal failure path: recovered, recorded,
    routed to the retry/fail logic - never left PROCESSING forever
  - Exponential backoff on requeue (base, 2x, 4x... capped)
  - A reaper requeues jobs stuck in PROCESSING past a threshold, so a
    crashed worker's claims are recovered
  - Graceful Stop: stop claiming, let the in-flight job finish

FAILURE ROUTING:
  Business-rule violations retry uselessly, so they terminate immediately:
  ErrDuplicateBill completes the job (the work already happened), other
  client/config errors fail it. Only transient faults consume retry budget.

SEE ALSO:
  - handlers.go: The GENERATE_BILLS and DELIVER_NOTIFICATION handlers
  - billing/job.go: Job states and backoff arithmetic
*/
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridworks/billing-engine/billing"
	"github.com/gridworks/billing-engine/metrics"
)

// Handler executes one claimed job. A returned error (or panic) is routed
// through the retry/fail state machine.
type Handler func(ctx context.Context, job billing.Job) error

// Runner is a single polling worker loop.
type Runner struct {
	Store        billing.JobStore
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	StaleAfter   time.Duration

	log      *slog.Logger
	clock    func() time.Time
	handlers map[billing.JobType]Handler

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a worker with production defaults.
func NewRunner(store billing.JobStore, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		Store:        store,
		PollInterval: 5 * time.Second,
		BackoffBase:  30 * time.Second,
		BackoffMax:   15 * time.Minute,
		StaleAfter:   10 * time.Minute,
		log:          log.With(slog.String("component", "job-runner")),
		clock:        time.Now,
		handlers:     make(map[billing.JobType]Handler),
	}
}

// SetClock overrides the time source. Tests only.
func (r *Runner) SetClock(clock func() time.Time) { r.clock = clock }

// Register installs the handler for a job type. Not safe to call after Start.
func (r *Runner) Register(t billing.JobType, h Handler) {
	r.handlers[t] = h
}

// Start begins the polling loop.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.PollInterval)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.run(r.ticker, r.stop)

	r.log.Info("worker started", slog.Duration("poll_interval", r.PollInterval))
}

// Stop halts claiming and waits for the in-flight job to finish.
// The mutex is released before waiting: the worker goroutine checks the stop
// channel between jobs, and that check must not contend with the wait or the
// two deadlock.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.ticker == nil {
		r.mu.Unlock()
		return
	}
	r.ticker.Stop()
	r.ticker = nil
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("worker stopped")
}

func (r *Runner) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer r.wg.Done()

	ctx := context.Background()

	// Drain immediately on start, then on every tick.
	r.tick(ctx)
	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-stop:
			return
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if n, err := r.Store.ReapStale(ctx, r.clock().Add(-r.StaleAfter)); err != nil {
		r.log.Error("reaper failed", slog.Any("error", err))
	} else if n > 0 {
		r.log.Warn("requeued stale jobs", slog.Int("count", n))
		metrics.JobsReaped.Add(float64(n))
	}
	r.RunOnce(ctx)
}

// RunOnce claims and executes jobs until the queue has nothing due.
// Returns the number of jobs executed. Exported for tests and for the
// admin "drain now" path.
func (r *Runner) RunOnce(ctx context.Context) int {
	processed := 0
	for {
		select {
		case <-r.stopped():
			return processed
		default:
		}

		job, err := r.Store.ClaimNext(ctx, r.clock())
		if err != nil {
			r.log.Error("claim failed", slog.Any("error", err))
			return processed
		}
		if job == nil {
			return processed
		}
		r.execute(ctx, *job)
		processed++
	}
}

// stopped returns the stop channel, or a never-closing one when the runner
// is driven manually via RunOnce.
func (r *Runner) stopped() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return make(chan struct{})
	}
	return r.stop
}

func (r *Runner) execute(ctx context.Context, job billing.Job) {
	start := r.clock()
	err := r.invoke(ctx, job)
	elapsed := r.clock().Sub(start)

	switch {
	case err == nil:
		if cErr := r.Store.CompleteJob(ctx, job.ID, r.clock()); cErr != nil {
			r.log.Error("failed to complete job", slog.String("job_id", job.ID), slog.Any("error", cErr))
			return
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
		r.log.Info("job completed",
			slog.String("job_id", job.ID), slog.String("type", string(job.Type)),
			slog.Int("attempt", job.Attempts), slog.Duration("elapsed", elapsed))

	case errors.Is(err, billing.ErrDuplicateBill):
		// The work this job wanted already happened; that's success for an
		// idempotent re-run.
		if cErr := r.Store.CompleteJob(ctx, job.ID, r.clock()); cErr != nil {
			r.log.Error("failed to complete job", slog.String("job_id", job.ID), slog.Any("error", cErr))
			return
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
		r.log.Info("job completed (already done)", slog.String("job_id", job.ID))

	case billing.IsClientError(err), billing.IsNotFound(err),
		errors.Is(err, billing.ErrNoTariffFound), errors.Is(err, errNoHandler),
		errors.Is(err, ErrBadPayload):
		// Retrying identical input fails identically. Terminal, inspectable.
		if fErr := r.Store.MarkJobFailed(ctx, job.ID, err.Error(), r.clock()); fErr != nil {
			r.log.Error("failed to fail job", slog.String("job_id", job.ID), slog.Any("error", fErr))
			return
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		r.log.Warn("job failed (non-retryable)",
			slog.String("job_id", job.ID), slog.Any("error", err))

	case job.Exhausted():
		if fErr := r.Store.MarkJobFailed(ctx, job.ID, err.Error(), r.clock()); fErr != nil {
			r.log.Error("failed to fail job", slog.String("job_id", job.ID), slog.Any("error", fErr))
			return
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		r.log.Error("job failed (retries exhausted)",
			slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts), slog.Any("error", err))

	default:
		delay := billing.RetryDelay(job.Attempts, r.BackoffBase, r.BackoffMax)
		runAt := r.clock().Add(delay)
		if rErr := r.Store.RequeueJob(ctx, job.ID, err.Error(), runAt); rErr != nil {
			r.log.Error("failed to requeue job", slog.String("job_id", job.ID), slog.Any("error", rErr))
			return
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "retried").Inc()
		r.log.Warn("job requeued",
			slog.String("job_id", job.ID), slog.Int("attempt", job.Attempts),
			slog.Duration("backoff", delay), slog.Any("error", err))
	}
}

// errNoHandler marks a job type with no registered handler: a deployment
// mistake, terminal rather than retried.
var errNoHandler = errors.New("no handler registered")

// invoke dispatches to the registered handler, converting panics into errors
// so a crashing handler never strands a job in PROCESSING.
func (r *Runner) invoke(ctx context.Context, job billing.Job) (err error) {
	handler, ok := r.handlers[job.Type]
	if !ok {
		return fmt.Errorf("%w for job type %s", errNoHandler, job.Type)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()

	return handler(ctx, job)
}
