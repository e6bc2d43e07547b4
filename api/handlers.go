/*
handlers.go - HTTP API handlers for the utility billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the lifecycle manager.

ENDPOINTS:
  Readings:
    POST   /api/connections/{id}/readings  Submit a meter reading

  Bills:
    GET    /api/connections/{id}/bills     Bill history
    GET    /api/bills/{id}                 Bill with slab breakdown
    POST   /api/bills/{id}/payment         Payment gateway callback

  Estimates:
    POST   /api/estimate                   Itemized what-if quote

  Admin:
    POST   /api/admin/connections          Register a connection
    GET    /api/admin/connections          List connections
    POST   /api/admin/generate             Enqueue bill generation
    POST   /api/admin/tariffs              Add a tariff slab
    DELETE /api/admin/tariffs/{id}         Deactivate a slab
    GET    /api/admin/jobs                 Recent jobs
    GET    /api/admin/jobs/{id}            Job detail

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (lifecycle manager, store)
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input
  - 404: Resource not found
  - 409: Conflict (duplicate bill, non-payable bill)
  - 422: Business rule rejection (non-monotonic reading)
  - 503: Storage or downstream unavailable; clients may retry

SECURITY NOTE:
  Authentication and connection ownership checks happen upstream at the
  portal gateway. This service receives already-resolved connection IDs.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - billing/lifecycle.go: The orchestration the handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridworks/billing-engine/billing"
	"github.com/gridworks/billing-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Manager *billing.Manager
	Log     *slog.Logger
}

// NewHandler creates a handler around the lifecycle manager.
func NewHandler(m *billing.Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Manager: m, Log: log.With(slog.String("component", "api"))}
}

func (h *Handler) store() billing.Store { return h.Manager.Store() }

// =============================================================================
// READING HANDLERS
// =============================================================================

// SubmitReading accepts a citizen meter reading and attempts inline billing.
// POST /api/connections/{id}/readings
func (h *Handler) SubmitReading(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "id")

	var req SubmitReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reading value (use a decimal string)", err)
		return
	}

	reading, bill, err := h.Manager.SubmitReading(r.Context(), connectionID, value, req.PhotoRef, req.SubmittedBy)
	if err != nil {
		var nonMono *billing.NonMonotonicError
		switch {
		case errors.As(err, &nonMono):
			metrics.ReadingsRejected.Inc()
			writeError(w, http.StatusUnprocessableEntity,
				"Reading is lower than the previous reading; meters only move forward. Check the meter and resubmit.", err)
		case errors.Is(err, billing.ErrConnectionNotFound):
			writeError(w, http.StatusNotFound, "Connection not found", nil)
		case errors.Is(err, billing.ErrDuplicateReading):
			writeError(w, http.StatusConflict, "A reading for this connection and date already exists", err)
		case errors.Is(err, billing.ErrNoTariffFound):
			writeError(w, http.StatusInternalServerError, "No tariff configured for this connection", err)
		case billing.IsRetryable(err):
			writeError(w, http.StatusServiceUnavailable, "Temporarily unable to process the reading, please retry", nil)
		default:
			writeError(w, http.StatusInternalServerError, "Unexpected error processing the reading", nil)
		}
		return
	}

	resp := SubmitReadingResponse{Reading: toReadingDTO(*reading)}
	if bill != nil {
		dto := toBillDTO(*bill, time.Now())
		resp.Bill = &dto
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// ListBills returns a connection's bill history, newest first.
// GET /api/connections/{id}/bills
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "id")

	conn, err := h.store().GetConnection(r.Context(), connectionID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to load connection", err)
		return
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "Connection not found", nil)
		return
	}

	bills, err := h.store().ListBills(r.Context(), connectionID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to list bills", err)
		return
	}

	now := time.Now()
	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBill returns a single bill with its slab breakdown.
// GET /api/bills/{id}
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	bill, err := h.store().GetBill(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to load bill", err)
		return
	}
	if bill == nil {
		writeError(w, http.StatusNotFound, "Bill not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(*bill, time.Now()))
}

// ConfirmPayment applies the payment gateway's settlement callback.
// POST /api/bills/{id}/payment
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid payment amount", err)
		return
	}

	bill, err := h.Manager.ConfirmPayment(r.Context(), id, amount)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrBillNotFound):
			writeError(w, http.StatusNotFound, "Bill not found", nil)
		case errors.Is(err, billing.ErrInvalidStatusTransition):
			writeError(w, http.StatusConflict, "Bill is not payable", err)
		default:
			writeError(w, http.StatusServiceUnavailable, "Failed to record payment", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(*bill, time.Now()))
}

// =============================================================================
// ESTIMATE HANDLER
// =============================================================================

// Estimate prices a hypothetical consumption through the real billing path.
// POST /api/estimate
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	service := billing.ServiceType(req.Service)
	if !service.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown service (use electricity, water, or gas)", nil)
		return
	}
	class := billing.LoadClass(req.LoadClass)
	if !class.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown load class (use residential, commercial, or industrial)", nil)
		return
	}
	units, err := decimal.NewFromString(req.Units)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid units (use a decimal string)", err)
		return
	}

	calc, err := h.Manager.EstimateBill(r.Context(), service, class, units)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNegativeUnits):
			writeError(w, http.StatusBadRequest, "Units must not be negative", err)
		case errors.Is(err, billing.ErrNoTariffFound):
			writeError(w, http.StatusNotFound, "No tariff configured for that service and class", err)
		default:
			writeError(w, http.StatusServiceUnavailable, "Failed to compute estimate", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toEstimateResponse(calc))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateConnection registers a metered service point.
// POST /api/admin/connections
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	service := billing.ServiceType(req.Service)
	class := billing.LoadClass(req.LoadClass)
	if req.ID == "" || req.UserID == "" || !service.Valid() || !class.Valid() {
		writeError(w, http.StatusBadRequest, "id, user_id, service, and load_class are required", nil)
		return
	}

	conn := billing.Connection{
		ID:        req.ID,
		UserID:    req.UserID,
		Service:   service,
		Class:     class,
		Status:    billing.ConnectionActive,
		CreatedAt: time.Now(),
	}
	if err := h.store().SaveConnection(r.Context(), conn); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to save connection", err)
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionDTO(conn))
}

// ListConnections returns all registered connections.
// GET /api/admin/connections
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.store().ListConnections(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to list connections", err)
		return
	}
	dtos := make([]ConnectionDTO, len(conns))
	for i, c := range conns {
		dtos[i] = toConnectionDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerGenerate enqueues a GENERATE_BILLS job. Empty body scans all
// eligible pending readings.
// POST /api/admin/generate
func (h *Handler) TriggerGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	job, err := h.Manager.EnqueueBillGeneration(r.Context(), billing.GeneratePayload{
		ReadingID:    req.ReadingID,
		ConnectionID: req.ConnectionID,
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to enqueue generation", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobDTO(*job))
}

// CreateSlab adds a tariff slab.
// POST /api/admin/tariffs
func (h *Handler) CreateSlab(w http.ResponseWriter, r *http.Request) {
	var req CreateSlabRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	service := billing.ServiceType(req.Service)
	class := billing.LoadClass(req.LoadClass)
	if !service.Valid() || !class.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown service or load class", nil)
		return
	}

	slab := billing.TariffSlab{
		ID:      uuid.NewString(),
		Service: service,
		Class:   class,
		Active:  true,
	}
	var err error
	if slab.SlabStart, err = decimal.NewFromString(req.SlabStart); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slab_start", err)
		return
	}
	if req.SlabEnd != nil {
		end, err := decimal.NewFromString(*req.SlabEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid slab_end", err)
			return
		}
		slab.SlabEnd = &end
	}
	if slab.RatePerUnit, err = decimal.NewFromString(req.RatePerUnit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate_per_unit", err)
		return
	}
	if slab.FixedCharge, err = decimal.NewFromString(req.FixedCharge); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fixed_charge", err)
		return
	}
	if slab.ValidFrom, err = time.Parse("2006-01-02", req.ValidFrom); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid valid_from (use YYYY-MM-DD)", err)
		return
	}
	if req.ValidTo != nil {
		to, err := time.Parse("2006-01-02", *req.ValidTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_to (use YYYY-MM-DD)", err)
			return
		}
		slab.ValidTo = &to
	}

	if err := h.store().SaveSlab(r.Context(), slab); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to save slab", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": slab.ID})
}

// DeactivateSlab retires a tariff slab. Slabs are never deleted.
// DELETE /api/admin/tariffs/{id}
func (h *Handler) DeactivateSlab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store().DeactivateSlab(r.Context(), id); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to deactivate slab", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs returns recent jobs for operator inspection.
// GET /api/admin/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store().ListJobs(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to list jobs", err)
		return
	}
	dtos := make([]JobDTO, len(jobs))
	for i, j := range jobs {
		dtos[i] = toJobDTO(j)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetJob returns a single job, including its last error if any.
// GET /api/admin/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.store().GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to load job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "Job not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(*job))
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
