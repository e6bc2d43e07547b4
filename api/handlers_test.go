package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridworks/billing-engine/billing"
	memstore "github.com/gridworks/billing-engine/billing/store"
	"github.com/gridworks/billing-engine/notify"
	"github.com/gridworks/billing-engine/services"
)

type fixture struct {
	router  http.Handler
	manager *billing.Manager
	store   *memstore.Memory
	sink    *notify.Memory
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memstore.NewMemory()
	require.NoError(t, services.Seed(context.Background(), st))

	sink := notify.NewMemory()
	m := billing.NewManager(st, sink, services.All(), billing.DefaultConfig(), nil)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	f := &fixture{
		router:  NewRouter(NewHandler(m, nil)),
		manager: m,
		store:   st,
		sink:    sink,
		now:     now,
	}
	require.NoError(t, st.SaveConnection(context.Background(), billing.Connection{
		ID:        "conn-elec",
		UserID:    "user-1",
		Service:   billing.ServiceElectricity,
		Class:     billing.ClassResidential,
		Status:    billing.ConnectionActive,
		CreatedAt: now,
	}))
	return f
}

// advance moves the pinned clock forward so consecutive readings land on
// distinct dates.
func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
	now := f.now
	f.manager.SetClock(func() time.Time { return now })
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.ContentLength = int64(buf.Len())
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func TestSubmitReadingFirstIsBaseline(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/connections/conn-elec/readings",
		SubmitReadingRequest{Value: "1000", SubmittedBy: "user-1"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[SubmitReadingResponse](t, rec)
	assert.Equal(t, "1000", resp.Reading.Value)
	assert.Nil(t, resp.Bill, "baseline reading must not produce a bill")
}

func TestSubmitReadingGeneratesBill(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "1000"})
	require.Equal(t, http.StatusCreated, rec.Code)

	f.advance(30 * 24 * time.Hour)
	rec = f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "1300"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[SubmitReadingResponse](t, rec)
	require.NotNil(t, resp.Bill)

	// 300 units: 120@4.90 + 120@6.30 + 60@7.50 = 1794, fixed 60, FPPPA 207
	assert.Equal(t, "2061.00", resp.Bill.TotalAmount)
	assert.Equal(t, "PENDING", resp.Bill.Status)
	assert.Len(t, resp.Bill.Breakdown, 3)

	// The citizen got notified
	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].UserID)
}

func TestSubmitReadingNonMonotonicRejected(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "150"})
	require.Equal(t, http.StatusCreated, rec.Code)

	f.advance(24 * time.Hour)
	rec = f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "100"})

	// 422 with an actionable message; nothing persisted
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "lower than the previous reading")

	latest, err := f.store.LatestReading(context.Background(), "conn-elec")
	require.NoError(t, err)
	assert.Equal(t, "150", latest.Value.String())
}

func TestSubmitReadingUnknownConnection(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/connections/nope/readings", SubmitReadingRequest{Value: "10"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitReadingMalformedValue(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "not-a-number"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBillAndListBills(t *testing.T) {
	f := newFixture(t)

	f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "0"})
	f.advance(30 * 24 * time.Hour)
	rec := f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "300"})
	resp := decode[SubmitReadingResponse](t, rec)
	require.NotNil(t, resp.Bill)

	rec = f.do(t, "GET", "/api/bills/"+resp.Bill.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bill := decode[BillDTO](t, rec)
	assert.Equal(t, "2061.00", bill.TotalAmount)
	assert.NotEmpty(t, bill.Breakdown)

	rec = f.do(t, "GET", "/api/connections/conn-elec/bills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bills := decode[[]BillDTO](t, rec)
	require.Len(t, bills, 1)

	rec = f.do(t, "GET", "/api/bills/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBillsAppliesLazyOverdue(t *testing.T) {
	f := newFixture(t)

	// A bill generated in the past, due date long gone
	f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "0"})
	f.advance(30 * 24 * time.Hour)
	rec := f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "100"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// The fixture clock is in 2025; "now" for DTO rendering is the real clock,
	// far past the 15-day grace window.
	rec = f.do(t, "GET", "/api/connections/conn-elec/bills", nil)
	bills := decode[[]BillDTO](t, rec)
	require.Len(t, bills, 1)
	assert.Equal(t, "OVERDUE", bills[0].Status)

	// Stored status is untouched
	stored, err := f.store.ListBills(context.Background(), "conn-elec")
	require.NoError(t, err)
	assert.Equal(t, billing.BillPending, stored[0].Status)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)

	f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "0"})
	f.advance(30 * 24 * time.Hour)
	rec := f.do(t, "POST", "/api/connections/conn-elec/readings", SubmitReadingRequest{Value: "300"})
	resp := decode[SubmitReadingResponse](t, rec)
	require.NotNil(t, resp.Bill)

	payURL := fmt.Sprintf("/api/bills/%s/payment", resp.Bill.ID)
	rec = f.do(t, "POST", payURL, PaymentRequest{Amount: "2061.00", Reference: "txn-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[BillDTO](t, rec)
	assert.Equal(t, "PAID", paid.Status)
	assert.Equal(t, "2061.00", paid.AmountPaid)

	// Paying again conflicts
	rec = f.do(t, "POST", payURL, PaymentRequest{Amount: "2061.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, "POST", "/api/bills/missing/payment", PaymentRequest{Amount: "1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEstimate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/estimate", EstimateRequest{
		Service: "electricity", LoadClass: "residential", Units: "300",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	est := decode[EstimateResponse](t, rec)
	assert.Equal(t, "2061.00", est.TotalAmount)
	assert.Len(t, est.Breakdown, 3)
	require.Len(t, est.Surcharges, 1)
	assert.Equal(t, "FPPPA", est.Surcharges[0].Label)
}

func TestEstimateGasWholeRupees(t *testing.T) {
	f := newFixture(t)

	// 3 SCM floors to 5 billable; totals round to whole rupees
	rec := f.do(t, "POST", "/api/estimate", EstimateRequest{
		Service: "gas", LoadClass: "residential", Units: "3",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	est := decode[EstimateResponse](t, rec)
	assert.Equal(t, "5", est.BilledUnits)
	assert.Equal(t, "101", est.TotalAmount)
}

func TestEstimateRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/estimate", EstimateRequest{Service: "plasma", LoadClass: "residential", Units: "10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/api/estimate", EstimateRequest{Service: "electricity", LoadClass: "residential", Units: "-5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminGenerateEnqueuesJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/admin/generate", GenerateRequest{ConnectionID: "conn-elec"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[JobDTO](t, rec)
	assert.Equal(t, "GENERATE_BILLS", job.Type)
	assert.Equal(t, "PENDING", job.Status)

	rec = f.do(t, "GET", "/api/admin/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[[]JobDTO](t, rec)
	require.Len(t, jobs, 1)

	rec = f.do(t, "GET", "/api/admin/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/api/admin/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminConnectionAndTariffRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/admin/connections", CreateConnectionRequest{
		ID: "conn-gas", UserID: "user-2", Service: "gas", LoadClass: "residential",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, "GET", "/api/admin/connections", nil)
	conns := decode[[]ConnectionDTO](t, rec)
	assert.Len(t, conns, 2)

	end := "500"
	rec = f.do(t, "POST", "/api/admin/tariffs", CreateSlabRequest{
		Service: "electricity", LoadClass: "industrial",
		SlabStart: "0", SlabEnd: &end,
		RatePerUnit: "8.10", FixedCharge: "200",
		ValidFrom: "2025-04-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]string](t, rec)
	require.NotEmpty(t, created["id"])

	rec = f.do(t, "DELETE", "/api/admin/tariffs/"+created["id"], nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
