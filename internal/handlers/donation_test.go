package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolfund/internal/models"
	"schoolfund/internal/payfast"
	"schoolfund/internal/store"
)

const testPassphrase = "jt7NOE43FZPn"

// fakeDonations implements store.Donations in memory with the same
// transition rules as the SQL store.
type fakeDonations struct {
	mu      sync.Mutex
	records map[string]*models.Donation
	// failNext simulates a transient store outage.
	failNext bool
}

func newFakeDonations() *fakeDonations {
	return &fakeDonations{records: make(map[string]*models.Donation)}
}

func (f *fakeDonations) put(d *models.Donation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[d.Reference] = d
}

func (f *fakeDonations) CreatePending(ctx context.Context, d *models.Donation) (*models.Donation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("store unavailable")
	}
	cp := *d
	cp.ID = len(f.records) + 1
	cp.Status = models.StatusPending
	f.records[cp.Reference] = &cp
	out := cp
	return &out, nil
}

func (f *fakeDonations) FindByReference(ctx context.Context, ref string) (*models.Donation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.records[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (f *fakeDonations) TransitionStatus(ctx context.Context, ref string, status models.DonationStatus, gatewayTxID, rawPayload string) (*models.Donation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, false, errors.New("store unavailable")
	}
	d, ok := f.records[ref]
	if !ok {
		return nil, false, store.ErrNotFound
	}

	allowed := (status == models.StatusCompleted && d.Status != models.StatusCompleted) ||
		((status == models.StatusFailed || status == models.StatusCancelled) && d.Status == models.StatusPending)
	if !allowed {
		out := *d
		return &out, false, nil
	}

	d.Status = status
	if gatewayTxID != "" {
		d.GatewayTxID.String = gatewayTxID
		d.GatewayTxID.Valid = true
	}
	d.RawPayload.String = rawPayload
	d.RawPayload.Valid = true
	out := *d
	return &out, true, nil
}

func (f *fakeDonations) ListNewest(ctx context.Context, limit int) ([]models.Donation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Donation
	for _, d := range f.records {
		out = append(out, *d)
	}
	return out, nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeDispatcher) NotifyDonor(d *models.Donation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, d.Reference)
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestRouter(t *testing.T, donations store.Donations, dispatcher *fakeDispatcher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	builder, err := payfast.NewBuilder("10000100", "46f0cd694581a", testPassphrase, "https://sandbox.payfast.co.za", "http://localhost:8080")
	require.NoError(t, err)

	h := NewDonationHandler(donations, builder, testPassphrase, nil, dispatcher, nil)

	r := gin.New()
	r.POST("/api/donate", h.CreateDonation)
	r.GET("/api/donate/:reference/redirect", h.RedirectToGateway)
	r.GET("/api/donations/:reference", h.GetDonation)
	r.POST("/api/webhook/payfast", h.HandlePaymentNotification)
	return r
}

func pendingDonation(ref string) *models.Donation {
	return &models.Donation{
		ID:          1,
		Reference:   ref,
		AmountCents: 10000,
		DonorName:   "Jane Doe",
		DonorEmail:  "a@b.com",
		Status:      models.StatusPending,
	}
}

// itnBody builds a correctly signed notification body for the given fields.
func itnBody(fields payfast.FieldSet) string {
	signed := append(fields, payfast.Field{Name: "signature", Value: payfast.Sign(fields, testPassphrase)})
	return payfast.Canonicalize(signed, "")
}

func postWebhook(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/payfast", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func completeITN(ref, txID string) string {
	return itnBody(payfast.FieldSet{
		{Name: "m_payment_id", Value: ref},
		{Name: "pf_payment_id", Value: txID},
		{Name: "payment_status", Value: "COMPLETE"},
		{Name: "amount_gross", Value: "100.00"},
	})
}

func TestWebhookCompletesPendingDonation(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	dispatcher := &fakeDispatcher{}
	r := newTestRouter(t, donations, dispatcher)

	w := postWebhook(r, completeITN("YE-1001", "PF123"))

	assert.Equal(t, http.StatusOK, w.Code)
	d, err := donations.FindByReference(context.Background(), "YE-1001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, d.Status)
	assert.Equal(t, "PF123", d.GatewayTxID.String)
	assert.True(t, d.RawPayload.Valid, "raw payload should be stored for audit")
	assert.Equal(t, 1, dispatcher.count())
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	dispatcher := &fakeDispatcher{}
	r := newTestRouter(t, donations, dispatcher)

	body := completeITN("YE-1001", "PF123")
	first := postWebhook(r, body)
	second := postWebhook(r, body)

	// Duplicate delivery is not an error; the gateway still needs its ack.
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)

	d, _ := donations.FindByReference(context.Background(), "YE-1001")
	assert.Equal(t, models.StatusCompleted, d.Status)
	assert.Equal(t, 1, dispatcher.count(), "confirmation must not be re-sent on duplicates")
}

func TestWebhookCompletedIsSticky(t *testing.T) {
	donations := newFakeDonations()
	d := pendingDonation("YE-1001")
	d.Status = models.StatusCompleted
	donations.put(d)
	r := newTestRouter(t, donations, &fakeDispatcher{})

	w := postWebhook(r, itnBody(payfast.FieldSet{
		{Name: "m_payment_id", Value: "YE-1001"},
		{Name: "payment_status", Value: "FAILED"},
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	got, _ := donations.FindByReference(context.Background(), "YE-1001")
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestWebhookLateSuccessOverridesFailure(t *testing.T) {
	donations := newFakeDonations()
	d := pendingDonation("YE-1001")
	d.Status = models.StatusFailed
	donations.put(d)
	dispatcher := &fakeDispatcher{}
	r := newTestRouter(t, donations, dispatcher)

	w := postWebhook(r, completeITN("YE-1001", "PF123"))

	assert.Equal(t, http.StatusOK, w.Code)
	got, _ := donations.FindByReference(context.Background(), "YE-1001")
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, dispatcher.count())
}

func TestWebhookRejectsTamperedSignature(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	dispatcher := &fakeDispatcher{}
	r := newTestRouter(t, donations, dispatcher)

	// Sign a FAILED notification, then flip the status to COMPLETE.
	body := itnBody(payfast.FieldSet{
		{Name: "m_payment_id", Value: "YE-1001"},
		{Name: "payment_status", Value: "FAILED"},
	})
	tampered := strings.Replace(body, "payment_status=FAILED", "payment_status=COMPLETE", 1)

	w := postWebhook(r, tampered)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	got, _ := donations.FindByReference(context.Background(), "YE-1001")
	assert.Equal(t, models.StatusPending, got.Status, "forged notification must not mutate the record")
	assert.Equal(t, 0, dispatcher.count())
}

func TestWebhookRejectsUnknownReference(t *testing.T) {
	donations := newFakeDonations()
	r := newTestRouter(t, donations, &fakeDispatcher{})

	w := postWebhook(r, completeITN("YE-9999", "PF999"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	_, err := donations.FindByReference(context.Background(), "YE-9999")
	assert.ErrorIs(t, err, store.ErrNotFound, "no record may be created for an unknown reference")
}

func TestWebhookFailedNotification(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	dispatcher := &fakeDispatcher{}
	r := newTestRouter(t, donations, dispatcher)

	w := postWebhook(r, itnBody(payfast.FieldSet{
		{Name: "m_payment_id", Value: "YE-1001"},
		{Name: "payment_status", Value: "FAILED"},
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	got, _ := donations.FindByReference(context.Background(), "YE-1001")
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 0, dispatcher.count(), "no confirmation for failed payments")
}

func TestWebhookUnknownStatusIsAcknowledgedNoOp(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	r := newTestRouter(t, donations, &fakeDispatcher{})

	w := postWebhook(r, itnBody(payfast.FieldSet{
		{Name: "m_payment_id", Value: "YE-1001"},
		{Name: "payment_status", Value: "PENDING"},
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	got, _ := donations.FindByReference(context.Background(), "YE-1001")
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestWebhookTransientStoreErrorWithholdsAck(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	donations.failNext = true
	r := newTestRouter(t, donations, &fakeDispatcher{})

	w := postWebhook(r, completeITN("YE-1001", "PF123"))

	// Non-2xx so the gateway retries the delivery.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateDonation(t *testing.T) {
	donations := newFakeDonations()
	r := newTestRouter(t, donations, &fakeDispatcher{})

	body := `{"amount_cents": 10000, "donor_name": "Jane Doe", "donor_email": "a@b.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/donate", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"process_url":"https://sandbox.payfast.co.za/eng/process"`)
	assert.Contains(t, w.Body.String(), `"reference":"YE-`)
	assert.Contains(t, w.Body.String(), "signature")
	assert.Equal(t, 1, len(donations.records))
}

func TestCreateDonationRejectsBadAmount(t *testing.T) {
	donations := newFakeDonations()
	r := newTestRouter(t, donations, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/donate", strings.NewReader(`{"amount_cents": -5}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, len(donations.records))
}

func TestRedirectPageForPendingDonation(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	r := newTestRouter(t, donations, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/donate/YE-1001/redirect", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), `name="m_payment_id" value="YE-1001"`)
}

func TestRedirectPageRefusesSettledDonation(t *testing.T) {
	donations := newFakeDonations()
	d := pendingDonation("YE-1001")
	d.Status = models.StatusCompleted
	donations.put(d)
	r := newTestRouter(t, donations, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/donate/YE-1001/redirect", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetDonationStatusIsAdvisoryReadOnly(t *testing.T) {
	donations := newFakeDonations()
	donations.put(pendingDonation("YE-1001"))
	r := newTestRouter(t, donations, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/donations/YE-1001", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	got, _ := donations.FindByReference(context.Background(), "YE-1001")
	assert.Equal(t, models.StatusPending, got.Status)
}
