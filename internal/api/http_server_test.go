package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mentorbook/internal/config"
	"mentorbook/internal/database"
	"mentorbook/internal/domain"
	"mentorbook/internal/events"
	"mentorbook/internal/models"
	"mentorbook/internal/quota"
	"mentorbook/internal/reconcile"
	"mentorbook/internal/reservation"
	"mentorbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *fakeGateway) CreateIntent(_ context.Context, _ int64, _ string, metadata map[string]string) (*domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return &domain.PaymentIntent{
		GatewayRef:  fmt.Sprintf("cs_test_%s_%d", metadata["booking_id"], g.calls),
		CheckoutURL: "https://pay.example/session",
	}, nil
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "full-key", Extra: "full-secret", Name: "full"},
				{Key: "read-key", Extra: "read-secret", Name: "reader", Permissions: []string{"read:availability"}},
			},
		},
	}
}

type testServer struct {
	srv   *httptest.Server
	store *database.Store
	clk   *fakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	store, err := database.NewStore(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	coord := reservation.NewCoordinator(reservation.NewTable(), store, clk, 15*time.Minute, &logger)
	gate := quota.NewGate(quota.NewMemoryCounterStore(clk), clk, map[string]quota.Limit{
		models.FeatureBookingRequest: {Ceiling: 5, Period: quota.PeriodDaily},
		models.FeatureInstantBooking: {Ceiling: 2, Period: quota.PeriodMonthly},
	}, nil, &logger)
	bus := events.NewEventBus()

	svc := service.NewBookingService(store, coord, gate, &fakeGateway{}, bus, clk, 90, &logger)
	rec := reconcile.NewReconciler(store, coord, bus, &logger)

	server := NewHTTPServer(testAPIConfig(), svc, rec, &logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testServer{srv: ts, store: store, clk: clk}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func fullAuth() map[string]string {
	return map[string]string{"x-api-key": "full-key", "x-api-extra": "full-secret"}
}

func readAuth() map[string]string {
	return map[string]string{"x-api-key": "read-key", "x-api-extra": "read-secret"}
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func (ts *testServer) createWindow(t *testing.T, mentorID string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/v1/mentors/"+mentorID+"/windows", map[string]any{
		"start":      "2025-06-02T09:00:00Z",
		"end":        "2025-06-02T17:00:00Z",
		"recurrence": "weekly",
	}, fullAuth())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func bookingBody(start, end string) map[string]any {
	return map[string]any{
		"learner_id":     "learner-1",
		"mentor_id":      "mentor-1",
		"start":          start,
		"end":            end,
		"price_cents":    5000,
		"currency":       "USD",
		"payment_method": "card",
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	t.Run("MissingHeaders", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/mentors/m1/slots?from=2025-06-01&to=2025-06-08", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("WrongExtra", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/mentors/m1/slots?from=2025-06-01&to=2025-06-08", nil,
			map[string]string{"x-api-key": "full-key", "x-api-extra": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/bookings",
			bookingBody("2025-06-02T09:00:00Z", "2025-06-02T10:00:00Z"), readAuth())
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("HealthzIsOpen", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/healthz", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestMentorSlotsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "mentor-1")

	resp := ts.do(t, http.MethodGet, "/api/v1/mentors/mentor-1/slots?from=2025-06-01&to=2025-06-16", nil, readAuth())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		MentorID string `json:"mentor_id"`
		Slots    []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"slots"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "mentor-1", body.MentorID)
	require.Len(t, body.Slots, 2, "two Mondays inside the range")
	assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), body.Slots[0].Start)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "mentor-1")

	resp := ts.do(t, http.MethodPost, "/api/v1/bookings",
		bookingBody("2025-06-02T09:00:00Z", "2025-06-02T10:00:00Z"), fullAuth())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		BookingID   int64  `json:"booking_id"`
		Status      string `json:"status"`
		GatewayRef  string `json:"gateway_ref"`
		CheckoutURL string `json:"checkout_url"`
	}
	decode(t, resp, &created)
	assert.Equal(t, models.StatusPendingPayment, created.Status)
	require.NotEmpty(t, created.GatewayRef)

	t.Run("ConflictingRequest", func(t *testing.T) {
		body := bookingBody("2025-06-02T09:30:00Z", "2025-06-02T10:30:00Z")
		body["learner_id"] = "learner-2"
		resp := ts.do(t, http.MethodPost, "/api/v1/bookings", body, fullAuth())
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		var conflict struct {
			ConflictStart time.Time `json:"conflict_start"`
		}
		decode(t, resp, &conflict)
		assert.Equal(t, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC), conflict.ConflictStart)
	})

	t.Run("WebhookConfirms", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
			"type": "checkout.session.completed",
			"data": map[string]any{"object": map[string]any{"id": created.GatewayRef}},
		}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		booking, err := ts.store.GetBooking(context.Background(), created.BookingID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, booking.Status)
	})

	t.Run("CancelConfirmed", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", created.BookingID), nil, fullAuth())
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", created.BookingID), nil, fullAuth())
		assert.Equal(t, http.StatusConflict, resp.StatusCode, "cancelled is terminal")
	})
}

func TestBookingOutsideAvailability(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "mentor-1")

	resp := ts.do(t, http.MethodPost, "/api/v1/bookings",
		bookingBody("2025-06-03T09:00:00Z", "2025-06-03T10:00:00Z"), fullAuth())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestQuotaDeniedOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "mentor-1")

	for i := 0; i < 5; i++ {
		start := time.Date(2025, 6, 2, 9+i, 0, 0, 0, time.UTC)
		resp := ts.do(t, http.MethodPost, "/api/v1/bookings",
			bookingBody(start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339)), fullAuth())
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.do(t, http.MethodPost, "/api/v1/bookings",
		bookingBody("2025-06-02T14:00:00Z", "2025-06-02T15:00:00Z"), fullAuth())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebhookUnknownRef(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
		"type": "checkout.session.completed",
		"data": map[string]any{"object": map[string]any{"id": "cs_never_created"}},
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookAfterHoldExpiryFlagsRefund(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "mentor-1")

	resp := ts.do(t, http.MethodPost, "/api/v1/bookings",
		bookingBody("2025-06-02T09:00:00Z", "2025-06-02T10:00:00Z"), fullAuth())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		BookingID  int64  `json:"booking_id"`
		GatewayRef string `json:"gateway_ref"`
	}
	decode(t, resp, &created)

	// The payment signal arrives after the hold TTL ran out.
	ts.clk.Advance(20 * time.Minute)

	resp = ts.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
		"type": "checkout.session.completed",
		"data": map[string]any{"object": map[string]any{"id": created.GatewayRef}},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status         string `json:"status"`
		RefundRequired bool   `json:"refund_required"`
	}
	decode(t, resp, &body)
	assert.True(t, body.RefundRequired)

	booking, err := ts.store.GetBooking(context.Background(), created.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, booking.Status)
}

func TestWebhookIgnoresUnhandledTypes(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
		"type": "invoice.paid",
		"data": map[string]any{"object": map[string]any{"id": "in_123"}},
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
