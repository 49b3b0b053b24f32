package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mentorbook/internal/availability"
	"mentorbook/internal/config"
	"mentorbook/internal/database"
	"mentorbook/internal/lifecycle"
	"mentorbook/internal/models"
	"mentorbook/internal/quota"
	"mentorbook/internal/reconcile"
	"mentorbook/internal/reservation"
	"mentorbook/internal/service"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the booking API: availability windows and slots,
// booking requests and cancellation, and the payment gateway webhook.
type HTTPServer struct {
	cfg        config.APIConfig
	bookings   *service.BookingService
	reconciler *reconcile.Reconciler
	server     *http.Server
	auth       *HTTPAuth
	logger     *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, bookings *service.BookingService, reconciler *reconcile.Reconciler, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, bookings: bookings, reconciler: reconciler, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/mentors/", srv.handleMentors)
	mux.HandleFunc("/api/v1/bookings", srv.handleBookings)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBookingByID)
	mux.HandleFunc("/api/v1/learners/", srv.handleLearners)
	mux.HandleFunc("/api/v1/payments/webhook", srv.handlePaymentWebhook)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := loggingMiddleware(logger, srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the fully wrapped handler for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMentors routes /api/v1/mentors/{id}/slots and /api/v1/mentors/{id}/windows.
func (s *HTTPServer) handleMentors(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/mentors/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	mentorID := strings.TrimSpace(parts[0])

	switch parts[1] {
	case "slots":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleMentorSlots(w, r, mentorID)
	case "windows":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleCreateWindow(w, r, mentorID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleMentorSlots(w http.ResponseWriter, r *http.Request, mentorID string) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slots, err := s.bookings.MentorSlots(r.Context(), mentorID, from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	type slotResp struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
	resp := make([]slotResp, 0, len(slots))
	for _, slot := range slots {
		resp = append(resp, slotResp{Start: slot.Start, End: slot.End})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mentor_id": mentorID, "slots": resp})
}

func (s *HTTPServer) handleCreateWindow(w http.ResponseWriter, r *http.Request, mentorID string) {
	var body struct {
		Start         time.Time `json:"start"`
		End           time.Time `json:"end"`
		Recurrence    string    `json:"recurrence"`
		RecurrenceEnd time.Time `json:"recurrence_end"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	window := &models.AvailabilityWindow{
		MentorID:      mentorID,
		Start:         body.Start,
		End:           body.End,
		Recurrence:    body.Recurrence,
		RecurrenceEnd: body.RecurrenceEnd,
	}
	if err := s.bookings.CreateWindow(r.Context(), window); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": window.ID})
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		LearnerID     string    `json:"learner_id"`
		MentorID      string    `json:"mentor_id"`
		Start         time.Time `json:"start"`
		End           time.Time `json:"end"`
		PriceCents    int64     `json:"price_cents"`
		Currency      string    `json:"currency"`
		PaymentMethod string    `json:"payment_method"`
		Instant       bool      `json:"instant"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.LearnerID == "" || body.MentorID == "" {
		writeError(w, http.StatusBadRequest, "learner_id and mentor_id are required")
		return
	}

	booking, intent, err := s.bookings.RequestBooking(r.Context(), service.BookingRequest{
		LearnerID:     body.LearnerID,
		MentorID:      body.MentorID,
		Start:         body.Start,
		End:           body.End,
		PriceCents:    body.PriceCents,
		Currency:      body.Currency,
		PaymentMethod: body.PaymentMethod,
		Instant:       body.Instant,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"booking_id":   booking.ID,
		"status":       booking.Status,
		"gateway_ref":  intent.GatewayRef,
		"checkout_url": intent.CheckoutURL,
	})
}

// handleBookingByID routes /api/v1/bookings/{id} and /api/v1/bookings/{id}/cancel.
func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/bookings/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(rest, "/")

	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	if len(parts) == 2 && parts[1] == "cancel" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.bookings.CancelBooking(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
		return
	}

	writeError(w, http.StatusNotFound, "not found")
}

func (s *HTTPServer) handleLearners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/learners/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "bookings" || strings.TrimSpace(parts[0]) == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	bookings, err := s.bookings.LearnerBookings(r.Context(), strings.TrimSpace(parts[0]))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// handlePaymentWebhook receives asynchronous gateway signals. Delivery is
// at-least-once, so reconciliation outcomes that mean "already settled" still
// acknowledge with 200 to stop redelivery.
func (s *HTTPServer) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Data.Object.ID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	var err error
	switch body.Type {
	case "checkout.session.completed":
		err = s.reconciler.OnPaymentSucceeded(r.Context(), body.Data.Object.ID)
	case "checkout.session.expired":
		err = s.reconciler.OnPaymentFailedOrExpired(r.Context(), body.Data.Object.ID, models.TxStatusExpired)
	case "checkout.session.async_payment_failed":
		err = s.reconciler.OnPaymentFailedOrExpired(r.Context(), body.Data.Object.ID, models.TxStatusFailed)
	default:
		// Unhandled event types are acknowledged so the gateway stops retrying.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var expired *reservation.HoldExpiredError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.As(err, &expired):
		// The payment landed but the slot is gone; flag the refund and ack.
		writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "refund_required": true})
	default:
		s.writeDomainError(w, err)
	}
}

// writeDomainError maps domain errors onto HTTP status codes.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	var (
		conflict   *reservation.SlotConflictError
		exceeded   *quota.QuotaExceededError
		invalid    *availability.InvalidWindowError
		transition *lifecycle.InvalidTransitionError
		unknownTx  *reconcile.UnknownTransactionError
	)

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          err.Error(),
			"conflict_start": conflict.ConflictStart,
			"conflict_end":   conflict.ConflictEnd,
		})
	case errors.As(err, &exceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrOutsideAvailability), errors.Is(err, service.ErrRangeTooFarAhead):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unknownTx):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Bare dates are accepted as midnight UTC.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s; expected RFC3339 or YYYY-MM-DD", name)
		}
	}
	return t, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		base.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
