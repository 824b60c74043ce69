package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 64 << 10
	readyTimeout    = 2 * time.Second
)

// BookingEngine is the slice of the availability engine the HTTP layer drives.
type BookingEngine interface {
	ComputeGrid(ctx context.Context, date string) (*models.Grid, error)
	Reserve(ctx context.Context, req service.ReserveRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	Confirm(ctx context.Context, id string) (*models.Booking, error)
	Cancel(ctx context.Context, id string, actor models.Actor) (*models.Booking, error)
	ExpirePastDeadline(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter domain.BookingFilter) ([]*models.Booking, error)
	RegisterNotify(ctx context.Context, slot models.SlotID, email, phone string) (*models.NotificationRequest, error)
	DrainNotify(ctx context.Context, slot models.SlotID) ([]models.NotificationRequest, error)
	Ping(ctx context.Context) error
}

// ReadinessCheck is an extra dependency /readyz checks.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HTTPServer exposes the booking engine as a JSON API.
type HTTPServer struct {
	cfg     config.APIConfig
	engine  BookingEngine
	checks  []ReadinessCheck
	auth    *HTTPAuth
	limiter *rateLimiter
	router  *mux.Router
	server  *http.Server
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, engine BookingEngine, logger *zerolog.Logger, checks ...ReadinessCheck) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{
		cfg:     cfg,
		engine:  engine,
		checks:  checks,
		auth:    NewHTTPAuth(cfg.Auth),
		limiter: newRateLimiter(cfg),
		logger:  &l,
	}
	srv.router = srv.routes()

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return srv
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.limiter.Middleware)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(s.auth.Middleware)
	admin.HandleFunc("/bookings", s.handleListBookings).Methods(http.MethodGet)
	admin.HandleFunc("/bookings/{id}/confirm", s.handleConfirm).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}/cancel", s.handleOperatorCancel).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}/expire", s.handleExpire).Methods(http.MethodPost)
	admin.HandleFunc("/notifications/{slot_id}/drain", s.handleDrain).Methods(http.MethodPost)

	v1.HandleFunc("/slots", s.handleGrid).Methods(http.MethodGet)
	v1.HandleFunc("/bookings", s.handleReserve).Methods(http.MethodPost)
	v1.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods(http.MethodGet)
	v1.HandleFunc("/bookings/{id}/cancel", s.handleCustomerCancel).Methods(http.MethodPost)
	v1.HandleFunc("/notifications", s.handleNotify).Methods(http.MethodPost)

	return r
}

// Handler returns the routed handler, mainly for httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failures := map[string]string{}
	if err := s.engine.Ping(ctx); err != nil {
		failures["store"] = err.Error()
	}
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			failures[c.Name] = err.Error()
		}
	}

	if len(failures) > 0 {
		s.logger.Warn().Interface("failures", failures).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleGrid(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeError(w, http.StatusBadRequest, "invalid_range", "date is required")
		return
	}

	grid, err := s.engine.ComputeGrid(r.Context(), date)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req service.ReserveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	booking, err := s.engine.Reserve(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := s.engine.GetBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.BookingFilter{
		Status: models.BookingStatus(strings.TrimSpace(q.Get("status"))),
		From:   strings.TrimSpace(q.Get("from")),
		To:     strings.TrimSpace(q.Get("to")),
	}

	bookings, err := s.engine.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleCustomerCancel(w http.ResponseWriter, r *http.Request) {
	s.respondBooking(w, r, func(ctx context.Context, id string) (*models.Booking, error) {
		return s.engine.Cancel(ctx, id, models.ActorCustomer)
	})
}

func (s *HTTPServer) handleOperatorCancel(w http.ResponseWriter, r *http.Request) {
	s.respondBooking(w, r, func(ctx context.Context, id string) (*models.Booking, error) {
		return s.engine.Cancel(ctx, id, models.ActorOperator)
	})
}

func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.respondBooking(w, r, s.engine.Confirm)
}

func (s *HTTPServer) handleExpire(w http.ResponseWriter, r *http.Request) {
	s.respondBooking(w, r, s.engine.ExpirePastDeadline)
}

func (s *HTTPServer) respondBooking(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id string) (*models.Booking, error),
) {
	booking, err := op(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type notifyRequest struct {
	SlotID string `json:"slot_id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

func (s *HTTPServer) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body notifyRequest
	if !decodeBody(w, r, &body) {
		return
	}

	slot, err := models.ParseSlotID(body.SlotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	req, err := s.engine.RegisterNotify(r.Context(), slot, body.Email, body.Phone)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *HTTPServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	slot, err := models.ParseSlotID(mux.Vars(r)["slot_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	requests, err := s.engine.DrainNotify(r.Context(), slot)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if requests == nil {
		requests = []models.NotificationRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"slot": slot, "requests": requests})
}

// writeEngineError maps engine errors onto HTTP statuses and stable error codes.
func (s *HTTPServer) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var slotErr *service.SlotUnavailableError
	if errors.As(err, &slotErr) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: err.Error(),
			Code:  "slot_unavailable",
			Slot:  slotErr.Slot.String(),
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, service.ErrInvalidContact):
		writeError(w, http.StatusBadRequest, "invalid_contact", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrSlotNotOccupied):
		writeError(w, http.StatusConflict, "slot_not_occupied", err.Error())
	case errors.Is(err, service.ErrDeadlinePassed):
		writeError(w, http.StatusUnprocessableEntity, "deadline_passed", err.Error())
	default:
		s.logger.Error().Err(err).
			Str("request_id", w.Header().Get(requestIDHeader)).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// requestLogger tags every response with a request id and logs it once served.
func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.IncHTTP(endpoint)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("endpoint", endpoint).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Slot  string `json:"slot,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message, Code: code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
