// Package httpapi exposes the deadline core to the CRUD collaborator over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"kkt_deadline_bot/internal/app"
	"kkt_deadline_bot/internal/domain/apperr"
	"kkt_deadline_bot/internal/domain/deadline"
	"kkt_deadline_bot/internal/domain/equipment"
	"kkt_deadline_bot/internal/domain/notification"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const (
	requestTimeout = 30 * time.Second

	defaultExpiringWithinDays = 30
	defaultFailedWindow       = 24 * time.Hour
	defaultFailedLimit        = 50
	maxFailedLimit            = 500
)

type Registry interface {
	Create(ctx context.Context, in app.CreateDeadlineInput) (*deadline.Deadline, error)
	Get(ctx context.Context, id int64) (*app.DeadlineView, error)
	ListByClient(ctx context.Context, clientID int64, activeOnly bool) ([]app.DeadlineView, error)
	ListExpiring(ctx context.Context, withinDays int) ([]app.DeadlineView, error)
	Cancel(ctx context.Context, id int64, reason string) (*deadline.Deadline, error)
	Renew(ctx context.Context, id int64, newExpiration time.Time) (*deadline.Deadline, error)
	CreateType(ctx context.Context, name, description string, protected bool) (*deadline.Type, error)
	ListTypes(ctx context.Context, activeOnly bool) ([]*deadline.Type, error)
}

type Cascade interface {
	DeleteType(ctx context.Context, typeID int64) (*app.TypeDeletion, error)
	Unprotect(ctx context.Context, typeID int64) (*deadline.Type, error)
	SetActive(ctx context.Context, typeID int64, active bool) (*deadline.Type, error)
}

type Hooks interface {
	RegisterCashRegister(ctx context.Context, reg *equipment.CashRegister) ([]app.HookResult, error)
	ApplyComplianceDates(ctx context.Context, registerID int64, dates equipment.ComplianceDates) ([]app.HookResult, error)
	ListRegisters(ctx context.Context, clientID int64) ([]*equipment.CashRegister, error)
}

type Checker interface {
	Tick(ctx context.Context) (*app.TickReport, error)
	FailedDeliveries(ctx context.Context, window time.Duration, limit int) ([]*notification.DeliveryLog, error)
}

// Handler serves the deadline, deadline type, cash register and scheduler endpoints.
type Handler struct {
	registry   Registry
	cascade    Cascade
	hooks      Hooks
	checker    Checker
	metrics    http.Handler
	runTimeout time.Duration
	logger     *logrus.Entry
}

// New creates a Handler. metricsHandler serves GET /metrics and may be nil. runTimeout
// bounds POST /scheduler/run and should cover a whole tick; other routes get requestTimeout.
func New(registry Registry, cascade Cascade, hooks Hooks, checker Checker, metricsHandler http.Handler, runTimeout time.Duration, logger *logrus.Entry) *Handler {
	if runTimeout < requestTimeout {
		runTimeout = requestTimeout
	}
	return &Handler{
		registry:   registry,
		cascade:    cascade,
		hooks:      hooks,
		checker:    checker,
		metrics:    metricsHandler,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Router builds the chi router with every route mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register registers the routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(api chi.Router) {
		h.registerAPI(api)
	})
}

func (h *Handler) registerAPI(api chi.Router) {
	api.Use(middleware.RequestID)
	api.Use(middleware.Recoverer)
	api.Use(h.requestLogger)

	api.Group(func(crud chi.Router) {
		crud.Use(middleware.Timeout(requestTimeout))

		crud.Get("/clients/{id}/deadlines", h.handleListClientDeadlines)
		crud.Get("/clients/{id}/cash-registers", h.handleListClientRegisters)
		crud.Get("/deadlines", h.handleListExpiring)
		crud.Post("/deadlines", h.handleCreateDeadline)
		crud.Get("/deadlines/{id}", h.handleGetDeadline)
		crud.Post("/deadlines/{id}/cancel", h.handleCancelDeadline)
		crud.Post("/deadlines/{id}/renew", h.handleRenewDeadline)

		crud.Get("/deadline-types", h.handleListTypes)
		crud.Post("/deadline-types", h.handleCreateType)
		crud.Delete("/deadline-types/{id}", h.handleDeleteType)
		crud.Post("/deadline-types/{id}/unprotect", h.handleUnprotectType)
		crud.Post("/deadline-types/{id}/deactivate", h.handleSetTypeActive(false))
		crud.Post("/deadline-types/{id}/activate", h.handleSetTypeActive(true))

		crud.Post("/cash-registers", h.handleCreateRegister)
		crud.Put("/cash-registers/{id}/compliance-dates", h.handleComplianceDates)

		crud.Get("/deliveries/failed", h.handleListFailedDeliveries)
	})

	api.With(middleware.Timeout(h.runTimeout)).Post("/scheduler/run", h.handleRunScheduler)
}

func (h *Handler) handleListClientDeadlines(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("all") != "true"
	views, err := h.registry.ListByClient(r.Context(), clientID, activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]deadlineResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toViewResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListClientRegisters(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	regs, err := h.hooks.ListRegisters(r.Context(), clientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]cashRegisterResponse, 0, len(regs))
	for _, reg := range regs {
		resp = append(resp, toCashRegisterResponse(reg))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListExpiring lists active deadlines expiring within ?within_days (default 30),
// overdue ones first.
func (h *Handler) handleListExpiring(w http.ResponseWriter, r *http.Request) {
	within, err := queryInt(r, "within_days", defaultExpiringWithinDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views, err := h.registry.ListExpiring(r.Context(), within)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]deadlineResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toViewResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateDeadline(w http.ResponseWriter, r *http.Request) {
	var req createDeadlineRequest
	if !h.decode(w, r, &req) {
		return
	}
	expiration, err := parseDate("expiration_date", req.ExpirationDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.registry.Create(r.Context(), app.CreateDeadlineInput{
		ClientID:       req.ClientID,
		CashRegisterID: req.CashRegisterID,
		DeadlineTypeID: req.DeadlineTypeID,
		ExpirationDate: expiration,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeadlineResponse(d))
}

func (h *Handler) handleGetDeadline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	v, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(*v))
}

func (h *Handler) handleCancelDeadline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	d, err := h.registry.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeadlineResponse(d))
}

func (h *Handler) handleRenewDeadline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req renewRequest
	if !h.decode(w, r, &req) {
		return
	}
	expiration, err := parseDate("expiration_date", req.ExpirationDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.registry.Renew(r.Context(), id, expiration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeadlineResponse(d))
}

func (h *Handler) handleListTypes(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	types, err := h.registry.ListTypes(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]typeResponse, 0, len(types))
	for _, t := range types {
		resp = append(resp, toTypeResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateType(w http.ResponseWriter, r *http.Request) {
	var req createTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.registry.CreateType(r.Context(), req.Name, req.Description, req.Protected)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTypeResponse(t))
}

func (h *Handler) handleDeleteType(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.cascade.DeleteType(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, typeDeletionResponse{
		TypeID:            res.TypeID,
		TypeName:          res.TypeName,
		OrphanedDeadlines: res.OrphanedDeadlines,
	})
}

func (h *Handler) handleUnprotectType(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	t, err := h.cascade.Unprotect(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTypeResponse(t))
}

func (h *Handler) handleSetTypeActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}
		t, err := h.cascade.SetActive(r.Context(), id, active)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTypeResponse(t))
	}
}

func (h *Handler) handleCreateRegister(w http.ResponseWriter, r *http.Request) {
	var req createRegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	dates, err := req.toDates()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reg := &equipment.CashRegister{
		ClientID:     req.ClientID,
		SerialNumber: req.SerialNumber,
		FNNumber:     nullString(req.FNNumber),
		Model:        nullString(req.Model),
		Dates:        dates,
	}
	results, err := h.hooks.RegisterCashRegister(r.Context(), reg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{ID: reg.ID, Deadlines: toHookResults(results)})
}

func (h *Handler) handleComplianceDates(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req complianceDatesRequest
	if !h.decode(w, r, &req) {
		return
	}
	dates, err := req.toDates()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.hooks.ApplyComplianceDates(r.Context(), id, dates)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{ID: id, Deadlines: toHookResults(results)})
}

func (h *Handler) handleListFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", int(defaultFailedWindow/time.Hour))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultFailedLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if hours <= 0 || limit <= 0 || limit > maxFailedLimit {
		h.writeError(w, r, apperr.Validation("hours must be positive and limit between 1 and %d", maxFailedLimit))
		return
	}
	logs, err := h.checker.FailedDeliveries(r.Context(), time.Duration(hours)*time.Hour, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]deliveryFailureResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, toDeliveryFailureResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRunScheduler(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.Tick(r.Context())
	if report == nil {
		if err == nil {
			err = errors.New("scheduler returned no report")
		}
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		h.entry(r).WithError(err).Warn("Scheduler run finished with errors")
	}
	writeJSON(w, http.StatusOK, toTickResponse(report))
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, apperr.Validation("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return v, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, apperr.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.entry(r).WithFields(logrus.Fields{
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Info("HTTP request served")
	})
}

func (h *Handler) entry(r *http.Request) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrPolicyViolation):
		return http.StatusUnprocessableEntity, "policy_violation"
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, app.ErrTickInProgress):
		return http.StatusConflict, "conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	log := h.entry(r).WithError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("Request failed")
		msg = "internal error"
	} else {
		log.Warn("Request rejected")
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
