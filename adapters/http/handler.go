// Package http provides the JSON HTTP surface for the billing core.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lusis-developers/bakano-billing/app"
	"github.com/lusis-developers/bakano-billing/domain/account"
	"github.com/lusis-developers/bakano-billing/domain/identity"
	"github.com/lusis-developers/bakano-billing/domain/plan"
	"github.com/lusis-developers/bakano-billing/domain/subscription"
	"github.com/lusis-developers/bakano-billing/ports"
)

// Handler serves the billing API.
type Handler struct {
	lifecycle        *app.LifecycleService
	logger           zerolog.Logger
	defaultTrialDays int
	defaultProvider  string
	metricsEnabled   bool
}

// Options configures the handler.
type Options struct {
	// DefaultTrialDays applies when a start request leaves trialDays unset.
	DefaultTrialDays int
	// DefaultProvider labels subscriptions whose request omits a provider.
	DefaultProvider string
	// MetricsEnabled mounts /metrics.
	MetricsEnabled bool
}

// NewHandler creates a new API handler.
func NewHandler(lifecycle *app.LifecycleService, logger zerolog.Logger, opts Options) *Handler {
	return &Handler{
		lifecycle:        lifecycle,
		logger:           logger,
		defaultTrialDays: opts.DefaultTrialDays,
		defaultProvider:  opts.DefaultProvider,
		metricsEnabled:   opts.MetricsEnabled,
	}
}

// Router builds the chi router for the API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.handleHealth)
	if h.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1/accounts", func(r chi.Router) {
		r.Post("/", h.handleCreateAccount)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", h.handleGetAccount)
			r.Post("/subscription", h.handleStartSubscription)
			r.Delete("/subscription", h.handleCancelSubscription)
			r.Get("/subscriptions", h.handleListSubscriptions)
			r.Get("/entitlement", h.handleGetEntitlement)
		})
	})

	return r
}

type createAccountRequest struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type addressBody struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

type startSubscriptionRequest struct {
	Plan            string      `json:"plan"`
	BillingInterval string      `json:"billingInterval"`
	TrialDays       *int        `json:"trialDays,omitempty"`
	Provider        string      `json:"provider,omitempty"`
	PriceID         string      `json:"priceId,omitempty"`
	Amount          int64       `json:"amount,omitempty"`
	Currency        string      `json:"currency,omitempty"`
	NationalID      string      `json:"nationalId,omitempty"`
	Phone           string      `json:"phone,omitempty"`
	Address         addressBody `json:"address"`
}

type subscriptionBody struct {
	ID                 string     `json:"id"`
	AccountID          string     `json:"accountId"`
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	Provider           string     `json:"provider,omitempty"`
	PriceID            string     `json:"priceId,omitempty"`
	Amount             int64      `json:"amount,omitempty"`
	Currency           string     `json:"currency,omitempty"`
	BillingInterval    string     `json:"billingInterval"`
	TrialStart         *time.Time `json:"trialStart,omitempty"`
	TrialEnd           *time.Time `json:"trialEnd,omitempty"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	NextBillingDate    time.Time  `json:"nextBillingDate"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	CanceledAt         *time.Time `json:"canceledAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type snapshotBody struct {
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	Provider           string     `json:"provider,omitempty"`
	BillingInterval    string     `json:"billingInterval,omitempty"`
	TrialStart         *time.Time `json:"trialStart,omitempty"`
	TrialEnd           *time.Time `json:"trialEnd,omitempty"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	NextBillingDate    *time.Time `json:"nextBillingDate,omitempty"`
}

type accountBody struct {
	ID        string       `json:"id"`
	Email     string       `json:"email,omitempty"`
	Name      string       `json:"name,omitempty"`
	Snapshot  snapshotBody `json:"snapshot"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type entitlementBody struct {
	AccountID string       `json:"accountId"`
	Snapshot  snapshotBody `json:"snapshot"`
	Derived   derivedBody  `json:"derived"`
}

type derivedBody struct {
	IsActive      bool       `json:"isActive"`
	IsOnTrial     bool       `json:"isOnTrial"`
	IsExpired     bool       `json:"isExpired"`
	RemainingDays int        `json:"remainingDays"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	a, err := h.lifecycle.CreateAccount(r.Context(), app.CreateAccountRequest{
		ID:    req.ID,
		Email: req.Email,
		Name:  req.Name,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountBody(a))
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.lifecycle.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountBody(a))
}

func (h *Handler) handleStartSubscription(w http.ResponseWriter, r *http.Request) {
	var req startSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	trialDays := h.defaultTrialDays
	if req.TrialDays != nil {
		trialDays = *req.TrialDays
	}
	provider := req.Provider
	if provider == "" {
		provider = h.defaultProvider
	}

	sub, err := h.lifecycle.StartSubscription(r.Context(), app.StartRequest{
		AccountID:       chi.URLParam(r, "accountID"),
		Plan:            req.Plan,
		BillingInterval: req.BillingInterval,
		TrialDays:       trialDays,
		Provider:        provider,
		PriceID:         req.PriceID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		NationalID:      req.NationalID,
		Phone:           req.Phone,
		Address: account.Address{
			Street:  req.Address.Street,
			City:    req.Address.City,
			Country: req.Address.Country,
		},
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionBody(sub))
}

func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	immediate := r.URL.Query().Get("immediate") == "true"
	err := h.lifecycle.CancelSubscription(r.Context(), chi.URLParam(r, "accountID"), immediate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canceled": true, "immediate": immediate})
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.lifecycle.ListSubscriptions(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]subscriptionBody, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionBody(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	view, err := h.lifecycle.GetEntitlement(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entitlementBody{
		AccountID: view.AccountID,
		Snapshot:  toSnapshotBody(view.Snapshot),
		Derived: derivedBody{
			IsActive:      view.Derived.IsActive,
			IsOnTrial:     view.Derived.IsOnTrial,
			IsExpired:     view.Derived.IsExpired,
			RemainingDays: view.Derived.RemainingDays,
			EndsAt:        view.Derived.EndsAt,
		},
	})
}

// writeDomainError maps core error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plan.ErrInvalidPlan):
		h.writeError(w, http.StatusBadRequest, "invalid_plan", err.Error())
	case errors.Is(err, plan.ErrInvalidInterval):
		h.writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	case errors.Is(err, identity.ErrInvalid):
		h.writeError(w, http.StatusBadRequest, "invalid_identity", err.Error())
	case errors.Is(err, ports.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, subscription.ErrNoActiveSubscription):
		h.writeError(w, http.StatusConflict, "no_active_subscription", err.Error())
	case errors.Is(err, ports.ErrDuplicate):
		h.writeError(w, http.StatusConflict, "already_exists", err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func toAccountBody(a account.Account) accountBody {
	return accountBody{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		Snapshot:  toSnapshotBody(a.Snapshot),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toSnapshotBody(s account.Snapshot) snapshotBody {
	return snapshotBody{
		Plan:               s.Plan,
		Status:             s.Status,
		Provider:           s.Provider,
		BillingInterval:    s.BillingInterval,
		TrialStart:         s.TrialStart,
		TrialEnd:           s.TrialEnd,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		NextBillingDate:    s.NextBillingDate,
	}
}

func toSubscriptionBody(sub subscription.Subscription) subscriptionBody {
	return subscriptionBody{
		ID:                 sub.ID,
		AccountID:          sub.AccountID,
		Plan:               string(sub.Plan),
		Status:             string(sub.Status),
		Provider:           sub.Provider,
		PriceID:            sub.PriceID,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		BillingInterval:    string(sub.BillingInterval),
		TrialStart:         sub.TrialStart,
		TrialEnd:           sub.TrialEnd,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		NextBillingDate:    sub.NextBillingDate,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         sub.CanceledAt,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
	}
}
