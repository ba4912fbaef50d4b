package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pdv/backend/internal/checkout"
	"pdv/backend/internal/service"
	"pdv/backend/internal/store"
)

const maxBodyBytes = 1 << 20

var anyRole = []string{"cashier", "admin"}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Printf("[http] WARN: crypto/rand failed, using fallback CSRF secret: %v", err)
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(a.withSecurity)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { writeMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Get("/products", a.requireAuth(a.handleListProducts, anyRole...))
		r.Post("/products", a.requireAuth(a.handleCreateProduct, "admin"))
		r.Patch("/products/{id}", a.requireAuth(a.handleUpdateProduct, "admin"))
		r.Delete("/products/{id}", a.requireAuth(a.handleDeleteProduct, "admin"))
		r.Get("/categories", a.requireAuth(a.handleListCategories, anyRole...))
		r.Post("/categories", a.requireAuth(a.handleCreateCategory, "admin"))
		r.Get("/customers", a.requireAuth(a.handleListCustomers, anyRole...))
		r.Post("/customers", a.requireAuth(a.handleCreateCustomer, anyRole...))

		r.Route("/cash-sessions", func(r chi.Router) {
			r.Post("/open", a.requireAuth(a.handleOpenCashSession, anyRole...))
			r.Post("/close", a.requireAuth(a.handleCloseCashSession, anyRole...))
			r.Get("/active", a.requireAuth(a.handleActiveCashSession, anyRole...))
			r.Get("/{id}/summary", a.requireAuth(a.handleCashSessionSummary, anyRole...))
		})

		r.Route("/register", func(r chi.Router) {
			r.Get("/", a.requireAuth(a.handleRegister, anyRole...))
			r.Post("/items", a.requireAuth(a.handleAddItem, anyRole...))
			r.Delete("/items", a.requireAuth(a.handleClearCart, anyRole...))
			r.Patch("/items/{productID}", a.requireAuth(a.handleSetQuantity, anyRole...))
			r.Delete("/items/{productID}", a.requireAuth(a.handleRemoveItem, anyRole...))
			r.Post("/finalize", a.requireAuth(a.handleFinalize, anyRole...))
		})

		r.Get("/orders", a.requireAuth(a.handleListOrders, anyRole...))
		r.Get("/orders/orphaned", a.requireAuth(a.handleOrphanedOrders, "admin"))
		r.Get("/orders/{id}", a.requireAuth(a.handleGetOrder, anyRole...))
		r.Get("/dashboard/stats", a.requireAuth(a.handleDashboardStats, anyRole...))

		r.Get("/users/cashiers", a.requireAuth(a.handleListCashiers, "admin"))
		r.Post("/users/cashiers", a.requireAuth(a.handleCreateCashier, "admin"))
	})

	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// upstreamErrors are storage-side failures. Their sentinel text is shown to
// the operator while the wrapped cause is only logged.
var upstreamErrors = []error{
	checkout.ErrOrderNumberGeneration,
	checkout.ErrOrderPersistence,
	checkout.ErrOrderItemsPersistence,
	checkout.ErrMalformedResponse,
}

// statusFor checks the upstream sentinels first: they may wrap a store
// error whose status would otherwise leak the cause.
func statusFor(err error) int {
	for _, upstream := range upstreamErrors {
		if errors.Is(err, upstream) {
			return http.StatusBadGateway
		}
	}
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAdminRequired):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case checkout.IsPaymentError(err), errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrFinalizationInFlight),
		errors.Is(err, checkout.ErrDuplicateSubmission),
		errors.Is(err, checkout.ErrNoOpenSession),
		errors.Is(err, store.ErrSessionAlreadyOpen),
		errors.Is(err, store.ErrDuplicateOrder):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeServiceError maps a service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusBadGateway {
		log.Printf("[http] upstream failure: %v", err)
		for _, upstream := range upstreamErrors {
			if errors.Is(err, upstream) {
				writeJSON(w, status, map[string]any{"error": upstream.Error()})
				return
			}
		}
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the cause of 5xx responses and logs it instead.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Printf("[http] internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
