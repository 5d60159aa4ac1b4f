package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/pkg/platform/middleware/auth"
	"aegis/pkg/platform/middleware/metadata"
	"aegis/pkg/platform/middleware/requestid"
	"aegis/pkg/platform/middleware/requesttime"
)

// HealthChecker reports backend liveness for the health endpoint.
type HealthChecker func() error

// NewRouter wires all endpoints with the shared middleware chain.
func NewRouter(h *Handler, validator auth.Validator, health HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(validator, h.logger))

		r.Post("/authz/context", h.HandleResolveContext)
		r.Post("/authz/check", h.HandleCheck)
		r.Post("/authz/finalize", h.HandleFinalize)

		r.Get("/audit/entries", h.HandleAuditEntries)
		r.Get("/audit/chain", h.HandleVerifyChain)

		r.Post("/admin/roles", h.HandleUpsertRole)
		r.Post("/admin/role-bindings", h.HandleBindRole)
		r.Delete("/admin/role-bindings", h.HandleUnbindRole)
	})

	return r
}
