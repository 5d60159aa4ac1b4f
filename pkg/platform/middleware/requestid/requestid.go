// Package requestid assigns each request a correlation ID, honoring one
// supplied by an upstream proxy.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"aegis/pkg/requestcontext"
)

// Header is the correlation ID header read from and echoed to clients.
const Header = "X-Request-ID"

// Middleware injects the request ID into the context and response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(Header, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
