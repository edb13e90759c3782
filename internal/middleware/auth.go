package middleware

import (
	"crypto/subtle"
	"net/http"

	"shopsync/pkg/apierror"
)

// AdminKeyHeader carries the admin key on /admin routes.
const AdminKeyHeader = "X-Admin-Key"

// NewAdminAuth guards a route group with a shared admin key. An empty key
// disables the admin routes entirely.
func NewAdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				writeError(w, apierror.NotFound(""))
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				writeError(w, apierror.Unauthorized("Admin key required. Use the X-Admin-Key header."))
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
				writeError(w, apierror.Unauthorized("Invalid admin key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_, _ = w.Write(err.ToJSON())
}
