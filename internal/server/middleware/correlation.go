package middleware

import (
	"net/http"

	"github.com/alanyoungcy/chainstrategy/internal/reqid"
)

// Correlation stamps a correlation id (spec.md §9) into each inbound
// request's context, reusing an id the caller already supplied via
// X-Request-Id so a chain of hops shares one trace.
func Correlation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = reqid.New()
			}
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r.WithContext(reqid.WithID(r.Context(), id)))
		})
	}
}
