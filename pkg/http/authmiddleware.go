// Package http provides HTTP middleware for the streamable transport.
package http

import (
	"net/http"
	"strings"

	"github.com/toorpia/toorpia-mcp-server/pkg/middleware"
)

// AuthMiddleware extracts the bearer credential from HTTP headers and places
// it on the request context for the MCP auth middleware. It never validates
// the token itself; calls without one stay admissible so the scope-free
// tools keep working anonymously.
func AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string

			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if token != "" {
				r = r.WithContext(middleware.WithToken(r.Context(), token))
			}

			next.ServeHTTP(w, r)
		})
	}
}
