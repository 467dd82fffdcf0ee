// Package auth guards the MCP HTTP endpoint with a static bearer token.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const (
	bearerPrefix = "Bearer "
	challenge    = `Bearer realm="effectql"`
)

// RequireBearer returns middleware that admits only requests carrying
// "Authorization: Bearer <token>". The prefix is case-sensitive and takes
// exactly one space. An empty token disables the check.
//
// Rejected requests get 401 with a WWW-Authenticate challenge and never
// reach next.
func RequireBearer(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := bearer(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
				logger.DebugContext(r.Context(), "rejected unauthenticated request",
					"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(header string) (string, bool) {
	tok, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}
