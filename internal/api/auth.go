package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards the control API with the daemon's file-backed token,
// which the CLI picks up from the data directory. The server binds to
// loopback only, so a constant-time token compare is the whole check.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing or invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
