package web

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/drone-hub/hub/internal/apierr"
)

// bearerAuth enforces spec.md §4.10's single-bearer-token authentication:
// constant-time compare against the Authorization header, with a
// ?token= query-param fallback for WebSocket upgrades (browsers cannot
// set custom headers on a WS handshake). An empty configured token
// disables auth entirely (used in local/dev setups), matching the
// teacher's "auth disabled -> synthetic admin" escape hatch.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tokenMatches(token, extractToken(r)) {
				writeErr(w, unauthorized())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return r.URL.Query().Get("token")
}

func tokenMatches(configured, got string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(got)) == 1
}

// cors checks an exact allow-list of scheme://host origins, appending
// Vary: origin on every response and rejecting unknown origins with 403
// per spec.md §4.10/§7.
func cors(allowed []string) func(http.Handler) http.Handler {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "origin")
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(set) == 0 || !set[origin] {
				writeErr(w, forbiddenOrigin())
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized() error {
	return apierr.Unauthorized("unauthorized", "bad or missing bearer token")
}

func forbiddenOrigin() error {
	return apierr.Forbidden("origin_not_allowed", "origin not in the configured allow-list")
}

// chain applies middleware in the order given, outermost first.
func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
