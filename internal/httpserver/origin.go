package httpserver

import (
	"net/http"
	"net/url"
	"strings"
)

// originMiddleware enforces the allowed-origin list for browser callers
// and answers CORS preflight for the API.
//
// Requests without an Origin header (curl, server-to-server, same-origin
// GETs) always pass. Same-host origins pass regardless of the allowlist,
// which covers the common deployment where the UI is served from
// StaticDir on this very server.
func originMiddleware(allowed []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !originAllowed(origin, r.Host, allowed) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin, requestHost string, allowed []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	if strings.EqualFold(u.Host, requestHost) {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}
