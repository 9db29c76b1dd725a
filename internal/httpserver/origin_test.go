package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func originHandler(allowed []string) http.Handler {
	return originMiddleware(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestOriginMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		host       string
		wantStatus int
	}{
		{"no origin header passes", nil, "", "relay.example.com", http.StatusNoContent},
		{"same host passes without allowlist", nil, "https://relay.example.com", "relay.example.com", http.StatusNoContent},
		{"allowlisted origin passes", []string{"https://app.example.com"}, "https://app.example.com", "relay.example.com", http.StatusNoContent},
		{"allowlist match ignores case", []string{"https://App.Example.com"}, "https://app.example.com", "relay.example.com", http.StatusNoContent},
		{"unlisted origin rejected", []string{"https://app.example.com"}, "https://evil.example.com", "relay.example.com", http.StatusForbidden},
		{"cross origin rejected without allowlist", nil, "https://other.example.com", "relay.example.com", http.StatusForbidden},
		{"garbage origin rejected", nil, "not a url", "relay.example.com", http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/peers?sessionId=ABC123", nil)
			req.Host = tc.host
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()
			originHandler(tc.allowed).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantStatus == http.StatusNoContent && tc.origin != "" {
				if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.origin {
					t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tc.origin)
				}
			}
		})
	}
}

func TestOriginPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/join", nil)
	req.Host = "relay.example.com"
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	originHandler([]string{"https://app.example.com"}).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("preflight response is missing Access-Control-Allow-Methods")
	}
}
