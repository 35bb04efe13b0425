package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(origins []string, method, origin string, preflight bool) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	req := httptest.NewRequest(method, "/api/sessions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	w := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(w, req)
	return w
}

func TestCORS_ExplicitOriginGetsCredentials(t *testing.T) {
	w := serveCORS([]string{"https://unfolding.example/"}, http.MethodGet, "https://unfolding.example", false)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://unfolding.example" {
		t.Fatalf("allow origin = %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("explicit origin should allow credentials")
	}
	if w.Code != http.StatusTeapot {
		t.Fatalf("request should reach the next handler, got %d", w.Code)
	}
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	w := serveCORS([]string{"*"}, http.MethodGet, "https://elsewhere.example", false)

	if w.Header().Get("Access-Control-Allow-Origin") != "https://elsewhere.example" {
		t.Fatal("wildcard should echo the origin")
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard must not allow credentials")
	}
}

func TestCORS_UnlistedOrigin(t *testing.T) {
	w := serveCORS([]string{"https://unfolding.example"}, http.MethodGet, "https://evil.example", false)

	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not be allowed")
	}
}

func TestCORS_Preflight(t *testing.T) {
	w := serveCORS([]string{"https://unfolding.example"}, http.MethodOptions, "https://unfolding.example", true)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("preflight should list methods")
	}

	w = serveCORS([]string{"https://unfolding.example"}, http.MethodOptions, "https://unfolding.example", false)
	if w.Code != http.StatusTeapot {
		t.Fatalf("plain OPTIONS should pass through, got %d", w.Code)
	}
}
