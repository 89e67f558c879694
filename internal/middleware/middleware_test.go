package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/EmpoweredVote/discovery-summary/internal/middleware"
	"golang.org/x/crypto/bcrypt"
)

// call wraps a simple 200-OK inner handler in the provided middleware and
// returns the recorded response.
func call(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

func bearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/admin/refresh", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func hashOf(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	return string(h)
}

// TestAdminToken_Missing verifies that a request without a bearer token gets 401.
func TestAdminToken_Missing(t *testing.T) {
	rec := call(t, middleware.AdminTokenMiddleware(hashOf(t, "s3cret")), bearer(""))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// TestAdminToken_Wrong verifies that a token not matching the hash gets 401.
func TestAdminToken_Wrong(t *testing.T) {
	rec := call(t, middleware.AdminTokenMiddleware(hashOf(t, "s3cret")), bearer("guess"))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid token") {
		t.Errorf("expected body to mention the invalid token, got %q", rec.Body.String())
	}
}

// TestAdminToken_Valid verifies that the matching token reaches the handler.
func TestAdminToken_Valid(t *testing.T) {
	rec := call(t, middleware.AdminTokenMiddleware(hashOf(t, "s3cret")), bearer("s3cret"))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// TestAdminToken_Disabled verifies that an empty hash rejects every request.
func TestAdminToken_Disabled(t *testing.T) {
	rec := call(t, middleware.AdminTokenMiddleware(""), bearer("anything"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

// TestCORS_AllowedOrigin verifies that an allow-listed origin is echoed back.
func TestCORS_AllowedOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	req.Header.Set("Origin", "http://localhost:5173")

	rec := call(t, middleware.CORSMiddleware(middleware.DefaultOrigins), req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected origin to be echoed, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// TestCORS_UnknownOrigin verifies that other origins get no allow header.
func TestCORS_UnknownOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	req.Header.Set("Origin", "https://evil.example")

	rec := call(t, middleware.CORSMiddleware(middleware.DefaultOrigins), req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow header, got %q", got)
	}
}

// TestCORS_Preflight verifies that OPTIONS is answered without calling the handler.
func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/admin/refresh", nil)
	req.Header.Set("Origin", "http://localhost:5173")

	rec := call(t, middleware.CORSMiddleware(middleware.DefaultOrigins), req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
