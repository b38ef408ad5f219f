package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

func TestHandleHealthz(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestAuthMiddlewarePassesThroughWhenNoTokenConfigured(t *testing.T) {
	s := &Server{}
	called := false
	handler := s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/catalog/runs", nil)
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to run when no auth token is configured")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingOrWrongToken(t *testing.T) {
	s := &Server{AuthToken: "secret-token"}
	handler := s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run without a valid token")
	}))

	cases := []string{"", "Bearer wrong-token", "wrong-scheme secret-token"}
	for _, header := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/catalog/runs", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestAuthMiddlewareAcceptsMatchingBearerToken(t *testing.T) {
	s := &Server{AuthToken: "secret-token"}
	called := false
	handler := s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/catalog/runs", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to run with a matching bearer token")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWriteErrorMapsCatalogerrKindsToStatusCodes(t *testing.T) {
	s := &Server{}
	cases := []struct {
		kind catalogerr.Kind
		want int
	}{
		{catalogerr.BadRequest, http.StatusBadRequest},
		{catalogerr.ConfigMissing, http.StatusBadRequest},
		{catalogerr.Unauthorized, http.StatusUnauthorized},
		{catalogerr.StoreNotFound, http.StatusNotFound},
		{catalogerr.PoolExhausted, http.StatusServiceUnavailable},
		{catalogerr.ExecutionError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		s.writeError(rec, catalogerr.New(c.kind, "test", "boom"))
		if rec.Code != c.want {
			t.Fatalf("kind %s: expected status %d, got %d", c.kind, c.want, rec.Code)
		}
	}
}

func TestHandleStartRunRejectsMissingFields(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/catalog/runs", nil)
	req.Body = http.NoBody

	s.handleStartRun(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
}

func TestHandleStartRunRejectsWrongMethod(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/catalog/runs", nil)

	s.handleStartRun(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
