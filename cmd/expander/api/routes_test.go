package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestExpandRejectsInvalidBody(t *testing.T) {
	router := NewRouter(nil, zerolog.Nop())
	handler := router.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/api/expand", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExpandRejectsEmptyReport(t *testing.T) {
	router := NewRouter(nil, zerolog.Nop())
	handler := router.SetupRoutes()

	req := httptest.NewRequest(http.MethodPost, "/api/expand", strings.NewReader(`{"reportId":"r1","valueSets":[]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	router := NewRouter(nil, zerolog.Nop())
	handler := router.SetupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id header not set")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := NewRouter(nil, zerolog.Nop())
	handler := router.SetupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/api/expand", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
