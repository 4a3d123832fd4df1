package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hyperfetch/internal/jobmanager"
	"hyperfetch/internal/mapper"
	"hyperfetch/internal/network"
	"hyperfetch/internal/scheduler"
	"hyperfetch/internal/security"
	"hyperfetch/internal/tracker"
)

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	m, err := mapper.New(nil, mapper.DefaultConfig())
	if err != nil {
		t.Fatalf("mapper.New: %v", err)
	}
	tr := tracker.New()
	transport := network.NewHTTPClient("hyperfetch-test", 5*time.Second)
	coordinator := scheduler.New(m, tr, transport)
	mgr := jobmanager.New(coordinator, nil, mapper.RegionGlobal, 4)
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	audit := security.NewAuditLogger(logger, t.TempDir())
	return New(mgr, tr, audit, logger, token)
}

func TestStatusServedToLoopback(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from loopback, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "running" {
		t.Fatalf("unexpected status body: %+v", body)
	}
}

func TestStatusRejectsNonLoopback(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "8.8.8.8:1234"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback, got %d", rec.Code)
	}
}

func TestTokenRequiredWhenConfigured(t *testing.T) {
	s := newTestServer(t, "secret-token")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req2.RemoteAddr = "127.0.0.1:5555"
	req2.Header.Set("X-Hyperfetch-Token", "secret-token")
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec2.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSubmitJobRejectsMissingFields(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{}`))
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
