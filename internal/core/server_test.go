package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/config"
	"brokerdesk/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Service:     "brokerdesk-billing",
		Server: config.ServerConfig{
			Port:           "8080",
			DashboardURL:   "https://app.brokerdesk.test",
			RequestTimeout: 5 * time.Second,
		},
	}
}

func TestNewServer_RequiresConfig(t *testing.T) {
	if _, err := NewServer(nil, discardLogger()); err == nil {
		t.Error("expected an error for nil config")
	}
}

func TestNewServer_RequiresLogger(t *testing.T) {
	if _, err := NewServer(testConfig(), nil); err == nil {
		t.Error("expected an error for nil logger")
	}
}

func TestNewServer_InitializesDependencies(t *testing.T) {
	srv, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Validator == nil {
		t.Error("expected validator to be initialized")
	}
	if srv.Router() == nil {
		t.Error("expected router to be initialized")
	}
	if srv.Handler() == nil {
		t.Error("expected handler to be available")
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

// --- Route mounting ---

func TestMountRoutes_HealthEndpoint(t *testing.T) {
	srv, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.MountRoutes()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", w.Code)
	}
}

func TestMountRoutes_V1Registrars(t *testing.T) {
	srv, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/billing/ping", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, APIResponse{Data: "pong"})
		})
	})
	srv.MountRoutes()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/billing/ping", nil)
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp APIResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data != "pong" {
		t.Errorf("expected pong, got %v", resp.Data)
	}
}

func TestMountRoutes_UnknownPathReturns404(t *testing.T) {
	srv, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.MountRoutes()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/does-not-exist", nil)
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMountRoutes_GlobalMiddlewareApplied(t *testing.T) {
	srv, err := NewServer(testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var seenRequestID string
	var deadlineSet bool
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/billing/ping", func(w http.ResponseWriter, r *http.Request) {
			seenRequestID = types.GetRequestID(r.Context())
			_, deadlineSet = r.Context().Deadline()
			w.WriteHeader(http.StatusOK)
		})
	})
	srv.MountRoutes()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/billing/ping", nil)
	srv.Handler().ServeHTTP(w, r)

	if seenRequestID == "" {
		t.Error("expected request id middleware to run")
	}
	if !deadlineSet {
		t.Error("expected context timeout middleware to set a deadline")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected security headers on mounted routes, got %q", got)
	}
}
