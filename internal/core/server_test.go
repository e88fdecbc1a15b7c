package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"campaignfund/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockMetricsCollector struct {
	mu    sync.Mutex
	calls []metricsCall
}

type metricsCall struct {
	method, endpoint, status string
	duration                 time.Duration
}

func (m *mockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, metricsCall{method, endpoint, status, duration})
}

func newTestServer(t *testing.T, registrars ...RouteRegistrar) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Server.RequestTimeout = 2 * time.Second
	cfg.Security.CorsAllowedOrigins = []string{"*"}

	srv, err := NewServer(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	srv.RouteRegistrars = registrars
	return srv
}

func TestNewServer_Success(t *testing.T) {
	cfg := &config.Config{Environment: "local"}

	srv, err := NewServer(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewServer returned unexpected error: %v", err)
	}
	if srv.Config != cfg {
		t.Error("Config field not set correctly")
	}
	if srv.Validator == nil {
		t.Error("Validator should be initialised")
	}
	if srv.Router() == nil || srv.Handler() == nil {
		t.Error("router should be initialised")
	}
}

func TestNewServer_RejectsNilDependencies(t *testing.T) {
	if _, err := NewServer(nil, testLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestShutdown_RunsClosersInOrder(t *testing.T) {
	srv := newTestServer(t)
	var order []string
	srv.Closers = []func(){
		func() { order = append(order, "store") },
		func() { order = append(order, "pool") },
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if len(order) != 2 || order[0] != "store" || order[1] != "pool" {
		t.Errorf("unexpected closer order: %v", order)
	}
}

func TestMountRoutes_UsesRegistrars(t *testing.T) {
	called := false
	srv := newTestServer(t, func(r chi.Router) {
		called = true
	})
	srv.MountRoutes()

	if !called {
		t.Error("registrar was not invoked")
	}
}
