package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHealth(t *testing.T, probes ...HealthProbe) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func okProbe(name string) PingProbe {
	return PingProbe{ProbeName: name, Ping: func(context.Context) error { return nil }}
}

func TestHandleHealth_NoProbes(t *testing.T) {
	rec, body := runHealth(t)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)
	assert.Empty(t, body.Components)
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	rec, body := runHealth(t, okProbe("blobstore"), okProbe("queue"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Components["blobstore"].Status)
	assert.Equal(t, "healthy", body.Components["queue"].Status)
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	failing := PingProbe{ProbeName: "blobstore", Ping: func(context.Context) error {
		return errors.New("connection refused")
	}}

	rec, body := runHealth(t, failing, okProbe("queue"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Components["blobstore"].Message)
	assert.Equal(t, "healthy", body.Components["queue"].Status)
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	panicking := PingProbe{ProbeName: "blobstore", Ping: func(context.Context) error {
		panic("nil pool")
	}}

	rec, body := runHealth(t, panicking)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body.Components["blobstore"].Message, "probe panicked")
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health timeout")
	}
	slow := PingProbe{ProbeName: "blobstore", Ping: func(ctx context.Context) error {
		select {
		case <-time.After(10 * time.Second):
			return nil
		case <-ctx.Done():
			time.Sleep(50 * time.Millisecond)
			return ctx.Err()
		}
	}}

	rec, body := runHealth(t, slow)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body.Components["blobstore"].Status)
}
