package external

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"campaignfund/internal/types"
)

// noopSleep skips the wait between retries.
func noopSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, policy RetryPolicy, opts ...BaseClientOption) *BaseClient {
	t.Helper()
	opts = append([]BaseClientOption{WithSleepFunc(noopSleep)}, opts...)
	return NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-breaker",
		policy,
		"campaignfund-test/1.0",
		opts...,
	)
}

func mustRequest(t *testing.T, ctx context.Context, method, url, body string) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy())

	resp, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestDo_InjectsHeaders(t *testing.T) {
	var gotRequestID, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy())
	ctx := types.WithRequestID(context.Background(), "req-abc-123")

	resp, err := client.Do(mustRequest(t, ctx, http.MethodGet, server.URL, ""))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	resp.Body.Close()

	if gotRequestID != "req-abc-123" {
		t.Errorf("expected request id 'req-abc-123', got %q", gotRequestID)
	}
	if gotUA != "campaignfund-test/1.0" {
		t.Errorf("unexpected user agent %q", gotUA)
	}
}

func TestDo_RetriesServerErrorsAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"amount":50000}` {
			t.Errorf("attempt %d: body not replayed, got %q", calls.Load()+1, body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond})

	resp, err := client.Do(mustRequest(t, context.Background(), http.MethodPost, server.URL, `{"amount":50000}`))
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	resp.Body.Close()

	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestDo_ExhaustedRetries(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode types.ErrorCode
	}{
		{"server error", http.StatusServiceUnavailable, types.ErrCodeUpstreamUnavailable},
		{"rate limited", http.StatusTooManyRequests, types.ErrCodeUpstreamRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient(t, RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond})

			_, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *types.AppError, got %T: %v", err, err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, appErr.Code)
			}
			if calls.Load() != 3 {
				t.Errorf("expected 3 calls, got %d", calls.Load())
			}
		})
	}
}

func TestDo_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy())

	resp, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))
	if err != nil {
		t.Fatalf("expected the 400 response to be returned, got: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDo_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "trip-fast",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})
	client := newTestClient(t, RetryPolicy{MaxRetries: 5, MinWait: time.Millisecond, MaxWait: time.Millisecond}, WithBreaker(cb))

	_, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected breaker open error, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected breaker to stop after 2 calls, got %d", calls.Load())
	}
}

func TestDo_SleepCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, DefaultRetryPolicy(), WithSleepFunc(func(context.Context, time.Duration) error {
		return context.DeadlineExceeded
	}))

	_, err := client.Do(mustRequest(t, context.Background(), http.MethodGet, server.URL, ""))

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeInternalTimeout {
		t.Errorf("expected %s, got %s", types.ErrCodeInternalTimeout, appErr.Code)
	}
}

func TestComputeBackoff(t *testing.T) {
	client := newTestClient(t, RetryPolicy{MaxRetries: 3, MinWait: 100 * time.Millisecond, MaxWait: time.Second})

	t.Run("retry-after seconds", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"1"}}}
		if got := client.computeBackoff(0, resp); got != time.Second {
			t.Errorf("expected 1s, got %v", got)
		}
	})

	t.Run("retry-after clamped", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{"Retry-After": []string{"120"}}}
		if got := client.computeBackoff(0, resp); got != time.Second {
			t.Errorf("expected clamp to 1s, got %v", got)
		}
	})

	t.Run("exponential within bounds", func(t *testing.T) {
		for attempt := 0; attempt < 6; attempt++ {
			got := client.computeBackoff(attempt, nil)
			if got < 100*time.Millisecond || got > time.Second {
				t.Errorf("attempt %d: backoff %v outside [100ms, 1s]", attempt, got)
			}
		}
	})
}
