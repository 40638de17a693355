// ABOUTME: Tests for the retrying upstream client
// ABOUTME: Verifies Retry-After handling, exponential backoff, permanent errors and decoding
package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestClient(t *testing.T, baseURL string, maxAttempts int) (*Client, *sleepRecorder) {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:     baseURL,
		Token:       "test-token",
		MaxAttempts: maxAttempts,
		BaseBackoff: 100 * time.Millisecond,
		MaxJitter:   50 * time.Millisecond,
	})
	require.NoError(t, err)

	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	c.jitter = func(max time.Duration) time.Duration { return max / 2 }
	return c, rec
}

func TestRetryAfterHeaderIsHonored(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"id": 1}]`))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, 3)
	records, err := c.GetRecords(context.Background(), "companies/ListAll/", nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), calls.Load())

	delays := rec.recorded()
	require.Len(t, delays, 1)
	assert.GreaterOrEqual(t, delays[0], 2*time.Second)
}

func TestServerErrorsBackOffExponentially(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, 5)
	_, err := c.GetRecords(context.Background(), "processes/ListAll/", nil)
	require.NoError(t, err)

	jitter := 25 * time.Millisecond
	assert.Equal(t, []time.Duration{
		100*time.Millisecond + jitter,
		200*time.Millisecond + jitter,
		400*time.Millisecond + jitter,
	}, rec.recorded())
}

func TestNotFoundIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such company", http.StatusNotFound)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, 5)
	_, err := c.GetRecords(context.Background(), "deliveries/123/", nil)
	require.Error(t, err)

	assert.True(t, IsNotFound(err))
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.recorded())

	var perm *PermanentError
	require.True(t, errors.As(err, &perm))
	assert.Contains(t, perm.Body, "no such company")
}

func TestRetriesExhaustedSurfaceTransientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, 3)
	_, err := c.GetRecords(context.Background(), "companies/ListAll/", nil)
	require.Error(t, err)

	var tErr *TransientError
	require.True(t, errors.As(err, &tErr))
	assert.True(t, tErr.Exhausted)
	assert.Equal(t, http.StatusServiceUnavailable, tErr.StatusCode)
	assert.Equal(t, 3, tErr.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, rec.recorded(), 2, "no sleep after the final attempt")
}

func TestRequestsCarryTokenAndUserAgent(t *testing.T) {
	var gotAuth, gotAgent, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 1)
	_, err := c.GetRecords(context.Background(), "companies/ListAll/", nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, DefaultUserAgent, gotAgent)
	assert.Equal(t, "application/json", gotAccept)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, 5)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.GetRecords(ctx, "companies/ListAll/", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryAfterParsing(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	assert.Zero(t, retryAfter(h, now))

	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(h, now))

	h.Set("Retry-After", "0")
	assert.Zero(t, retryAfter(h, now))

	h.Set("Retry-After", "-5")
	assert.Zero(t, retryAfter(h, now))

	h.Set("Retry-After", now.Add(10*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 10*time.Second, retryAfter(h, now))

	h.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(h, now))
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
	}{
		{"empty body", "", 0},
		{"null", "null", 0},
		{"empty list", "[]", 0},
		{"list", `[{"id": 1}, {"id": 2}]`, 2},
		{"list with scalars", `[{"id": 1}, 5, "x"]`, 1},
		{"items wrapper", `{"items": [{"id": 1}]}`, 1},
		{"null items", `{"items": null}`, 0},
		{"single object", `{"ProcID": 7}`, 1},
		{"empty object", `{}`, 0},
		{"bare message", `"Nenhum registro encontrado"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := DecodeRecords([]byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, records, tt.count)
		})
	}

	_, err := DecodeRecords([]byte(`{"items": 3}`))
	assert.Error(t, err)

	_, err = DecodeRecords([]byte(`{broken`))
	assert.Error(t, err)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Token: "x"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "https://api.example.com"})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "https://api.example.com/v1", Token: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, c.PageSize())
	assert.Equal(t, "https://api.example.com/v1/companies/ListAll/?Pagina=1",
		c.url(Request{Path: "/companies/ListAll/", Query: map[string][]string{"Pagina": {"1"}}}))
}
