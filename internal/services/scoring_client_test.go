package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/types"
)

func newTestScoringClient(t *testing.T, baseURL string, maxRetries int) *scoringClient {
	t.Helper()
	return &scoringClient{
		log:        newTestLogger(t),
		prompts:    newTestPromptBuilder(t),
		baseURL:    baseURL,
		apiKey:     "test-key",
		model:      "test-model",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tracer:     otel.Tracer("scoring-client-test"),
		maxRetries: maxRetries,
	}
}

const chatEnvelope = `{"choices":[{"message":{"content":"{\"总得分\": 45}"}}]}`

func TestScoreRetriesTransientErrorThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatEnvelope))
	}))
	defer srv.Close()

	c := newTestScoringClient(t, srv.URL, 2)
	raw, retries, err := c.Score(context.Background(), "t", "内容", types.GradeJunior)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if retries != 1 {
		t.Fatalf("retries: want=1 got=%d", retries)
	}
	if raw != `{"总得分": 45}` {
		t.Fatalf("raw: got=%q", raw)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("provider hits: want=2 got=%d", got)
	}
}

func TestScoreFatalStatusIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := newTestScoringClient(t, srv.URL, 2)
	_, retries, err := c.Score(context.Background(), "t", "内容", types.GradeJunior)
	if err == nil {
		t.Fatalf("Score: expected error on 401")
	}
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error type: want=*ProviderError got=%T", err)
	}
	if !provErr.Fatal {
		t.Fatalf("401 must be fatal")
	}
	if provErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: want=401 got=%d", provErr.StatusCode)
	}
	if retries != 0 {
		t.Fatalf("retries: want=0 got=%d", retries)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("provider hits: want=1 got=%d", got)
	}
}

func TestScoreGivesUpAfterMaxRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestScoringClient(t, srv.URL, 1)
	_, retries, err := c.Score(context.Background(), "t", "内容", types.GradeJunior)
	if err == nil {
		t.Fatalf("Score: expected error after exhausting retries")
	}
	if retries != 1 {
		t.Fatalf("retries: want=1 got=%d", retries)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("provider hits: want=2 got=%d", got)
	}
}

func TestScoreEmptyChoicesIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestScoringClient(t, srv.URL, 2)
	_, _, err := c.Score(context.Background(), "t", "内容", types.GradeJunior)
	if err == nil {
		t.Fatalf("Score: expected error on empty choices")
	}
	var provErr *ProviderError
	if !errors.As(err, &provErr) || !provErr.Fatal {
		t.Fatalf("empty choices must be a fatal provider error, got %v", err)
	}
}

func TestScoreHonorsCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatEnvelope))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestScoringClient(t, srv.URL, 2)
	_, _, err := c.Score(ctx, "t", "内容", types.GradeJunior)
	if err == nil {
		t.Fatalf("Score: expected error on canceled context")
	}
}
