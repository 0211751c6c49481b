package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/justin-0101/AutoCorrection-V3.0-0407-sub003/internal/platform/logger"
)

// ScoringClient calls the external scoring provider and returns the raw
// response text untouched. Parsing is the interpreter's job, so provider
// format drift never touches the retry/backoff logic here.
type ScoringClient interface {
	Score(ctx context.Context, title, content, grade string) (raw string, retries int, err error)
}

type scoringClient struct {
	log        *logger.Logger
	prompts    *PromptBuilder
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	tracer     trace.Tracer

	maxRetries int
}

func NewScoringClient(log *logger.Logger, prompts *PromptBuilder) (ScoringClient, error) {
	apiKey := os.Getenv("SCORING_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing SCORING_API_KEY")
	}

	baseURL := os.Getenv("SCORING_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}

	model := os.Getenv("SCORING_MODEL")
	if model == "" {
		model = "deepseek-chat"
	}

	// Bounded so a hung provider cannot pin a worker; retries cover the rest.
	timeoutSec := 60
	if v := os.Getenv("SCORING_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 2
	if v := os.Getenv("SCORING_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &scoringClient{
		log:        log.With("service", "ScoringClient"),
		prompts:    prompts,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		tracer:     otel.Tracer("scoring-client"),
		maxRetries: maxRetries,
	}, nil
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return !provErr.Fatal
	}
	// Connection resets and friends come through as url.Error wrapping opErr.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *scoringClient) doOnce(ctx context.Context, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &ProviderError{
			StatusCode: resp.StatusCode,
			Fatal:      !isRetryableHTTP(resp.StatusCode),
			Err:        errors.New(strings.TrimSpace(string(raw))),
		}
	}
	return resp, raw, nil
}

func (c *scoringClient) Score(ctx context.Context, title, content, grade string) (string, int, error) {
	ctx, span := c.tracer.Start(ctx, "scoring.Score",
		trace.WithAttributes(
			attribute.String("scoring.model", c.model),
			attribute.String("essay.grade", grade),
		))
	defer span.End()

	req := chatRequest{Model: c.model, Temperature: 0.1}
	req.Messages = []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		{Role: "system", Content: c.prompts.System()},
		{Role: "user", Content: c.prompts.User(title, content, grade)},
	}

	// exponential backoff: 1s, 2s, 4s (cap ~10s)
	backoff := 1 * time.Second
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return "", attempt, &ProviderError{Err: ctx.Err()}
		}

		resp, raw, err := c.doOnce(ctx, req)
		if err == nil {
			var out chatResponse
			if uErr := json.Unmarshal(raw, &out); uErr != nil {
				return "", attempt, &ProviderError{Fatal: true, Err: fmt.Errorf("decode response envelope: %w", uErr)}
			}
			if len(out.Choices) == 0 {
				return "", attempt, &ProviderError{Fatal: true, Err: errors.New("empty choices in response")}
			}
			span.SetAttributes(attribute.Int("scoring.retries", attempt))
			return out.Choices[0].Message.Content, attempt, nil
		}

		lastErr = err
		if !isRetryableErr(err) || attempt == c.maxRetries {
			var provErr *ProviderError
			if errors.As(lastErr, &provErr) {
				return "", attempt, provErr
			}
			return "", attempt, &ProviderError{Err: lastErr}
		}

		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("scoring provider call retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return "", attempt, &ProviderError{Err: ctx.Err()}
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return "", c.maxRetries, &ProviderError{Err: lastErr}
}
