package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 120 * time.Second

	retryBackoff   = 2 * time.Second
	rateLimitFloor = 5 * time.Second
)

// APIError is a non-200 response from a provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: provider returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying: rate limits and
// gateway failures.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// transport posts JSON bodies below cfg.BaseURL. Each call is one span.
type transport struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	tracer trace.Tracer
}

func newTransport(cfg Config) *transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &transport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		tracer: otel.Tracer("genaiti/llm"),
	}
}

// postJSON sends in to path and decodes the 200 body into out. Pass a
// *json.RawMessage to keep the body undecoded.
func (t *transport) postJSON(ctx context.Context, path string, in, out any) (err error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("llm: encoding request: %w", err)
	}
	target := t.cfg.BaseURL + path

	ctx, span := t.tracer.Start(ctx, "llm.post",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.url", target),
			attribute.String("llm.model", t.cfg.Model),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := t.withRetries(ctx, target, payload, span)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("llm: decoding %s response: %w", path, err)
	}
	return nil
}

func (t *transport) withRetries(ctx context.Context, target string, payload []byte, span trace.Span) ([]byte, error) {
	retries := max(t.cfg.MaxRetries, 0)
	for attempt := 0; ; attempt++ {
		span.SetAttributes(attribute.Int("llm.attempts", attempt+1))

		body, retryAfter, err := t.send(ctx, target, payload)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == retries || !retryable(err) {
			if attempt > 0 {
				return nil, fmt.Errorf("llm: giving up after %d attempts: %w", attempt+1, err)
			}
			return nil, err
		}

		wait := retryDelay(attempt+1, err, retryAfter)
		t.logger.Warn("llm: request failed, retrying",
			zap.String("url", target),
			zap.Int("retry", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// send performs one POST. retryAfter is the raw Retry-After header of a
// failed response.
func (t *transport) send(ctx context.Context, target string, payload []byte) (body []byte, retryAfter string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("llm: post %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("llm: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.Header.Get("Retry-After"), &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, "", nil
}

// retryable is true for network failures and temporary statuses.
func retryable(err error) bool {
	apiErr, ok := err.(*APIError)
	return !ok || apiErr.Temporary()
}

// retryDelay doubles from retryBackoff for each retry. Rate limits start at
// rateLimitFloor and honour a longer Retry-After in seconds.
func retryDelay(retry int, err error, retryAfter string) time.Duration {
	shift := time.Duration(1) << (retry - 1)
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusTooManyRequests {
		return retryBackoff * shift
	}
	wait := rateLimitFloor * shift
	if secs, convErr := strconv.Atoi(retryAfter); convErr == nil && secs > 0 {
		wait = max(wait, time.Duration(secs)*time.Second)
	}
	return wait
}
