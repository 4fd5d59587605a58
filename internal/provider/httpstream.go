package provider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// sseRetryDelays backs off the initial SSE connection attempt on transient
// HTTP errors, matching the teacher's internal/provider/openai_common.go.
var sseRetryDelays = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}

// httpRequestConfig holds the parameters for an HTTP SSE request.
type httpRequestConfig struct {
	client   *http.Client
	method   string
	url      string
	body     []byte
	headers  map[string]string
	dialect  string // for logging
	modelID  string // for logging
}

// isTransientStatus reports whether an HTTP status code should trigger a
// retry of the initial connection.
func isTransientStatus(code int) bool {
	return code == 429 || code == 500 || code == 502 || code == 503 || code == 504
}

// httpDoSSE executes an HTTP request for SSE streaming with retry on the
// initial connection. Returns the response body, which the caller must
// close.
func httpDoSSE(ctx context.Context, cfg httpRequestConfig) (io.ReadCloser, error) {
	maxRetries := len(sseRetryDelays)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := sseRetryWait(ctx, cfg, attempt); err != nil {
			return nil, err
		}

		body, err, retry := sseAttempt(ctx, cfg, attempt)
		if err != nil {
			return nil, err
		}
		if retry != nil {
			lastErr = retry
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("SSE request failed after %d retries: %w", maxRetries, lastErr)
}

func sseRetryWait(ctx context.Context, cfg httpRequestConfig, attempt int) error {
	if attempt == 0 {
		log.Info().Str("dialect", cfg.dialect).Str("model", cfg.modelID).Msg("provider: stream request started")
		return nil
	}
	delay := sseRetryDelays[attempt-1]
	log.Warn().Str("dialect", cfg.dialect).Int("attempt", attempt).Dur("delay", delay).Msg("provider: retrying SSE connection after transient error")
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sseAttempt(ctx context.Context, cfg httpRequestConfig, attempt int) (io.ReadCloser, error, error) {
	method := cfg.method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, cfg.url, bytes.NewReader(cfg.body))
	if err != nil {
		return nil, err, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range cfg.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := cfg.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err, nil
		}
		return nil, nil, err // retryable
	}

	if isTransientStatus(resp.StatusCode) {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		retryErr := fmt.Errorf("stream request status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		log.Warn().Str("dialect", cfg.dialect).Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("provider: SSE retryable error")
		return nil, nil, retryErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("stream request status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil
	}

	return resp.Body, nil, nil
}

// sseEvent is one parsed "event: .../data: ..." frame.
type sseEvent struct {
	Event string
	Data  string
}

// sseFrames reads raw SSE frames from r, buffering across network reads
// until a blank line terminates each frame (a single bufio.Scanner line
// split is not sufficient: a frame's data may arrive split across multiple
// reads from the underlying connection). Returns a channel closed when r is
// exhausted or yields an error.
func sseFrames(r io.Reader) <-chan sseEvent {
	out := make(chan sseEvent)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		var eventType string
		var dataLines []string
		flush := func() {
			if len(dataLines) == 0 && eventType == "" {
				return
			}
			out <- sseEvent{Event: eventType, Data: strings.Join(dataLines, "\n")}
			eventType = ""
			dataLines = nil
		}
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				flush()
			case strings.HasPrefix(line, "event:"):
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			default:
				// comment or unknown field, ignore
			}
		}
		flush()
	}()
	return out
}
