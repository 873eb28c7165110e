package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxErrorExcerpt bounds how much of a failed response body is kept in the error.
const maxErrorExcerpt = 300

// Endpoint is one JSON-over-HTTP model endpoint.
type Endpoint struct {
	Provider string
	URL      string
	Headers  map[string]string
	Client   *http.Client
}

// PostJSON posts body and returns the 2xx response body. Every failure is a *ProviderError:
// network errors, timeouts and retryable statuses are transient, cancellation and client
// errors are not.
func PostJSON(ctx context.Context, ep Endpoint, reqID string, body any, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := ep.Client
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Provider: ep.Provider, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(bs))
	if err != nil {
		return nil, &ProviderError{Provider: ep.Provider, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	logger.Debug("llm.http.request", "req_id", reqID, "provider", ep.Provider, "content_length", len(bs))

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("llm.http.send_error", "req_id", reqID, "provider", ep.Provider, "err", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, &ProviderError{Provider: ep.Provider, Transient: !errors.Is(err, context.Canceled), Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("llm.http.body_close_error", "req_id", reqID, "err", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: ep.Provider, Status: resp.StatusCode, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}
	logger.Info("llm.http.response",
		"req_id", reqID,
		"provider", ep.Provider,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return nil, &ProviderError{
			Provider:  ep.Provider,
			Status:    resp.StatusCode,
			Transient: TransientStatus(resp.StatusCode),
			Err:       fmt.Errorf("unexpected response: %s", excerpt(raw)),
		}
	}
	return raw, nil
}

func excerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "empty body"
	}
	if len(s) > maxErrorExcerpt {
		return s[:maxErrorExcerpt] + "..."
	}
	return s
}
