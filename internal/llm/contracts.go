package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Image is one page raster sent to a vision model.
type Image struct {
	PageNumber  int
	ContentType string
	Data        []byte
	// Text is the page's embedded text layer, passed as a hint when present.
	Text string
}

// VisionRequest is a single multimodal completion.
type VisionRequest struct {
	Purpose string // classify | extract, for logs
	System  string
	Prompt  string
	Images  []Image
	Schema  map[string]any
}

// VisionResponse carries the raw model text. Callers parse it; providers never do.
type VisionResponse struct {
	Content string
	Model   string
}

// VisionProvider is the interface classification and extraction depend on.
type VisionProvider interface {
	Name() string
	Complete(ctx context.Context, req VisionRequest) (VisionResponse, error)
}

// ErrEmptyResponse is returned when the provider answered without content.
var ErrEmptyResponse = errors.New("llm: empty response")

// ProviderError is a failed provider call. Transient ones are retried by callers.
type ProviderError struct {
	Provider  string
	Status    int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error   { return e.Err }
func (e *ProviderError) Temporary() bool { return e.Transient }

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code == http.StatusTooEarly:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
