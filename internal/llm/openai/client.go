package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
)

const providerName = "openai"

func (c *Client) Name() string { return providerName }

// Complete sends the page images as data URLs and returns the raw message content.
// Parsing and schema validation are left to the caller.
func (c *Client) Complete(ctx context.Context, req llm.VisionRequest) (llm.VisionResponse, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.vision.start",
		"req_id", rid,
		"provider", providerName,
		"purpose", req.Purpose,
		"model", c.cfg.Model,
		"images", len(req.Images),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages":        buildMessages(req),
	}

	raw, err := llm.PostJSON(ctx, llm.Endpoint{
		Provider: providerName,
		URL:      strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions",
		Headers:  map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
		Client:   c.http,
	}, rid, body, c.logger)
	if err != nil {
		c.logger.Error("llm.vision.http_error", "req_id", rid, "err", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return llm.VisionResponse{}, err
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.vision.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return llm.VisionResponse{}, &llm.ProviderError{Provider: providerName, Err: fmt.Errorf("decode openai response: %w", err)}
	}
	if len(cc.Choices) == 0 || strings.TrimSpace(cc.Choices[0].Message.Content) == "" {
		c.logger.Warn("llm.vision.empty", "req_id", rid, "raw_bytes", len(raw))
		return llm.VisionResponse{}, llm.ErrEmptyResponse
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	c.logger.Info("llm.vision.ok",
		"req_id", rid,
		"purpose", req.Purpose,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	model := cc.Model
	if model == "" {
		model = c.cfg.Model
	}
	return llm.VisionResponse{Content: content, Model: model}, nil
}

func buildMessages(req llm.VisionRequest) []map[string]any {
	system := req.System
	if req.Schema != nil {
		system += "\n\nJSON Schema:\n" + mustJSON(req.Schema)
	}
	parts := []map[string]any{{"type": "text", "text": req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts,
			map[string]any{"type": "text", "text": fmt.Sprintf("Page %d:", img.PageNumber)},
			map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url":    dataURL(img.ContentType, img.Data),
					"detail": "high",
				},
			},
		)
	}
	return []map[string]any{
		{"role": "system", "content": system},
		{"role": "user", "content": parts},
	}
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
