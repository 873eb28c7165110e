package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const providerName = "vertex"

// Config for the Gemini-on-Vertex provider.
type Config struct {
	Project         string
	Region          string
	Model           string
	CredentialsFile string
}

// Provider implements llm.VisionProvider on Vertex AI Gemini models.
type Provider struct {
	cfg    Config
	client *genai.Client
	logger *slog.Logger
}

func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Project == "" {
		return nil, errors.New("vertex: project is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	logger.Info("vertex provider initialized", "project", cfg.Project, "region", cfg.Region, "model", cfg.Model)
	return &Provider{cfg: cfg, client: client, logger: logger}, nil
}

func (p *Provider) Name() string { return providerName }

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Complete runs one multimodal generation with JSON output.
func (p *Provider) Complete(ctx context.Context, req llm.VisionRequest) (llm.VisionResponse, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := p.client.GenerativeModel(p.cfg.Model)
	system := req.System
	if req.Schema != nil {
		b, _ := json.Marshal(req.Schema)
		system += "\n\nJSON Schema:\n" + string(b)
	}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, img := range req.Images {
		parts = append(parts,
			genai.Text(fmt.Sprintf("Page %d:", img.PageNumber)),
			genai.Blob{MIMEType: mimeOrPNG(img.ContentType), Data: img.Data},
		)
	}

	p.logger.Info("llm.vision.start", "req_id", rid, "provider", providerName, "purpose", req.Purpose, "images", len(req.Images))
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		p.logger.Error("llm.vision.generate_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.VisionResponse{}, &llm.ProviderError{Provider: providerName, Transient: isTransient(err), Err: err}
	}

	text := responseText(resp)
	if text == "" {
		p.logger.Warn("llm.vision.empty", "req_id", rid)
		return llm.VisionResponse{}, llm.ErrEmptyResponse
	}
	p.logger.Info("llm.vision.ok", "req_id", rid, "purpose", req.Purpose, "content_len", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return llm.VisionResponse{Content: text, Model: p.cfg.Model}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func mimeOrPNG(ct string) string {
	if ct == "" {
		return "image/png"
	}
	return ct
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
			return true
		}
	}
	return false
}
