// Package extract reads candidate contract values from individual critical pages.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
	"github.com/joseph-ayodele/packet-parser/internal/retry"
)

type Config struct {
	Parallelism int
	Retry       retry.Policy
}

// Extractor implements PageExtractor over a vision model.
type Extractor struct {
	provider llm.VisionProvider
	cfg      Config
	logger   *slog.Logger
}

func New(provider llm.VisionProvider, cfg Config, logger *slog.Logger) *Extractor {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{provider: provider, cfg: cfg, logger: logger}
}

type pageResponse struct {
	Fields     entity.ContractFields `json:"fields"`
	Confidence struct {
		Overall float64            `json:"overall"`
		Fields  map[string]float64 `json:"fields"`
	} `json:"confidence"`
	HandwritingDetected bool `json:"handwritingDetected"`
}

// ExtractPage runs one page. Transient provider errors are retried; a response that cannot be
// parsed yields *UnparseableResponseError.
func (e *Extractor) ExtractPage(ctx context.Context, page entity.PageImage, label entity.PageRoleLabel) (entity.PerPageExtraction, error) {
	start := time.Now()
	req := llm.VisionRequest{
		Purpose: "extract",
		System:  llm.BuildExtractSystemPrompt(),
		Prompt:  llm.BuildExtractUserPrompt(page.PageNumber, label.Role, label.FormCode, page.TextLayer),
		Images:  []llm.Image{{PageNumber: page.PageNumber, ContentType: page.ContentType, Data: page.Data}},
		Schema:  llm.BuildPageExtractionSchema(),
	}

	var resp llm.VisionResponse
	err := retry.Do(ctx, e.cfg.Retry, e.logger, fmt.Sprintf("extract.page.%d", page.PageNumber), func(ctx context.Context) error {
		var err error
		resp, err = e.provider.Complete(ctx, req)
		return err
	})
	if errors.Is(err, llm.ErrEmptyResponse) {
		return entity.PerPageExtraction{}, &UnparseableResponseError{Page: page.PageNumber, Attempts: []string{"empty"}, Err: err}
	}
	if err != nil {
		return entity.PerPageExtraction{}, fmt.Errorf("extract page %d: %w", page.PageNumber, err)
	}

	out, err := parsePageResponse(page.PageNumber, resp.Content, e.logger)
	if err != nil {
		return entity.PerPageExtraction{}, err
	}
	e.logger.Info("extract.page.ok",
		"page", page.PageNumber,
		"role", label.Role,
		"overall", out.OverallConfidence,
		"handwriting", out.HandwritingDetected,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func parsePageResponse(pageNum int, content string, logger *slog.Logger) (entity.PerPageExtraction, error) {
	fail := func(attempts []string, err error) (entity.PerPageExtraction, error) {
		return entity.PerPageExtraction{}, &UnparseableResponseError{Page: pageNum, Raw: content, Attempts: attempts, Err: err}
	}

	raw, strategy, err := llm.ExtractJSONObject(content)
	if err != nil {
		var tried []string
		for _, s := range llm.Strategies {
			tried = append(tried, s.Name)
		}
		return fail(tried, err)
	}
	attempts := []string{strategy}

	cleaned, dropped, err := llm.SanitizeExtraction(raw)
	if err != nil {
		return fail(append(attempts, "sanitize"), err)
	}
	if len(dropped) > 0 {
		logger.Warn("extract.page.sanitized", "page", pageNum, "dropped", dropped)
	}
	if err := llm.ValidateJSONAgainstSchema(llm.SchemaPageExtraction, llm.BuildPageExtractionSchema(), cleaned); err != nil {
		return fail(append(attempts, llm.ValidationMessages(err)...), err)
	}

	var pr pageResponse
	if err := json.Unmarshal(cleaned, &pr); err != nil {
		return fail(append(attempts, "decode"), err)
	}
	return entity.PerPageExtraction{
		PageNumber:          pageNum,
		Fields:              pr.Fields,
		OverallConfidence:   pr.Confidence.Overall,
		PerFieldConfidence:  pr.Confidence.Fields,
		HandwritingDetected: pr.HandwritingDetected,
	}, nil
}

// Extract runs every critical page concurrently and tags results with their labels.
// Unparseable pages land in Outcome.Excluded; any other failure aborts the stage.
func (e *Extractor) Extract(ctx context.Context, pages []entity.PageImage, cls entity.Classification) (Outcome, error) {
	var (
		mu  sync.Mutex
		out Outcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for _, p := range pages {
		label, ok := cls.Label(p.PageNumber)
		if !ok {
			e.logger.Warn("extract.page.unlabelled", "page", p.PageNumber)
			continue
		}
		g.Go(func() error {
			res, err := e.ExtractPage(gctx, p, label)
			var unparseable *UnparseableResponseError
			switch {
			case errors.As(err, &unparseable):
				e.logger.Warn("extract.page.excluded", "page", p.PageNumber, "err", err, "raw_len", len(unparseable.Raw))
				mu.Lock()
				out.Excluded = append(out.Excluded, unparseable)
				mu.Unlock()
				return nil
			case err != nil:
				return err
			}
			mu.Lock()
			out.Pages = append(out.Pages, entity.EnrichedPageExtraction{
				PerPageExtraction: res,
				Role:              label.Role,
				Party:             label.Party,
				FormCode:          label.FormCode,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}
	sort.Slice(out.Pages, func(i, j int) bool { return out.Pages[i].PageNumber < out.Pages[j].PageNumber })
	sort.Slice(out.Excluded, func(i, j int) bool { return out.Excluded[i].Page < out.Excluded[j].Page })
	return out, nil
}
