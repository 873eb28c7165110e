// Package classify finds the legally decisive pages of a packet.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
	"github.com/joseph-ayodele/packet-parser/internal/retry"
)

// ErrNoUsableBatch is returned when every batch failed and no fallback label was found.
var ErrNoUsableBatch = errors.New("classify: every batch failed")

type Config struct {
	BatchSize   int
	Parallelism int
	Retry       retry.Policy
}

type Classifier struct {
	provider llm.VisionProvider
	cfg      Config
	logger   *slog.Logger
}

func New(provider llm.VisionProvider, cfg Config, logger *slog.Logger) *Classifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, cfg: cfg, logger: logger}
}

type batchResult struct {
	labels   []entity.PageRoleLabel
	failed   bool
	fallback []int
	err      error
}

type rawLabel struct {
	PageNumber int     `json:"pageNumber"`
	FormCode   *string `json:"formCode"`
	Role       string  `json:"role"`
	Party      *string `json:"party"`
	Confidence float64 `json:"confidence"`
}

// Classify labels the critical pages of a packet. Failed batches are logged and skipped;
// an error is returned only for cancellation or when nothing could be classified at all.
func (c *Classifier) Classify(ctx context.Context, pages []entity.PageImage) (entity.Classification, error) {
	start := time.Now()
	batches := chunk(pages, c.cfg.BatchSize)
	results := make([]batchResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = c.classifyBatch(gctx, i, batch)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return entity.Classification{}, err
	}

	var detected []entity.PageRoleLabel
	meta := entity.PacketMetadata{TotalPages: len(pages)}
	var lastErr error
	for _, r := range results {
		detected = append(detected, r.labels...)
		if r.failed {
			meta.FailedBatches++
			lastErr = r.err
		}
		meta.FallbackPages = append(meta.FallbackPages, r.fallback...)
	}
	if len(batches) > 0 && meta.FailedBatches == len(batches) && len(detected) == 0 {
		return entity.Classification{}, fmt.Errorf("%w: %w", ErrNoUsableBatch, lastErr)
	}

	labels := MergeLabels(detected)
	cls := entity.Classification{Labels: labels, Metadata: meta}
	for _, l := range labels {
		cls.CriticalPages = append(cls.CriticalPages, l.PageNumber)
	}
	cls.Metadata.FormCodes = formCodes(detected)
	cls.Metadata.HasMultipleForms = len(cls.Metadata.FormCodes) > 1
	sort.Ints(cls.Metadata.FallbackPages)

	c.logger.Info("classify.done",
		"pages", len(pages),
		"batches", len(batches),
		"failed_batches", meta.FailedBatches,
		"critical_pages", cls.CriticalPages,
		"form_codes", cls.Metadata.FormCodes,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return cls, nil
}

func (c *Classifier) classifyBatch(ctx context.Context, idx int, batch []entity.PageImage) batchResult {
	images := make([]llm.Image, len(batch))
	inBatch := make(map[int]bool, len(batch))
	for i, p := range batch {
		images[i] = llm.Image{PageNumber: p.PageNumber, ContentType: p.ContentType, Data: p.Data, Text: p.TextLayer}
		inBatch[p.PageNumber] = true
	}
	req := llm.VisionRequest{
		Purpose: "classify",
		System:  llm.BuildClassifySystemPrompt(),
		Prompt:  llm.BuildClassifyUserPrompt(images),
		Images:  images,
		Schema:  llm.BuildClassificationSchema(),
	}

	var labels []entity.PageRoleLabel
	err := retry.Do(ctx, c.cfg.Retry, c.logger, "classify.batch", func(ctx context.Context) error {
		resp, err := c.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		labels, err = c.parseLabels(resp.Content, inBatch)
		return err
	})
	if err == nil {
		return batchResult{labels: labels}
	}
	if ctx.Err() != nil {
		return batchResult{failed: true, err: ctx.Err()}
	}

	c.logger.Warn("classify.batch.failed",
		"batch", idx,
		"first_page", batch[0].PageNumber,
		"pages", len(batch),
		"err", err,
	)
	res := batchResult{failed: true, err: err}
	for _, p := range batch {
		form, ok := KeywordClassify(p.TextLayer)
		if !ok {
			continue
		}
		res.labels = append(res.labels, entity.PageRoleLabel{
			PageNumber: p.PageNumber,
			FormCode:   form.Code,
			Role:       form.Role,
			Party:      form.Party,
			Confidence: FallbackConfidence,
		})
		res.fallback = append(res.fallback, p.PageNumber)
	}
	if len(res.fallback) > 0 {
		c.logger.Info("classify.batch.fallback", "batch", idx, "pages", res.fallback)
	}
	return res
}

func (c *Classifier) parseLabels(content string, inBatch map[int]bool) ([]entity.PageRoleLabel, error) {
	raw, strategy, err := llm.ExtractJSONObject(content)
	if err != nil {
		return nil, err
	}
	if err := llm.ValidateJSONAgainstSchema(llm.SchemaClassification, llm.BuildClassificationSchema(), raw); err != nil {
		return nil, fmt.Errorf("classification response: %w", err)
	}
	var doc struct {
		Pages []rawLabel `json:"pages"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}

	var out []entity.PageRoleLabel
	for _, r := range doc.Pages {
		if !inBatch[r.PageNumber] {
			c.logger.Warn("classify.label.foreign_page", "page", r.PageNumber, "strategy", strategy)
			continue
		}
		role, ok := constants.ParseRole(r.Role)
		if !ok {
			c.logger.Warn("classify.label.unknown_role", "page", r.PageNumber, "role", r.Role)
			continue
		}
		label := entity.PageRoleLabel{PageNumber: r.PageNumber, Role: role, Confidence: r.Confidence}
		if r.FormCode != nil {
			label.FormCode = normalizeFormCode(*r.FormCode)
		}
		if role == constants.RoleCounterOffer {
			label.Party = constants.PartyForForm(label.FormCode)
			if label.Party == constants.PartyUnknown && r.Party != nil {
				label.Party = constants.ParseParty(*r.Party)
			}
		}
		if label.Confidence > 0 && label.Confidence <= 1 {
			label.Confidence *= 100
		}
		out = append(out, label)
	}
	return out, nil
}

// MergeLabels keeps, per role and form code, the label with the highest page number.
// The result is ordered by page.
func MergeLabels(labels []entity.PageRoleLabel) []entity.PageRoleLabel {
	best := map[string]entity.PageRoleLabel{}
	for _, l := range labels {
		key := string(l.Role) + "/" + l.FormCode
		if cur, ok := best[key]; !ok || l.PageNumber > cur.PageNumber {
			best[key] = l
		}
	}
	byPage := map[int]entity.PageRoleLabel{}
	for _, l := range best {
		// a page claimed under two keys keeps its higher-confidence label
		if cur, ok := byPage[l.PageNumber]; ok && (cur.Confidence > l.Confidence ||
			(cur.Confidence == l.Confidence && string(cur.Role) < string(l.Role))) {
			continue
		}
		byPage[l.PageNumber] = l
	}
	out := make([]entity.PageRoleLabel, 0, len(byPage))
	for _, l := range byPage {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out
}

func formCodes(labels []entity.PageRoleLabel) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range labels {
		if l.FormCode == "" || seen[l.FormCode] {
			continue
		}
		seen[l.FormCode] = true
		out = append(out, l.FormCode)
	}
	sort.Strings(out)
	return out
}

func normalizeFormCode(code string) string {
	if f, ok := constants.LookupForm(code); ok {
		return f.Code
	}
	return code
}

func chunk(pages []entity.PageImage, size int) [][]entity.PageImage {
	var out [][]entity.PageImage
	for start := 0; start < len(pages); start += size {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		out = append(out, pages[start:end])
	}
	return out
}
