package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/artifacts"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/events"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
	"github.com/joseph-ayodele/packet-parser/internal/progress"
	"github.com/joseph-ayodele/packet-parser/internal/reconcile"
	"github.com/joseph-ayodele/packet-parser/internal/render"
	"github.com/joseph-ayodele/packet-parser/internal/retry"
	"github.com/joseph-ayodele/packet-parser/internal/review"
)

// finishTimeout bounds the bookkeeping done after a run's own context has ended.
const finishTimeout = 30 * time.Second

// errRunLost means the parse no longer carries this run's token (deleted or recovered).
var errRunLost = errors.New("run no longer owns the parse")

// stageError is a pipeline failure with the failure status it maps to.
type stageError struct {
	status constants.ParseStatus
	msg    string
	err    error
}

func (e *stageError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *stageError) Unwrap() error { return e.err }

func renderFailure(msg string, err error) error {
	return &stageError{status: constants.ParseStatusRenderFailed, msg: msg, err: err}
}

func extractFailure(msg string, err error) error {
	return &stageError{status: constants.ParseStatusExtractFailed, msg: msg, err: err}
}

// run is the state of one claimed pipeline execution.
type run struct {
	m      *Manager
	id     uuid.UUID
	token  string
	parse  *entity.Parse
	logger *slog.Logger
}

// Run claims a PENDING parse and drives it to a final or failed status.
// At most one run holds a parse: the claim sets a fresh token only if none is set.
func (m *Manager) Run(ctx context.Context, id uuid.UUID) error {
	token := uuid.NewString()
	p, err := m.repo.Update(ctx, id, func(p *entity.Parse) error {
		if p.Status != constants.ParseStatusPending || p.ActiveRun != "" {
			return common.NewAppError("RUN_IN_PROGRESS",
				fmt.Sprintf("parse is %s and cannot be started", p.Status), common.ErrRunInProgress)
		}
		p.ActiveRun = token
		return nil
	})
	if err != nil {
		m.logger.Warn("lifecycle.run.claim_failed", "parse_id", id, "err", err)
		return err
	}

	ctx = common.WithParseID(ctx, id.String())
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RunTimeout)
	defer cancel()

	r := &run{m: m, id: id, token: token, parse: p, logger: m.logger.With("parse_id", id, "run", token)}
	start := time.Now()
	r.logger.Info("lifecycle.run.start", "attempt", p.Attempts, "format", p.Format)
	if err := r.execute(ctx); err != nil {
		r.fail(ctx, err)
		return err
	}
	r.logger.Info("lifecycle.run.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *run) execute(ctx context.Context) error {
	m := r.m

	// 1) render every page at low resolution
	m.progress.Publish(ctx, r.id, progress.PhaseRendering, "rendering pages")
	doc, err := m.artifacts.Get(ctx, artifacts.SourceKey(r.id))
	if err != nil {
		return renderFailure("source document is no longer available", err)
	}
	low, err := r.render(ctx, render.Request{Document: doc, DPI: m.cfg.LowDPI})
	if err != nil {
		return err
	}
	for i := range low {
		key := artifacts.LowResKey(r.id, low[i].PageNumber)
		if err := m.artifacts.Put(ctx, key, low[i].Data, low[i].ContentType); err != nil {
			return renderFailure("failed to store page renders", err)
		}
		low[i].Key = key
	}
	if err := r.advance(ctx, func(p *entity.Parse) error {
		p.PageCount = len(low)
		return p.TransitionTo(constants.ParseStatusRendered, m.now().UTC())
	}); err != nil {
		return err
	}
	r.logger.Info("lifecycle.render.ok", "pages", len(low), "dpi", m.cfg.LowDPI)

	// 2) classify and park the result in the classification cache
	m.progress.Publish(ctx, r.id, progress.PhaseClassifying, fmt.Sprintf("classifying %d pages", len(low)))
	cls, err := m.classifier.Classify(ctx, low)
	if err != nil {
		return extractFailure("classification failed", err)
	}
	var cacheKey *string
	if m.cache != nil {
		if key, err := m.cache.Put(ctx, r.id, cls); err != nil {
			r.logger.Warn("lifecycle.classify.cache_put_failed", "err", err)
		} else {
			cacheKey = &key
		}
	}
	if err := r.advance(ctx, func(p *entity.Parse) error {
		p.CriticalPages = cls.CriticalPages
		p.ClassificationCacheKey = cacheKey
		return nil
	}); err != nil {
		return err
	}
	r.logger.Info("lifecycle.classify.ok", "critical_pages", cls.CriticalPages,
		"form_codes", cls.Metadata.FormCodes, "failed_batches", cls.Metadata.FailedBatches)

	// 3) extract from high-resolution renders of the critical pages
	cls, err = r.classification(ctx, cls, low)
	if err != nil {
		return err
	}
	m.progress.Publish(ctx, r.id, progress.PhaseExtracting, fmt.Sprintf("extracting %d critical pages", len(cls.CriticalPages)))
	var high []entity.PageImage
	var previews []string
	if len(cls.CriticalPages) > 0 {
		req := render.Request{Document: doc, DPI: m.cfg.HighDPI, Pages: cls.CriticalPages, SkipTextLayer: true}
		if high, err = r.render(ctx, req); err != nil {
			return err
		}
		for i := range high {
			high[i].TextLayer = pageText(low, high[i].PageNumber)
			key := artifacts.PreviewKey(r.id, high[i].PageNumber)
			if err := m.artifacts.Put(ctx, key, high[i].Data, high[i].ContentType); err != nil {
				r.logger.Warn("lifecycle.preview.store_failed", "page", high[i].PageNumber, "err", err)
				continue
			}
			high[i].Key = key
			previews = append(previews, key)
		}
	}
	out, err := m.extractor.Extract(ctx, high, cls)
	if err != nil {
		return extractFailure("extraction failed", err)
	}
	if err := r.advance(ctx, func(p *entity.Parse) error {
		p.RawExtractions = out.Raw()
		p.PreviewKeys = previews
		return nil
	}); err != nil {
		return err
	}
	r.logger.Info("lifecycle.extract.ok", "pages", len(out.Pages), "excluded", out.ExcludedPages())

	// 4) reconcile, validate, gate, finalize in one write
	m.progress.Publish(ctx, r.id, progress.PhaseReconciling, "merging page values")
	res, warnings := r.reconcile(out.Pages)
	for _, ex := range out.Excluded {
		res.MergeLog = append(res.MergeLog, fmt.Sprintf("page %d excluded: unparseable model response", ex.Page))
	}
	res.Canonical.ValidationWarnings = warnings
	summary := review.Evaluate(review.Input{
		Result:             res.Canonical,
		CriticalPages:      len(cls.CriticalPages),
		ExcludedPages:      out.ExcludedPages(),
		ValidationWarnings: warnings,
	})
	next := constants.ParseStatusCompleted
	if summary.NeedsReview {
		next = constants.ParseStatusNeedsReview
	}
	canonical := res.Canonical
	if err := r.advance(ctx, func(p *entity.Parse) error {
		p.Canonical = &canonical
		p.Confidence = &summary
		p.Provenance = res.Provenance
		p.MergeLog = res.MergeLog
		return p.TransitionTo(next, m.now().UTC())
	}); err != nil {
		return err
	}
	r.logger.Info("lifecycle.finalize.ok", "status", next, "confidence", summary.Overall, "reasons", summary.Reasons)

	fctx, cancel := common.DetachedWithTimeout(ctx, finishTimeout)
	defer cancel()
	final, err := m.cleanup(fctx, r.id, TriggerCompletion)
	if err != nil {
		r.logger.Warn("lifecycle.cleanup.failed", "trigger", TriggerCompletion, "err", err)
		final = r.parse
	}
	m.progress.Publish(fctx, r.id, progress.PhaseDone, doneMessage(next, summary))
	m.emit(events.TypeFinalized, final)
	return nil
}

// render calls the renderer with the run's retry policy and maps its errors to RENDER_FAILED.
func (r *run) render(ctx context.Context, req render.Request) ([]entity.PageImage, error) {
	var out []entity.PageImage
	err := retry.Do(ctx, r.m.cfg.RenderRetry, r.logger, "render", func(ctx context.Context) error {
		var err error
		out, err = r.m.renderer.Render(ctx, req)
		return err
	})
	if err != nil {
		var re *render.RenderError
		if errors.As(err, &re) && re.Kind == render.KindInvalidInput {
			return nil, renderFailure("document could not be rendered: "+re.Msg, nil)
		}
		return nil, renderFailure("rendering failed", err)
	}
	return out, nil
}

// classification reads the cached classifier output, classifying again on a miss.
func (r *run) classification(ctx context.Context, fresh entity.Classification, low []entity.PageImage) (entity.Classification, error) {
	if r.m.cache == nil {
		return fresh, nil
	}
	cls, ok, err := r.m.cache.Get(ctx, r.id)
	switch {
	case err != nil:
		r.logger.Warn("lifecycle.classify.cache_get_failed", "err", err)
	case ok:
		return cls, nil
	}
	r.logger.Info("lifecycle.classify.cache_miss")
	cls, err = r.m.classifier.Classify(ctx, low)
	if err != nil {
		return entity.Classification{}, extractFailure("classification failed", err)
	}
	if _, err := r.m.cache.Put(ctx, r.id, cls); err != nil {
		r.logger.Warn("lifecycle.classify.cache_put_failed", "err", err)
	}
	return cls, nil
}

// reconcile merges pages and validates the merged record. Neither step fails the run:
// problems become warnings and the review gate sends the result to a human.
func (r *run) reconcile(pages []entity.EnrichedPageExtraction) (reconcile.Result, []string) {
	var warnings []string
	res, err := r.m.reconciler.Reconcile(pages)
	if err != nil {
		r.logger.Error("lifecycle.reconcile.failed", "err", err)
		res = reconcile.Result{MergeLog: []string{"reconciliation failed: " + err.Error()}}
		warnings = append(warnings, "reconciliation failed: "+err.Error())
	}
	warnings = append(warnings, validateFields(res.Canonical.ContractFields)...)
	if len(warnings) > 0 {
		r.logger.Warn("lifecycle.reconcile.warnings", "warnings", warnings)
	}
	return res, warnings
}

// validateFields checks merged fields against the canonical schema, one message per violation.
func validateFields(fields entity.ContractFields) []string {
	data, err := json.Marshal(fields)
	if err != nil {
		return []string{err.Error()}
	}
	return llm.ValidationMessages(llm.ValidateJSONAgainstSchema(llm.SchemaCanonical, llm.BuildCanonicalSchema(), data))
}

// advance applies fn only while this run still owns the parse.
func (r *run) advance(ctx context.Context, fn func(p *entity.Parse) error) error {
	p, err := r.m.repo.Update(ctx, r.id, func(p *entity.Parse) error {
		if p.ActiveRun != r.token {
			return errRunLost
		}
		return fn(p)
	})
	if err != nil {
		return err
	}
	r.parse = p
	return nil
}

// fail records the failure, cleans up and notifies. It runs on a detached context so a
// timed-out run still lands in a failure status.
func (r *run) fail(ctx context.Context, cause error) {
	m := r.m
	ctx, cancel := common.DetachedWithTimeout(ctx, finishTimeout)
	defer cancel()

	if errors.Is(cause, errRunLost) || errors.Is(cause, common.ErrNotFound) {
		r.logger.Warn("lifecycle.run.abandoned", "err", cause)
		return
	}
	status := constants.ParseStatusExtractFailed
	msg := cause.Error()
	var se *stageError
	if errors.As(cause, &se) {
		status = se.status
	}
	p, err := m.repo.Update(ctx, r.id, func(p *entity.Parse) error {
		if p.ActiveRun != r.token {
			return errRunLost
		}
		target := status
		if p.Status == constants.ParseStatusPending {
			target = constants.ParseStatusRenderFailed
		}
		p.ErrorMessage = &msg
		return p.TransitionTo(target, m.now().UTC())
	})
	if err != nil {
		r.logger.Error("lifecycle.run.mark_failed", "cause", cause, "err", err)
		return
	}
	r.logger.Error("lifecycle.run.failed", "status", p.Status, "err", cause)

	if cleaned, err := m.cleanup(ctx, r.id, TriggerFailure); err != nil {
		r.logger.Warn("lifecycle.cleanup.failed", "trigger", TriggerFailure, "err", err)
	} else {
		p = cleaned
	}
	m.progress.Publish(ctx, r.id, progress.PhaseFailed, msg)
	m.emit(events.TypeFailed, p)
}

func pageText(pages []entity.PageImage, n int) string {
	for _, p := range pages {
		if p.PageNumber == n {
			return p.TextLayer
		}
	}
	return ""
}

func doneMessage(status constants.ParseStatus, s entity.ConfidenceSummary) string {
	if status == constants.ParseStatusNeedsReview {
		return fmt.Sprintf("extraction needs review (confidence %.0f)", s.Overall)
	}
	return fmt.Sprintf("extraction complete (confidence %.0f)", s.Overall)
}
