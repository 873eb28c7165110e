// Package lifecycle owns the Parse state machine: submission, the pipeline run, cleanup,
// retries, review and archival.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/artifacts"
	"github.com/joseph-ayodele/packet-parser/internal/classify"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/events"
	"github.com/joseph-ayodele/packet-parser/internal/extract"
	"github.com/joseph-ayodele/packet-parser/internal/progress"
	"github.com/joseph-ayodele/packet-parser/internal/reconcile"
	"github.com/joseph-ayodele/packet-parser/internal/render"
	"github.com/joseph-ayodele/packet-parser/internal/repository"
	"github.com/joseph-ayodele/packet-parser/internal/retry"
)

// PageClassifier finds the critical pages of a packet.
type PageClassifier interface {
	Classify(ctx context.Context, pages []entity.PageImage) (entity.Classification, error)
}

// PacketExtractor reads candidate values from the critical pages.
type PacketExtractor interface {
	Extract(ctx context.Context, pages []entity.PageImage, cls entity.Classification) (extract.Outcome, error)
}

// Scheduler hands a pending parse to whatever runs the pipeline.
type Scheduler interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
}

type Config struct {
	LowDPI           int
	HighDPI          int
	RunTimeout       time.Duration
	RenderRetry      retry.Policy
	PreviewRetention time.Duration
}

// Deps are the collaborators the manager drives. Events and Scheduler may be nil.
type Deps struct {
	Repo       repository.ParseRepository
	Artifacts  artifacts.Store
	Renderer   render.Renderer
	Classifier PageClassifier
	Extractor  PacketExtractor
	Reconciler *reconcile.Reconciler
	Cache      *classify.Cache
	Progress   *progress.Tracker
	Events     events.Publisher
	Scheduler  Scheduler
}

// Manager implements every lifecycle operation on top of Deps.
type Manager struct {
	repo       repository.ParseRepository
	artifacts  artifacts.Store
	renderer   render.Renderer
	classifier PageClassifier
	extractor  PacketExtractor
	reconciler *reconcile.Reconciler
	cache      *classify.Cache
	progress   *progress.Tracker
	events     events.Publisher
	scheduler  Scheduler
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger
}

type nopPublisher struct{}

func (nopPublisher) Emit(events.ParseEvent) {}

func NewManager(deps Deps, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LowDPI <= 0 {
		cfg.LowDPI = 72
	}
	if cfg.HighDPI <= 0 {
		cfg.HighDPI = 200
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.PreviewRetention <= 0 {
		cfg.PreviewRetention = 24 * time.Hour
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(logger)
	}
	return &Manager{
		repo:       deps.Repo,
		artifacts:  deps.Artifacts,
		renderer:   deps.Renderer,
		classifier: deps.Classifier,
		extractor:  deps.Extractor,
		reconciler: deps.Reconciler,
		cache:      deps.Cache,
		progress:   deps.Progress,
		events:     deps.Events,
		scheduler:  deps.Scheduler,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// SetScheduler wires the queue after construction; the queue itself needs the manager.
func (m *Manager) SetScheduler(s Scheduler) { m.scheduler = s }

// SubmitRequest is an uploaded packet.
type SubmitRequest struct {
	OwnerID  string
	FileName string
	Data     []byte
}

// Submit validates the upload, stores it, creates a PENDING parse and schedules its run.
// Input errors are returned before any state exists.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*entity.Parse, error) {
	if err := common.NewValidator().
		Field("owner_id", req.OwnerID, common.Required).
		Field("file_name", req.FileName, common.Required, common.MaxLength(255), common.AllowedExtension).
		Err(); err != nil {
		return nil, err
	}
	format, err := checkDocument(req.Data)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	id := uuid.New()
	key := artifacts.SourceKey(id)
	if err := m.artifacts.Put(ctx, key, req.Data, format.ContentType()); err != nil {
		m.logger.Error("lifecycle.submit.store_failed", "parse_id", id, "err", err)
		return nil, common.NewAppError("STORAGE_ERROR", "failed to store document", errors.Join(common.ErrInternal, err))
	}

	p := &entity.Parse{
		ID:             id,
		OwnerID:        req.OwnerID,
		FileName:       req.FileName,
		Format:         format,
		SizeBytes:      int64(len(req.Data)),
		Status:         constants.ParseStatusPending,
		RawDocumentKey: &key,
		Attempts:       1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.repo.Create(ctx, p); err != nil {
		if derr := m.artifacts.Delete(ctx, key); derr != nil {
			m.logger.Warn("lifecycle.submit.orphaned_source", "parse_id", id, "err", derr)
		}
		return nil, err
	}
	m.logger.Info("lifecycle.submit.ok", "parse_id", id, "owner_id", req.OwnerID, "format", format, "size_bytes", len(req.Data))

	m.progress.Publish(ctx, id, progress.PhaseQueued, "queued for processing")
	if err := m.schedule(ctx, id); err != nil {
		return m.repo.Get(ctx, id)
	}
	return p, nil
}

// schedule enqueues a run. When the queue refuses, the parse fails visibly instead of sitting in PENDING.
func (m *Manager) schedule(ctx context.Context, id uuid.UUID) error {
	if m.scheduler == nil {
		return nil
	}
	err := m.scheduler.Enqueue(ctx, id)
	if err == nil {
		return nil
	}
	m.logger.Error("lifecycle.schedule.failed", "parse_id", id, "err", err)
	msg := fmt.Sprintf("could not schedule processing: %v", err)
	if _, ferr := m.repo.Update(ctx, id, func(p *entity.Parse) error {
		if p.Status != constants.ParseStatusPending || p.ActiveRun != "" {
			return errSkip
		}
		p.ErrorMessage = &msg
		return p.TransitionTo(constants.ParseStatusRenderFailed, m.now().UTC())
	}); ferr != nil && !errors.Is(ferr, errSkip) {
		m.logger.Error("lifecycle.schedule.mark_failed", "parse_id", id, "err", ferr)
	}
	m.progress.Publish(ctx, id, progress.PhaseFailed, msg)
	return err
}

// errSkip aborts an Update without writing and without being an error to the caller.
var errSkip = errors.New("skip update")

func checkDocument(data []byte) (constants.DocumentFormat, error) {
	format, err := render.CheckInput(data)
	if err != nil {
		var re *render.RenderError
		if errors.As(err, &re) {
			return "", common.InvalidInputError(re.Msg)
		}
		return "", common.InvalidInputError(err.Error())
	}
	return format, nil
}

func (m *Manager) Get(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Parse, error) {
	return m.repo.GetForOwner(ctx, id, ownerID)
}

// List returns the owner's parses, newest first.
func (m *Manager) List(ctx context.Context, ownerID string, statuses []constants.ParseStatus, limit, offset int) ([]*entity.Parse, error) {
	for _, s := range statuses {
		if !s.Valid() {
			return nil, common.InvalidInputErrorf("unknown status %q", s)
		}
	}
	return m.repo.List(ctx, repository.ListFilter{OwnerID: ownerID, Statuses: statuses, Limit: limit, Offset: offset})
}

// StatusView is the compact {status, needsReview, confidence} answer.
type StatusView struct {
	ID          uuid.UUID             `json:"id"`
	Status      constants.ParseStatus `json:"status"`
	NeedsReview bool                  `json:"needsReview"`
	Confidence  float64               `json:"confidence"`
	Error       string                `json:"error,omitempty"`
}

func (m *Manager) Status(ctx context.Context, ownerID string, id uuid.UUID) (StatusView, error) {
	p, err := m.repo.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{ID: p.ID, Status: p.Status, NeedsReview: p.NeedsReview(), Confidence: p.OverallConfidence()}
	if p.ErrorMessage != nil {
		v.Error = *p.ErrorMessage
	}
	return v, nil
}

// Progress returns the latest status-channel entry for an owned parse.
func (m *Manager) Progress(ctx context.Context, ownerID string, id uuid.UUID) (progress.Update, bool, error) {
	if _, err := m.repo.GetForOwner(ctx, id, ownerID); err != nil {
		return progress.Update{}, false, err
	}
	return m.progress.Latest(ctx, id)
}

// WatchProgress streams status-channel entries for an owned parse until done or ctx ends.
func (m *Manager) WatchProgress(ctx context.Context, ownerID string, id uuid.UUID, interval time.Duration) (<-chan progress.Update, error) {
	if _, err := m.repo.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return m.progress.Watch(ctx, id, interval), nil
}

// Retry restarts a failed parse. data replaces the stored document when non-empty and is
// required once cleanup has removed the original.
func (m *Manager) Retry(ctx context.Context, ownerID string, id uuid.UUID, data []byte) (*entity.Parse, error) {
	cur, err := m.repo.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	var format constants.DocumentFormat
	if len(data) > 0 {
		if format, err = checkDocument(data); err != nil {
			return nil, err
		}
	} else if _, err := m.artifacts.Get(ctx, artifacts.SourceKey(id)); err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, common.InvalidInputError("the original document was removed; upload it again to retry")
		}
		return nil, common.NewAppError("STORAGE_ERROR", "failed to read document", errors.Join(common.ErrInternal, err))
	}
	if !cur.Status.IsFailed() || cur.ActiveRun != "" {
		return nil, runInProgress(cur)
	}

	key := artifacts.SourceKey(id)
	p, err := m.repo.Update(ctx, id, func(p *entity.Parse) error {
		if !p.Status.IsFailed() || p.ActiveRun != "" {
			return runInProgress(p)
		}
		if err := p.TransitionTo(constants.ParseStatusPending, m.now().UTC()); err != nil {
			return err
		}
		p.RawDocumentKey = &key
		p.CleanedAt = nil
		p.PageCount = 0
		p.CriticalPages = nil
		p.RawExtractions = nil
		if len(data) > 0 {
			p.Format = format
			p.SizeBytes = int64(len(data))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := m.artifacts.Put(ctx, key, data, format.ContentType()); err != nil {
			m.logger.Error("lifecycle.retry.store_failed", "parse_id", id, "err", err)
			return m.failPending(ctx, id, "failed to store re-uploaded document")
		}
	}
	m.logger.Info("lifecycle.retry.ok", "parse_id", id, "attempt", p.Attempts)
	m.progress.Publish(ctx, id, progress.PhaseQueued, fmt.Sprintf("queued for retry (attempt %d)", p.Attempts))
	if err := m.schedule(ctx, id); err != nil {
		return m.repo.Get(ctx, id)
	}
	return p, nil
}

func (m *Manager) failPending(ctx context.Context, id uuid.UUID, msg string) (*entity.Parse, error) {
	return m.repo.Update(ctx, id, func(p *entity.Parse) error {
		p.ErrorMessage = &msg
		return p.TransitionTo(constants.ParseStatusRenderFailed, m.now().UTC())
	})
}

func runInProgress(p *entity.Parse) error {
	return common.NewAppError("RUN_IN_PROGRESS",
		fmt.Sprintf("parse is %s; only failed parses can be retried", p.Status), common.ErrRunInProgress)
}

// Archive moves a finalized parse to ARCHIVED and drops its previews.
func (m *Manager) Archive(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Parse, error) {
	if _, err := m.repo.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	p, err := m.repo.Update(ctx, id, func(p *entity.Parse) error {
		return p.TransitionTo(constants.ParseStatusArchived, m.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("lifecycle.archive.ok", "parse_id", id)
	if purged, err := m.purgePreviews(ctx, p); err != nil {
		m.logger.Warn("lifecycle.archive.preview_purge_failed", "parse_id", id, "err", err)
	} else if purged != nil {
		p = purged
	}
	m.emit(events.TypeArchived, p)
	return p, nil
}

// Delete removes the parse and everything stored for it, whatever its state.
func (m *Manager) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	p, err := m.repo.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if p.ActiveRun != "" {
		m.logger.Warn("lifecycle.delete.active_run", "parse_id", id, "run", p.ActiveRun)
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	if n, err := artifacts.DeletePrefix(ctx, m.artifacts, artifacts.ParsePrefix(id)); err != nil {
		m.logger.Warn("lifecycle.delete.artifacts_failed", "parse_id", id, "deleted", n, "err", err)
	}
	if m.cache != nil {
		if err := m.cache.Delete(ctx, id); err != nil {
			m.logger.Warn("lifecycle.delete.cache_failed", "parse_id", id, "err", err)
		}
	}
	if err := m.progress.Clear(ctx, id); err != nil {
		m.logger.Warn("lifecycle.delete.progress_failed", "parse_id", id, "err", err)
	}
	m.logger.Info("lifecycle.delete.ok", "parse_id", id)
	m.emit(events.TypeDeleted, p)
	return nil
}

// Preview returns a preserved high-resolution render of a critical page.
func (m *Manager) Preview(ctx context.Context, ownerID string, id uuid.UUID, page int) ([]byte, error) {
	p, err := m.repo.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	key := artifacts.PreviewKey(id, page)
	found := false
	for _, k := range p.PreviewKeys {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		return nil, common.NotFoundError(fmt.Sprintf("no preview for page %d", page))
	}
	data, err := m.artifacts.Get(ctx, key)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, common.NotFoundError(fmt.Sprintf("no preview for page %d", page))
	}
	return data, err
}

func (m *Manager) emit(t events.Type, p *entity.Parse) {
	ev := events.ParseEvent{
		ID:          uuid.New(),
		Type:        t,
		ParseID:     p.ID,
		OwnerID:     p.OwnerID,
		Status:      p.Status,
		NeedsReview: p.NeedsReview(),
		Confidence:  p.OverallConfidence(),
		At:          m.now().UTC(),
	}
	if p.ErrorMessage != nil {
		ev.Error = *p.ErrorMessage
	}
	m.events.Emit(ev)
}
