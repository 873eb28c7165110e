package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/internal/artifacts"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

// Trigger names what asked for a cleanup, for logs.
type Trigger string

const (
	TriggerCompletion Trigger = "completion"
	TriggerFailure    Trigger = "failure"
	TriggerClient     Trigger = "client"
)

// Cleanup releases the raw document, low-resolution renders and classification cache of an
// owned parse. It may be called any number of times; while a run is active it does nothing.
func (m *Manager) Cleanup(ctx context.Context, ownerID string, id uuid.UUID) (*entity.Parse, error) {
	if _, err := m.repo.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return m.cleanup(ctx, id, TriggerClient)
}

// cleanup marks the parse cleaned first and deletes afterwards, only while the parse is
// unchanged since that write. A retry landing in between keeps its new upload.
func (m *Manager) cleanup(ctx context.Context, id uuid.UUID, trigger Trigger) (*entity.Parse, error) {
	p, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.ActiveRun != "" || p.Status.IsRunning() {
		m.logger.Info("lifecycle.cleanup.skipped", "parse_id", id, "trigger", trigger, "status", p.Status)
		return p, nil
	}

	claimed := p
	if p.RawDocumentKey != nil || p.ClassificationCacheKey != nil || p.CleanedAt == nil {
		claimed, err = m.repo.Update(ctx, id, func(p *entity.Parse) error {
			if p.ActiveRun != "" || p.Status.IsRunning() {
				return errSkip
			}
			p.RawDocumentKey = nil
			p.ClassificationCacheKey = nil
			if p.CleanedAt == nil {
				now := m.now().UTC()
				p.CleanedAt = &now
			}
			return nil
		})
		if errors.Is(err, errSkip) {
			return m.repo.Get(ctx, id)
		}
		if err != nil {
			return nil, err
		}
	}

	cur, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Version != claimed.Version {
		m.logger.Info("lifecycle.cleanup.superseded", "parse_id", id, "trigger", trigger, "status", cur.Status)
		return cur, nil
	}
	if err := m.artifacts.Delete(ctx, artifacts.SourceKey(id)); err != nil {
		m.logger.Warn("lifecycle.cleanup.source_failed", "parse_id", id, "err", err)
	}
	if n, err := artifacts.DeletePrefix(ctx, m.artifacts, artifacts.LowResPrefix(id)); err != nil {
		m.logger.Warn("lifecycle.cleanup.renders_failed", "parse_id", id, "deleted", n, "err", err)
	}
	if m.cache != nil {
		if err := m.cache.Delete(ctx, id); err != nil {
			m.logger.Warn("lifecycle.cleanup.cache_failed", "parse_id", id, "err", err)
		}
	}
	m.logger.Info("lifecycle.cleanup.ok", "parse_id", id, "trigger", trigger)
	return cur, nil
}
