package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/artifacts"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/events"
	"github.com/joseph-ayodele/packet-parser/internal/progress"
	"github.com/joseph-ayodele/packet-parser/internal/repository"
)

const janitorBatch = 100

// Sweeper drops expired entries from a TTL store.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// PurgePreviews removes preview renders of parses finalized before the retention window,
// and of archived parses regardless of age.
func (m *Manager) PurgePreviews(ctx context.Context) (int, error) {
	cutoff := m.now().UTC().Add(-m.cfg.PreviewRetention)
	cands, err := m.repo.ListPreviewCandidates(ctx, cutoff, janitorBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range cands {
		if _, err := m.purgePreviews(ctx, p); err != nil {
			m.logger.Warn("lifecycle.janitor.purge_failed", "parse_id", p.ID, "err", err)
			continue
		}
		n++
	}
	return n, nil
}

func (m *Manager) purgePreviews(ctx context.Context, p *entity.Parse) (*entity.Parse, error) {
	if len(p.PreviewKeys) == 0 {
		return nil, nil
	}
	if _, err := artifacts.DeletePrefix(ctx, m.artifacts, artifacts.PreviewPrefix(p.ID)); err != nil {
		return nil, err
	}
	return m.repo.Update(ctx, p.ID, func(p *entity.Parse) error {
		p.PreviewKeys = nil
		return nil
	})
}

// Recover handles runs cut short by a previous process: claimed runs idle for longer than
// staleAfter fail so they can be retried, and unclaimed PENDING parses are scheduled again.
func (m *Manager) Recover(ctx context.Context, staleAfter time.Duration) error {
	if _, err := m.FailStaleRuns(ctx, staleAfter); err != nil {
		return err
	}

	pending, err := m.repo.List(ctx, repository.ListFilter{Statuses: []constants.ParseStatus{constants.ParseStatusPending}})
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.ActiveRun != "" {
			continue
		}
		m.logger.Info("lifecycle.recover.reschedule", "parse_id", p.ID)
		_ = m.schedule(ctx, p.ID)
	}
	return nil
}

// FailStaleRuns fails every claimed run whose parse has not changed for staleAfter and
// returns how many it failed. A run that is still alive loses its claim and stops writing.
func (m *Manager) FailStaleRuns(ctx context.Context, staleAfter time.Duration) (int, error) {
	active, err := m.repo.ListActiveRuns(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().UTC().Add(-staleAfter)
	n := 0
	for _, p := range active {
		if p.UpdatedAt.After(cutoff) {
			continue
		}
		if m.failInterrupted(ctx, p) {
			n++
		}
	}
	return n, nil
}

func (m *Manager) failInterrupted(ctx context.Context, stale *entity.Parse) bool {
	token := stale.ActiveRun
	msg := "processing was interrupted; retry to run it again"
	p, err := m.repo.Update(ctx, stale.ID, func(p *entity.Parse) error {
		if p.ActiveRun != token {
			return errSkip
		}
		target := constants.ParseStatusExtractFailed
		if p.Status == constants.ParseStatusPending {
			target = constants.ParseStatusRenderFailed
		}
		p.ErrorMessage = &msg
		return p.TransitionTo(target, m.now().UTC())
	})
	if err != nil {
		if !errors.Is(err, errSkip) {
			m.logger.Error("lifecycle.recover.mark_failed", "parse_id", stale.ID, "err", err)
		}
		return false
	}
	m.logger.Warn("lifecycle.recover.interrupted", "parse_id", p.ID, "status", p.Status)
	if cleaned, err := m.cleanup(ctx, p.ID, TriggerFailure); err == nil {
		p = cleaned
	}
	m.progress.Publish(ctx, p.ID, progress.PhaseFailed, msg)
	m.emit(events.TypeFailed, p)
	return true
}

// RunJanitor runs a janitor pass every interval until ctx ends.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration, sweepers ...Sweeper) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.janitorPass(ctx, sweepers)
	}
}

// janitorPass fails claims left behind by dead runs, purges previews and sweeps the TTL stores.
func (m *Manager) janitorPass(ctx context.Context, sweepers []Sweeper) {
	if n, err := m.FailStaleRuns(ctx, m.cfg.RunTimeout); err != nil {
		m.logger.Warn("lifecycle.janitor.stale_runs_failed", "err", err)
	} else if n > 0 {
		m.logger.Warn("lifecycle.janitor.stale_runs", "failed", n)
	}
	n, err := m.PurgePreviews(ctx)
	if err != nil {
		m.logger.Warn("lifecycle.janitor.failed", "err", err)
	} else if n > 0 {
		m.logger.Info("lifecycle.janitor.purged", "parses", n)
	}
	for _, s := range sweepers {
		if removed, err := s.Sweep(ctx); err != nil {
			m.logger.Warn("lifecycle.janitor.sweep_failed", "err", err)
		} else if removed > 0 {
			m.logger.Debug("lifecycle.janitor.swept", "entries", removed)
		}
	}
}
