// Package progress is the short-lived status channel clients poll or stream while a parse runs.
package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/internal/kvstore"
)

// Phase names the pipeline step a message belongs to.
type Phase string

const (
	PhaseQueued      Phase = "queued"
	PhaseRendering   Phase = "rendering"
	PhaseClassifying Phase = "classifying"
	PhaseExtracting  Phase = "extracting"
	PhaseReconciling Phase = "reconciling"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Update is one {phase, message, done} tuple.
type Update struct {
	ParseID string    `json:"parseId"`
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
	Done    bool      `json:"done"`
	At      time.Time `json:"at"`
}

// Tracker publishes updates keyed by parse id. Entries expire after TTL without activity.
type Tracker struct {
	store  kvstore.Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewTracker(store kvstore.Store, ttl time.Duration, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, ttl: ttl, now: time.Now, logger: logger}
}

func key(id uuid.UUID) string { return "progress:" + id.String() }

// Publish records the latest update. Failures are logged; the status channel never fails a run.
func (t *Tracker) Publish(ctx context.Context, id uuid.UUID, phase Phase, message string) {
	u := Update{
		ParseID: id.String(),
		Phase:   phase,
		Message: message,
		Done:    phase == PhaseDone || phase == PhaseFailed,
		At:      t.now().UTC(),
	}
	if err := kvstore.SetJSON(ctx, t.store, key(id), u, t.ttl); err != nil {
		t.logger.Warn("progress.publish.failed", "parse_id", id, "phase", phase, "err", err)
	}
}

// Latest returns the most recent update, ok=false once it has expired.
func (t *Tracker) Latest(ctx context.Context, id uuid.UUID) (Update, bool, error) {
	var u Update
	ok, err := kvstore.GetJSON(ctx, t.store, key(id), &u)
	return u, ok, err
}

// Clear drops the entry.
func (t *Tracker) Clear(ctx context.Context, id uuid.UUID) error {
	return t.store.Delete(ctx, key(id))
}

// Watch polls for changes every interval and sends each new update until done, expiry or ctx end.
func (t *Tracker) Watch(ctx context.Context, id uuid.UUID, interval time.Duration) <-chan Update {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	out := make(chan Update)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var last Update
		misses := 0
		for {
			u, ok, err := t.Latest(ctx, id)
			switch {
			case err != nil:
				t.logger.Warn("progress.watch.read_failed", "parse_id", id, "err", err)
			case !ok:
				misses++
				if misses*int(interval) > int(t.ttl) {
					return
				}
			case u != last:
				misses = 0
				last = u
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
				if u.Done {
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
