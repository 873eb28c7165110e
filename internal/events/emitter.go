package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/internal/retry"
)

// Emitter queues events and delivers them on a background goroutine with its own retry policy.
// Emit never blocks: a full buffer drops the event with a warning.
type Emitter struct {
	notifier Notifier
	policy   retry.Policy
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan ParseEvent
	done   chan struct{}
}

func NewEmitter(n Notifier, bufferSize int, policy retry.Policy, logger *slog.Logger) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		notifier: n,
		policy:   policy,
		timeout:  10 * time.Second,
		logger:   logger,
		ch:       make(chan ParseEvent, bufferSize),
		done:     make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Emitter) Emit(ev ParseEvent) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.logger.Warn("events.emit.closed", "type", ev.Type, "parse_id", ev.ParseID)
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.logger.Warn("events.emit.dropped", "type", ev.Type, "parse_id", ev.ParseID, "buffer", cap(e.ch))
	}
}

func (e *Emitter) loop() {
	defer close(e.done)
	for ev := range e.ch {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev ParseEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	err := retry.Do(ctx, e.policy, e.logger, "events.notify", func(ctx context.Context) error {
		return e.notifier.Notify(ctx, ev)
	})
	if err != nil {
		e.logger.Error("events.notify.failed", "type", ev.Type, "parse_id", ev.ParseID, "event_id", ev.ID, "err", err)
	}
}

// Close stops accepting events and waits for queued ones to be delivered or ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	e.mu.Unlock()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
