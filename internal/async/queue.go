package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Enqueue once shutdown has begun.
var ErrClosed = errors.New("queue is shutting down")

// Job is one pipeline run request.
type Job struct {
	ParseID     uuid.UUID
	SubmittedAt time.Time
	RequestID   string
}

// Runner executes a job; lifecycle.Manager satisfies it.
type Runner interface {
	Run(ctx context.Context, id uuid.UUID) error
}

type Queue interface {
	Enqueue(ctx context.Context, id uuid.UUID) error
	Shutdown(ctx context.Context)
}
