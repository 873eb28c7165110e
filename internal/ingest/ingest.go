// Package ingest submits packets found on the local filesystem: one file, a directory
// tree, or drop folders watched for new arrivals.
package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/lifecycle"
)

// Submitter accepts a document for parsing.
type Submitter interface {
	Submit(ctx context.Context, req lifecycle.SubmitRequest) (*entity.Parse, error)
}

// Result is the per-file ingest outcome.
type Result struct {
	SourcePath   string
	ParseID      uuid.UUID
	Deduplicated bool
	HashHex      string
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}
