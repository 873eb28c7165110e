package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/kvstore"
	"github.com/joseph-ayodele/packet-parser/internal/lifecycle"
)

// FSIngestor reads packets from the local filesystem and submits them for one owner.
// Content already submitted within DedupTTL is skipped.
type FSIngestor struct {
	submitter Submitter
	seen      kvstore.Store
	ownerID   string
	dedupTTL  time.Duration
	logger    *slog.Logger
}

func NewFSIngestor(s Submitter, seen kvstore.Store, ownerID string, dedupTTL time.Duration, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &FSIngestor{submitter: s, seen: seen, ownerID: ownerID, dedupTTL: dedupTTL, logger: logger}
}

func (i *FSIngestor) dedupKey(sum []byte) string {
	return "ingest:" + i.ownerID + ":" + hex.EncodeToString(sum)
}

// IngestPath submits a single file.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (Result, error) {
	out := Result{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, err
	}
	out.SourcePath = abs

	if reason := screen(abs); reason != "" {
		return out, common.InvalidInputErrorf("%s is not a packet candidate: %s", filepath.Base(abs), reason)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return out, err
	}
	if info.Size() > constants.MaxDocumentBytes {
		return out, common.InvalidInputErrorf("document exceeds the %d byte limit", constants.MaxDocumentBytes)
	}

	f, err := os.Open(abs)
	if err != nil {
		return out, err
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			i.logger.Warn("close file error", "path", abs, "error", err)
		}
	}(f)

	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(f, h))
	if err != nil {
		return out, err
	}
	sum := h.Sum(nil)
	out.HashHex = hex.EncodeToString(sum)

	if i.seen != nil {
		var prev uuid.UUID
		found, err := kvstore.GetJSON(ctx, i.seen, i.dedupKey(sum), &prev)
		if err != nil {
			i.logger.Warn("dedup lookup failed", "path", abs, "error", err)
		} else if found {
			out.ParseID = prev
			out.Deduplicated = true
			i.logger.Info("skipping already submitted file", "path", abs, "parse_id", prev)
			return out, nil
		}
	}

	p, err := i.submitter.Submit(ctx, lifecycle.SubmitRequest{
		OwnerID:  i.ownerID,
		FileName: filepath.Base(abs),
		Data:     data,
	})
	if err != nil {
		return out, fmt.Errorf("submit %s: %w", filepath.Base(abs), err)
	}
	out.ParseID = p.ID

	if i.seen != nil {
		if err := kvstore.SetJSON(ctx, i.seen, i.dedupKey(sum), p.ID, i.dedupTTL); err != nil {
			i.logger.Warn("dedup record failed", "path", abs, "error", err)
		}
	}
	i.logger.Info("file submitted", "path", abs, "parse_id", p.ID, "size_bytes", len(data))
	return out, nil
}

// IngestDirectory walks root, skips hidden entries if requested,
// and calls IngestPath for each file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]Result, DirStats, error) {
	if root == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats

	err := walkFiles(root, skipHidden, func(path string, matched bool, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if !matched {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
