// Package artifacts stores transient packet artifacts (raw bytes, renders) under opaque keys.
package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("artifact not found")

// Store is an object store addressed by key. Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// DeletePrefix removes every object under prefix and returns how many were removed.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func ParsePrefix(id uuid.UUID) string { return fmt.Sprintf("parses/%s/", id) }

// SourceKey holds the uploaded document bytes.
func SourceKey(id uuid.UUID) string { return ParsePrefix(id) + "source" }

// LowResPrefix holds classification renders; removed by cleanup.
func LowResPrefix(id uuid.UUID) string { return ParsePrefix(id) + "pages/low/" }

func LowResKey(id uuid.UUID, page int) string {
	return fmt.Sprintf("%s%04d.png", LowResPrefix(id), page)
}

// PreviewPrefix holds high-resolution renders kept for preview until the janitor removes them.
func PreviewPrefix(id uuid.UUID) string { return ParsePrefix(id) + "preview/" }

func PreviewKey(id uuid.UUID, page int) string {
	return fmt.Sprintf("%s%04d.png", PreviewPrefix(id), page)
}
