package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
)

// Parse is one packet submission and its lifecycle record.
type Parse struct {
	ID                     uuid.UUID                  `json:"id"`
	OwnerID                string                     `json:"owner_id"`
	FileName               string                     `json:"file_name"`
	Format                 constants.DocumentFormat   `json:"format"`
	SizeBytes              int64                      `json:"size_bytes"`
	Status                 constants.ParseStatus      `json:"status"`
	PageCount              int                        `json:"page_count"`
	CriticalPages          []int                      `json:"critical_pages,omitempty"`
	RawDocumentKey         *string                    `json:"-"`
	ClassificationCacheKey *string                    `json:"-"`
	RawExtractions         []PerPageExtraction        `json:"raw_extractions,omitempty"`
	Canonical              *UniversalExtractionResult `json:"canonical_extraction,omitempty"`
	Confidence             *ConfidenceSummary         `json:"confidence,omitempty"`
	Provenance             map[string]int             `json:"provenance,omitempty"`
	MergeLog               []string                   `json:"merge_log,omitempty"`
	PreviewKeys            []string                   `json:"preview_keys,omitempty"`
	ErrorMessage           *string                    `json:"error_message,omitempty"`
	ActiveRun              string                     `json:"-"`
	Attempts               int                        `json:"attempts"`
	Version                int64                      `json:"-"`
	CreatedAt              time.Time                  `json:"created_at"`
	UpdatedAt              time.Time                  `json:"updated_at"`
	FinalizedAt            *time.Time                 `json:"finalized_at,omitempty"`
	CleanedAt              *time.Time                 `json:"cleaned_at,omitempty"`
}

// NeedsReview reports the review decision, false until finalized.
func (p *Parse) NeedsReview() bool {
	return p.Confidence != nil && p.Confidence.NeedsReview
}

// OverallConfidence returns the aggregate confidence, 0 until finalized.
func (p *Parse) OverallConfidence() float64 {
	if p.Confidence == nil {
		return 0
	}
	return p.Confidence.Overall
}
