package constants

// ParseStatus is the canonical status for rows in parses.
type ParseStatus string

// Stable values (store these exact strings in DB).
const (
	ParseStatusPending       ParseStatus = "PENDING"        // accepted, render not finished
	ParseStatusRendered      ParseStatus = "RENDERED"       // pages rendered; classify/extract in progress
	ParseStatusCompleted     ParseStatus = "COMPLETED"      // canonical extraction accepted
	ParseStatusNeedsReview   ParseStatus = "NEEDS_REVIEW"   // canonical extraction awaiting a human
	ParseStatusRenderFailed  ParseStatus = "RENDER_FAILED"  // terminal until retried
	ParseStatusExtractFailed ParseStatus = "EXTRACT_FAILED" // terminal until retried
	ParseStatusArchived      ParseStatus = "ARCHIVED"
)

var allStatuses = []ParseStatus{
	ParseStatusPending,
	ParseStatusRendered,
	ParseStatusCompleted,
	ParseStatusNeedsReview,
	ParseStatusRenderFailed,
	ParseStatusExtractFailed,
	ParseStatusArchived,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []ParseStatus {
	out := make([]ParseStatus, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsFinal reports whether the status carries a canonical extraction.
func (s ParseStatus) IsFinal() bool {
	return s == ParseStatusCompleted || s == ParseStatusNeedsReview
}

// IsFailed reports whether the status is one of the retryable failure states.
func (s ParseStatus) IsFailed() bool {
	return s == ParseStatusRenderFailed || s == ParseStatusExtractFailed
}

// IsRunning reports whether a pipeline run may still be writing to the parse.
func (s ParseStatus) IsRunning() bool {
	return s == ParseStatusPending || s == ParseStatusRendered
}

func (s ParseStatus) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}
