package entity

import (
	"fmt"
	"slices"
	"time"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/common"
)

var transitions = map[constants.ParseStatus][]constants.ParseStatus{
	constants.ParseStatusPending: {
		constants.ParseStatusRendered,
		constants.ParseStatusRenderFailed,
	},
	constants.ParseStatusRendered: {
		constants.ParseStatusCompleted,
		constants.ParseStatusNeedsReview,
		constants.ParseStatusExtractFailed,
		constants.ParseStatusRenderFailed,
	},
	constants.ParseStatusNeedsReview: {
		constants.ParseStatusCompleted,
		constants.ParseStatusArchived,
	},
	constants.ParseStatusCompleted: {
		constants.ParseStatusArchived,
	},
	constants.ParseStatusRenderFailed: {
		constants.ParseStatusPending,
	},
	constants.ParseStatusExtractFailed: {
		constants.ParseStatusPending,
	},
	constants.ParseStatusArchived: nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to constants.ParseStatus) bool {
	return slices.Contains(transitions[from], to)
}

// NextStatuses lists the legal targets of a status.
func NextStatuses(from constants.ParseStatus) []constants.ParseStatus {
	return slices.Clone(transitions[from])
}

// TransitionTo moves the parse to next, enforcing the edge table and the data each status requires.
// Entering a final status drops the raw document reference; leaving a run clears the run token.
func (p *Parse) TransitionTo(next constants.ParseStatus, now time.Time) error {
	if !CanTransition(p.Status, next) {
		return common.NewAppError("ILLEGAL_TRANSITION",
			fmt.Sprintf("%s -> %s", p.Status, next), common.ErrIllegalTransition)
	}
	switch {
	case next.IsFinal():
		if p.Canonical == nil || p.Confidence == nil {
			return common.NewAppError("ILLEGAL_TRANSITION",
				fmt.Sprintf("%s requires a canonical extraction", next), common.ErrIllegalTransition)
		}
		p.RawDocumentKey = nil
		p.ErrorMessage = nil
		if p.FinalizedAt == nil {
			p.FinalizedAt = &now
		}
		p.ActiveRun = ""
	case next.IsFailed():
		if p.ErrorMessage == nil || *p.ErrorMessage == "" {
			msg := "unknown failure"
			p.ErrorMessage = &msg
		}
		p.ActiveRun = ""
	case next == constants.ParseStatusPending:
		p.ErrorMessage = nil
		p.Attempts++
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}
