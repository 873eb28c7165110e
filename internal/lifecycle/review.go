package lifecycle

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/events"
	"github.com/joseph-ayodele/packet-parser/internal/reconcile"
)

// humanProvenance marks a value entered by a reviewer rather than read from a page.
const humanProvenance = 0

// Review stores a reviewer's corrected fields and completes a NEEDS_REVIEW parse.
// Fields the reviewer changed get provenance 0 and full confidence.
func (m *Manager) Review(ctx context.Context, ownerID string, id uuid.UUID, corrected entity.ContractFields) (*entity.Parse, error) {
	if _, err := m.repo.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	if corrected.Financing != nil && corrected.Financing.LoanType != nil {
		lt := reconcile.NormalizeLoanType(*corrected.Financing.LoanType)
		if lt == "" {
			corrected.Financing.LoanType = nil
		} else {
			s := string(lt)
			corrected.Financing.LoanType = &s
		}
	}
	if msgs := validateFields(corrected); len(msgs) > 0 {
		return nil, common.InvalidInputError("corrected fields are invalid: " + strings.Join(msgs, "; "))
	}
	after, err := fieldMap(corrected)
	if err != nil {
		return nil, err
	}

	var edited []string
	p, err := m.repo.Update(ctx, id, func(p *entity.Parse) error {
		if p.Status != constants.ParseStatusNeedsReview || p.Canonical == nil {
			return common.NewAppError("ILLEGAL_TRANSITION", "only parses awaiting review can be reviewed", common.ErrIllegalTransition)
		}
		before, err := fieldMap(p.Canonical.ContractFields)
		if err != nil {
			return err
		}
		edited = edited[:0]
		canon := *p.Canonical
		canon.ContractFields = corrected
		canon.ValidationWarnings = nil
		canon.FieldConfidence = copyConfidence(canon.FieldConfidence)
		prov := make(map[string]int, len(p.Provenance))
		for k, v := range p.Provenance {
			prov[k] = v
		}
		for _, rule := range reconcile.FieldTable {
			if reflect.DeepEqual(before[rule.Name], after[rule.Name]) {
				continue
			}
			edited = append(edited, rule.Name)
			for k := range prov {
				if strings.HasPrefix(k, rule.Name+".") {
					delete(prov, k)
				}
			}
			if after[rule.Name] == nil {
				delete(prov, rule.Name)
				delete(canon.FieldConfidence, rule.Name)
				continue
			}
			prov[rule.Name] = humanProvenance
			canon.FieldConfidence[rule.Name] = 100
		}
		canon.OverallConfidence = reconcile.AggregateConfidence(canon.FieldConfidence)

		summary := entity.ConfidenceSummary{
			Overall:             canon.OverallConfidence,
			PurchasePrice:       canon.FieldConfidence["purchasePrice"],
			BuyerNames:          canon.FieldConfidence["buyerNames"],
			HandwritingDetected: canon.HandwritingDetected,
		}
		if p.Confidence != nil {
			summary.ExcludedPages = p.Confidence.ExcludedPages
		}
		p.Canonical = &canon
		p.Confidence = &summary
		p.Provenance = prov
		p.MergeLog = append(p.MergeLog, "reviewed: "+strings.Join(editedOrNone(edited), ", "))
		return p.TransitionTo(constants.ParseStatusCompleted, m.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("lifecycle.review.ok", "parse_id", id, "edited", edited)
	m.emit(events.TypeReviewed, p)
	return p, nil
}

func fieldMap(f entity.ContractFields) (map[string]any, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func copyConfidence(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func editedOrNone(edited []string) []string {
	if len(edited) == 0 {
		return []string{"no changes"}
	}
	return edited
}
