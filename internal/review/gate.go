package review

import (
	"fmt"

	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

// Thresholds on the 0..100 confidence scale.
const (
	MinOverallConfidence    = 80.0
	MinPriceConfidence      = 90.0
	MinBuyerNamesConfidence = 90.0
)

// Input is everything the gate looks at besides the merged record.
type Input struct {
	Result             entity.UniversalExtractionResult
	CriticalPages      int
	ExcludedPages      []int
	ValidationWarnings []string
}

// Evaluate decides whether a human must verify the result. Any single trigger forces review.
func Evaluate(in Input) entity.ConfidenceSummary {
	res := in.Result
	price := res.FieldConfidence["purchasePrice"]
	buyers := res.FieldConfidence["buyerNames"]

	var reasons []string
	if res.OverallConfidence < MinOverallConfidence {
		reasons = append(reasons, fmt.Sprintf("overall confidence %.1f below %.0f", res.OverallConfidence, MinOverallConfidence))
	}
	if price < MinPriceConfidence {
		reasons = append(reasons, fmt.Sprintf("purchase price confidence %.1f below %.0f", price, MinPriceConfidence))
	}
	if buyers < MinBuyerNamesConfidence {
		reasons = append(reasons, fmt.Sprintf("buyer names confidence %.1f below %.0f", buyers, MinBuyerNamesConfidence))
	}
	if res.HandwritingDetected {
		reasons = append(reasons, "handwriting detected")
	}
	if in.CriticalPages == 0 {
		reasons = append(reasons, "no critical pages detected")
	}
	if len(in.ValidationWarnings) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d schema validation warning(s)", len(in.ValidationWarnings)))
	}
	if len(in.ExcludedPages) > 0 {
		reasons = append(reasons, fmt.Sprintf("pages %v could not be parsed", in.ExcludedPages))
	}

	return entity.ConfidenceSummary{
		Overall:             res.OverallConfidence,
		PurchasePrice:       price,
		BuyerNames:          buyers,
		HandwritingDetected: res.HandwritingDetected,
		NeedsReview:         len(reasons) > 0,
		Reasons:             reasons,
		ExcludedPages:       in.ExcludedPages,
	}
}
