package reconcile

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/packet-parser/constants"
)

var (
	reLoanSeparator   = regexp.MustCompile(`(?i)\s*(?:/|\bor\b|&|,|\band\b)\s*`)
	reOwnerFinancing  = regexp.MustCompile(`(?i)\b(seller|owner)\b.*\b(financ\w*|carry\w*|carryback)\b`)
	reLoanPunctuation = regexp.MustCompile(`[.\s_-]+`)

	exactLoanTypes = []constants.LoanType{
		constants.LoanConventional, constants.LoanFHA, constants.LoanVA, constants.LoanUSDA, constants.LoanOther,
	}
)

// NormalizeLoanType maps free-text loan types onto the fixed enum. Rules apply in order:
// exact match, two recognized types joined by a separator, seller/owner financing,
// known misspellings, then anything else non-empty becomes Other. Empty input is null.
func NormalizeLoanType(raw string) constants.LoanType {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return constants.LoanNone
	}

	if lt, ok := exactLoanType(s); ok {
		return lt
	}

	if parts := reLoanSeparator.Split(s, -1); len(parts) > 1 {
		recognized := 0
		for _, p := range parts {
			if _, ok := recognizeLoanType(p); ok {
				recognized++
			}
		}
		if recognized >= 2 {
			return constants.LoanOther
		}
	}

	if reOwnerFinancing.MatchString(s) {
		return constants.LoanOther
	}

	if lt, ok := correctedLoanType(s); ok {
		return lt
	}
	return constants.LoanOther
}

func exactLoanType(s string) (constants.LoanType, bool) {
	for _, lt := range exactLoanTypes {
		if strings.EqualFold(s, string(lt)) {
			return lt, true
		}
	}
	return "", false
}

func correctedLoanType(s string) (constants.LoanType, bool) {
	lower := strings.ToLower(s)
	if lt, ok := constants.LoanTypeMisspellings[lower]; ok {
		return lt, true
	}
	squeezed := reLoanPunctuation.ReplaceAllString(lower, "")
	for _, lt := range constants.RecognizedLoanTypes {
		if squeezed == strings.ToLower(string(lt)) {
			return lt, true
		}
	}
	return "", false
}

func recognizeLoanType(s string) (constants.LoanType, bool) {
	s = strings.TrimSpace(s)
	if lt, ok := exactLoanType(s); ok && lt != constants.LoanOther {
		return lt, true
	}
	return correctedLoanType(s)
}
