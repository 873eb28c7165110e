package reconcile

import (
	"testing"

	"github.com/joseph-ayodele/packet-parser/constants"
)

func TestNormalizeLoanType(t *testing.T) {
	tests := []struct {
		in   string
		want constants.LoanType
	}{
		{"FHA/VA", constants.LoanOther},
		{"conventional", constants.LoanConventional},
		{"Owner Financing", constants.LoanOther},
		{"", constants.LoanNone},
		{"XYZ", constants.LoanOther},
		{"  usda ", constants.LoanUSDA},
		{"VA", constants.LoanVA},
		{"other", constants.LoanOther},
		{"Conventional or FHA", constants.LoanOther},
		{"FHA & Conventional", constants.LoanOther},
		{"seller carryback", constants.LoanOther},
		{"Convential", constants.LoanConventional},
		{"F.H.A.", constants.LoanFHA},
		{"V. A.", constants.LoanVA},
		{"FHA loan", constants.LoanFHA},
		{"   ", constants.LoanNone},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeLoanType(tt.in); got != tt.want {
				t.Errorf("NormalizeLoanType(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeLoanTypeIsStable(t *testing.T) {
	for _, in := range []string{"FHA", "Other", "Conventional", "USDA", "VA"} {
		once := NormalizeLoanType(in)
		if twice := NormalizeLoanType(string(once)); twice != once {
			t.Errorf("NormalizeLoanType not idempotent on %q: %q then %q", in, once, twice)
		}
	}
}
