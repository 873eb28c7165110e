package constants

// LoanType is the canonical financing enum. The empty value stands for null.
type LoanType string

const (
	LoanConventional LoanType = "Conventional"
	LoanFHA          LoanType = "FHA"
	LoanVA           LoanType = "VA"
	LoanUSDA         LoanType = "USDA"
	LoanOther        LoanType = "Other"
	LoanNone         LoanType = ""
)

// RecognizedLoanTypes are the enum members a free-text value can resolve to directly.
var RecognizedLoanTypes = []LoanType{LoanConventional, LoanFHA, LoanVA, LoanUSDA}

// LoanTypeMisspellings maps known OCR and typing errors to their intended type.
var LoanTypeMisspellings = map[string]LoanType{
	"conventinal":       LoanConventional,
	"convential":        LoanConventional,
	"conventonal":       LoanConventional,
	"convetional":       LoanConventional,
	"conv":              LoanConventional,
	"conventional loan": LoanConventional,
	"f.h.a.":            LoanFHA,
	"f.h.a":             LoanFHA,
	"fha loan":          LoanFHA,
	"v.a.":              LoanVA,
	"v.a":               LoanVA,
	"va loan":           LoanVA,
	"u.s.d.a.":          LoanUSDA,
	"usda loan":         LoanUSDA,
	"usda rural":        LoanUSDA,
}
