package entity

import "github.com/joseph-ayodele/packet-parser/constants"

// ContractFields is the tracked field set of a purchase contract. Absent values are nil.
// JSON tags are the canonical field names used by the reconciler and the schemas.
type ContractFields struct {
	BuyerNames               []string       `json:"buyerNames,omitempty"`
	SellerNames              []string       `json:"sellerNames,omitempty"`
	PropertyAddress          *Address       `json:"propertyAddress,omitempty"`
	APN                      *string        `json:"apn,omitempty"`
	PurchasePrice            *float64       `json:"purchasePrice,omitempty"`
	InitialDeposit           *float64       `json:"initialDeposit,omitempty"`
	Financing                *Financing     `json:"financing,omitempty"`
	Contingencies            *Contingencies `json:"contingencies,omitempty"`
	ClosingCosts             *ClosingCosts  `json:"closingCosts,omitempty"`
	CloseOfEscrow            *CloseOfEscrow `json:"closeOfEscrow,omitempty"`
	EscrowHolder             *string        `json:"escrowHolder,omitempty"`
	BuyerBroker              *Broker        `json:"buyerBroker,omitempty"`
	SellerBroker             *Broker        `json:"sellerBroker,omitempty"`
	BuyerSignatureDate       *string        `json:"buyerSignatureDate,omitempty"`  // YYYY-MM-DD
	SellerSignatureDate      *string        `json:"sellerSignatureDate,omitempty"` // YYYY-MM-DD
	PersonalPropertyIncluded []string       `json:"personalPropertyIncluded,omitempty"`
}

type Address struct {
	Street *string `json:"street,omitempty"`
	City   *string `json:"city,omitempty"`
	State  *string `json:"state,omitempty"`
	Zip    *string `json:"zip,omitempty"`
	County *string `json:"county,omitempty"`
}

type Financing struct {
	LoanType    *string  `json:"loanType,omitempty"`
	LoanAmount  *float64 `json:"loanAmount,omitempty"`
	DownPayment *float64 `json:"downPayment,omitempty"`
	AllCash     *bool    `json:"allCash,omitempty"`
}

type Contingencies struct {
	InspectionDays      *int  `json:"inspectionDays,omitempty"`
	AppraisalDays       *int  `json:"appraisalDays,omitempty"`
	LoanDays            *int  `json:"loanDays,omitempty"`
	SaleOfBuyerProperty *bool `json:"saleOfBuyerProperty,omitempty"`
}

// ClosingCosts records which party pays each allocation ("buyer", "seller", "split").
type ClosingCosts struct {
	EscrowFeePaidBy      *string  `json:"escrowFeePaidBy,omitempty"`
	TitleInsurancePaidBy *string  `json:"titleInsurancePaidBy,omitempty"`
	TransferTaxPaidBy    *string  `json:"transferTaxPaidBy,omitempty"`
	HOAFeesPaidBy        *string  `json:"hoaFeesPaidBy,omitempty"`
	SellerCredit         *float64 `json:"sellerCredit,omitempty"`
}

type CloseOfEscrow struct {
	Date                *string `json:"date,omitempty"`
	DaysAfterAcceptance *int    `json:"daysAfterAcceptance,omitempty"`
}

type Broker struct {
	Brokerage *string `json:"brokerage,omitempty"`
	Agent     *string `json:"agent,omitempty"`
	License   *string `json:"license,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Email     *string `json:"email,omitempty"`
}

// PerPageExtraction is the extractor's output for one critical page. Confidences are 0..100.
type PerPageExtraction struct {
	PageNumber          int                `json:"pageNumber"`
	Fields              ContractFields     `json:"fields"`
	OverallConfidence   float64            `json:"overallConfidence"`
	PerFieldConfidence  map[string]float64 `json:"perFieldConfidence,omitempty"`
	HandwritingDetected bool               `json:"handwritingDetected"`
}

// FieldConfidence returns the page's confidence for a field, falling back to the page overall.
func (p PerPageExtraction) FieldConfidence(field string) float64 {
	if c, ok := p.PerFieldConfidence[field]; ok {
		return c
	}
	return p.OverallConfidence
}

// EnrichedPageExtraction is a PerPageExtraction tagged with its classifier label.
type EnrichedPageExtraction struct {
	PerPageExtraction
	Role     constants.PageRole `json:"role"`
	Party    constants.Party    `json:"party,omitempty"`
	FormCode string             `json:"formCode,omitempty"`
}

// UniversalExtractionResult is the canonical merged record.
type UniversalExtractionResult struct {
	ContractFields
	OverallConfidence   float64            `json:"overallConfidence"`
	FieldConfidence     map[string]float64 `json:"fieldConfidence,omitempty"`
	HandwritingDetected bool               `json:"handwritingDetected"`
	ValidationWarnings  []string           `json:"validationWarnings,omitempty"`
}

// ConfidenceSummary is the review-facing digest stored on the parse.
type ConfidenceSummary struct {
	Overall             float64  `json:"overall"`
	PurchasePrice       float64  `json:"purchasePrice"`
	BuyerNames          float64  `json:"buyerNames"`
	HandwritingDetected bool     `json:"handwritingDetected"`
	NeedsReview         bool     `json:"needsReview"`
	Reasons             []string `json:"reasons,omitempty"`
	ExcludedPages       []int    `json:"excludedPages,omitempty"`
}
