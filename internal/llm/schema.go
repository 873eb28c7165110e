package llm

import "github.com/joseph-ayodele/packet-parser/constants"

// Schema names for CompileSchema caching.
const (
	SchemaPageExtraction = "page_extraction"
	SchemaClassification = "classification"
	SchemaCanonical      = "canonical"
)

// BuildContractFieldsSchema describes ContractFields. Every field is optional and nullable:
// an absent value is information, not an error.
func BuildContractFieldsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"buyerNames":               stringArrayProp(),
			"sellerNames":              stringArrayProp(),
			"propertyAddress":          objectProp(map[string]any{"street": strProp(), "city": strProp(), "state": strProp(), "zip": strProp(), "county": strProp()}),
			"apn":                      strProp(),
			"purchasePrice":            moneyProp(),
			"initialDeposit":           moneyProp(),
			"financing":                objectProp(map[string]any{"loanType": strProp(), "loanAmount": moneyProp(), "downPayment": moneyProp(), "allCash": boolProp()}),
			"contingencies":            objectProp(map[string]any{"inspectionDays": daysProp(), "appraisalDays": daysProp(), "loanDays": daysProp(), "saleOfBuyerProperty": boolProp()}),
			"closingCosts":             objectProp(map[string]any{"escrowFeePaidBy": payerProp(), "titleInsurancePaidBy": payerProp(), "transferTaxPaidBy": payerProp(), "hoaFeesPaidBy": payerProp(), "sellerCredit": moneyProp()}),
			"closeOfEscrow":            objectProp(map[string]any{"date": dateProp(), "daysAfterAcceptance": daysProp()}),
			"escrowHolder":             strProp(),
			"buyerBroker":              brokerProp(),
			"sellerBroker":             brokerProp(),
			"buyerSignatureDate":       dateProp(),
			"sellerSignatureDate":      dateProp(),
			"personalPropertyIncluded": stringArrayProp(),
		},
	}
}

// BuildPageExtractionSchema is the per-page response contract of the extractor.
func BuildPageExtractionSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"fields", "confidence"},
		"properties": map[string]any{
			"fields": BuildContractFieldsSchema(),
			"confidence": map[string]any{
				"type":     "object",
				"required": []string{"overall"},
				"properties": map[string]any{
					"overall": confidenceProp(),
					"fields": map[string]any{
						"type":                 "object",
						"additionalProperties": confidenceProp(),
					},
				},
			},
			"handwritingDetected": map[string]any{"type": "boolean"},
		},
	}
}

// BuildClassificationSchema is the per-batch response contract of the classifier.
func BuildClassificationSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"pages"},
		"properties": map[string]any{
			"pages": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"pageNumber", "role"},
					"properties": map[string]any{
						"pageNumber": map[string]any{"type": "integer", "minimum": 1},
						"formCode":   map[string]any{"type": []string{"string", "null"}},
						"role":       map[string]any{"type": "string"},
						"party":      map[string]any{"type": []string{"string", "null"}},
						"confidence": confidenceProp(),
					},
				},
			},
		},
	}
}

// BuildCanonicalSchema validates the merged result: the same fields plus the loan type enum.
func BuildCanonicalSchema() map[string]any {
	s := BuildContractFieldsSchema()
	props := s["properties"].(map[string]any)
	fin := props["financing"].(map[string]any)
	finProps := fin["properties"].(map[string]any)
	finProps["loanType"] = map[string]any{"enum": []any{
		string(constants.LoanConventional), string(constants.LoanFHA), string(constants.LoanVA),
		string(constants.LoanUSDA), string(constants.LoanOther), nil,
	}}
	return s
}

func strProp() map[string]any { return map[string]any{"type": []string{"string", "null"}} }

func boolProp() map[string]any { return map[string]any{"type": []string{"boolean", "null"}} }

func moneyProp() map[string]any {
	return map[string]any{"type": []string{"number", "null"}, "minimum": 0}
}

func daysProp() map[string]any {
	return map[string]any{"type": []string{"integer", "null"}, "minimum": 0, "maximum": 365}
}

func dateProp() map[string]any {
	return map[string]any{"type": []string{"string", "null"}, "pattern": `^\d{4}-\d{2}-\d{2}$`}
}

func payerProp() map[string]any {
	return map[string]any{"enum": []any{"buyer", "seller", "split", nil}}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 100}
}

func stringArrayProp() map[string]any {
	return map[string]any{
		"type":  []string{"array", "null"},
		"items": map[string]any{"type": "string"},
	}
}

func objectProp(props map[string]any) map[string]any {
	return map[string]any{
		"type":                 []string{"object", "null"},
		"additionalProperties": false,
		"properties":           props,
	}
}

func brokerProp() map[string]any {
	return objectProp(map[string]any{
		"brokerage": strProp(),
		"agent":     strProp(),
		"license":   strProp(),
		"phone":     strProp(),
		"email":     strProp(),
	})
}
