package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	reMoney = regexp.MustCompile(`^\$?\s*-?[\d,]+(\.\d+)?$`)
	reDays  = regexp.MustCompile(`(?i)^(\d{1,3})\s*(days?|calendar days?|business days?)?$`)

	moneyKeys = map[string]bool{"purchasePrice": true, "initialDeposit": true, "loanAmount": true, "downPayment": true, "sellerCredit": true}
	daysKeys  = map[string]bool{"inspectionDays": true, "appraisalDays": true, "loanDays": true, "daysAfterAcceptance": true}
	boolKeys  = map[string]bool{"allCash": true, "saleOfBuyerProperty": true}
	nameKeys  = map[string]bool{"buyerNames": true, "sellerNames": true, "personalPropertyIncluded": true}
	payerKeys = map[string]bool{"escrowFeePaidBy": true, "titleInsurancePaidBy": true, "transferTaxPaidBy": true, "hoaFeesPaidBy": true}
)

// SanitizeExtraction normalizes the loose value shapes models produce ("$510,000", "17 days",
// "yes", a single name string) into the schema's types. Values that cannot be coerced are
// dropped and reported; the caller validates afterwards.
func SanitizeExtraction(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}
	var dropped []string
	if fields, ok := m["fields"].(map[string]any); ok {
		pruneUnknown(fields, BuildContractFieldsSchema(), "", &dropped)
		sanitizeObject(fields, "", &dropped)
	}
	if conf, ok := m["confidence"].(map[string]any); ok {
		scaleConfidence(conf)
	}
	if hw, ok := m["handwritingDetected"].(string); ok {
		b, ok := parseBool(hw)
		if ok {
			m["handwritingDetected"] = b
		} else {
			delete(m, "handwritingDetected")
			dropped = append(dropped, "handwritingDetected")
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}

func sanitizeObject(obj map[string]any, path string, dropped *[]string) {
	for k, v := range obj {
		p := k
		if path != "" {
			p = path + "." + k
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
				delete(obj, k)
				continue
			}
			v = s
			obj[k] = s
		}
		switch {
		case v == nil:
			delete(obj, k)
		case moneyKeys[k]:
			if f, ok := toMoney(v); ok {
				obj[k] = f
			} else {
				delete(obj, k)
				*dropped = append(*dropped, p)
			}
		case daysKeys[k]:
			if n, ok := toDays(v); ok {
				obj[k] = n
			} else {
				delete(obj, k)
				*dropped = append(*dropped, p)
			}
		case boolKeys[k]:
			if s, ok := v.(string); ok {
				if b, ok := parseBool(s); ok {
					obj[k] = b
				} else {
					delete(obj, k)
					*dropped = append(*dropped, p)
				}
			}
		case payerKeys[k]:
			if s, ok := v.(string); ok {
				obj[k] = normalizePayer(s)
				if obj[k] == nil {
					delete(obj, k)
					*dropped = append(*dropped, p)
				}
			}
		case nameKeys[k]:
			if s, ok := v.(string); ok {
				obj[k] = splitNames(s)
			}
		default:
			if nested, ok := v.(map[string]any); ok {
				sanitizeObject(nested, p, dropped)
				if len(nested) == 0 {
					delete(obj, k)
				}
			}
		}
	}
}

// pruneUnknown removes keys the schema does not declare, recursing into declared objects.
func pruneUnknown(obj map[string]any, schema map[string]any, path string, dropped *[]string) {
	props, _ := schema["properties"].(map[string]any)
	for k, v := range obj {
		p := k
		if path != "" {
			p = path + "." + k
		}
		sub, ok := props[k].(map[string]any)
		if !ok {
			delete(obj, k)
			*dropped = append(*dropped, p)
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			pruneUnknown(nested, sub, p, dropped)
		}
	}
}

func toMoney(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, t >= 0
	case string:
		if !reMoney.MatchString(t) {
			return 0, false
		}
		s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(t)
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && f >= 0
	}
	return 0, false
}

func toDays(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t < 0 || t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case string:
		m := reDays.FindStringSubmatch(t)
		if m == nil {
			return 0, false
		}
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	return 0, false
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "x", "checked":
		return true, true
	case "false", "no", "n", "unchecked":
		return false, true
	}
	return false, false
}

func normalizePayer(s string) any {
	n := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(n, "split"), strings.Contains(n, "50/50"), strings.Contains(n, "both"):
		return "split"
	case strings.HasPrefix(n, "buyer"):
		return "buyer"
	case strings.HasPrefix(n, "seller"):
		return "seller"
	}
	return nil
}

func splitNames(s string) []string {
	parts := regexp.MustCompile(`\s*(?:;|\band\b|&)\s*`).Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// scaleConfidence converts 0..1 fractions to the 0..100 scale when every value is a fraction.
func scaleConfidence(conf map[string]any) {
	var vals []*float64
	collect := func(m map[string]any, k string) {
		if f, ok := m[k].(float64); ok {
			f := f
			vals = append(vals, &f)
		}
	}
	collect(conf, "overall")
	fields, _ := conf["fields"].(map[string]any)
	for k := range fields {
		collect(fields, k)
	}
	if len(vals) == 0 {
		return
	}
	for _, v := range vals {
		if *v > 1 {
			return
		}
	}
	if f, ok := conf["overall"].(float64); ok {
		conf["overall"] = f * 100
	}
	for k, v := range fields {
		if f, ok := v.(float64); ok {
			fields[k] = f * 100
		}
	}
}
