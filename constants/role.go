package constants

import "strings"

// PageRole is the classifier's label for a critical page.
type PageRole string

const (
	RoleMainContract PageRole = "main_contract"
	RoleCounterOffer PageRole = "counter_offer"
	RoleAddendum     PageRole = "addendum"
	RoleBrokerInfo   PageRole = "broker_info"
)

var allRoles = []PageRole{RoleMainContract, RoleCounterOffer, RoleAddendum, RoleBrokerInfo}

func RolesAsStrings() []string {
	out := make([]string, len(allRoles))
	for i, r := range allRoles {
		out[i] = string(r)
	}
	return out
}

// ParseRole maps loose model output onto a PageRole.
func ParseRole(s string) (PageRole, bool) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	synonyms := map[string]PageRole{
		"main":               RoleMainContract,
		"contract":           RoleMainContract,
		"purchase_agreement": RoleMainContract,
		"counter":            RoleCounterOffer,
		"counteroffer":       RoleCounterOffer,
		"multiple_counter":   RoleCounterOffer,
		"amendment":          RoleAddendum,
		"broker":             RoleBrokerInfo,
		"agency":             RoleBrokerInfo,
	}
	if r, ok := synonyms[n]; ok {
		return r, true
	}
	for _, r := range allRoles {
		if n == string(r) {
			return r, true
		}
	}
	return "", false
}

// Party identifies who authored a counter-offer.
type Party string

const (
	PartyBuyer   Party = "buyer"
	PartySeller  Party = "seller"
	PartyUnknown Party = ""
)

func ParseParty(s string) Party {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buyer", "buyers", "purchaser":
		return PartyBuyer
	case "seller", "sellers", "owner":
		return PartySeller
	default:
		return PartyUnknown
	}
}

// FormInfo describes a known form code.
type FormInfo struct {
	Code  string
	Title string
	Role  PageRole
	Party Party
}

// KnownForms are the standard residential purchase forms the classifier is primed with.
var KnownForms = []FormInfo{
	{Code: "RPA", Title: "RESIDENTIAL PURCHASE AGREEMENT", Role: RoleMainContract},
	{Code: "BCO", Title: "BUYER COUNTER OFFER", Role: RoleCounterOffer, Party: PartyBuyer},
	{Code: "SCO", Title: "SELLER COUNTER OFFER", Role: RoleCounterOffer, Party: PartySeller},
	{Code: "SMCO", Title: "SELLER MULTIPLE COUNTER OFFER", Role: RoleCounterOffer, Party: PartySeller},
	{Code: "ADM", Title: "ADDENDUM", Role: RoleAddendum},
	{Code: "AEA", Title: "AMENDMENT OF EXISTING AGREEMENT TERMS", Role: RoleAddendum},
	{Code: "AD", Title: "DISCLOSURE REGARDING REAL ESTATE AGENCY RELATIONSHIP", Role: RoleBrokerInfo},
}

// LookupForm returns the known form for a code, case-insensitively.
func LookupForm(code string) (FormInfo, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	for _, f := range KnownForms {
		if f.Code == c {
			return f, true
		}
	}
	return FormInfo{}, false
}

// PartyForForm derives the authoring party from a form code.
func PartyForForm(code string) Party {
	if f, ok := LookupForm(code); ok {
		return f.Party
	}
	return PartyUnknown
}
