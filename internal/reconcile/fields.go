package reconcile

// FieldClass is the precedence class that decides how conflicting page values resolve.
type FieldClass int

const (
	BuyerOriginated FieldClass = iota + 1
	SellerOriginated
	Negotiable
	Informational
)

func (c FieldClass) String() string {
	switch c {
	case BuyerOriginated:
		return "buyer-originated"
	case SellerOriginated:
		return "seller-originated"
	case Negotiable:
		return "negotiable"
	case Informational:
		return "informational"
	default:
		return "unclassified"
	}
}

// FieldRule binds a ContractFields JSON name to its class.
// Broker rules read broker_info pages first and fall back to main_contract pages.
type FieldRule struct {
	Name   string
	Class  FieldClass
	Broker bool
}

// FieldTable lists every tracked field in ContractFields order. Merge output and logs follow it.
var FieldTable = []FieldRule{
	{Name: "buyerNames", Class: BuyerOriginated},
	{Name: "sellerNames", Class: SellerOriginated},
	{Name: "propertyAddress", Class: Informational},
	{Name: "apn", Class: Informational},
	{Name: "purchasePrice", Class: Negotiable},
	{Name: "initialDeposit", Class: Negotiable},
	{Name: "financing", Class: Negotiable},
	{Name: "contingencies", Class: Negotiable},
	{Name: "closingCosts", Class: Negotiable},
	{Name: "closeOfEscrow", Class: Negotiable},
	{Name: "escrowHolder", Class: Informational},
	{Name: "buyerBroker", Class: Informational, Broker: true},
	{Name: "sellerBroker", Class: Informational, Broker: true},
	{Name: "buyerSignatureDate", Class: BuyerOriginated},
	{Name: "sellerSignatureDate", Class: SellerOriginated},
	{Name: "personalPropertyIncluded", Class: Negotiable},
}

// ClassOf returns the class of a field name.
func ClassOf(field string) (FieldClass, bool) {
	for _, r := range FieldTable {
		if r.Name == field {
			return r.Class, true
		}
	}
	return 0, false
}
