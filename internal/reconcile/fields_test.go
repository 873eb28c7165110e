package reconcile

import (
	"reflect"
	"strings"
	"testing"

	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

func contractFieldNames(t *testing.T) []string {
	t.Helper()
	typ := reflect.TypeOf(entity.ContractFields{})
	names := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("json")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" {
			t.Fatalf("field %s has no json name", typ.Field(i).Name)
		}
		names = append(names, name)
	}
	return names
}

func TestFieldTableCoversContractFields(t *testing.T) {
	names := contractFieldNames(t)
	if len(names) != len(FieldTable) {
		t.Errorf("FieldTable has %d rules, ContractFields has %d fields", len(FieldTable), len(names))
	}
	for _, n := range names {
		class, ok := ClassOf(n)
		if !ok {
			t.Errorf("field %q has no precedence class", n)
			continue
		}
		if class.String() == "unclassified" {
			t.Errorf("field %q has invalid class %d", n, class)
		}
	}
	seen := map[string]bool{}
	for _, r := range FieldTable {
		if seen[r.Name] {
			t.Errorf("duplicate rule for %q", r.Name)
		}
		seen[r.Name] = true
	}
}

func TestFieldClasses(t *testing.T) {
	tests := map[string]FieldClass{
		"buyerNames":          BuyerOriginated,
		"sellerSignatureDate": SellerOriginated,
		"purchasePrice":       Negotiable,
		"contingencies":       Negotiable,
		"propertyAddress":     Informational,
		"sellerBroker":        Informational,
	}
	for field, want := range tests {
		if got, _ := ClassOf(field); got != want {
			t.Errorf("ClassOf(%q) = %v, want %v", field, got, want)
		}
	}
}
