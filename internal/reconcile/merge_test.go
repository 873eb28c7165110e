package reconcile

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"reflect"
	"testing"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

func ptr[T any](v T) *T { return &v }

func newReconciler() *Reconciler {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func page(n int, role constants.PageRole, party constants.Party, conf float64, f entity.ContractFields) entity.EnrichedPageExtraction {
	return entity.EnrichedPageExtraction{
		PerPageExtraction: entity.PerPageExtraction{
			PageNumber:        n,
			Fields:            f,
			OverallConfidence: conf,
		},
		Role:  role,
		Party: party,
	}
}

func mustReconcile(t *testing.T, pages ...entity.EnrichedPageExtraction) Result {
	t.Helper()
	res, err := newReconciler().Reconcile(pages)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	return res
}

func TestCounterOfferOverridesPrice(t *testing.T) {
	res := mustReconcile(t,
		page(3, constants.RoleMainContract, "", 90, entity.ContractFields{PurchasePrice: ptr(500000.0)}),
		page(9, constants.RoleCounterOffer, constants.PartySeller, 88, entity.ContractFields{PurchasePrice: ptr(510000.0)}),
	)
	if got := *res.Canonical.PurchasePrice; got != 510000 {
		t.Errorf("purchasePrice = %v, want 510000", got)
	}
	if res.Provenance["purchasePrice"] != 9 {
		t.Errorf("provenance = %d, want 9", res.Provenance["purchasePrice"])
	}
	if res.Canonical.FieldConfidence["purchasePrice"] != 88 {
		t.Errorf("confidence = %v, want 88", res.Canonical.FieldConfidence["purchasePrice"])
	}
}

func TestAddendumOutranksLaterMainContractPage(t *testing.T) {
	res := mustReconcile(t,
		page(2, constants.RoleAddendum, "", 90, entity.ContractFields{InitialDeposit: ptr(15000.0)}),
		page(5, constants.RoleMainContract, "", 90, entity.ContractFields{InitialDeposit: ptr(10000.0)}),
	)
	if *res.Canonical.InitialDeposit != 15000 || res.Provenance["initialDeposit"] != 2 {
		t.Errorf("deposit = %v from page %d", *res.Canonical.InitialDeposit, res.Provenance["initialDeposit"])
	}
}

func TestDeepMergePreservesUntouchedSubKeys(t *testing.T) {
	res := mustReconcile(t,
		page(3, constants.RoleMainContract, "", 95, entity.ContractFields{
			Contingencies: &entity.Contingencies{InspectionDays: ptr(17), AppraisalDays: ptr(17), LoanDays: ptr(21)},
		}),
		page(11, constants.RoleAddendum, "", 80, entity.ContractFields{
			Contingencies: &entity.Contingencies{InspectionDays: ptr(10)},
		}),
	)
	c := res.Canonical.Contingencies
	if c == nil {
		t.Fatal("contingencies missing")
	}
	if *c.InspectionDays != 10 || *c.AppraisalDays != 17 || *c.LoanDays != 21 {
		t.Errorf("contingencies = %d/%d/%d, want 10/17/21", *c.InspectionDays, *c.AppraisalDays, *c.LoanDays)
	}
	want := map[string]int{
		"contingencies":                11,
		"contingencies.inspectionDays": 11,
		"contingencies.appraisalDays":  3,
		"contingencies.loanDays":       3,
	}
	for k, v := range want {
		if res.Provenance[k] != v {
			t.Errorf("provenance[%s] = %d, want %d", k, res.Provenance[k], v)
		}
	}
	if got := res.Canonical.FieldConfidence["contingencies"]; got != 80 {
		t.Errorf("contingencies confidence = %v, want min 80", got)
	}
}

func TestBuyerFieldsIgnoreSellerPages(t *testing.T) {
	res := mustReconcile(t,
		page(1, constants.RoleMainContract, "", 95, entity.ContractFields{
			BuyerNames:  []string{"Ana Ruiz"},
			SellerNames: []string{"Tom Lee"},
		}),
		page(6, constants.RoleCounterOffer, constants.PartySeller, 95, entity.ContractFields{
			BuyerNames:  []string{"Someone Else"},
			SellerNames: []string{"Tom Lee", "Kim Lee"},
		}),
		page(7, constants.RoleAddendum, "", 95, entity.ContractFields{BuyerNames: []string{"Addendum Name"}}),
	)
	if !reflect.DeepEqual(res.Canonical.BuyerNames, []string{"Ana Ruiz"}) || res.Provenance["buyerNames"] != 1 {
		t.Errorf("buyerNames = %v from page %d", res.Canonical.BuyerNames, res.Provenance["buyerNames"])
	}
	if !reflect.DeepEqual(res.Canonical.SellerNames, []string{"Tom Lee", "Kim Lee"}) || res.Provenance["sellerNames"] != 6 {
		t.Errorf("sellerNames = %v from page %d", res.Canonical.SellerNames, res.Provenance["sellerNames"])
	}
}

func TestHighestBuyerCounterWins(t *testing.T) {
	res := mustReconcile(t,
		page(1, constants.RoleMainContract, "", 95, entity.ContractFields{BuyerSignatureDate: ptr("2024-03-01")}),
		page(8, constants.RoleCounterOffer, constants.PartyBuyer, 95, entity.ContractFields{BuyerSignatureDate: ptr("2024-03-05")}),
		page(4, constants.RoleCounterOffer, constants.PartyBuyer, 95, entity.ContractFields{BuyerSignatureDate: ptr("2024-03-03")}),
	)
	if *res.Canonical.BuyerSignatureDate != "2024-03-05" || res.Provenance["buyerSignatureDate"] != 8 {
		t.Errorf("buyerSignatureDate = %s from page %d", *res.Canonical.BuyerSignatureDate, res.Provenance["buyerSignatureDate"])
	}
}

func TestInformationalFirstValueUnlessChanged(t *testing.T) {
	addr := func(street string) *entity.Address { return &entity.Address{Street: ptr(street), City: ptr("Fresno")} }
	res := mustReconcile(t,
		page(2, constants.RoleMainContract, "", 90, entity.ContractFields{PropertyAddress: addr("1 Elm St"), APN: ptr("123-45")}),
		page(5, constants.RoleCounterOffer, constants.PartySeller, 70, entity.ContractFields{PropertyAddress: addr("1 Elm St")}),
		page(9, constants.RoleAddendum, "", 60, entity.ContractFields{APN: ptr("123-46")}),
	)
	if res.Provenance["propertyAddress"] != 2 {
		t.Errorf("repeated identical address moved provenance to page %d", res.Provenance["propertyAddress"])
	}
	if *res.Canonical.APN != "123-46" || res.Provenance["apn"] != 9 {
		t.Errorf("apn = %s from page %d", *res.Canonical.APN, res.Provenance["apn"])
	}
}

func TestInformationalPartialRepeatKeepsEarlierLeaves(t *testing.T) {
	full := &entity.Address{Street: ptr("1 Main St"), City: ptr("Fresno"), State: ptr("CA"), Zip: ptr("93701")}
	res := mustReconcile(t,
		page(3, constants.RoleMainContract, "", 95, entity.ContractFields{PropertyAddress: full}),
		page(9, constants.RoleCounterOffer, constants.PartySeller, 70, entity.ContractFields{
			PropertyAddress: &entity.Address{Street: ptr("1 Main St")},
		}),
	)
	if !reflect.DeepEqual(res.Canonical.PropertyAddress, full) {
		t.Errorf("address = %+v, want main contract address intact", res.Canonical.PropertyAddress)
	}
	if res.Provenance["propertyAddress"] != 3 || res.Canonical.FieldConfidence["propertyAddress"] != 95 {
		t.Errorf("address from page %d at %v, want page 3 at 95",
			res.Provenance["propertyAddress"], res.Canonical.FieldConfidence["propertyAddress"])
	}
	if len(res.MergeLog) != 0 {
		t.Errorf("repeat logged as a change: %v", res.MergeLog)
	}

	res = mustReconcile(t,
		page(3, constants.RoleMainContract, "", 95, entity.ContractFields{PropertyAddress: full}),
		page(9, constants.RoleAddendum, "", 70, entity.ContractFields{
			PropertyAddress: &entity.Address{Street: ptr("1 Main St"), Zip: ptr("93702")},
		}),
	)
	got := res.Canonical.PropertyAddress
	if *got.City != "Fresno" || *got.State != "CA" || *got.Zip != "93702" {
		t.Errorf("address = %+v, want zip amended only", got)
	}
	if res.Provenance["propertyAddress"] != 9 || res.Provenance["propertyAddress.zip"] != 9 || res.Provenance["propertyAddress.city"] != 3 {
		t.Errorf("provenance = %v", res.Provenance)
	}
	if res.Canonical.FieldConfidence["propertyAddress"] != 70 {
		t.Errorf("confidence = %v, want weakest contributing page", res.Canonical.FieldConfidence["propertyAddress"])
	}
}

func TestBrokerPrefersBrokerInfoPages(t *testing.T) {
	broker := func(name string) *entity.Broker { return &entity.Broker{Brokerage: ptr(name)} }

	res := mustReconcile(t,
		page(1, constants.RoleMainContract, "", 90, entity.ContractFields{BuyerBroker: broker("Main Realty"), SellerBroker: broker("Seller Main")}),
		page(12, constants.RoleBrokerInfo, "", 90, entity.ContractFields{BuyerBroker: broker("Agency Realty")}),
	)
	if *res.Canonical.BuyerBroker.Brokerage != "Agency Realty" || res.Provenance["buyerBroker"] != 12 {
		t.Errorf("buyerBroker = %s from page %d", *res.Canonical.BuyerBroker.Brokerage, res.Provenance["buyerBroker"])
	}
	if *res.Canonical.SellerBroker.Brokerage != "Seller Main" || res.Provenance["sellerBroker"] != 1 {
		t.Errorf("sellerBroker fallback = %s from page %d", *res.Canonical.SellerBroker.Brokerage, res.Provenance["sellerBroker"])
	}
}

func TestBrokerFallbackReadsMainContractOnly(t *testing.T) {
	broker := func(name string) *entity.Broker { return &entity.Broker{Brokerage: ptr(name)} }

	res := mustReconcile(t,
		page(2, constants.RoleMainContract, "", 90, entity.ContractFields{SellerBroker: broker("Seller Main")}),
		page(7, constants.RoleAddendum, "", 90, entity.ContractFields{SellerBroker: broker("Addendum Realty"), BuyerBroker: broker("Stray Realty")}),
	)
	if *res.Canonical.SellerBroker.Brokerage != "Seller Main" || res.Provenance["sellerBroker"] != 2 {
		t.Errorf("sellerBroker = %s from page %d", *res.Canonical.SellerBroker.Brokerage, res.Provenance["sellerBroker"])
	}
	if res.Canonical.BuyerBroker != nil {
		t.Errorf("buyerBroker = %+v, want none from an addendum", res.Canonical.BuyerBroker)
	}
}

func TestLoanTypeNormalizedInMerge(t *testing.T) {
	res := mustReconcile(t,
		page(3, constants.RoleMainContract, "", 90, entity.ContractFields{
			Financing: &entity.Financing{LoanType: ptr("FHA/VA"), LoanAmount: ptr(400000.0)},
		}),
	)
	if *res.Canonical.Financing.LoanType != "Other" {
		t.Errorf("loanType = %s, want Other", *res.Canonical.Financing.LoanType)
	}
	if len(res.MergeLog) == 0 {
		t.Error("normalization should be logged")
	}
}

func TestHandwritingOnlyFromContributingPages(t *testing.T) {
	main := page(3, constants.RoleMainContract, "", 90, entity.ContractFields{PurchasePrice: ptr(1.0)})
	scribbled := page(4, constants.RoleBrokerInfo, "", 90, entity.ContractFields{})
	scribbled.HandwritingDetected = true

	res := mustReconcile(t, main, scribbled)
	if res.Canonical.HandwritingDetected {
		t.Error("handwriting on a page that contributed nothing should not flag the result")
	}

	main.HandwritingDetected = true
	res = mustReconcile(t, main, scribbled)
	if !res.Canonical.HandwritingDetected {
		t.Error("handwriting on a contributing page should flag the result")
	}
}

func TestNoPagesYieldsEmptyResult(t *testing.T) {
	res := mustReconcile(t)
	if res.Canonical.OverallConfidence != 0 || len(res.Provenance) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestAggregateConfidenceWeighsFieldWinners(t *testing.T) {
	p3 := page(3, constants.RoleMainContract, "", 95, entity.ContractFields{
		BuyerNames:    []string{"Ana Ruiz"},
		PurchasePrice: ptr(500000.0),
		APN:           ptr("1"),
	})
	p9 := page(9, constants.RoleCounterOffer, constants.PartySeller, 95, entity.ContractFields{PurchasePrice: ptr(510000.0)})
	p9.PerFieldConfidence = map[string]float64{"purchasePrice": 65}

	res := mustReconcile(t, p3, p9)
	// (95 + 65 + 95) / 3
	if res.Canonical.OverallConfidence != 85 {
		t.Errorf("overall = %v, want 85", res.Canonical.OverallConfidence)
	}
}

func randomPacket(r *rand.Rand) []entity.EnrichedPageExtraction {
	roles := []struct {
		role  constants.PageRole
		party constants.Party
	}{
		{constants.RoleMainContract, ""},
		{constants.RoleCounterOffer, constants.PartyBuyer},
		{constants.RoleCounterOffer, constants.PartySeller},
		{constants.RoleAddendum, ""},
		{constants.RoleBrokerInfo, ""},
	}
	names := []string{"A", "B", "C", "D"}
	n := 1 + r.Intn(8)
	perm := r.Perm(20)
	pages := make([]entity.EnrichedPageExtraction, 0, n)
	for i := 0; i < n; i++ {
		rr := roles[r.Intn(len(roles))]
		f := entity.ContractFields{}
		if r.Intn(2) == 0 {
			f.BuyerNames = []string{names[r.Intn(len(names))]}
		}
		if r.Intn(2) == 0 {
			f.SellerNames = []string{names[r.Intn(len(names))]}
		}
		if r.Intn(2) == 0 {
			f.PurchasePrice = ptr(float64(400000 + r.Intn(5)*10000))
		}
		pages = append(pages, page(perm[i]+1, rr.role, rr.party, float64(50+r.Intn(50)), f))
	}
	return pages
}

func TestPartyPrecedenceProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		pages := randomPacket(r)
		res := mustReconcile(t, pages...)

		check := func(field string, party constants.Party, got []string) {
			prov, ok := res.Provenance[field]
			if !ok {
				return
			}
			for _, p := range pages {
				if p.PageNumber != prov {
					continue
				}
				if p.Role == constants.RoleMainContract {
					return
				}
				if p.Role != constants.RoleCounterOffer || p.Party != party {
					t.Fatalf("iter %d: %s taken from page %d (%s %s)", iter, field, prov, p.Party, p.Role)
				}
				var want []string
				switch field {
				case "buyerNames":
					want = p.Fields.BuyerNames
				case "sellerNames":
					want = p.Fields.SellerNames
				}
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("iter %d: %s = %v, page %d says %v", iter, field, got, prov, want)
				}
			}
		}
		check("buyerNames", constants.PartyBuyer, res.Canonical.BuyerNames)
		check("sellerNames", constants.PartySeller, res.Canonical.SellerNames)

		// dropping every seller-authored page must not change buyer fields
		var noSeller []entity.EnrichedPageExtraction
		for _, p := range pages {
			if p.Party != constants.PartySeller {
				noSeller = append(noSeller, p)
			}
		}
		res2 := mustReconcile(t, noSeller...)
		if !reflect.DeepEqual(res.Canonical.BuyerNames, res2.Canonical.BuyerNames) {
			t.Fatalf("iter %d: seller pages changed buyerNames: %v vs %v", iter, res.Canonical.BuyerNames, res2.Canonical.BuyerNames)
		}
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 100; iter++ {
		pages := randomPacket(r)
		first := mustReconcile(t, pages...)
		a, _ := json.Marshal(first)

		shuffled := make([]entity.EnrichedPageExtraction, len(pages))
		copy(shuffled, pages)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		second := mustReconcile(t, shuffled...)
		b, _ := json.Marshal(second)

		if string(a) != string(b) {
			t.Fatalf("iter %d: output depends on input order\n%s\n%s", iter, a, b)
		}
	}
}
