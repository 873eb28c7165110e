package classify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/kvstore"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
	"github.com/joseph-ayodele/packet-parser/internal/retry"
)

// fakeProvider answers by the first page number of each request.
type fakeProvider struct {
	mu        sync.Mutex
	responses map[int]string
	errs      map[int]error
	calls     int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req llm.VisionRequest) (llm.VisionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	first := req.Images[0].PageNumber
	if err, ok := f.errs[first]; ok {
		return llm.VisionResponse{}, err
	}
	return llm.VisionResponse{Content: f.responses[first]}, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func pagesN(n int) []entity.PageImage {
	out := make([]entity.PageImage, n)
	for i := range out {
		out[i] = entity.PageImage{PageNumber: i + 1, ContentType: "image/png", Data: []byte{byte(i)}}
	}
	return out
}

var fastRetry = retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond}

func TestClassifyMergesBatches(t *testing.T) {
	fp := &fakeProvider{responses: map[int]string{
		1: `{"pages":[{"pageNumber":3,"formCode":"RPA","role":"main_contract","confidence":92}]}`,
		5: "```json\n{\"pages\":[{\"pageNumber\":9,\"formCode\":\"sco\",\"role\":\"counter_offer\",\"confidence\":0.9}]}\n```",
		9: `{"pages":[]}`,
	}}
	c := New(fp, Config{BatchSize: 4, Parallelism: 2, Retry: fastRetry}, quiet())

	cls, err := c.Classify(context.Background(), pagesN(10))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !reflect.DeepEqual(cls.CriticalPages, []int{3, 9}) {
		t.Errorf("critical pages = %v, want [3 9]", cls.CriticalPages)
	}
	l9, _ := cls.Label(9)
	if l9.Role != constants.RoleCounterOffer || l9.Party != constants.PartySeller || l9.FormCode != "SCO" || l9.Confidence != 90 {
		t.Errorf("label 9 = %+v", l9)
	}
	if !reflect.DeepEqual(cls.Metadata.FormCodes, []string{"RPA", "SCO"}) || !cls.Metadata.HasMultipleForms {
		t.Errorf("metadata = %+v", cls.Metadata)
	}
	if cls.Metadata.TotalPages != 10 || fp.calls != 3 {
		t.Errorf("total pages %d, calls %d", cls.Metadata.TotalPages, fp.calls)
	}
}

func TestMergeLabelsLastOccurrenceWins(t *testing.T) {
	got := MergeLabels([]entity.PageRoleLabel{
		{PageNumber: 5, FormCode: "SCO", Role: constants.RoleCounterOffer},
		{PageNumber: 2, FormCode: "RPA", Role: constants.RoleMainContract},
		{PageNumber: 11, FormCode: "SCO", Role: constants.RoleCounterOffer},
		{PageNumber: 7, FormCode: "BCO", Role: constants.RoleCounterOffer},
		{PageNumber: 1, FormCode: "RPA", Role: constants.RoleMainContract},
	})
	var pages []int
	for _, l := range got {
		pages = append(pages, l.PageNumber)
	}
	if !reflect.DeepEqual(pages, []int{2, 7, 11}) {
		t.Errorf("pages = %v, want [2 7 11]", pages)
	}
}

func TestClassifyBatchFailureFallsBackToText(t *testing.T) {
	fp := &fakeProvider{
		responses: map[int]string{1: `{"pages":[{"pageNumber":2,"formCode":"RPA","role":"main_contract","confidence":95}]}`},
		errs:      map[int]error{3: &llm.ProviderError{Provider: "fake", Status: 503, Transient: true, Err: errors.New("down")}},
	}
	pages := pagesN(4)
	pages[3].TextLayer = "  buyer counter   offer No. 1\nThis is a counter offer to ..."
	c := New(fp, Config{BatchSize: 2, Parallelism: 1, Retry: fastRetry}, quiet())

	cls, err := c.Classify(context.Background(), pages)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Metadata.FailedBatches != 1 || !reflect.DeepEqual(cls.Metadata.FallbackPages, []int{4}) {
		t.Errorf("metadata = %+v", cls.Metadata)
	}
	l4, ok := cls.Label(4)
	if !ok || l4.FormCode != "BCO" || l4.Party != constants.PartyBuyer || l4.Confidence != FallbackConfidence {
		t.Errorf("fallback label = %+v", l4)
	}
	// one initial call plus one retry for the failing batch
	if fp.calls != 3 {
		t.Errorf("calls = %d, want 3", fp.calls)
	}
}

func TestClassifyUnparseableBatchIsSkipped(t *testing.T) {
	fp := &fakeProvider{responses: map[int]string{
		1: "Sorry, I can't help with that.",
		3: `{"pages":[{"pageNumber":4,"role":"broker"}]}`,
	}}
	c := New(fp, Config{BatchSize: 2, Retry: fastRetry}, quiet())
	cls, err := c.Classify(context.Background(), pagesN(4))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Metadata.FailedBatches != 1 || !reflect.DeepEqual(cls.CriticalPages, []int{4}) {
		t.Errorf("classification = %+v", cls)
	}
}

func TestClassifyAllBatchesFailed(t *testing.T) {
	down := &llm.ProviderError{Provider: "fake", Status: 500, Transient: true, Err: errors.New("down")}
	fp := &fakeProvider{errs: map[int]error{1: down, 3: down}}
	c := New(fp, Config{BatchSize: 2, Retry: fastRetry}, quiet())
	_, err := c.Classify(context.Background(), pagesN(4))
	if !errors.Is(err, ErrNoUsableBatch) {
		t.Fatalf("err = %v, want ErrNoUsableBatch", err)
	}
}

func TestClassifyDropsForeignPages(t *testing.T) {
	fp := &fakeProvider{responses: map[int]string{
		1: `{"pages":[{"pageNumber":40,"role":"main_contract"},{"pageNumber":2,"role":"addendum","formCode":"ADM"}]}`,
	}}
	c := New(fp, Config{Retry: fastRetry}, quiet())
	cls, err := c.Classify(context.Background(), pagesN(3))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !reflect.DeepEqual(cls.CriticalPages, []int{2}) {
		t.Errorf("critical pages = %v", cls.CriticalPages)
	}
}

func TestKeywordClassify(t *testing.T) {
	tests := []struct {
		text string
		code string
		ok   bool
	}{
		{"SELLER MULTIPLE COUNTER OFFER No. 2", "SMCO", true},
		{"Seller Counter Offer", "SCO", true},
		{"CALIFORNIA RESIDENTIAL PURCHASE AGREEMENT AND JOINT ESCROW INSTRUCTIONS", "RPA", true},
		{"Wire fraud advisory", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		f, ok := KeywordClassify(tt.text)
		if ok != tt.ok || f.Code != tt.code {
			t.Errorf("KeywordClassify(%q) = %q,%v want %q,%v", tt.text, f.Code, ok, tt.code, tt.ok)
		}
	}
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	store := kvstore.NewMemoryStore()
	defer store.Close()
	cache := NewCache(store, 50*time.Millisecond)
	ctx := context.Background()

	id := uuid.New()
	cls := entity.Classification{CriticalPages: []int{3, 9}}
	key, err := cache.Put(ctx, id, cls)
	if err != nil || key != CacheKey(id) {
		t.Fatalf("Put = %q, %v", key, err)
	}
	got, ok, err := cache.Get(ctx, id)
	if err != nil || !ok || !reflect.DeepEqual(got.CriticalPages, cls.CriticalPages) {
		t.Fatalf("Get = %+v %v %v", got, ok, err)
	}
	if err := cache.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, id); ok {
		t.Error("entry survived delete")
	}
	if err := cache.Delete(ctx, id); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}
