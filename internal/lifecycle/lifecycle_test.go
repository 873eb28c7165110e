package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/artifacts"
	"github.com/joseph-ayodele/packet-parser/internal/classify"
	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/events"
	"github.com/joseph-ayodele/packet-parser/internal/extract"
	"github.com/joseph-ayodele/packet-parser/internal/kvstore"
	"github.com/joseph-ayodele/packet-parser/internal/llm"
	"github.com/joseph-ayodele/packet-parser/internal/progress"
	"github.com/joseph-ayodele/packet-parser/internal/render"
	"github.com/joseph-ayodele/packet-parser/internal/repository"
	"github.com/joseph-ayodele/packet-parser/internal/retry"
)

const owner = "owner-1"

var (
	fastRetry = retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond}
	packet    = []byte("%PDF-1.7 test packet")
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeRenderer returns a fixed number of pages; errs are returned first, one per call.
// Pages carry a text layer unless the request skips it.
type fakeRenderer struct {
	mu    sync.Mutex
	pages int
	errs  []error
	calls int
	reqs  []render.Request
}

func (f *fakeRenderer) Render(_ context.Context, req render.Request) ([]entity.PageImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	want := req.Pages
	if len(want) == 0 {
		for i := 1; i <= f.pages; i++ {
			want = append(want, i)
		}
	}
	out := make([]entity.PageImage, 0, len(want))
	for _, n := range want {
		img := entity.PageImage{PageNumber: n, DPI: req.DPI, ContentType: "image/png", Data: []byte{byte(n), byte(req.DPI)}}
		if !req.SkipTextLayer {
			img.TextLayer = fmt.Sprintf("text of page %d", n)
		}
		out = append(out, img)
	}
	return out, nil
}

// fakeVision answers classification from labels and extraction from pages, keyed by page number.
type fakeVision struct {
	mu      sync.Mutex
	labels  map[int]string
	pages   map[int]any
	calls   map[string]int
	prompts []string
}

func (f *fakeVision) Name() string { return "fake" }

func (f *fakeVision) Complete(_ context.Context, req llm.VisionRequest) (llm.VisionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[req.Purpose]++
	if req.Purpose == "extract" {
		f.prompts = append(f.prompts, req.Prompt)
	}
	if req.Purpose == "classify" {
		var items []string
		for _, img := range req.Images {
			if l, ok := f.labels[img.PageNumber]; ok {
				items = append(items, l)
			}
		}
		return llm.VisionResponse{Content: `{"pages":[` + strings.Join(items, ",") + `]}`}, nil
	}
	switch a := f.pages[req.Images[0].PageNumber].(type) {
	case error:
		return llm.VisionResponse{}, a
	case string:
		return llm.VisionResponse{Content: a}, nil
	default:
		return llm.VisionResponse{Content: `{"fields":{},"confidence":{"overall":50}}`}, nil
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ParseEvent
}

func (r *recordingPublisher) Emit(ev events.ParseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	m        *Manager
	repo     repository.ParseRepository
	store    *artifacts.MemoryStore
	kv       *kvstore.MemoryStore
	renderer *fakeRenderer
	vision   *fakeVision
	events   *recordingPublisher
}

// tenPagePacket is the standard scenario: page 3 is the main contract, page 9 a seller counter offer.
func tenPagePacket() *fakeVision {
	return &fakeVision{
		labels: map[int]string{
			3: `{"pageNumber":3,"formCode":"RPA","role":"main_contract","confidence":95}`,
			9: `{"pageNumber":9,"formCode":"SCO","role":"counter_offer","confidence":90}`,
		},
		pages: map[int]any{
			3: `{"fields":{"buyerNames":["Alice Buyer"],"purchasePrice":500000,"propertyAddress":{"street":"1 Main St","city":"Fresno"}},` +
				`"confidence":{"overall":80,"fields":{"buyerNames":95,"propertyAddress":65}},"handwritingDetected":false}`,
			9: `{"fields":{"purchasePrice":510000},"confidence":{"overall":95},"handwritingDetected":false}`,
		},
	}
}

func newHarness(t *testing.T, vision *fakeVision) *harness {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.OpenSQLite(ctx, "file:"+name+"?mode=memory&cache=shared", quiet())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close(quiet()) })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	kv := kvstore.NewMemoryStore()
	t.Cleanup(kv.Close)

	h := &harness{
		repo:     repository.NewParseRepository(db, quiet()),
		store:    artifacts.NewMemoryStore(),
		kv:       kv,
		renderer: &fakeRenderer{pages: 10},
		vision:   vision,
		events:   &recordingPublisher{},
	}
	h.m = NewManager(Deps{
		Repo:       h.repo,
		Artifacts:  h.store,
		Renderer:   h.renderer,
		Classifier: classify.New(vision, classify.Config{BatchSize: 4, Parallelism: 2, Retry: fastRetry}, quiet()),
		Extractor:  extract.New(vision, extract.Config{Parallelism: 2, Retry: fastRetry}, quiet()),
		Cache:      classify.NewCache(kv, time.Minute),
		Progress:   progress.NewTracker(kv, time.Minute, quiet()),
		Events:     h.events,
	}, Config{RenderRetry: fastRetry, RunTimeout: 10 * time.Second}, quiet())
	return h
}

func (h *harness) submit(t *testing.T) *entity.Parse {
	t.Helper()
	p, err := h.m.Submit(context.Background(), SubmitRequest{OwnerID: owner, FileName: "packet.pdf", Data: packet})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return p
}

func (h *harness) keys(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	keys, err := h.store.List(context.Background(), artifacts.ParsePrefix(id))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return keys
}

func TestEndToEndCounterOfferPrice(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	if p.Status != constants.ParseStatusPending || p.RawDocumentKey == nil {
		t.Fatalf("submitted parse = %+v", p)
	}

	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := h.m.Get(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != constants.ParseStatusCompleted {
		t.Fatalf("status = %s (%v), want COMPLETED", got.Status, got.Confidence)
	}
	if got.Canonical.PurchasePrice == nil || *got.Canonical.PurchasePrice != 510000 {
		t.Errorf("price = %v, want 510000", got.Canonical.PurchasePrice)
	}
	if got.Provenance["purchasePrice"] != 9 {
		t.Errorf("price provenance = %d, want 9", got.Provenance["purchasePrice"])
	}
	if got.Confidence.Overall != 85 || got.Confidence.NeedsReview {
		t.Errorf("confidence = %+v, want overall 85 without review", got.Confidence)
	}
	if !reflect.DeepEqual(got.CriticalPages, []int{3, 9}) || got.PageCount != 10 {
		t.Errorf("critical %v pages %d", got.CriticalPages, got.PageCount)
	}
	if len(got.RawExtractions) != 2 {
		t.Errorf("raw extractions = %d, want 2", len(got.RawExtractions))
	}

	// completion cleanup ran: only previews remain
	if got.RawDocumentKey != nil || got.ClassificationCacheKey != nil || got.CleanedAt == nil {
		t.Errorf("cleanup state raw=%v cache=%v cleaned=%v", got.RawDocumentKey, got.ClassificationCacheKey, got.CleanedAt)
	}
	want := []string{artifacts.PreviewKey(p.ID, 3), artifacts.PreviewKey(p.ID, 9)}
	if keys := h.keys(t, p.ID); !reflect.DeepEqual(keys, want) {
		t.Errorf("artifacts = %v, want %v", keys, want)
	}
	if _, ok, _ := h.m.cache.Get(ctx, p.ID); ok {
		t.Error("classification cache survived cleanup")
	}
	if u, ok, _ := h.m.progress.Latest(ctx, p.ID); !ok || !u.Done || u.Phase != progress.PhaseDone {
		t.Errorf("progress = %+v ok=%v", u, ok)
	}
	if types := h.events.types(); !reflect.DeepEqual(types, []events.Type{events.TypeFinalized}) {
		t.Errorf("events = %v", types)
	}
	if preview, err := h.m.Preview(ctx, owner, p.ID, 9); err != nil || len(preview) == 0 {
		t.Errorf("Preview(9) = %v, %v", preview, err)
	}
	if _, err := h.m.Preview(ctx, owner, p.ID, 4); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Preview(4) err = %v, want not found", err)
	}
}

func TestTextLayerReadOncePerRun(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.renderer.reqs) != 2 {
		t.Fatalf("render requests = %d, want low and high resolution", len(h.renderer.reqs))
	}
	if low, high := h.renderer.reqs[0], h.renderer.reqs[1]; low.SkipTextLayer || !high.SkipTextLayer {
		t.Errorf("skip text layer low=%v high=%v, want only the high-resolution pass to skip", low.SkipTextLayer, high.SkipTextLayer)
	}
	for _, want := range []string{"text of page 3", "text of page 9"} {
		found := false
		for _, prompt := range h.vision.prompts {
			if strings.Contains(prompt, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("no extraction prompt carries %q", want)
		}
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first, err := h.m.Cleanup(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	keysAfterFirst := h.keys(t, p.ID)
	second, err := h.m.Cleanup(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if !reflect.DeepEqual(keysAfterFirst, h.keys(t, p.ID)) {
		t.Error("second cleanup changed artifacts")
	}
	if !first.CleanedAt.Equal(*second.CleanedAt) || first.Version != second.Version || first.Status != second.Status {
		t.Errorf("first %+v second %+v", first, second)
	}
}

func TestCleanupSkipsWhileRunActive(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)

	got, err := h.m.Cleanup(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if got.RawDocumentKey == nil || got.CleanedAt != nil {
		t.Errorf("pending parse was cleaned: %+v", got)
	}
	if _, err := h.store.Get(ctx, artifacts.SourceKey(p.ID)); err != nil {
		t.Errorf("source removed during active run: %v", err)
	}
}

// failingDeletes refuses every delete and passes everything else through.
type failingDeletes struct {
	*artifacts.MemoryStore
}

func (failingDeletes) Delete(context.Context, string) error {
	return errors.New("object store unavailable")
}

func TestCompletionSurvivesCleanupErrors(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	h.m.artifacts = failingDeletes{h.store}
	ctx := context.Background()
	p := h.submit(t)

	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusCompleted && got.Status != constants.ParseStatusNeedsReview {
		t.Fatalf("status = %s, want a final status", got.Status)
	}
	if got.RawDocumentKey != nil || got.Canonical == nil {
		t.Errorf("raw document key = %v canonical = %v", got.RawDocumentKey, got.Canonical)
	}
	if types := h.events.types(); len(types) != 1 || types[0] != events.TypeFinalized {
		t.Errorf("events = %v, want one finalized", types)
	}
}

// hookedRepo runs after once, right after the first successful Update.
type hookedRepo struct {
	repository.ParseRepository
	fired bool
	after func()
}

func (r *hookedRepo) Update(ctx context.Context, id uuid.UUID, fn func(p *entity.Parse) error) (*entity.Parse, error) {
	p, err := r.ParseRepository.Update(ctx, id, fn)
	if err == nil && !r.fired {
		r.fired = true
		r.after()
	}
	return p, err
}

func TestCleanupKeepsUploadOfConcurrentRetry(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	msg := "rendering failed"
	if _, err := h.repo.Update(ctx, p.ID, func(p *entity.Parse) error {
		p.ErrorMessage = &msg
		return p.TransitionTo(constants.ParseStatusRenderFailed, time.Now().UTC())
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reupload := []byte("%PDF-1.7 second upload")
	var retryErr error
	h.m.repo = &hookedRepo{ParseRepository: h.repo, after: func() {
		_, retryErr = h.m.Retry(ctx, owner, p.ID, reupload)
	}}

	got, err := h.m.Cleanup(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if retryErr != nil {
		t.Fatalf("Retry: %v", retryErr)
	}
	if got.Status != constants.ParseStatusPending || got.RawDocumentKey == nil {
		t.Errorf("after cleanup = %s key %v, want the retried parse", got.Status, got.RawDocumentKey)
	}
	data, err := h.store.Get(ctx, artifacts.SourceKey(p.ID))
	if err != nil || string(data) != string(reupload) {
		t.Errorf("source = %q, %v; want the re-uploaded bytes", data, err)
	}
}

func TestRenderFailures(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantMsg   string
	}{
		{
			name:      "invalid input is not retried",
			errs:      []error{&render.RenderError{Kind: render.KindInvalidInput, Msg: "unreadable pdf"}},
			wantCalls: 1,
			wantMsg:   "unreadable pdf",
		},
		{
			name: "transient errors exhaust retries",
			errs: []error{
				&render.RenderError{Kind: render.KindTransient, Msg: "timeout"},
				&render.RenderError{Kind: render.KindTransient, Msg: "timeout"},
			},
			wantCalls: 2,
			wantMsg:   "rendering failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tenPagePacket())
			h.renderer.errs = tt.errs
			ctx := context.Background()
			p := h.submit(t)

			if err := h.m.Run(ctx, p.ID); err == nil {
				t.Fatal("Run succeeded, want failure")
			}
			got, _ := h.m.Get(ctx, owner, p.ID)
			if got.Status != constants.ParseStatusRenderFailed {
				t.Fatalf("status = %s, want RENDER_FAILED", got.Status)
			}
			if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, tt.wantMsg) {
				t.Errorf("error message = %v, want %q", got.ErrorMessage, tt.wantMsg)
			}
			if h.renderer.calls != tt.wantCalls {
				t.Errorf("render calls = %d, want %d", h.renderer.calls, tt.wantCalls)
			}
			if got.ActiveRun != "" || got.RawDocumentKey != nil {
				t.Errorf("failed parse keeps run %q raw %v", got.ActiveRun, got.RawDocumentKey)
			}
			if types := h.events.types(); !reflect.DeepEqual(types, []events.Type{events.TypeFailed}) {
				t.Errorf("events = %v", types)
			}
		})
	}
}

func TestExtractFailureMovesToExtractFailed(t *testing.T) {
	v := tenPagePacket()
	v.pages[9] = &llm.ProviderError{Provider: "fake", Status: 400, Err: errors.New("bad request")}
	h := newHarness(t, v)
	ctx := context.Background()
	p := h.submit(t)

	if err := h.m.Run(ctx, p.ID); err == nil {
		t.Fatal("Run succeeded, want failure")
	}
	got, _ := h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusExtractFailed || got.ErrorMessage == nil {
		t.Fatalf("got %s %v, want EXTRACT_FAILED with message", got.Status, got.ErrorMessage)
	}
	if got.Canonical != nil {
		t.Error("failed parse carries a canonical extraction")
	}
	if u, ok, _ := h.m.progress.Latest(ctx, p.ID); !ok || u.Phase != progress.PhaseFailed {
		t.Errorf("progress = %+v", u)
	}
}

func TestUnparseablePageIsExcludedAndForcesReview(t *testing.T) {
	v := tenPagePacket()
	v.pages[9] = "I could not read this page."
	h := newHarness(t, v)
	ctx := context.Background()
	p := h.submit(t)

	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusNeedsReview {
		t.Fatalf("status = %s, want NEEDS_REVIEW", got.Status)
	}
	if !reflect.DeepEqual(got.Confidence.ExcludedPages, []int{9}) {
		t.Errorf("excluded = %v, want [9]", got.Confidence.ExcludedPages)
	}
	if *got.Canonical.PurchasePrice != 500000 || got.Provenance["purchasePrice"] != 3 {
		t.Errorf("price %v from page %d, want main contract value", *got.Canonical.PurchasePrice, got.Provenance["purchasePrice"])
	}
	if len(got.RawExtractions) != 1 {
		t.Errorf("raw extractions = %d, want 1", len(got.RawExtractions))
	}
}

func TestRunClaimsOnce(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := h.m.Run(ctx, p.ID); !errors.Is(err, common.ErrRunInProgress) {
		t.Errorf("second Run err = %v, want ErrRunInProgress", err)
	}
}

func TestRetry(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	h.renderer.errs = []error{&render.RenderError{Kind: render.KindInvalidInput, Msg: "broken"}}
	ctx := context.Background()
	p := h.submit(t)
	_ = h.m.Run(ctx, p.ID)

	if _, err := h.m.Retry(ctx, owner, p.ID, nil); !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("retry without source err = %v, want invalid input", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		refused int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.m.Retry(ctx, owner, p.ID, packet)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, common.ErrRunInProgress):
				refused++
			default:
				t.Errorf("Retry: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || refused != 1 {
		t.Fatalf("wins %d refused %d, want exactly one retry", wins, refused)
	}

	got, _ := h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusPending || got.Attempts != 2 || got.ErrorMessage != nil {
		t.Fatalf("retried parse = %s attempts %d err %v", got.Status, got.Attempts, got.ErrorMessage)
	}
	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run after retry: %v", err)
	}
	got, _ = h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusCompleted {
		t.Errorf("status after retry = %s", got.Status)
	}
	if _, err := h.m.Retry(ctx, owner, p.ID, packet); !errors.Is(err, common.ErrRunInProgress) {
		t.Errorf("retry of completed parse err = %v", err)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"bad signature", SubmitRequest{OwnerID: owner, FileName: "a.pdf", Data: []byte("hello")}},
		{"empty", SubmitRequest{OwnerID: owner, FileName: "a.pdf"}},
		{"no owner", SubmitRequest{FileName: "a.pdf", Data: packet}},
		{"extension", SubmitRequest{OwnerID: owner, FileName: "a.docx", Data: packet}},
		{"oversize", SubmitRequest{OwnerID: owner, FileName: "a.pdf", Data: append(append([]byte{}, packet...), make([]byte, constants.MaxDocumentBytes)...)}},
	}
	h := newHarness(t, tenPagePacket())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.m.Submit(context.Background(), tt.req)
			if common.HTTPStatus(err) != 400 {
				t.Errorf("err = %v, want a 400-class error", err)
			}
		})
	}
	all, err := h.m.List(context.Background(), owner, nil, 0, 0)
	if err != nil || len(all) != 0 {
		t.Errorf("rejected uploads created parses: %d %v", len(all), err)
	}
	if keys, _ := h.store.List(context.Background(), ""); len(keys) != 0 {
		t.Errorf("rejected uploads left artifacts: %v", keys)
	}
}

type failingScheduler struct{}

func (failingScheduler) Enqueue(context.Context, uuid.UUID) error { return errors.New("queue full") }

func TestScheduleFailureIsVisible(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	h.m.SetScheduler(failingScheduler{})
	p := h.submit(t)
	if p.Status != constants.ParseStatusRenderFailed || p.ErrorMessage == nil || !strings.Contains(*p.ErrorMessage, "queue full") {
		t.Errorf("parse = %s %v, want RENDER_FAILED with queue error", p.Status, p.ErrorMessage)
	}
}

func TestReviewCompletesWithHumanProvenance(t *testing.T) {
	v := tenPagePacket()
	v.pages[9] = `{"fields":{"purchasePrice":510000},"confidence":{"overall":95},"handwritingDetected":true}`
	h := newHarness(t, v)
	ctx := context.Background()
	p := h.submit(t)
	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusNeedsReview {
		t.Fatalf("status = %s, want NEEDS_REVIEW for handwriting", got.Status)
	}

	fields := got.Canonical.ContractFields
	price := 515000.0
	loan := "conventional"
	fields.PurchasePrice = &price
	fields.Financing = &entity.Financing{LoanType: &loan}
	reviewed, err := h.m.Review(ctx, owner, p.ID, fields)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if reviewed.Status != constants.ParseStatusCompleted || reviewed.NeedsReview() {
		t.Errorf("status = %s needsReview %v", reviewed.Status, reviewed.NeedsReview())
	}
	if reviewed.Provenance["purchasePrice"] != 0 || reviewed.Provenance["financing"] != 0 {
		t.Errorf("provenance = %v, want human edits at 0", reviewed.Provenance)
	}
	if reviewed.Provenance["buyerNames"] != 3 {
		t.Errorf("untouched buyerNames provenance = %d, want 3", reviewed.Provenance["buyerNames"])
	}
	if *reviewed.Canonical.Financing.LoanType != "Conventional" {
		t.Errorf("loan type = %s, want normalized", *reviewed.Canonical.Financing.LoanType)
	}
	if _, err := h.m.Review(ctx, owner, p.ID, fields); !errors.Is(err, common.ErrIllegalTransition) {
		t.Errorf("second review err = %v, want illegal transition", err)
	}
}

func TestArchiveAndPreviewJanitor(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()

	pending := h.submit(t)
	if _, err := h.m.Archive(ctx, owner, pending.ID); !errors.Is(err, common.ErrIllegalTransition) {
		t.Errorf("archive of pending err = %v", err)
	}

	a := h.submit(t)
	b := h.submit(t)
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		if err := h.m.Run(ctx, id); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	archived, err := h.m.Archive(ctx, owner, a.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if archived.Status != constants.ParseStatusArchived || len(archived.PreviewKeys) != 0 || len(h.keys(t, a.ID)) != 0 {
		t.Errorf("archived parse keeps previews: %+v", archived.PreviewKeys)
	}

	if n, err := h.m.PurgePreviews(ctx); err != nil || n != 0 {
		t.Errorf("purge inside retention = %d, %v", n, err)
	}
	h.m.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if n, err := h.m.PurgePreviews(ctx); err != nil || n != 1 {
		t.Errorf("purge after retention = %d, %v, want 1", n, err)
	}
	if keys := h.keys(t, b.ID); len(keys) != 0 {
		t.Errorf("previews left: %v", keys)
	}
}

func TestRecoverFailsStaleRuns(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	stale := h.submit(t)
	if _, err := h.repo.Update(ctx, stale.ID, func(p *entity.Parse) error {
		p.ActiveRun = "crashed-run"
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	queued := h.submit(t)

	var rescheduled []uuid.UUID
	h.m.SetScheduler(schedulerFunc(func(_ context.Context, id uuid.UUID) error {
		rescheduled = append(rescheduled, id)
		return nil
	}))
	if err := h.m.Recover(ctx, 0); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got, _ := h.m.Get(ctx, owner, stale.ID)
	if got.Status != constants.ParseStatusRenderFailed || got.ActiveRun != "" {
		t.Errorf("stale run = %s %q, want RENDER_FAILED", got.Status, got.ActiveRun)
	}
	if !reflect.DeepEqual(rescheduled, []uuid.UUID{queued.ID}) {
		t.Errorf("rescheduled = %v, want [%s]", rescheduled, queued.ID)
	}
}

func TestJanitorFailsClaimsLeftByQuickRestart(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	if _, err := h.repo.Update(ctx, p.ID, func(p *entity.Parse) error {
		p.ActiveRun = "crashed-run"
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// restarted before the claim went stale
	if err := h.m.Recover(ctx, 5*time.Minute); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	got, _ := h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusPending || got.ActiveRun != "crashed-run" {
		t.Fatalf("fresh claim = %s %q, want untouched", got.Status, got.ActiveRun)
	}
	if _, err := h.m.Retry(ctx, owner, p.ID, packet); !errors.Is(err, common.ErrRunInProgress) {
		t.Fatalf("Retry while claimed err = %v, want run in progress", err)
	}

	h.m.now = func() time.Time { return time.Now().Add(time.Minute) }
	h.m.janitorPass(ctx, nil)

	got, _ = h.m.Get(ctx, owner, p.ID)
	if got.Status != constants.ParseStatusRenderFailed || got.ActiveRun != "" {
		t.Fatalf("after janitor = %s %q, want RENDER_FAILED without a claim", got.Status, got.ActiveRun)
	}
	if got.RawDocumentKey != nil || got.CleanedAt == nil {
		t.Errorf("raw document key = %v cleaned at = %v, want cleaned", got.RawDocumentKey, got.CleanedAt)
	}
	if keys := h.keys(t, p.ID); len(keys) != 0 {
		t.Errorf("artifacts left: %v", keys)
	}
	if _, err := h.m.Retry(ctx, owner, p.ID, packet); err != nil {
		t.Errorf("Retry after janitor: %v", err)
	}
}

type schedulerFunc func(ctx context.Context, id uuid.UUID) error

func (f schedulerFunc) Enqueue(ctx context.Context, id uuid.UUID) error { return f(ctx, id) }

func TestDeleteRemovesEverything(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := h.m.Delete(ctx, "someone-else", p.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("foreign delete err = %v, want not found", err)
	}
	if err := h.m.Delete(ctx, owner, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.m.Get(ctx, owner, p.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if keys := h.keys(t, p.ID); len(keys) != 0 {
		t.Errorf("artifacts left: %v", keys)
	}
}

func TestStatusView(t *testing.T) {
	h := newHarness(t, tenPagePacket())
	ctx := context.Background()
	p := h.submit(t)
	if err := h.m.Run(ctx, p.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	v, err := h.m.Status(ctx, owner, p.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := StatusView{ID: p.ID, Status: constants.ParseStatusCompleted, Confidence: 85}
	if v != want {
		t.Errorf("status = %+v, want %+v", v, want)
	}
}
