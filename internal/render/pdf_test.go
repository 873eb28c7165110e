package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/joseph-ayodele/packet-parser/constants"
)

// buildPDF writes a minimal, structurally valid PDF with n blank letter-size pages.
func buildPDF(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i := 0; i < n; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// fakeRunner imitates pdftoppm -singlefile by writing "<prefix>.png".
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.fail != nil {
		return nil, []byte("boom"), f.fail
	}
	prefix := args[len(args)-1]
	page := args[4] // -r dpi -png -f N
	return nil, nil, os.WriteFile(prefix+".png", []byte("png-"+page), 0o600)
}

func TestCheckInput(t *testing.T) {
	tests := []struct {
		name   string
		doc    []byte
		format constants.DocumentFormat
		ok     bool
	}{
		{"pdf", []byte("%PDF-1.7\n..."), constants.FormatPDF, true},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0}, constants.FormatPNG, true},
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0}, constants.FormatJPEG, true},
		{"empty", nil, "", false},
		{"zip disguised", []byte("PK\x03\x04"), "", false},
		{"oversize", append([]byte("%PDF-"), make([]byte, constants.MaxDocumentBytes)...), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := CheckInput(tt.doc)
			if tt.ok {
				if err != nil || f != tt.format {
					t.Fatalf("CheckInput = %v, %v", f, err)
				}
				return
			}
			var re *RenderError
			if !errors.As(err, &re) || re.Kind != KindInvalidInput {
				t.Fatalf("expected invalid-input RenderError, got %v", err)
			}
			if re.Temporary() {
				t.Error("invalid input must not be retryable")
			}
		})
	}
}

func TestRenderPDFAllPages(t *testing.T) {
	runner := &fakeRunner{}
	r := NewPDFRenderer(Config{TempDir: t.TempDir(), Parallelism: 2}, runner, nil)

	pages, err := r.Render(context.Background(), Request{Document: buildPDF(t, 3), DPI: 72})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(pages))
	}
	for i, p := range pages {
		if p.PageNumber != i+1 {
			t.Errorf("pages out of order: %d at %d", p.PageNumber, i)
		}
		if string(p.Data) != fmt.Sprintf("png-%d", i+1) || p.DPI != 72 {
			t.Errorf("page %d = %q dpi %d", p.PageNumber, p.Data, p.DPI)
		}
	}
	if len(runner.calls) != 3 {
		t.Errorf("runner calls = %d", len(runner.calls))
	}
}

func TestRenderPDFSubset(t *testing.T) {
	r := NewPDFRenderer(Config{TempDir: t.TempDir()}, &fakeRunner{}, nil)
	doc := buildPDF(t, 4)

	pages, err := r.Render(context.Background(), Request{Document: doc, DPI: 200, Pages: []int{4, 2, 4}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(pages) != 2 || pages[0].PageNumber != 2 || pages[1].PageNumber != 4 {
		t.Fatalf("got pages %+v", pages)
	}

	_, err = r.Render(context.Background(), Request{Document: doc, DPI: 200, Pages: []int{5}})
	var re *RenderError
	if !errors.As(err, &re) || re.Kind != KindInvalidInput {
		t.Fatalf("out-of-range page: %v", err)
	}
}

func TestRenderBackendFailureIsTransient(t *testing.T) {
	r := NewPDFRenderer(Config{TempDir: t.TempDir()}, &fakeRunner{fail: errors.New("exit status 99")}, nil)
	_, err := r.Render(context.Background(), Request{Document: buildPDF(t, 1), DPI: 72})
	var re *RenderError
	if !errors.As(err, &re) || !re.Temporary() {
		t.Fatalf("expected transient RenderError, got %v", err)
	}
}

func TestRenderCorruptPDFIsInvalid(t *testing.T) {
	r := NewPDFRenderer(Config{TempDir: t.TempDir()}, &fakeRunner{}, nil)
	_, err := r.Render(context.Background(), Request{Document: []byte("%PDF-1.4\ngarbage"), DPI: 72})
	var re *RenderError
	if !errors.As(err, &re) || re.Kind != KindInvalidInput {
		t.Fatalf("expected invalid-input RenderError, got %v", err)
	}
}

func TestRenderImagePassThrough(t *testing.T) {
	runner := &fakeRunner{}
	r := NewPDFRenderer(Config{}, runner, nil)
	img := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}

	pages, err := r.Render(context.Background(), Request{Document: img, DPI: 150})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(pages) != 1 || pages[0].ContentType != "image/jpeg" || !bytes.Equal(pages[0].Data, img) {
		t.Fatalf("got %+v", pages)
	}
	if len(runner.calls) != 0 {
		t.Error("images must not hit the rasterizer")
	}
}
