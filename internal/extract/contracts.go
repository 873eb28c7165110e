package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

// PageExtractor produces candidate values for one critical page, with no cross-page context.
type PageExtractor interface {
	ExtractPage(ctx context.Context, page entity.PageImage, label entity.PageRoleLabel) (entity.PerPageExtraction, error)
}

// UnparseableResponseError means the model answered but nothing usable could be read from it.
// The page is excluded from the merge rather than treated as a confident empty page.
type UnparseableResponseError struct {
	Page     int
	Raw      string
	Attempts []string
	Err      error
}

func (e *UnparseableResponseError) Error() string {
	return fmt.Sprintf("page %d: unparseable response after [%s]: %v", e.Page, strings.Join(e.Attempts, "; "), e.Err)
}

func (e *UnparseableResponseError) Unwrap() error { return e.Err }

// Outcome is the extraction stage's result: usable pages plus the ones that were excluded.
type Outcome struct {
	Pages    []entity.EnrichedPageExtraction
	Excluded []*UnparseableResponseError
}

// ExcludedPages lists the page numbers that could not be parsed.
func (o Outcome) ExcludedPages() []int {
	out := make([]int, 0, len(o.Excluded))
	for _, e := range o.Excluded {
		out = append(out, e.Page)
	}
	return out
}

// Raw returns the plain per-page extractions in page order.
func (o Outcome) Raw() []entity.PerPageExtraction {
	out := make([]entity.PerPageExtraction, len(o.Pages))
	for i, p := range o.Pages {
		out[i] = p.PerPageExtraction
	}
	return out
}
