package classify

import (
	"sort"
	"strings"

	"github.com/joseph-ayodele/packet-parser/constants"
)

// FallbackConfidence is assigned to keyword matches; it sits below the review thresholds.
const FallbackConfidence = 60.0

// headerChars bounds the search to the top of the page, where form titles sit.
const headerChars = 400

var formsByTitleLength = func() []constants.FormInfo {
	forms := append([]constants.FormInfo(nil), constants.KnownForms...)
	sort.SliceStable(forms, func(i, j int) bool { return len(forms[i].Title) > len(forms[j].Title) })
	return forms
}()

// KeywordClassify labels a page from its text layer by known form titles.
func KeywordClassify(text string) (constants.FormInfo, bool) {
	head := strings.ToUpper(strings.Join(strings.Fields(text), " "))
	if len(head) > headerChars {
		head = head[:headerChars]
	}
	if head == "" {
		return constants.FormInfo{}, false
	}
	for _, f := range formsByTitleLength {
		if strings.Contains(head, f.Title) {
			return f, true
		}
	}
	return constants.FormInfo{}, false
}
