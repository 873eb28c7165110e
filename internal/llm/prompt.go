package llm

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/packet-parser/constants"
)

// BuildClassifySystemPrompt primes the model with the roles and known forms.
func BuildClassifySystemPrompt() string {
	var forms []string
	for _, f := range constants.KnownForms {
		forms = append(forms, fmt.Sprintf("%s (%s) -> %s", f.Code, f.Title, f.Role))
	}
	parts := []string{
		"You review pages of a residential real-estate purchase packet.",
		"Identify ONLY the legally decisive pages: the main contract pages that carry price, parties, financing, contingencies or signatures;",
		"every counter offer; every addendum; and broker/agency information pages.",
		"Roles (enum): " + strings.Join(constants.RolesAsStrings(), ", ") + ".",
		"For counter offers set 'party' to the author: buyer or seller.",
		"Known forms: " + strings.Join(forms, "; ") + ".",
		"Use the page numbers given with each image. Omit pages that are boilerplate, disclosures or blank.",
		"Confidence is 0-100. Return ONLY JSON matching the schema.",
	}
	return strings.Join(parts, " ")
}

// BuildClassifyUserPrompt lists the page numbers of a batch in image order.
func BuildClassifyUserPrompt(images []Image) string {
	var b strings.Builder
	b.WriteString("Pages in this batch, in image order: ")
	for i, img := range images {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", img.PageNumber)
	}
	b.WriteString(".")
	for _, img := range images {
		if img.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nText layer of page %d (first 600 chars):\n%s", img.PageNumber, clip(img.Text, 600))
	}
	return b.String()
}

// BuildExtractSystemPrompt describes the per-page extraction contract.
func BuildExtractSystemPrompt() string {
	parts := []string{
		"You extract contract terms from ONE page of a residential purchase packet.",
		"Report only values visibly written on this page. Do not infer values from other documents; omit anything not on the page.",
		"Money as plain numbers (510000, not $510,000). Dates as YYYY-MM-DD. Contingency periods as whole days.",
		"Names as arrays of full names. Closing cost payers as buyer, seller or split.",
		"Report the loan type exactly as written (e.g. 'Conventional', 'FHA', 'Seller Financing').",
		"Give confidence 0-100 overall and per field under confidence.fields, keyed by field name.",
		"Set handwritingDetected=true when any reported value is handwritten.",
		"Return ONLY JSON matching the schema.",
	}
	return strings.Join(parts, " ")
}

// BuildExtractUserPrompt names the page and its classified role.
func BuildExtractUserPrompt(page int, role constants.PageRole, formCode string, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page %d, classified as %s", page, role)
	if formCode != "" {
		fmt.Fprintf(&b, " (form %s)", formCode)
	}
	b.WriteString(".")
	if text != "" {
		fmt.Fprintf(&b, "\n\nText layer (may be incomplete, prefer the image):\n%s", clip(text, 3000))
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
