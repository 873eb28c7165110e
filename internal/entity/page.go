package entity

import "github.com/joseph-ayodele/packet-parser/constants"

// PageImage is one rendered page. Data is the PNG raster; Key is set once stored.
type PageImage struct {
	PageNumber  int
	DPI         int
	ContentType string
	Data        []byte
	Key         string
	TextLayer   string // embedded PDF text, empty for scans
}

// PageRoleLabel is the classifier's verdict for one critical page.
type PageRoleLabel struct {
	PageNumber int                `json:"pageNumber"`
	FormCode   string             `json:"formCode,omitempty"`
	Role       constants.PageRole `json:"role"`
	Party      constants.Party    `json:"party,omitempty"`
	Confidence float64            `json:"confidence"`
}

// PacketMetadata summarizes the whole packet.
type PacketMetadata struct {
	FormCodes        []string `json:"formCodes"`
	HasMultipleForms bool     `json:"hasMultipleForms"`
	TotalPages       int      `json:"totalPages"`
	FailedBatches    int      `json:"failedBatches"`
	FallbackPages    []int    `json:"fallbackPages,omitempty"`
}

// Classification is the classifier's output; it is what the classification cache holds.
type Classification struct {
	CriticalPages []int           `json:"criticalPages"`
	Labels        []PageRoleLabel `json:"labels"`
	Metadata      PacketMetadata  `json:"metadata"`
}

// Label returns the label for a page.
func (c Classification) Label(page int) (PageRoleLabel, bool) {
	for _, l := range c.Labels {
		if l.PageNumber == page {
			return l, true
		}
	}
	return PageRoleLabel{}, false
}
