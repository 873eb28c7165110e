package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/packet-parser/constants"
)

// Reasons a file in an inbox is not submitted.
const (
	reasonHidden    = "hidden"
	reasonTemporary = "temporary"
	reasonExtension = "unsupported extension"
)

// screen returns why path is not a packet candidate, or "" when it is. Scanners and sync
// clients park partial files under "~name" or "name~" before renaming them into place.
func screen(path string) string {
	base := filepath.Base(path)
	switch {
	case hidden(base):
		return reasonHidden
	case strings.HasPrefix(base, "~"), strings.HasSuffix(base, "~"):
		return reasonTemporary
	}
	if _, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(base))]; !ok {
		return reasonExtension
	}
	return ""
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
