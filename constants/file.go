package constants

import (
	"bytes"
	"strings"
)

// MaxDocumentBytes is the hard ceiling for an uploaded packet.
const MaxDocumentBytes = 25 << 20

// DocumentFormat is the detected container of an upload.
type DocumentFormat string

const (
	FormatPDF  DocumentFormat = "PDF"
	FormatPNG  DocumentFormat = "PNG"
	FormatJPEG DocumentFormat = "JPEG"
)

// AllowedExtensions holds the file extensions accepted at upload.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

var signatures = []struct {
	magic  []byte
	format DocumentFormat
}{
	{[]byte("%PDF-"), FormatPDF},
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, FormatPNG},
	{[]byte{0xff, 0xd8, 0xff}, FormatJPEG},
}

// DetectFormat checks the magic-byte signature of b.
func DetectFormat(b []byte) (DocumentFormat, bool) {
	for _, s := range signatures {
		if bytes.HasPrefix(b, s.magic) {
			return s.format, true
		}
	}
	return "", false
}

// ContentType returns the MIME type for a format.
func (f DocumentFormat) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
