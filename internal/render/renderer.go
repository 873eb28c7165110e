// Package render turns packet bytes into ordered page rasters.
package render

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
)

// ErrorKind separates bad input from backend trouble.
type ErrorKind int

const (
	KindInvalidInput ErrorKind = iota + 1
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// RenderError is the only error type a Renderer returns.
type RenderError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("render %s: %s", e.Kind, e.Msg)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Temporary lets retry.Do treat transient render failures as retryable.
func (e *RenderError) Temporary() bool { return e.Kind == KindTransient }

func invalidInput(msg string, err error) *RenderError {
	return &RenderError{Kind: KindInvalidInput, Msg: msg, Err: err}
}

func transient(msg string, err error) *RenderError {
	return &RenderError{Kind: KindTransient, Msg: msg, Err: err}
}

// Request describes one render pass. Empty Pages means every page.
type Request struct {
	Document []byte
	DPI      int
	Pages    []int
	// SkipTextLayer leaves PageImage.TextLayer empty for callers that already hold it.
	SkipTextLayer bool
}

// Renderer produces page images in ascending page order.
type Renderer interface {
	Render(ctx context.Context, req Request) ([]entity.PageImage, error)
}

// CheckInput runs the signature and size checks. It costs no I/O.
func CheckInput(doc []byte) (constants.DocumentFormat, error) {
	if len(doc) == 0 {
		return "", invalidInput("empty document", nil)
	}
	if len(doc) > constants.MaxDocumentBytes {
		return "", invalidInput(fmt.Sprintf("document is %d bytes, limit is %d", len(doc), constants.MaxDocumentBytes), nil)
	}
	format, ok := constants.DetectFormat(doc)
	if !ok {
		return "", invalidInput("unrecognized file signature", nil)
	}
	return format, nil
}
