// Package extract provides text extraction from uploaded document bytes,
// keyed by declared content type.
package extract

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/deptkb/deptkb/internal/faults"
)

// Sentinel causes for extraction failure. ErrUnsupported is a caller-input
// problem (unknown content type); ErrCorrupt means the declared type was
// recognized but the bytes do not parse. Neither is retryable.
var (
	ErrUnsupported = errors.New("unsupported content type")
	ErrCorrupt     = errors.New("corrupt document")
)

// Recognized content types. Callers may send parameters
// ("text/plain; charset=utf-8"); the bare media type is matched.
const (
	TypePDF      = "application/pdf"
	TypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
)

// Extract converts document bytes into plain text based on the declared
// content type. Unknown types return ErrUnsupported classified as client
// input; unparsable bytes return ErrCorrupt classified as permanent.
// Pure: no side effects, deterministic for a given input.
func Extract(content []byte, contentType string) (string, error) {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	switch strings.ToLower(mediaType) {
	case TypePDF:
		return corrupt(extractPDF(content))
	case TypeDOCX:
		return corrupt(extractDOCX(content))
	case TypeXLSX:
		return corrupt(extractXLSX(content))
	case TypePlain, TypeMarkdown, "text/x-markdown":
		return extractPlain(content)
	default:
		return "", faults.ClientInput(fmt.Errorf("%w: %q", ErrUnsupported, contentType))
	}
}

// Supported reports whether the declared content type can be extracted.
func Supported(contentType string) bool {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	switch strings.ToLower(mediaType) {
	case TypePDF, TypeDOCX, TypeXLSX, TypePlain, TypeMarkdown, "text/x-markdown":
		return true
	}
	return false
}

// corrupt classifies any parse failure as a permanent ErrCorrupt.
func corrupt(text string, err error) (string, error) {
	if err != nil {
		return "", faults.Permanent(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	return text, nil
}
