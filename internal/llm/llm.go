// Package llm turns statement text or page images into structured
// transactions through an external language model.
package llm

import (
	"context"
	"errors"

	"github.com/dvloznov/finsight/internal/domain"
	"github.com/dvloznov/finsight/internal/pdf"
)

// DefaultMaxTextChars bounds how much extracted text is sent per call.
const DefaultMaxTextChars = 15000

// ErrEmptyInput is returned when neither text nor images are supplied.
var ErrEmptyInput = errors.New("no text or images to parse")

// Input is what the parser sees of one statement. Exactly one of Text or
// Images is expected to be set.
type Input struct {
	Text     string
	Images   []pdf.PageImage
	Filename string
}

// IsVision reports whether the input is the image path.
func (in Input) IsVision() bool {
	return len(in.Images) > 0
}

// StatementParser extracts transactions and statement metadata in one call.
// Transport and API failures are returned as errors. A response that cannot
// be decoded yields an empty result and a nil error.
type StatementParser interface {
	ParseStatement(ctx context.Context, in Input) (*domain.ParsedStatement, error)
}

// TruncateText cuts s to at most max runes.
func TruncateText(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
