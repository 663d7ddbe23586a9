package extraction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// TextExtractor decodes plain text and markdown. A UTF-8 or UTF-16 byte
// order mark selects the decoding; invalid UTF-8 is replaced with U+FFFD.
type TextExtractor struct{}

func (e *TextExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	return decodeText(data)
}

func decodeText(data []byte) (string, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("%w: decode text: %v", core.ErrExtraction, err)
	}
	if !utf8.Valid(decoded) {
		decoded = []byte(strings.ToValidUTF8(string(decoded), "\ufffd"))
	}
	return string(decoded), nil
}
