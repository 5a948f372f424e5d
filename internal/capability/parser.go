package capability

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/quarryworks/quarry/internal/models"
)

// TextParser extracts plain text from text-family uploads. Unsupported mime
// types and undecodable content are permanent failures: the document is
// terminalized immediately, without burning retry attempts.
type TextParser struct{}

// NewTextParser creates a TextParser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

var markdownSyntax = regexp.MustCompile("(?m)(^#{1,6}[ \t]+|^>[ \t]?|[*_`]{1,3}|^[-+*][ \t]+|!?\\[([^\\]]*)\\]\\(([^)]*)\\))")

// Extract implements Parser for text/plain and text/markdown payloads.
func (p *TextParser) Extract(_ context.Context, data []byte, mimeType string) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", models.Permanentf("document is empty")
	}

	if !utf8.Valid(data) {
		return "", models.Permanentf("document is not valid UTF-8")
	}

	base := mimeType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}

	switch base {
	case "text/plain", "":
		return string(data), nil
	case "text/markdown":
		// Strip markdown syntax, keep link text.
		return markdownSyntax.ReplaceAllString(string(data), "$2"), nil
	default:
		return "", models.Permanentf("unsupported mime type %q", mimeType)
	}
}
