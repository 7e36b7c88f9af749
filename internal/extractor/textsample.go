package extractor

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// maxTextSampleBytes is the archive's fixed cap on the stored text sample.
const maxTextSampleBytes = 1500

// extractTextSample collapses whitespace in the body text and truncates to
// maxTextSampleBytes at a UTF-8 rune boundary (never splitting a multi-byte
// character).
func extractTextSample(doc *goquery.Document) string {
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) <= maxTextSampleBytes {
		return text
	}

	for cut := maxTextSampleBytes; cut > 0; cut-- {
		if utf8.ValidString(text[:cut]) {
			return text[:cut]
		}
	}
	return ""
}
