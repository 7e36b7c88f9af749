package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlascrawl/atlas/internal/record"
)

// extractOpenGraph collects every og:*/twitter:* meta tag plus any
// namespaced extension (article:*, product:*, …); og:image supports
// multiple occurrences and is collected into an array separately from the
// generic Properties map.
func extractOpenGraph(doc *goquery.Document) *record.OpenGraphRecord {
	og := &record.OpenGraphRecord{
		Properties:  make(map[string]string),
		TwitterCard: make(map[string]string),
		Namespaced:  make(map[string][]string),
	}
	found := false

	doc.Find("meta[property], meta[name]").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", s.AttrOr("name", ""))
		content, ok := s.Attr("content")
		if key == "" || !ok {
			return
		}

		switch {
		case key == "og:image":
			og.Images = append(og.Images, content)
			found = true
		case strings.HasPrefix(key, "og:"):
			og.Properties[key] = content
			found = true
		case strings.HasPrefix(key, "twitter:"):
			og.TwitterCard[key] = content
			found = true
		case strings.Contains(key, ":"):
			og.Namespaced[key] = append(og.Namespaced[key], content)
			found = true
		}
	})

	if !found {
		return nil
	}
	return og
}
