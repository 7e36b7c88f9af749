package extractor

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlascrawl/atlas/internal/record"
)

// maxMissingAltSamples bounds how many missing-alt source URLs are kept as
// examples; the count itself is never capped.
const maxMissingAltSamples = 50

var landmarkTags = []string{"header", "nav", "main", "footer", "aside"}

// extractAccessibilityStatic computes the static-HTML accessibility surface:
// landmark presence, heading order, role histogram, and missing-alt
// tracking. In rendered mode the scheduler extends the role histogram from
// the renderer's accessibility tree (renderer.MergeAccessibility); contrast,
// keyboard-trap and media-accessibility signals are not computed.
func extractAccessibilityStatic(doc *goquery.Document, in Input) *record.Accessibility {
	a11y := &record.Accessibility{
		SchemaURI:     "atlas/accessibility.schema.json",
		PageURL:       in.BaseURL.String(),
		Landmarks:     make(map[string]bool),
		RoleHistogram: make(map[string]int),
	}

	for _, tag := range landmarkTags {
		a11y.Landmarks[tag] = doc.Find(tag).Length() > 0
	}
	doc.Find(`[role]`).Each(func(_ int, s *goquery.Selection) {
		role := s.AttrOr("role", "")
		if role == "" {
			return
		}
		a11y.RoleHistogram[role]++
		if _, ok := a11y.Landmarks[role]; ok {
			a11y.Landmarks[role] = true
		}
	})

	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		if level, err := strconv.Atoi(strings.TrimPrefix(tag, "h")); err == nil {
			a11y.HeadingOrder = append(a11y.HeadingOrder, level)
		}
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		alt, hasAlt := s.Attr("alt")
		if hasAlt && strings.TrimSpace(alt) != "" {
			return
		}
		a11y.MissingAltCount++
		if src, ok := s.Attr("src"); ok && len(a11y.MissingAltSamples) < maxMissingAltSamples {
			a11y.MissingAltSamples = append(a11y.MissingAltSamples, resolveAgainst(in.BaseURL, src))
		}
	})

	a11y.HasSkipLink = false
	doc.Find(`a[href^="#"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if strings.Contains(text, "skip to") || strings.Contains(text, "skip navigation") {
			a11y.HasSkipLink = true
			href, _ := s.Attr("href")
			target := strings.TrimPrefix(href, "#")
			a11y.SkipLinkTargetOK = target != "" && doc.Find(`#`+target).Length() > 0
			return false
		}
		return true
	})

	return a11y
}
