package extractor

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlascrawl/atlas/internal/record"
)

// extractSEO gathers the core and enhanced SEO fields: title/description
// with pixel widths, headings, canonical, indexability, hreflang,
// viewport/charset/lang, and the text/HTML ratio.
func extractSEO(doc *goquery.Document, in Input) *record.SEORecord {
	seo := &record.SEORecord{}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	seo.Title = title
	seo.TitlePixelWidth = pixelWidth(title)

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		desc = strings.TrimSpace(desc)
		seo.MetaDescription = desc
		seo.DescPixelWidth = pixelWidth(desc)
	}

	for level := 1; level <= 6; level++ {
		tag := "h" + strconv.Itoa(level)
		seo.HeadingCounts[level-1] = doc.Find(tag).Length()
		doc.Find(tag).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text != "" {
				seo.Headings = append(seo.Headings, record.Heading{Level: level, Text: text})
			}
			return false // only first occurrence per level
		})
	}

	if canonical, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		seo.CanonicalURL = resolveAgainst(in.BaseURL, canonical)
	}

	metaRobots, _ := doc.Find(`meta[name="robots"]`).First().Attr("content")
	seo.MetaRobots = metaRobots
	seo.XRobotsTag = in.XRobotsTag
	seo.Indexable = !containsDirective(metaRobots, "noindex") && !containsDirective(in.XRobotsTag, "noindex")

	doc.Find(`link[rel="alternate"][hreflang]`).Each(func(_ int, s *goquery.Selection) {
		lang, _ := s.Attr("hreflang")
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		seo.Hreflangs = append(seo.Hreflangs, record.Hreflang{Lang: lang, URL: resolveAgainst(in.BaseURL, href)})
	})

	if viewport, ok := doc.Find(`meta[name="viewport"]`).First().Attr("content"); ok {
		seo.Viewport = viewport
	}
	if charset, ok := doc.Find("meta[charset]").First().Attr("charset"); ok {
		seo.Charset = charset
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		seo.Lang = lang
	}

	bodyText := strings.TrimSpace(doc.Find("body").Text())
	seo.WordCount = len(strings.Fields(bodyText))
	htmlLen := utf8.RuneCountInString(in.HTML)
	if htmlLen > 0 {
		seo.TextToHTMLRatio = float64(utf8.RuneCountInString(bodyText)) / float64(htmlLen)
	}

	return seo
}

func containsDirective(meta, directive string) bool {
	for _, part := range strings.Split(meta, ",") {
		if strings.EqualFold(strings.TrimSpace(part), directive) {
			return true
		}
	}
	return false
}
