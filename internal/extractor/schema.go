package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlascrawl/atlas/internal/record"
)

// extractSchema pulls every application/ld+json block, collecting every
// @type value found (including those nested inside @graph) and keeping the
// raw JSON payloads for downstream consumers that want the full structure.
func extractSchema(doc *goquery.Document) *record.SchemaRecord {
	var types []string
	var raw []string

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		raw = append(raw, text)

		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			return
		}
		types = append(types, collectTypes(parsed)...)
	})

	if len(raw) == 0 {
		return nil
	}
	return &record.SchemaRecord{Types: dedupeStrings(types), RawJSON: raw}
}

// collectTypes walks a parsed JSON-LD value looking for "@type" keys,
// recursing into "@graph" arrays and nested objects.
func collectTypes(v any) []string {
	var out []string
	switch node := v.(type) {
	case map[string]any:
		if t, ok := node["@type"]; ok {
			out = append(out, typeStrings(t)...)
		}
		if graph, ok := node["@graph"]; ok {
			out = append(out, collectTypes(graph)...)
		}
		for key, val := range node {
			if key == "@type" || key == "@graph" {
				continue
			}
			if _, isMap := val.(map[string]any); isMap {
				out = append(out, collectTypes(val)...)
			}
			if arr, isArr := val.([]any); isArr {
				for _, item := range arr {
					if _, isMap := item.(map[string]any); isMap {
						out = append(out, collectTypes(item)...)
					}
				}
			}
		}
	case []any:
		for _, item := range node {
			out = append(out, collectTypes(item)...)
		}
	}
	return out
}

func typeStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
