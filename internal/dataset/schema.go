package dataset

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Schema is the structural gate every record passes before it is appended:
// required fields present, enum fields within their closed sets, and
// hash-format fields matching lowercase hex. It is deliberately not a full
// JSON-Schema engine — the archive's schemas/ documents describe the shape
// for readers; this gate only enforces what a malformed record could
// corrupt downstream.
type Schema struct {
	Name       Name
	Required   []string
	Enums      map[string][]string
	HashFields []string
}

var sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidationError reports why a record was rejected by the schema gate.
type ValidationError struct {
	Dataset Name
	Field   string
	Detail  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dataset %s: field %q %s", e.Dataset, e.Field, e.Detail)
}

// Validate checks one marshaled record line against the schema. A nil
// Schema accepts everything.
func (s *Schema) Validate(line []byte) error {
	if s == nil {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return &ValidationError{Dataset: s.Name, Field: "", Detail: "is not a JSON object: " + err.Error()}
	}

	for _, field := range s.Required {
		if _, ok := obj[field]; !ok {
			return &ValidationError{Dataset: s.Name, Field: field, Detail: "is required"}
		}
	}

	for field, allowed := range s.Enums {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		val, ok := raw.(string)
		if !ok {
			return &ValidationError{Dataset: s.Name, Field: field, Detail: "must be a string"}
		}
		if !contains(allowed, val) {
			return &ValidationError{Dataset: s.Name, Field: field, Detail: fmt.Sprintf("value %q not in enum %v", val, allowed)}
		}
	}

	for _, field := range s.HashFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		val, ok := raw.(string)
		if !ok || (val != "" && !sha256Hex.MatchString(val)) {
			return &ValidationError{Dataset: s.Name, Field: field, Detail: "must be a 64-char lowercase hex SHA-256"}
		}
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// SchemaFor returns the validation gate for one of the fixed datasets.
func SchemaFor(name Name) *Schema {
	switch name {
	case Pages:
		return &Schema{
			Name:     Pages,
			Required: []string{"url", "finalUrl", "urlKey", "statusCode", "depth", "renderMode", "navEndReason"},
			Enums: map[string][]string{
				"renderMode":   {"raw", "prerender", "full"},
				"navEndReason": {"fetch", "load", "networkidle", "timeout", "error"},
			},
			HashFields: []string{"rawHtmlHash"},
		}
	case Edges:
		return &Schema{
			Name:     Edges,
			Required: []string{"sourceUrl", "targetUrl", "selectorHint", "location"},
			Enums: map[string][]string{
				"location":         {"nav", "header", "footer", "aside", "main", "other", "unknown"},
				"discoveredInMode": {"raw", "prerender", "full"},
			},
		}
	case Assets:
		return &Schema{
			Name:     Assets,
			Required: []string{"pageUrl", "assetUrl", "type"},
			Enums: map[string][]string{
				"type": {"image", "video"},
			},
		}
	case Errors:
		return &Schema{
			Name:     Errors,
			Required: []string{"url", "phase", "code", "message", "occurredAt"},
			Enums: map[string][]string{
				"phase": {"fetch", "render", "extract", "write"},
			},
		}
	case Accessibility:
		return &Schema{
			Name:     Accessibility,
			Required: []string{"pageUrl"},
		}
	default:
		return nil
	}
}

// SchemaURI returns the archive-relative URI a dataset's records carry in
// their $schema field and the manifest references.
func SchemaURI(name Name) string {
	return fmt.Sprintf("schemas/%s.schema.json", name)
}

// SchemaDocument renders the reader-facing JSON Schema document packed
// into the archive's schemas/ directory. It is generated from the same
// Schema the write gate enforces, so the two cannot drift.
func SchemaDocument(name Name) ([]byte, error) {
	s := SchemaFor(name)
	if s == nil {
		return nil, fmt.Errorf("dataset: no schema for %q", name)
	}

	properties := make(map[string]any)
	for _, field := range s.Required {
		properties[field] = map[string]any{}
	}
	for field, allowed := range s.Enums {
		properties[field] = map[string]any{"type": "string", "enum": allowed}
	}
	for _, field := range s.HashFields {
		properties[field] = map[string]any{"type": "string", "pattern": sha256Hex.String()}
	}

	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"$id":        SchemaURI(name),
		"title":      string(name),
		"type":       "object",
		"required":   s.Required,
		"properties": properties,
	}
	return json.MarshalIndent(doc, "", "  ")
}
