/*
Package extractor runs the structured-data extractors over one page's HTML
after body acquisition: links, assets, SEO, Open Graph, schema.org,
accessibility, and a text sample.

Responsibilities
  - Parse HTML once per page with goquery and hand the same document to
    every extractor
  - Keep each extractor a pure function of (doc, baseURL, input) with no
    shared mutable state and no inheritance between them
  - Never fail the page: an extractor error is recorded through the
    metadata sink and that one field is simply omitted from the record

Non-goals
  - Rendering-correctness beyond what the renderer's DOM snapshot already
    captured; extractors read whichever HTML (raw or rendered) they're given
*/
package extractor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlascrawl/atlas/internal/metadata"
	"github.com/atlascrawl/atlas/internal/record"
	"github.com/atlascrawl/atlas/pkg/urlutil"
)

// DOMSource records whether the HTML handed to the extractors came from the
// raw fetcher or the renderer's DOM snapshot; the links extractor changes
// behavior based on it (location classification and discoveredInMode).
type DOMSource string

const (
	SourceRaw      DOMSource = "raw"
	SourceRendered DOMSource = "rendered"
)

// Input bundles everything every extractor needs; individual extractor
// functions take only the slice of this they actually use; Run takes the
// whole thing once.
type Input struct {
	DOMSource    DOMSource
	HTML         string
	BaseURL      url.URL
	StatusCode   int
	XRobotsTag   string
	FollowExternal bool
}

// Output is the full bundle of per-page extraction results. Nil fields mean
// that extractor failed or produced nothing; the page record's assembly
// step omits them.
type Output struct {
	Links         []record.Edge
	Assets        []record.Asset
	AssetsTruncated bool
	SEO           *record.SEORecord
	OpenGraph     *record.OpenGraphRecord
	Schema        *record.SchemaRecord
	Accessibility *record.Accessibility
	TextSample    string
}

// Extractors is the orchestrator shared by every worker in a crawl.
type Extractors struct {
	sink metadata.MetadataSink
}

func New(sink metadata.MetadataSink) *Extractors {
	return &Extractors{sink: sink}
}

// Run parses in.HTML once and runs every extractor against it, recording
// and swallowing any individual extractor's failure.
func (e *Extractors) Run(in Input) Output {
	var out Output

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err != nil {
		e.recordError("extractor", "parse", err, in.BaseURL)
		return out
	}

	out.Links = e.safeLinks(doc, in)
	out.Assets, out.AssetsTruncated = e.safeAssets(doc, in)
	out.SEO = e.safeSEO(doc, in)
	out.OpenGraph = e.safeOpenGraph(doc, in)
	out.Schema = e.safeSchema(doc, in)
	out.Accessibility = e.safeAccessibility(doc, in)
	out.TextSample = e.safeTextSample(doc, in)

	return out
}

func (e *Extractors) safeLinks(doc *goquery.Document, in Input) (edges []record.Edge) {
	defer e.recoverInto("links", in.BaseURL)
	return extractLinks(doc, in)
}

func (e *Extractors) safeAssets(doc *goquery.Document, in Input) (assets []record.Asset, truncated bool) {
	defer e.recoverInto("assets", in.BaseURL)
	return extractAssets(doc, in)
}

func (e *Extractors) safeSEO(doc *goquery.Document, in Input) (seo *record.SEORecord) {
	defer e.recoverInto("seo", in.BaseURL)
	return extractSEO(doc, in)
}

func (e *Extractors) safeOpenGraph(doc *goquery.Document, in Input) (og *record.OpenGraphRecord) {
	defer e.recoverInto("opengraph", in.BaseURL)
	return extractOpenGraph(doc)
}

func (e *Extractors) safeSchema(doc *goquery.Document, in Input) (sch *record.SchemaRecord) {
	defer e.recoverInto("schema", in.BaseURL)
	return extractSchema(doc)
}

func (e *Extractors) safeAccessibility(doc *goquery.Document, in Input) (a11y *record.Accessibility) {
	defer e.recoverInto("accessibility", in.BaseURL)
	return extractAccessibilityStatic(doc, in)
}

func (e *Extractors) safeTextSample(doc *goquery.Document, in Input) (sample string) {
	defer e.recoverInto("textsample", in.BaseURL)
	return extractTextSample(doc)
}

// recoverInto turns a panic inside an extractor into a recorded error
// instead of crashing the worker; per spec, no single extractor failure may
// fail the page.
func (e *Extractors) recoverInto(stage string, sourceURL url.URL) {
	if r := recover(); r != nil {
		e.recordError("extractor", stage, fmt.Errorf("panic: %v", r), sourceURL)
	}
}

func (e *Extractors) recordError(pkg, action string, err error, sourceURL url.URL) {
	if e.sink == nil {
		return
	}
	e.sink.RecordError(time.Now(), pkg, action, metadata.CauseContentInvalid, err.Error(), []metadata.Attribute{
		metadata.NewAttr(metadata.AttrURL, sourceURL.String()),
	})
}

// resolveAgainst resolves a possibly-relative href against base, returning
// "" if it cannot be parsed at all.
func resolveAgainst(base url.URL, href string) string {
	resolved, err := urlutil.Resolve(base, href)
	if err != nil {
		return ""
	}
	return resolved.String()
}
