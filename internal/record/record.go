// Package record defines the wire shape of every NDJSON dataset the crawl
// emits (pages, edges, assets, errors, accessibility). These are transport
// DTOs, not domain objects with invariants to protect, so unlike most
// packages in this module they are plain exported-field structs with json
// tags, the same convention internal/config uses for its configDTO.
package record

import "time"

// RenderMode is the fetch/render tier a page was dispatched through.
type RenderMode string

const (
	RenderModeRaw       RenderMode = "raw"
	RenderModePrerender RenderMode = "prerender"
	RenderModeFull      RenderMode = "full"
)

// NavEndReason records which condition actually terminated navigation.
type NavEndReason string

const (
	NavEndFetch       NavEndReason = "fetch"
	NavEndLoad        NavEndReason = "load"
	NavEndNetworkIdle NavEndReason = "networkidle"
	NavEndTimeout     NavEndReason = "timeout"
	NavEndError       NavEndReason = "error"
)

// EdgeLocation classifies where on the page an edge's anchor was found.
type EdgeLocation string

const (
	LocationNav     EdgeLocation = "nav"
	LocationHeader  EdgeLocation = "header"
	LocationFooter  EdgeLocation = "footer"
	LocationAside   EdgeLocation = "aside"
	LocationMain    EdgeLocation = "main"
	LocationOther   EdgeLocation = "other"
	LocationUnknown EdgeLocation = "unknown"
)

// AssetType distinguishes image from video/source assets.
type AssetType string

const (
	AssetImage AssetType = "image"
	AssetVideo AssetType = "video"
)

// ErrorPhase is the pipeline stage an error record was raised from.
type ErrorPhase string

const (
	PhaseFetch   ErrorPhase = "fetch"
	PhaseRender  ErrorPhase = "render"
	PhaseExtract ErrorPhase = "extract"
	PhaseWrite   ErrorPhase = "write"
)

// RedirectHop is one entry in a page's recorded redirect chain.
type RedirectHop struct {
	Status   int    `json:"status"`
	Location string `json:"location"`
}

// Timings captures the per-stage duration breakdown for one page.
type Timings struct {
	FetchMs   int64 `json:"fetchMs"`
	RenderMs  int64 `json:"renderMs,omitempty"`
	ExtractMs int64 `json:"extractMs"`
	WriteMs   int64 `json:"writeMs"`
}

// Heading is one first-occurrence heading text at a given level.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Hreflang is one alternate-language link tag.
type Hreflang struct {
	Lang string `json:"lang"`
	URL  string `json:"url"`
}

// SEORecord carries the core and enhanced SEO extraction fields (§4.9).
type SEORecord struct {
	Title             string     `json:"title"`
	TitlePixelWidth    int        `json:"titlePixelWidth"`
	MetaDescription   string     `json:"metaDescription,omitempty"`
	DescPixelWidth    int        `json:"descPixelWidth,omitempty"`
	Headings          []Heading  `json:"headings,omitempty"`
	HeadingCounts     [6]int     `json:"headingCounts"`
	CanonicalURL      string     `json:"canonicalUrl,omitempty"`
	MetaRobots        string     `json:"metaRobots,omitempty"`
	XRobotsTag        string     `json:"xRobotsTag,omitempty"`
	Indexable         bool       `json:"indexable"`
	Hreflangs         []Hreflang `json:"hreflangs,omitempty"`
	Viewport          string     `json:"viewport,omitempty"`
	Charset           string     `json:"charset,omitempty"`
	Lang              string     `json:"lang,omitempty"`
	TextToHTMLRatio   float64    `json:"textToHtmlRatio"`
	WordCount         int        `json:"wordCount"`
}

// OpenGraphRecord is the og:*/twitter:* and namespaced-extension payload.
type OpenGraphRecord struct {
	Properties     map[string]string   `json:"properties,omitempty"`
	Images         []string            `json:"images,omitempty"`
	TwitterCard    map[string]string   `json:"twitterCard,omitempty"`
	Namespaced     map[string][]string `json:"namespaced,omitempty"`
}

// SchemaRecord is the extracted application/ld+json payload.
type SchemaRecord struct {
	Types   []string `json:"types,omitempty"`
	RawJSON []string `json:"rawJson,omitempty"`
}

// Page is the per-fetch record (§3 "Page record"). One is emitted for every
// dispatched URL, even on HTTP error, as long as a fetch/render was attempted.
type Page struct {
	SchemaURI        string       `json:"$schema"`
	URL              string       `json:"url"`
	FinalURL         string       `json:"finalUrl"`
	URLKey           string       `json:"urlKey"`
	StatusCode       int          `json:"statusCode"`
	ContentType      string       `json:"contentType,omitempty"`
	Depth            int          `json:"depth"`
	RenderMode       RenderMode   `json:"renderMode"`
	NavEndReason     NavEndReason `json:"navEndReason"`
	Timings          Timings      `json:"timings"`
	RawHTMLHash      string       `json:"rawHtmlHash,omitempty"`
	BodyBlobRef      string       `json:"bodyBlobRef,omitempty"`
	RedirectChain    []RedirectHop `json:"redirectChain,omitempty"`
	Truncated        bool         `json:"truncated"`
	DiscoveredFrom   string       `json:"discoveredFrom,omitempty"`
	DiscoveredInMode RenderMode   `json:"discoveredInMode"`
	RobotsAllowed    bool         `json:"robotsAllowed"`
	RobotsMatchedRule string      `json:"robotsMatchedRule,omitempty"`
	RobotsOverride   bool         `json:"robotsOverrideUsed"`
	SEO              *SEORecord   `json:"seo,omitempty"`
	OpenGraph        *OpenGraphRecord `json:"openGraph,omitempty"`
	Schema           *SchemaRecord    `json:"schema,omitempty"`
	TextSample       string       `json:"textSample,omitempty"`
	LinkCount        int          `json:"linkCount"`
	AssetCount       int          `json:"assetCount"`
	FetchedAt        time.Time    `json:"fetchedAt"`
}

// Edge is one directed hyperlink observed on a page (§3 "Edge record").
type Edge struct {
	SchemaURI        string       `json:"$schema"`
	SourceURL        string       `json:"sourceUrl"`
	TargetURL        string       `json:"targetUrl"`
	SelectorHint     string       `json:"selectorHint"`
	IsExternal       bool         `json:"isExternal"`
	AnchorText       string       `json:"anchorText,omitempty"`
	Rel              string       `json:"rel,omitempty"`
	NoFollow         bool         `json:"nofollow"`
	Sponsored        bool         `json:"sponsored"`
	UGC              bool         `json:"ugc"`
	Location         EdgeLocation `json:"location"`
	DiscoveredInMode RenderMode   `json:"discoveredInMode"`
}

// Asset is one img/video/source element observed on a page.
type Asset struct {
	SchemaURI      string    `json:"$schema"`
	PageURL        string    `json:"pageUrl"`
	AssetURL       string    `json:"assetUrl"`
	Type           AssetType `json:"type"`
	Alt            string    `json:"alt,omitempty"`
	HasAlt         bool      `json:"hasAlt"`
	Loading        string    `json:"loading,omitempty"`
	WasLazyLoaded  bool      `json:"wasLazyLoaded"`
}

// ErrorRecord is one failure surfaced by any pipeline phase (§3 "Error
// record"). Exported separately from the internal error-classification
// types each package defines for control flow (pkg/failure); this is the
// observational, archived shape.
type ErrorRecord struct {
	SchemaURI  string     `json:"$schema"`
	URL        string     `json:"url"`
	Origin     string     `json:"origin"`
	Hostname   string     `json:"hostname"`
	Phase      ErrorPhase `json:"phase"`
	Code       string     `json:"code"`
	Message    string     `json:"message"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// Accessibility is one page's static and (optionally) rendered
// accessibility extraction.
type Accessibility struct {
	SchemaURI          string         `json:"$schema"`
	PageURL            string         `json:"pageUrl"`
	Landmarks          map[string]bool `json:"landmarks,omitempty"`
	HeadingOrder       []int          `json:"headingOrder,omitempty"`
	RoleHistogram      map[string]int `json:"roleHistogram,omitempty"`
	MissingAltCount    int            `json:"missingAltCount"`
	MissingAltSamples  []string       `json:"missingAltSamples,omitempty"`
	ContrastViolations int            `json:"contrastViolations,omitempty"`
	KeyboardTraps      int            `json:"keyboardTraps,omitempty"`
	HasSkipLink        bool           `json:"hasSkipLink"`
	SkipLinkTargetOK   bool           `json:"skipLinkTargetOk,omitempty"`
	MediaAccessibility []MediaAccess  `json:"mediaAccessibility,omitempty"`
}

// MediaAccess is the accessibility surface of one audio/video element in
// rendered mode: caption/subtitle/description tracks and autoplay/controls.
type MediaAccess struct {
	URL         string `json:"url"`
	HasCaptions bool   `json:"hasCaptions"`
	HasSubtitles bool  `json:"hasSubtitles"`
	HasDescriptions bool `json:"hasDescriptions"`
	Autoplay    bool   `json:"autoplay"`
	Controls    bool   `json:"controls"`
}
