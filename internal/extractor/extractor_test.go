package extractor_test

import (
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/record"
)

func base(t *testing.T) url.URL {
	t.Helper()
	u, err := url.Parse("https://a.test/docs/page")
	require.NoError(t, err)
	return *u
}

const fixtureHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width">
  <title>Fixture Page</title>
  <meta name="description" content="A small fixture for extraction.">
  <meta name="robots" content="index, follow">
  <link rel="canonical" href="/docs/page">
  <link rel="alternate" hreflang="de" href="/de/docs/page">
  <meta property="og:title" content="Fixture">
  <meta property="og:image" content="https://a.test/img/1.png">
  <meta property="og:image" content="https://a.test/img/2.png">
  <meta name="twitter:card" content="summary">
  <meta property="article:author" content="someone">
  <script type="application/ld+json">
    {"@context": "https://schema.org", "@type": "Article", "headline": "Fixture"}
  </script>
</head>
<body>
  <header><a href="/">Home</a></header>
  <nav><a href="/docs/">Docs</a></nav>
  <main>
    <h1>Fixture Page</h1>
    <h2>Section</h2>
    <p>Some body copy with <a href="/docs/other" rel="nofollow sponsored">a relative link</a>
       and <a href="https://b.test/ext" rel="ugc">an external link</a>.</p>
    <img src="/img/photo.png" alt="A photo">
    <img src="/img/naked.png">
    <video src="/vid/clip.mp4"></video>
  </main>
  <footer><a href="/about">About</a></footer>
</body>
</html>`

func runFixture(t *testing.T, source extractor.DOMSource) extractor.Output {
	t.Helper()
	e := extractor.New(nil)
	return e.Run(extractor.Input{
		DOMSource:  source,
		HTML:       fixtureHTML,
		BaseURL:    base(t),
		StatusCode: 200,
	})
}

func TestRunExtractsEveryFamily(t *testing.T) {
	out := runFixture(t, extractor.SourceRendered)

	assert.NotEmpty(t, out.Links)
	assert.NotEmpty(t, out.Assets)
	require.NotNil(t, out.SEO)
	require.NotNil(t, out.OpenGraph)
	require.NotNil(t, out.Schema)
	require.NotNil(t, out.Accessibility)
	assert.NotEmpty(t, out.TextSample)
}

func TestLinksResolveRelAndExternal(t *testing.T) {
	out := runFixture(t, extractor.SourceRendered)

	var relative, external *record.Edge
	for i := range out.Links {
		switch out.Links[i].TargetURL {
		case "https://a.test/docs/other":
			relative = &out.Links[i]
		case "https://b.test/ext":
			external = &out.Links[i]
		}
	}
	require.NotNil(t, relative, "relative link must resolve against base")
	require.NotNil(t, external)

	assert.False(t, relative.IsExternal)
	assert.True(t, relative.NoFollow)
	assert.True(t, relative.Sponsored)
	assert.False(t, relative.UGC)
	assert.Equal(t, record.LocationMain, relative.Location)

	assert.True(t, external.IsExternal)
	assert.True(t, external.UGC)
}

func TestLinkLocationUnknownInRawMode(t *testing.T) {
	out := runFixture(t, extractor.SourceRaw)
	require.NotEmpty(t, out.Links)
	for _, edge := range out.Links {
		assert.Equal(t, record.LocationUnknown, edge.Location)
	}
}

func TestLinkLocationClassifiedInRenderedMode(t *testing.T) {
	out := runFixture(t, extractor.SourceRendered)

	locations := make(map[string]record.EdgeLocation)
	for _, edge := range out.Links {
		locations[edge.AnchorText] = edge.Location
	}
	assert.Equal(t, record.LocationHeader, locations["Home"])
	assert.Equal(t, record.LocationNav, locations["Docs"])
	assert.Equal(t, record.LocationFooter, locations["About"])
}

func TestLinksDeduplicateBySelectorTriple(t *testing.T) {
	html := `<body><main>
	  <a href="/same">one</a>
	  <a href="/same">two</a>
	</main></body>`
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRendered, HTML: html, BaseURL: base(t)})

	// Same target from two distinct DOM positions stays two edges: the
	// selector hint differs.
	assert.Len(t, out.Links, 2)
	assert.NotEqual(t, out.Links[0].SelectorHint, out.Links[1].SelectorHint)
}

func TestSEOFields(t *testing.T) {
	out := runFixture(t, extractor.SourceRaw)
	seo := out.SEO
	require.NotNil(t, seo)

	assert.Equal(t, "Fixture Page", seo.Title)
	assert.Greater(t, seo.TitlePixelWidth, 0)
	assert.Equal(t, "A small fixture for extraction.", seo.MetaDescription)
	assert.Equal(t, 1, seo.HeadingCounts[0])
	assert.Equal(t, 1, seo.HeadingCounts[1])
	assert.Equal(t, "https://a.test/docs/page", seo.CanonicalURL)
	assert.True(t, seo.Indexable)
	require.Len(t, seo.Hreflangs, 1)
	assert.Equal(t, "de", seo.Hreflangs[0].Lang)
	assert.Equal(t, "width=device-width", seo.Viewport)
	assert.Equal(t, "utf-8", seo.Charset)
	assert.Equal(t, "en", seo.Lang)
	assert.Greater(t, seo.WordCount, 5)
	assert.Greater(t, seo.TextToHTMLRatio, 0.0)
}

func TestSEONoindexDetectedFromMetaAndHeader(t *testing.T) {
	html := `<head><meta name="robots" content="noindex, nofollow"><title>x</title></head>`
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: html, BaseURL: base(t)})
	require.NotNil(t, out.SEO)
	assert.False(t, out.SEO.Indexable)

	out = e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: "<title>x</title>", BaseURL: base(t), XRobotsTag: "noindex"})
	require.NotNil(t, out.SEO)
	assert.False(t, out.SEO.Indexable)
}

func TestOpenGraphCollectsImagesArrayAndNamespaces(t *testing.T) {
	out := runFixture(t, extractor.SourceRaw)
	og := out.OpenGraph
	require.NotNil(t, og)

	assert.Equal(t, []string{"https://a.test/img/1.png", "https://a.test/img/2.png"}, og.Images)
	assert.Equal(t, "Fixture", og.Properties["og:title"])
	assert.Equal(t, "summary", og.TwitterCard["twitter:card"])
	assert.Equal(t, []string{"someone"}, og.Namespaced["article:author"])
}

func TestSchemaCollectsTypesIncludingGraph(t *testing.T) {
	html := `<script type="application/ld+json">
	  {"@context":"https://schema.org","@graph":[
	    {"@type":"Organization","name":"A"},
	    {"@type":["WebSite","CreativeWork"],"name":"B"}
	  ]}
	</script>`
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: html, BaseURL: base(t)})
	require.NotNil(t, out.Schema)

	assert.ElementsMatch(t, []string{"Organization", "WebSite", "CreativeWork"}, out.Schema.Types)
	require.Len(t, out.Schema.RawJSON, 1)
}

func TestSchemaMalformedJSONKeptAsRawOnly(t *testing.T) {
	html := `<script type="application/ld+json">{broken</script>`
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: html, BaseURL: base(t)})
	require.NotNil(t, out.Schema)
	assert.Empty(t, out.Schema.Types)
	assert.Len(t, out.Schema.RawJSON, 1)
}

func TestAssetsCollectAltAndLazyLoading(t *testing.T) {
	html := `<body>
	  <img src="/a.png" alt="described" loading="lazy">
	  <img src="/b.png">
	  <video><source src="/c.mp4"></video>
	</body>`
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: html, BaseURL: base(t)})

	byURL := make(map[string]record.Asset)
	for _, a := range out.Assets {
		byURL[a.AssetURL] = a
	}

	described := byURL["https://a.test/a.png"]
	assert.Equal(t, record.AssetImage, described.Type)
	assert.True(t, described.HasAlt)
	assert.True(t, described.WasLazyLoaded)

	naked := byURL["https://a.test/b.png"]
	assert.False(t, naked.HasAlt)

	clip := byURL["https://a.test/c.mp4"]
	assert.Equal(t, record.AssetVideo, clip.Type)
	assert.False(t, out.AssetsTruncated)
}

func TestAssetsCapAt1000SetsTruncated(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<body>")
	for i := 0; i < 1100; i++ {
		sb.WriteString(`<img src="/img/` + strconv.Itoa(i) + `.png">`)
	}
	sb.WriteString("</body>")

	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: sb.String(), BaseURL: base(t)})

	assert.Len(t, out.Assets, 1000)
	assert.True(t, out.AssetsTruncated)
}

func TestAccessibilityStatic(t *testing.T) {
	out := runFixture(t, extractor.SourceRaw)
	a11y := out.Accessibility
	require.NotNil(t, a11y)

	assert.True(t, a11y.Landmarks["header"])
	assert.True(t, a11y.Landmarks["nav"])
	assert.True(t, a11y.Landmarks["main"])
	assert.True(t, a11y.Landmarks["footer"])
	assert.False(t, a11y.Landmarks["aside"])
	assert.Equal(t, []int{1, 2}, a11y.HeadingOrder)
	assert.Equal(t, 1, a11y.MissingAltCount)
	require.Len(t, a11y.MissingAltSamples, 1)
	assert.Contains(t, a11y.MissingAltSamples[0], "naked.png")
}

func TestSkipLinkDetection(t *testing.T) {
	html := `<body>
	  <a href="#main-content">Skip to main content</a>
	  <main id="main-content"><h1>x</h1></main>
	</body>`
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: html, BaseURL: base(t)})
	require.NotNil(t, out.Accessibility)

	assert.True(t, out.Accessibility.HasSkipLink)
	assert.True(t, out.Accessibility.SkipLinkTargetOK)
}

func TestTextSampleCollapsesWhitespace(t *testing.T) {
	html := "<body><p>  hello \n\n  world  </p></body>"
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: html, BaseURL: base(t)})
	assert.Equal(t, "hello world", out.TextSample)
}

func TestTextSampleTruncatesOnUTF8Boundary(t *testing.T) {
	// 1499 ASCII bytes followed by a 3-byte rune that would straddle the cap.
	html := "<body>" + strings.Repeat("a", 1499) + "日本語</body>"
	e := extractor.New(nil)
	out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: html, BaseURL: base(t)})

	assert.LessOrEqual(t, len(out.TextSample), 1500)
	assert.True(t, strings.HasSuffix(out.TextSample, "a"), "multi-byte rune must not be split")
}

func TestExtractorNeverFailsThePage(t *testing.T) {
	e := extractor.New(nil)
	assert.NotPanics(t, func() {
		out := e.Run(extractor.Input{DOMSource: extractor.SourceRaw, HTML: "<<<%%% not html", BaseURL: base(t)})
		_ = out
	})
}

func TestPixelWidthMonotonicInLength(t *testing.T) {
	out1 := runFixture(t, extractor.SourceRaw)
	require.NotNil(t, out1.SEO)

	e := extractor.New(nil)
	longer := e.Run(extractor.Input{
		DOMSource: extractor.SourceRaw,
		HTML:      "<title>Fixture Page With A Considerably Longer Title</title>",
		BaseURL:   base(t),
	})
	require.NotNil(t, longer.SEO)
	assert.Greater(t, longer.SEO.TitlePixelWidth, out1.SEO.TitlePixelWidth)
}
