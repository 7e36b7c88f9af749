package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlascrawl/atlas/internal/record"
	"github.com/atlascrawl/atlas/pkg/urlutil"
)

// semanticAncestors is the set of tag names treated as the nearest
// semantic container for an anchor's location classification, in no
// particular precedence order — the nearest one walking up the tree wins.
var semanticAncestors = map[string]record.EdgeLocation{
	"nav":    record.LocationNav,
	"header": record.LocationHeader,
	"footer": record.LocationFooter,
	"aside":  record.LocationAside,
	"main":   record.LocationMain,
}

// extractLinks finds every a[href], resolves it against baseURL, and
// classifies it. Deduplication is by (sourceUrl, targetUrl, selectorHint);
// selectorHint is an nth-of-type index over all anchors on the page.
func extractLinks(doc *goquery.Document, in Input) []record.Edge {
	seen := make(map[string]struct{})
	var edges []record.Edge

	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if strings.HasPrefix(strings.TrimSpace(href), "javascript:") || strings.HasPrefix(strings.TrimSpace(href), "#") {
			return
		}

		target := resolveAgainst(in.BaseURL, href)
		if target == "" {
			return
		}

		selectorHint := fmt.Sprintf("a:nth-of-type(%d)", i+1)
		key := in.BaseURL.String() + "|" + target + "|" + selectorHint
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		targetURL, err := url.Parse(target)
		isExternal := true
		if err == nil {
			isExternal = !urlutil.SameOrigin(in.BaseURL, *targetURL)
		}

		rel := sel.AttrOr("rel", "")
		relTokens := strings.Fields(strings.ToLower(rel))
		nofollow, sponsored, ugc := false, false, false
		for _, tok := range relTokens {
			switch tok {
			case "nofollow":
				nofollow = true
			case "sponsored":
				sponsored = true
			case "ugc":
				ugc = true
			}
		}

		// Ancestor-location resolution is only attempted in rendered mode,
		// per the contract that raw mode always reports "unknown".
		location := record.LocationUnknown
		if in.DOMSource == SourceRendered {
			location = classifyLocation(sel)
		}

		discoveredMode := record.RenderModeRaw
		if in.DOMSource == SourceRendered {
			discoveredMode = record.RenderModeFull
		}

		edges = append(edges, record.Edge{
			SchemaURI:        "atlas/edge.schema.json",
			SourceURL:        in.BaseURL.String(),
			TargetURL:        target,
			SelectorHint:     selectorHint,
			IsExternal:       isExternal,
			AnchorText:       strings.TrimSpace(sel.Text()),
			Rel:              rel,
			NoFollow:         nofollow,
			Sponsored:        sponsored,
			UGC:              ugc,
			Location:         location,
			DiscoveredInMode: discoveredMode,
		})
	})

	return edges
}

// classifyLocation walks up the ancestor chain looking for the nearest
// semantic container. Per the resolved open question, this does not cross
// shadow-DOM boundaries — goquery walks the light DOM only, which is the
// deliberate scope here; see the package-level extractor notes in
// DESIGN.md for why rendered mode does not attempt a shadow walk.
func classifyLocation(sel *goquery.Selection) record.EdgeLocation {
	node := sel
	for i := 0; i < 32; i++ {
		parent := node.Parent()
		if parent.Length() == 0 {
			break
		}
		tag := goquery.NodeName(parent)
		if loc, ok := semanticAncestors[tag]; ok {
			return loc
		}
		if tag == "body" || tag == "html" {
			break
		}
		node = parent
	}
	return record.LocationOther
}
