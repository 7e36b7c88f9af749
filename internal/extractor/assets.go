package extractor

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/atlascrawl/atlas/internal/record"
)

// maxAssetsPerPage bounds asset records per page; overflow sets truncated
// on the page record instead of growing the dataset unbounded.
const maxAssetsPerPage = 1000

// extractAssets collects img/video/source elements into asset records,
// capped at maxAssetsPerPage.
func extractAssets(doc *goquery.Document, in Input) ([]record.Asset, bool) {
	var assets []record.Asset
	truncated := false

	collect := func(sel *goquery.Selection, attr string, kind record.AssetType) {
		sel.Find(attr).Each(func(_ int, s *goquery.Selection) {
			if len(assets) >= maxAssetsPerPage {
				truncated = true
				return
			}
			src, ok := s.Attr("src")
			if !ok {
				src, ok = s.Attr("data-src")
			}
			if !ok || src == "" {
				return
			}
			resolved := resolveAgainst(in.BaseURL, src)
			if resolved == "" {
				return
			}
			alt, hasAlt := s.Attr("alt")
			loading := s.AttrOr("loading", "")
			assets = append(assets, record.Asset{
				SchemaURI:     "atlas/asset.schema.json",
				PageURL:       in.BaseURL.String(),
				AssetURL:      resolved,
				Type:          kind,
				Alt:           alt,
				HasAlt:        hasAlt && alt != "",
				Loading:       loading,
				WasLazyLoaded: loading == "lazy",
			})
		})
	}

	collect(doc.Selection, "img", record.AssetImage)
	collect(doc.Selection, "video", record.AssetVideo)
	collect(doc.Selection, "video source", record.AssetVideo)

	return assets, truncated
}
