// Package extract implements the extraction engine: two interchangeable
// strategies (static HTML parse, headless browser) producing identical
// output contracts for listings, search results, video details and
// channel/model pages.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"vidproxy-go/pkg/types"
	"vidproxy-go/pkg/urlutil"
)

// Thumbnail lazy-load attributes, checked before the primary src
// attribute which is frequently a placeholder pixel.
var lazyThumbAttrs = []string{"data-src", "data-original", "data-lazy", "data-thumb"}

const minTitleLen = 3

// parseListing extracts video records from a listing/search/channel page.
// Within one page records are de-duplicated by id, first occurrence wins.
func parseListing(doc *goquery.Document, upstreamBase string) *types.Listing {
	listing := &types.Listing{Items: []types.VideoRecord{}}
	seen := make(map[string]bool)

	doc.Find("div.video-item, article.video-card, div.thumb-block").Each(func(_ int, sel *goquery.Selection) {
		rec, ok := parseCard(sel, upstreamBase)
		if !ok {
			return
		}
		if seen[rec.ID] {
			return
		}
		seen[rec.ID] = true
		listing.Items = append(listing.Items, rec)
	})

	listing.HasMore = doc.Find("a.next-page, .pagination a[rel='next'], li.next a").Length() > 0
	return listing
}

// parseCard extracts one record from a listing card selection.
func parseCard(sel *goquery.Selection, upstreamBase string) (types.VideoRecord, bool) {
	link := sel.Find("a[href]").First()
	href, _ := link.Attr("href")
	detailURL := urlutil.NormalizeURL(href, upstreamBase)
	id := urlutil.VideoIDFromPath(detailURL)
	if id == "" {
		return types.VideoRecord{}, false
	}

	title := strings.TrimSpace(link.AttrOr("title", ""))
	if title == "" {
		title = strings.TrimSpace(sel.Find(".title, p.title, .video-title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(sel.Find("img").First().AttrOr("alt", ""))
	}
	if len(title) < minTitleLen {
		return types.VideoRecord{}, false
	}

	return types.VideoRecord{
		ID:           id,
		Title:        title,
		ThumbnailURL: thumbnailURL(sel.Find("img").First(), upstreamBase),
		Duration:     strings.TrimSpace(sel.Find(".duration, .video-duration").First().Text()),
		ViewsLabel:   strings.TrimSpace(sel.Find(".views, .video-views").First().Text()),
		QualityLabel: strings.TrimSpace(sel.Find(".quality, .video-hd-mark").First().Text()),
		Channel:      strings.TrimSpace(sel.Find(".channel, .uploader, .video-uploader").First().Text()),
		DetailURL:    detailURL,
	}, true
}

// thumbnailURL prefers a lazy-load attribute over src.
func thumbnailURL(img *goquery.Selection, upstreamBase string) string {
	for _, attr := range lazyThumbAttrs {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return urlutil.NormalizeURL(v, upstreamBase)
		}
	}
	return urlutil.NormalizeURL(img.AttrOr("src", ""), upstreamBase)
}

// parseDetail extracts the detail view from a video page. A page without
// a non-empty title is treated as not found and yields nil.
func parseDetail(doc *goquery.Document, videoID, pageURL, upstreamBase string) *types.VideoDetail {
	title := strings.TrimSpace(doc.Find("h1.video-title, h1[itemprop='name'], h1.title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	}
	if title == "" {
		return nil
	}

	detail := &types.VideoDetail{
		VideoRecord: types.VideoRecord{
			ID:           videoID,
			Title:        title,
			ThumbnailURL: urlutil.NormalizeURL(doc.Find("meta[property='og:image']").AttrOr("content", ""), upstreamBase),
			Duration:     strings.TrimSpace(doc.Find(".duration, span.video-duration").First().Text()),
			DetailURL:    pageURL,
		},
		Description: strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", "")),
	}

	doc.Find(".categories a, .video-categories a").Each(func(_ int, s *goquery.Selection) {
		if c := strings.TrimSpace(s.Text()); c != "" {
			detail.Categories = append(detail.Categories, c)
		}
	})
	doc.Find(".tags a, a.video-tag").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			detail.Tags = append(detail.Tags, t)
		}
	})

	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts = append(scripts, s.Text())
	})
	detail.Streams = MineStreams(scripts)

	return detail
}

var (
	// Structured per-quality object literal, e.g.
	//   videoSources = {"1080": "https://...", "720": "https://..."}
	sourcesObjectRe = regexp.MustCompile(`(?s)(?:videoSources|sources|qualities)\s*[:=]\s*\{(.*?)\}`)
	qualityPairRe   = regexp.MustCompile(`["'](\d{3,4}p?|auto)["']\s*:\s*["'](https?:[^"']+)["']`)

	// Absolute URLs ending in a media extension.
	mediaURLRe = regexp.MustCompile(`https?://[^"'\s\\]+?\.(mp4|m3u8)(\?[^"'\s\\]*)?`)

	// Path substrings that mark preview/thumbnail assets, not streams.
	previewMarkers = []string{"/preview", "/thumb", "/previews/", "poster", "sprite"}

	urlQualityRe = regexp.MustCompile(`(\d{3,4})p?[/._-]`)
)

// MineStreams harvests stream candidates from inline script bodies.
// Two methods are applied in order and merged, de-duplicated by URL:
// a structured per-quality object literal, then a regex scan for
// absolute media URLs. Only mp4/hls URLs are kept.
func MineStreams(scripts []string) []types.StreamCandidate {
	var out []types.StreamCandidate
	seen := make(map[string]bool)

	add := func(quality, rawURL string) {
		rawURL = strings.ReplaceAll(rawURL, `\/`, "/")
		if seen[rawURL] || isPreviewURL(rawURL) {
			return
		}
		mt, ok := types.MediaTypeForURL(rawURL)
		if !ok {
			return
		}
		if quality == "" {
			quality = qualityFromURL(rawURL)
		}
		seen[rawURL] = true
		out = append(out, types.StreamCandidate{Quality: quality, URL: rawURL, MediaType: mt})
	}

	for _, script := range scripts {
		for _, obj := range sourcesObjectRe.FindAllStringSubmatch(script, -1) {
			for _, pair := range qualityPairRe.FindAllStringSubmatch(obj[1], -1) {
				add(pair[1], pair[2])
			}
		}
	}
	for _, script := range scripts {
		for _, m := range mediaURLRe.FindAllString(script, -1) {
			add("", m)
		}
	}

	return out
}

func isPreviewURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, marker := range previewMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func qualityFromURL(rawURL string) string {
	if m := urlQualityRe.FindStringSubmatch(rawURL); m != nil {
		return m[1] + "p"
	}
	return "auto"
}
