package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/httpclient"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/types"
)

// StaticStrategy extracts records from the raw upstream markup: one GET
// with browser-mimicking headers, then a CSS-selector parse. Pages that
// require script execution need the browser strategy instead.
type StaticStrategy struct {
	cfg    *config.Config
	client interfaces.HTTPDoer
	log    *logging.Logger
}

// NewStaticStrategy creates the static-HTML extraction strategy.
func NewStaticStrategy(cfg *config.Config, client interfaces.HTTPDoer, log *logging.Logger) *StaticStrategy {
	return &StaticStrategy{
		cfg:    cfg,
		client: client,
		log:    log.WithComponent("static-extract"),
	}
}

// Name returns the strategy name.
func (s *StaticStrategy) Name() string { return "static" }

// Listing extracts one page of video records. Upstream failures and
// missing selectors fail closed to an empty listing.
func (s *StaticStrategy) Listing(ctx context.Context, kind types.PageKind, query string, page int) (*types.Listing, error) {
	pageURL := s.listingURL(kind, query, page)

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("listing fetch failed", "kind", kind, "page", page, "error", err)
		return &types.Listing{Items: []types.VideoRecord{}}, nil
	}

	return parseListing(doc, s.cfg.UpstreamBaseURL), nil
}

// Detail extracts a video detail page, returning (nil, nil) when the
// page has no usable title.
func (s *StaticStrategy) Detail(ctx context.Context, videoID string) (*types.VideoDetail, error) {
	pageURL := s.detailURL(videoID)

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("detail fetch failed", "video_id", videoID, "error", err)
		return nil, nil
	}

	return parseDetail(doc, videoID, pageURL, s.cfg.UpstreamBaseURL), nil
}

// Close releases resources.
func (s *StaticStrategy) Close() error { return nil }

// fetchDocument GETs the page and parses it. An upstream 403 is retried
// up to the configured bound with a different user agent each time.
func (s *StaticStrategy) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()

	userAgent := httpclient.RandomUserAgent()
	attempts := s.cfg.ExtractMaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpclient.DecorateBrowserRequest(req, userAgent, s.cfg.UpstreamBaseURL)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page: %w", err)
		}

		if resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream returned 403 for %s", pageURL)
			userAgent = httpclient.DifferentUserAgent(userAgent)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("upstream returned %d for %s", resp.StatusCode, pageURL)
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse page: %w", err)
		}
		return doc, nil
	}
	return nil, lastErr
}

func (s *StaticStrategy) listingURL(kind types.PageKind, query string, page int) string {
	return listingPageURL(s.cfg.UpstreamBaseURL, kind, query, page)
}

func (s *StaticStrategy) detailURL(videoID string) string {
	return detailPageURL(s.cfg.UpstreamBaseURL, videoID)
}

// listingPageURL builds the upstream URL for a page kind.
func listingPageURL(upstreamBase string, kind types.PageKind, query string, page int) string {
	base := strings.TrimSuffix(upstreamBase, "/")
	q := url.QueryEscape(strings.TrimSpace(query))
	pg := ""
	if page > 1 {
		pg = "&page=" + strconv.Itoa(page)
	}

	switch kind {
	case types.PageKindSearch:
		return base + "/search?q=" + q + pg
	case types.PageKindChannel:
		return base + "/channel/" + q + "?sort=new" + pg
	case types.PageKindModel:
		return base + "/model/" + q + "?sort=new" + pg
	default:
		return base + "/latest?sort=new" + pg
	}
}

func detailPageURL(upstreamBase, videoID string) string {
	return strings.TrimSuffix(upstreamBase, "/") + "/video/" + videoID
}

var _ interfaces.ExtractionStrategy = (*StaticStrategy)(nil)
