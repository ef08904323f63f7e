package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/types"
)

// Hosts whose requests are pure tracking noise; blocked alongside
// images, fonts and stylesheets to cut page load latency.
var trackerHosts = []string{
	"doubleclick.net",
	"google-analytics.com",
	"googletagmanager.com",
	"adsco.re",
	"popads.net",
}

const (
	listingSelector = "div.video-item, article.video-card, div.thumb-block"
	detailSelector  = "h1, meta[property='og:title']"
)

// BrowserStrategy drives a headless browser for pages that require
// script execution. One browser process and browsing context are shared
// across requests; each request gets its own isolated page that is
// closed on every exit path.
type BrowserStrategy struct {
	cfg *config.Config
	log *logging.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewBrowserStrategy creates the browser-automation strategy. The
// browser itself is launched lazily on first use.
func NewBrowserStrategy(cfg *config.Config, log *logging.Logger) *BrowserStrategy {
	return &BrowserStrategy{
		cfg: cfg,
		log: log.WithComponent("browser-extract"),
	}
}

// Name returns the strategy name.
func (b *BrowserStrategy) Name() string { return "browser" }

// Listing extracts one page of video records from the rendered page.
func (b *BrowserStrategy) Listing(ctx context.Context, kind types.PageKind, query string, page int) (*types.Listing, error) {
	pageURL := listingPageURL(b.cfg.UpstreamBaseURL, kind, query, page)

	doc, err := b.renderDocument(ctx, pageURL, listingSelector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.log.Warn("browser listing failed", "kind", kind, "page", page, "error", err)
		return &types.Listing{Items: []types.VideoRecord{}}, nil
	}

	return parseListing(doc, b.cfg.UpstreamBaseURL), nil
}

// Detail extracts a video detail page from the rendered markup.
func (b *BrowserStrategy) Detail(ctx context.Context, videoID string) (*types.VideoDetail, error) {
	pageURL := detailPageURL(b.cfg.UpstreamBaseURL, videoID)

	doc, err := b.renderDocument(ctx, pageURL, detailSelector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.log.Warn("browser detail failed", "video_id", videoID, "error", err)
		return nil, nil
	}

	return parseDetail(doc, videoID, pageURL, b.cfg.UpstreamBaseURL), nil
}

// Close tears down the shared browser process.
func (b *BrowserStrategy) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
	return err
}

// sharedBrowser lazily launches the shared browser instance. A failed
// launch is retried on the next call rather than poisoning the strategy.
func (b *BrowserStrategy) sharedBrowser() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	b.launcher = l
	b.browser = browser
	b.log.Info("headless browser launched")
	return browser, nil
}

// renderDocument opens an isolated page, blocks non-essential resources,
// waits for the expected selector within the configured bound, then
// parses the rendered HTML with the same extraction logic as the
// static strategy.
func (b *BrowserStrategy) renderDocument(ctx context.Context, pageURL, waitSelector string) (*goquery.Document, error) {
	browser, err := b.sharedBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)

	router := page.HijackRequests()
	if err := router.Add("*", "", blockNonEssential); err != nil {
		return nil, fmt.Errorf("failed to install request filter: %w", err)
	}
	go router.Run()
	defer router.Stop()

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}

	// Bounded wait for the content selector, not a fixed sleep.
	if _, err := page.Timeout(b.cfg.BrowserWaitTimeout).Element(waitSelector); err != nil {
		return nil, fmt.Errorf("selector %q did not appear: %w", waitSelector, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered page: %w", err)
	}
	return doc, nil
}

// blockNonEssential drops image/font/stylesheet/tracker requests.
func blockNonEssential(h *rod.Hijack) {
	switch h.Request.Type() {
	case proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeStylesheet,
		proto.NetworkResourceTypeMedia:
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}

	host := strings.ToLower(h.Request.URL().Host)
	for _, tracker := range trackerHosts {
		if strings.HasSuffix(host, tracker) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
	}

	h.ContinueRequest(&proto.FetchContinueRequest{})
}

var _ interfaces.ExtractionStrategy = (*BrowserStrategy)(nil)
