// Package proxy serves upstream media through this server: HLS
// manifests are rewritten so every reference loops back here, segments
// and MP4 files are streamed through with Range support.
package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/httpclient"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/urlutil"
)

// Manifests are small; anything larger than this is not a playlist.
const maxManifestSize = 10 << 20

// Handler implements GET /proxy?url=<escaped-upstream-url>.
type Handler struct {
	cfg      *config.Config
	client   interfaces.HTTPDoer
	rewriter *Rewriter
	log      *logging.Logger
}

// NewHandler creates the media proxy handler.
func NewHandler(cfg *config.Config, client interfaces.HTTPDoer, log *logging.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		client:   client,
		rewriter: NewRewriter(cfg.BaseURL),
		log:      log.WithComponent("proxy"),
	}
}

// RegisterRoutes registers the proxy route on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /proxy", h.handleProxy)
	mux.HandleFunc("HEAD /proxy", h.handleProxy)
}

func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.ProxyFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, raw, nil)
	if err != nil {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}

	// Present as a browser visiting the media's own origin. Compressed
	// bodies would break both manifest rewriting and Range math.
	schemeHost := urlutil.GetSchemeHost(raw)
	httpclient.DecorateBrowserRequest(req, "", schemeHost)
	req.Header.Set("Origin", schemeHost)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.log.Warn("upstream fetch timed out", "url", raw)
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			return
		}
		h.log.Warn("upstream fetch failed", "url", raw, "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Propagate the upstream status so players see expired segment
		// URLs as errors, not as corrupt media.
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, io.LimitReader(resp.Body, 4096))
		return
	}

	if isPlaylist(target.Path, resp.Header.Get("Content-Type")) {
		h.serveManifest(w, resp, raw)
		return
	}
	h.serveMedia(w, resp)
}

// serveManifest rewrites and serves an HLS playlist. Manifests must not
// be cached: media URLs inside them expire.
func (h *Handler) serveManifest(w http.ResponseWriter, resp *http.Response, manifestURL string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		h.log.Warn("failed to read manifest", "url", manifestURL, "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	rewritten := h.rewriter.Rewrite(body, manifestURL)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(rewritten)
}

// serveMedia streams a segment or MP4 body through unchanged,
// preserving Range semantics. Segment content is immutable so clients
// and CDNs may cache it aggressively.
func (h *Handler) serveMedia(w http.ResponseWriter, resp *http.Response) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	for _, header := range []string{"Content-Length", "Content-Range"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Debug("media stream interrupted", "error", err)
	}
}

// isPlaylist detects HLS playlists by path extension or content type.
func isPlaylist(path, contentType string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".m3u8") || strings.HasSuffix(lower, ".m3u") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "mpegurl")
}
