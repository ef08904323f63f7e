package types

import (
	"errors"
	"strings"
)

// Failure taxonomy for the resolution pipeline. None of these are ever
// surfaced raw to a playback client; each maps to a degraded result or
// an actionable error payload.
var (
	// ErrUpstreamUnavailable: network failure, timeout or non-2xx from
	// the source site or a relay. Retried across relays and strategies.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNoUsableSource: extraction succeeded but produced zero playable
	// candidates. Callers fall back to the embed candidate.
	ErrNoUsableSource = errors.New("no usable source")

	// ErrRefreshExhausted: the bounded refresh attempts for a playback
	// session are consumed. Terminal; the client gets a manual retry
	// affordance and a watch-on-original-site link.
	ErrRefreshExhausted = errors.New("refresh attempts exhausted")
)

// MediaTypeForURL classifies a URL by its media extension. Only mp4 and
// hls URLs are playable through the pipeline.
func MediaTypeForURL(rawURL string) (MediaType, bool) {
	stripped := rawURL
	if idx := strings.Index(stripped, "?"); idx > 0 {
		stripped = stripped[:idx]
	}
	switch {
	case strings.HasSuffix(stripped, ".mp4"):
		return MediaTypeMP4, true
	case strings.HasSuffix(stripped, ".m3u8"):
		return MediaTypeHLS, true
	}
	return "", false
}
