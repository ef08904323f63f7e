// Package relay provides a client for third-party CORS-relay
// intermediaries, used to reach the upstream metadata API when direct
// calls are blocked regionally.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"vidproxy-go/pkg/httpclient"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/types"
)

// Client fans a request for the upstream metadata API out across the
// configured relays, in order, stopping at the first HTTP 200.
type Client struct {
	endpoints []string
	timeout   time.Duration
	doer      interfaces.HTTPDoer
	log       *logging.Logger
}

// NewClient creates a relay client. Each endpoint is a URL prefix the
// target URL is appended to (query-escaped).
func NewClient(endpoints []string, timeout time.Duration, doer interfaces.HTTPDoer, log *logging.Logger) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		endpoints: endpoints,
		timeout:   timeout,
		doer:      doer,
		log:       log.WithComponent("relay"),
	}
}

// apiPayload covers the shapes the upstream metadata API is known to
// return for a video's streams.
type apiPayload struct {
	Streams map[string]string `json:"streams,omitempty"`
	Files   map[string]string `json:"files,omitempty"`
	Sources []struct {
		Quality string `json:"quality"`
		URL     string `json:"url"`
	} `json:"sources,omitempty"`
}

// FetchSources asks the upstream API for a video's streams through the
// relay chain. Returns ErrUpstreamUnavailable when every relay fails.
func (c *Client) FetchSources(ctx context.Context, apiURL string) ([]types.StreamCandidate, error) {
	var lastErr error
	for _, endpoint := range c.endpoints {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		body, err := c.fetchVia(ctx, endpoint, apiURL)
		if err != nil {
			c.log.Debug("relay attempt failed", "relay", endpoint, "error", err)
			lastErr = err
			continue
		}

		candidates := parsePayload(body)
		c.log.Debug("relay succeeded", "relay", endpoint, "candidates", len(candidates))
		return candidates, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: all relays failed: %v", types.ErrUpstreamUnavailable, lastErr)
	}
	return nil, types.ErrUpstreamUnavailable
}

// fetchVia performs one bounded relay attempt.
func (c *Client) fetchVia(ctx context.Context, endpoint, apiURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	relayURL := endpoint + url.QueryEscape(apiURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("User-Agent", httpclient.RandomUserAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read relay response: %w", err)
	}
	return body, nil
}

// parsePayload converts an API response body into stream candidates,
// de-duplicated by URL. Unparseable bodies yield an empty slice.
func parsePayload(body []byte) []types.StreamCandidate {
	var payload apiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	var out []types.StreamCandidate
	seen := make(map[string]bool)

	add := func(quality, rawURL string) {
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" || seen[rawURL] {
			return
		}
		mt, ok := types.MediaTypeForURL(rawURL)
		if !ok {
			return
		}
		seen[rawURL] = true
		out = append(out, types.StreamCandidate{Quality: quality, URL: rawURL, MediaType: mt})
	}

	// Map-shaped payloads iterate in random order; sort the keys so the
	// result is deterministic before the resolver's quality sort.
	for _, m := range []map[string]string{payload.Streams, payload.Files} {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			add(k, m[k])
		}
	}
	for _, s := range payload.Sources {
		add(s.Quality, s.URL)
	}

	return out
}
