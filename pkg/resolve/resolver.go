// Package resolve implements the per-video strategy chain that produces
// an ordered set of candidate playable sources.
package resolve

import (
	"context"
	"sort"
	"time"

	"vidproxy-go/pkg/cache"
	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/types"
)

// DetailSource yields a video's detail page; satisfied by both the
// cache-checked engine and a raw extraction strategy.
type DetailSource interface {
	Detail(ctx context.Context, videoID string) (*types.VideoDetail, error)
}

// SourceFetcher is the relay chain to the upstream metadata API.
type SourceFetcher interface {
	FetchSources(ctx context.Context, apiURL string) ([]types.StreamCandidate, error)
}

// SourcesCacheKey is the cache key under which a video's resolved
// candidates live. The refresh coordinator overwrites this entry after
// persisting so a stale result is never served for a full TTL window.
func SourcesCacheKey(videoID string) string {
	return cache.Key("sources", videoID)
}

// Resolver runs the ordered fallback chain:
//  1. persisted TrackedSourceState, if present and not stale
//  2. detail re-extraction (embedded script data)
//  3. upstream API through the relay chain
//  4. a synthesized embed candidate
//
// Resolve never fails; the embed candidate guarantees a non-empty result.
type Resolver struct {
	cfg    *config.Config
	cache  *cache.Cache
	store  interfaces.SourceStore
	detail DetailSource // cache-checked
	live   DetailSource // bypasses the cache, used for live re-resolution
	relay  SourceFetcher
	log    *logging.Logger
	now    func() time.Time
}

// New creates a resolver.
func New(cfg *config.Config, c *cache.Cache, store interfaces.SourceStore, detail, live DetailSource, relay SourceFetcher, log *logging.Logger) *Resolver {
	return &Resolver{
		cfg:    cfg,
		cache:  c,
		store:  store,
		detail: detail,
		live:   live,
		relay:  relay,
		log:    log.WithComponent("resolver"),
		now:    time.Now,
	}
}

// Resolve produces the ordered candidate set for a video id.
func (r *Resolver) Resolve(ctx context.Context, videoID string) []types.StreamCandidate {
	if v, ok := r.cache.Get(SourcesCacheKey(videoID)); ok {
		return v.([]types.StreamCandidate)
	}

	// Persisted state, if still trusted.
	if state, err := r.store.Get(ctx, videoID); err == nil && state != nil &&
		len(state.Sources) > 0 && r.now().Sub(state.ResolvedAt) <= r.cfg.FreshnessWindow {
		candidates := r.finish(videoID, state.Sources)
		r.cache.Set(SourcesCacheKey(videoID), candidates, r.cfg.StreamTTL)
		return candidates
	}

	direct := r.resolveDirect(ctx, videoID, r.detail)
	if len(direct) > 0 {
		// First successful resolution creates the tracked state lazily.
		state := &types.TrackedSourceState{Sources: direct, ResolvedAt: r.now()}
		if err := r.store.Put(ctx, videoID, state); err != nil {
			r.log.Warn("failed to persist resolved sources", "video_id", videoID, "error", err)
		}
	}

	candidates := r.finish(videoID, direct)
	r.cache.Set(SourcesCacheKey(videoID), candidates, r.cfg.StreamTTL)
	return candidates
}

// ResolveLive re-runs extraction and the relay chain, bypassing cached
// and persisted state. The refresh coordinator persists the result.
func (r *Resolver) ResolveLive(ctx context.Context, videoID string) []types.StreamCandidate {
	return r.resolveDirect(ctx, videoID, r.live)
}

// resolveDirect runs chain steps 2 and 3, each attempted only when the
// prior produced zero usable candidates. Results are sorted by
// descending numeric quality; ties keep discovery order so directly
// hosted media outranks relay-discovered media.
func (r *Resolver) resolveDirect(ctx context.Context, videoID string, source DetailSource) []types.StreamCandidate {
	var candidates []types.StreamCandidate

	detail, err := source.Detail(ctx, videoID)
	if err != nil {
		r.log.Warn("detail extraction failed during resolution", "video_id", videoID, "error", err)
	}
	if detail != nil {
		candidates = dedupeByURL(detail.Streams)
	}

	if len(candidates) == 0 {
		relayCandidates, err := r.relay.FetchSources(ctx, r.cfg.APIURL(videoID))
		if err != nil {
			r.log.Debug("relay resolution failed", "video_id", videoID, "error", err)
		}
		candidates = dedupeByURL(relayCandidates)
	}

	SortCandidates(candidates)
	return candidates
}

// finish appends the embed fallback candidate so the result is never
// empty, and guards the no-duplicate-URL invariant once more.
func (r *Resolver) finish(videoID string, candidates []types.StreamCandidate) []types.StreamCandidate {
	out := dedupeByURL(candidates)
	SortCandidates(out)

	for _, c := range out {
		if c.MediaType == types.MediaTypeEmbed {
			return out
		}
	}
	return append(out, EmbedCandidate(r.cfg, videoID))
}

// EmbedCandidate synthesizes the always-available iframe fallback.
func EmbedCandidate(cfg *config.Config, videoID string) types.StreamCandidate {
	return types.StreamCandidate{
		Quality:   "embed",
		URL:       cfg.EmbedURL(videoID),
		MediaType: types.MediaTypeEmbed,
	}
}

// SortCandidates orders candidates by descending numeric quality.
// Non-numeric qualities sort last; the sort is stable so equal ranks
// keep their discovery order.
func SortCandidates(candidates []types.StreamCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].QualityRank() > candidates[j].QualityRank()
	})
}

func dedupeByURL(candidates []types.StreamCandidate) []types.StreamCandidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]types.StreamCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}

var _ interfaces.SourceResolver = (*Resolver)(nil)
