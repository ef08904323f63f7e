// Package refresh coordinates bounded re-resolution of tracked video
// sources once they pass the staleness window.
package refresh

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"vidproxy-go/pkg/cache"
	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/resolve"
	"vidproxy-go/pkg/types"
)

// Coordinator owns the staleness rule and the refresh attempt budget.
// Concurrent refreshes of the same video id are collapsed into one
// upstream pass via singleflight; callers share the result.
type Coordinator struct {
	cfg      *config.Config
	store    interfaces.SourceStore
	resolver interfaces.SourceResolver
	cache    *cache.Cache
	log      *logging.Logger
	group    singleflight.Group
	now      func() time.Time
}

// New creates a refresh coordinator.
func New(cfg *config.Config, store interfaces.SourceStore, resolver interfaces.SourceResolver, c *cache.Cache, log *logging.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		cache:    c,
		log:      log.WithComponent("refresh"),
		now:      time.Now,
	}
}

// Stale reports whether a tracked state needs re-resolution: either it
// aged past the freshness window or it holds no sources at all.
func (c *Coordinator) Stale(state *types.TrackedSourceState) bool {
	if state == nil || len(state.Sources) == 0 {
		return true
	}
	return c.now().Sub(state.ResolvedAt) > c.cfg.FreshnessWindow
}

// EnsureFresh guarantees that, if it returns true, the store holds
// non-stale direct sources for the video id. A false return means the
// caller should degrade to the embed fallback. Forced calls skip the
// freshness short-circuit: a playback session that just burned through
// every stored candidate knows the state is unplayable no matter how
// recent it looks, so the live pass (and its attempt budget) must run.
func (c *Coordinator) EnsureFresh(ctx context.Context, videoID string, force bool) bool {
	state, err := c.store.Get(ctx, videoID)
	if err != nil {
		c.log.Warn("failed to load tracked state", "video_id", videoID, "error", err)
	}

	if !force && !c.Stale(state) && state.HasDirectSources() {
		return true
	}
	if state != nil && state.RefreshAttempts >= c.cfg.MaxRefreshAttempts {
		c.log.Info("refresh budget exhausted", "video_id", videoID, "attempts", state.RefreshAttempts)
		return false
	}

	// The flight result is shared by every waiter, so it must not be
	// tied to whichever caller happened to start it; it carries its own
	// deadline instead.
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ExtractTimeout+c.cfg.RelayTimeout)
	defer cancel()
	v, _, _ := c.group.Do(videoID, func() (any, error) {
		return c.refresh(flightCtx, videoID, state), nil
	})
	return v.(bool)
}

// refresh performs one live resolution pass and persists the outcome.
// Success resets the attempt counter; failure consumes one attempt while
// keeping whatever sources were stored before.
func (c *Coordinator) refresh(ctx context.Context, videoID string, prev *types.TrackedSourceState) bool {
	start := c.now()
	candidates := c.resolver.ResolveLive(ctx, videoID)

	direct := false
	for _, cand := range candidates {
		if cand.MediaType == types.MediaTypeMP4 || cand.MediaType == types.MediaTypeHLS {
			direct = true
			break
		}
	}

	if direct {
		state := &types.TrackedSourceState{Sources: candidates, ResolvedAt: c.now()}
		if err := c.store.Put(ctx, videoID, state); err != nil {
			c.log.Warn("failed to persist refreshed sources", "video_id", videoID, "error", err)
		}
		// Drop the process-local copy so the next Resolve sees the new set.
		withEmbed := append(append([]types.StreamCandidate{}, candidates...), resolve.EmbedCandidate(c.cfg, videoID))
		c.cache.Set(resolve.SourcesCacheKey(videoID), withEmbed, c.cfg.StreamTTL)
		c.log.Info("sources refreshed", "video_id", videoID, "candidates", len(candidates), "duration", c.now().Sub(start))
		return true
	}

	failed := &types.TrackedSourceState{}
	if prev != nil {
		*failed = *prev
	}
	failed.RefreshAttempts++
	if err := c.store.Put(ctx, videoID, failed); err != nil {
		c.log.Warn("failed to record refresh attempt", "video_id", videoID, "error", err)
	}
	c.log.Warn("refresh produced no direct sources", "video_id", videoID, "attempt", failed.RefreshAttempts)
	return false
}

var _ interfaces.RefreshCoordinator = (*Coordinator)(nil)
