package extract

import (
	"context"

	"vidproxy-go/pkg/cache"
	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/registry"
	"vidproxy-go/pkg/types"
)

// Engine is the cache-checked front of the extraction strategies. All
// listing and detail reads go through it; within a TTL window repeated
// calls with identical arguments are served from cache without a second
// upstream fetch.
type Engine struct {
	cfg      *config.Config
	cache    *cache.Cache
	registry *registry.StrategyRegistry
	log      *logging.Logger
}

// NewEngine creates the extraction engine.
func NewEngine(cfg *config.Config, c *cache.Cache, reg *registry.StrategyRegistry, log *logging.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		cache:    c,
		registry: reg,
		log:      log.WithComponent("extract-engine"),
	}
}

// Listing returns one extracted page, cache-checked.
func (e *Engine) Listing(ctx context.Context, kind types.PageKind, query string, page int) (*types.Listing, error) {
	key := cache.PageKey("listing", page, string(kind), query)
	if v, ok := e.cache.Get(key); ok {
		return v.(*types.Listing), nil
	}

	strategy := e.registry.Select(kind)
	listing, err := strategy.Listing(ctx, kind, query, page)
	if err != nil {
		return nil, err
	}

	e.cache.Set(key, listing, e.cfg.ListingTTL)
	return listing, nil
}

// Detail returns the extracted detail page for a video id,
// cache-checked. A nil detail ("not found") is not cached so a
// transient upstream block does not pin the miss for a full TTL.
func (e *Engine) Detail(ctx context.Context, videoID string) (*types.VideoDetail, error) {
	key := cache.Key("detail", videoID)
	if v, ok := e.cache.Get(key); ok {
		return v.(*types.VideoDetail), nil
	}

	strategy := e.registry.Select(types.PageKindDetail)
	detail, err := strategy.Detail(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, nil
	}

	e.cache.Set(key, detail, e.cfg.ListingTTL)
	return detail, nil
}
