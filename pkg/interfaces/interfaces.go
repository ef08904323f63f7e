// Package interfaces defines the core abstractions for the resolution
// and streaming proxy pipeline. Extraction strategies and stores
// implement these interfaces, keeping the system modular.
package interfaces

import (
	"context"
	"net/http"

	"vidproxy-go/pkg/types"
)

// ExtractionStrategy produces structured records from upstream pages.
// The static-HTML and browser-automation implementations satisfy the
// same contract and are interchangeable.
//
// To add a new strategy:
// 1. Create a new file in pkg/extract/
// 2. Implement this interface
// 3. Register it in the StrategyRegistry
type ExtractionStrategy interface {
	// Name returns a unique identifier for this strategy.
	Name() string

	// Listing extracts one page of video records. It fails closed:
	// a broken or blocked upstream page yields an empty listing, not
	// an error that would take down the surrounding request.
	Listing(ctx context.Context, kind types.PageKind, query string, page int) (*types.Listing, error)

	// Detail extracts the detail page for a video id. A page without a
	// usable title is treated as not found and returns (nil, nil).
	Detail(ctx context.Context, videoID string) (*types.VideoDetail, error)

	// Close releases any resources held by the strategy.
	Close() error
}

// SourceStore persists TrackedSourceState per video id.
type SourceStore interface {
	// Get returns the tracked state for a video id, or (nil, nil) when
	// the id has never been resolved.
	Get(ctx context.Context, videoID string) (*types.TrackedSourceState, error)

	// Put overwrites the tracked state for a video id.
	Put(ctx context.Context, videoID string, state *types.TrackedSourceState) error

	// Close shuts down the store.
	Close() error
}

// SourceResolver produces the ordered candidate set for a video.
type SourceResolver interface {
	// Resolve never fails: it returns at minimum one embed candidate.
	Resolve(ctx context.Context, videoID string) []types.StreamCandidate

	// ResolveLive re-runs extraction and the relay chain, bypassing
	// cached and persisted state. Used by the refresh coordinator.
	ResolveLive(ctx context.Context, videoID string) []types.StreamCandidate
}

// RefreshCoordinator decides when resolved sources are stale and
// triggers bounded re-resolution.
type RefreshCoordinator interface {
	// EnsureFresh returns true if usable direct sources are available
	// after the call. With force set, a live refresh runs even when the
	// tracked state is inside the freshness window; callers use it when
	// the stored sources look fresh but failed to play.
	EnsureFresh(ctx context.Context, videoID string, force bool) bool
}

// HTTPDoer abstracts HTTP execution for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Logger defines the logging interface used throughout the application.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
