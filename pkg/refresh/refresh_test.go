package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vidproxy-go/pkg/cache"
	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/resolve"
	"vidproxy-go/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		UpstreamBaseURL:       "https://upstream.example.com",
		UpstreamEmbedTemplate: "https://upstream.example.com/embed/{id}",
		FreshnessWindow:       4 * time.Hour,
		MaxRefreshAttempts:    2,
		StreamTTL:             6 * time.Hour,
		ExtractTimeout:        5 * time.Second,
		RelayTimeout:          5 * time.Second,
	}
}

type fakeStore struct {
	mu     sync.Mutex
	states map[string]*types.TrackedSourceState
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*types.TrackedSourceState)}
}

func (f *fakeStore) Get(ctx context.Context, id string) (*types.TrackedSourceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id], nil
}

func (f *fakeStore) Put(ctx context.Context, id string, state *types.TrackedSourceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = state
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeResolver struct {
	live  []types.StreamCandidate
	calls atomic.Int32
	block chan struct{} // optional: holds ResolveLive open
}

func (f *fakeResolver) Resolve(ctx context.Context, id string) []types.StreamCandidate {
	return f.live
}

func (f *fakeResolver) ResolveLive(ctx context.Context, id string) []types.StreamCandidate {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.live
}

func mp4(quality, url string) types.StreamCandidate {
	return types.StreamCandidate{Quality: quality, URL: url, MediaType: types.MediaTypeMP4}
}

func newTestCoordinator(store *fakeStore, resolver *fakeResolver) (*Coordinator, *cache.Cache) {
	c := cache.New(0)
	coord := New(testConfig(), store, resolver, c, logging.New("error", false, nil))
	return coord, c
}

func TestStale(t *testing.T) {
	coord, c := newTestCoordinator(newFakeStore(), &fakeResolver{})
	defer c.Stop()

	now := time.Now()
	coord.now = func() time.Time { return now }

	tests := []struct {
		name  string
		state *types.TrackedSourceState
		want  bool
	}{
		{
			name:  "nil state",
			state: nil,
			want:  true,
		},
		{
			name:  "no sources",
			state: &types.TrackedSourceState{ResolvedAt: now},
			want:  true,
		},
		{
			name: "inside window",
			state: &types.TrackedSourceState{
				Sources:    []types.StreamCandidate{mp4("720p", "https://c.example.com/a.mp4")},
				ResolvedAt: now.Add(-4*time.Hour + time.Second),
			},
			want: false,
		},
		{
			name: "past window",
			state: &types.TrackedSourceState{
				Sources:    []types.StreamCandidate{mp4("720p", "https://c.example.com/a.mp4")},
				ResolvedAt: now.Add(-4*time.Hour - time.Second),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coord.Stale(tt.state); got != tt.want {
				t.Errorf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsureFreshSkipsWhenFresh(t *testing.T) {
	store := newFakeStore()
	store.states["abc"] = &types.TrackedSourceState{
		Sources:    []types.StreamCandidate{mp4("720p", "https://c.example.com/a.mp4")},
		ResolvedAt: time.Now(),
	}
	resolver := &fakeResolver{}
	coord, c := newTestCoordinator(store, resolver)
	defer c.Stop()

	if !coord.EnsureFresh(context.Background(), "abc", false) {
		t.Error("EnsureFresh() = false for fresh direct sources")
	}
	if resolver.calls.Load() != 0 {
		t.Errorf("ResolveLive called %d times, want 0", resolver.calls.Load())
	}
}

func TestEnsureFreshRefreshesStaleState(t *testing.T) {
	store := newFakeStore()
	store.states["abc"] = &types.TrackedSourceState{
		Sources:         []types.StreamCandidate{mp4("720p", "https://c.example.com/old.mp4")},
		ResolvedAt:      time.Now().Add(-5 * time.Hour),
		RefreshAttempts: 1,
	}
	resolver := &fakeResolver{live: []types.StreamCandidate{mp4("1080p", "https://c.example.com/new.mp4")}}
	coord, c := newTestCoordinator(store, resolver)
	defer c.Stop()

	if !coord.EnsureFresh(context.Background(), "abc", false) {
		t.Fatal("EnsureFresh() = false, want true")
	}

	state := store.states["abc"]
	if state.Sources[0].URL != "https://c.example.com/new.mp4" {
		t.Errorf("stored sources = %+v", state.Sources)
	}
	// Success resets the attempt counter.
	if state.RefreshAttempts != 0 {
		t.Errorf("RefreshAttempts = %d, want 0", state.RefreshAttempts)
	}

	// The cached candidate set was overwritten, with the embed fallback.
	v, ok := c.Get(resolve.SourcesCacheKey("abc"))
	if !ok {
		t.Fatal("sources cache entry missing after refresh")
	}
	cached := v.([]types.StreamCandidate)
	if len(cached) != 2 || cached[1].MediaType != types.MediaTypeEmbed {
		t.Errorf("cached candidates = %+v", cached)
	}
}

func TestEnsureFreshFailureConsumesAttempt(t *testing.T) {
	store := newFakeStore()
	store.states["abc"] = &types.TrackedSourceState{
		Sources:    []types.StreamCandidate{mp4("720p", "https://c.example.com/old.mp4")},
		ResolvedAt: time.Now().Add(-5 * time.Hour),
	}
	resolver := &fakeResolver{live: nil}
	coord, c := newTestCoordinator(store, resolver)
	defer c.Stop()

	if coord.EnsureFresh(context.Background(), "abc", false) {
		t.Error("EnsureFresh() = true with no live sources")
	}

	state := store.states["abc"]
	if state.RefreshAttempts != 1 {
		t.Errorf("RefreshAttempts = %d, want 1", state.RefreshAttempts)
	}
	// The previous sources are kept for a later manual retry.
	if len(state.Sources) != 1 {
		t.Errorf("previous sources dropped: %+v", state.Sources)
	}
}

func TestEnsureFreshRespectsAttemptBudget(t *testing.T) {
	store := newFakeStore()
	store.states["abc"] = &types.TrackedSourceState{
		ResolvedAt:      time.Now().Add(-5 * time.Hour),
		RefreshAttempts: 2,
	}
	resolver := &fakeResolver{live: []types.StreamCandidate{mp4("720p", "https://c.example.com/a.mp4")}}
	coord, c := newTestCoordinator(store, resolver)
	defer c.Stop()

	if coord.EnsureFresh(context.Background(), "abc", false) {
		t.Error("EnsureFresh() = true past the attempt budget")
	}
	// Forcing does not bypass the budget either.
	if coord.EnsureFresh(context.Background(), "abc", true) {
		t.Error("EnsureFresh(force) = true past the attempt budget")
	}
	if resolver.calls.Load() != 0 {
		t.Errorf("ResolveLive called %d times past the budget", resolver.calls.Load())
	}
}

func TestEnsureFreshForcedBypassesFreshState(t *testing.T) {
	// Fresh-looking state whose URLs stopped playing (expired tokens).
	// A forced call must run the live pass and, when it fails, consume
	// an attempt instead of re-blessing the stored set.
	store := newFakeStore()
	store.states["abc"] = &types.TrackedSourceState{
		Sources:    []types.StreamCandidate{mp4("720p", "https://c.example.com/expired.mp4")},
		ResolvedAt: time.Now(),
	}
	resolver := &fakeResolver{live: nil}
	coord, c := newTestCoordinator(store, resolver)
	defer c.Stop()

	if coord.EnsureFresh(context.Background(), "abc", true) {
		t.Error("EnsureFresh(force) = true with no live sources")
	}
	if resolver.calls.Load() != 1 {
		t.Errorf("ResolveLive called %d times, want 1", resolver.calls.Load())
	}
	if got := store.states["abc"].RefreshAttempts; got != 1 {
		t.Errorf("RefreshAttempts = %d, want 1", got)
	}

	// A non-forced call on the same fresh state still short-circuits.
	if !coord.EnsureFresh(context.Background(), "abc", false) {
		t.Error("EnsureFresh() = false for fresh direct sources")
	}
	if resolver.calls.Load() != 1 {
		t.Errorf("ResolveLive called %d times after short-circuit, want 1", resolver.calls.Load())
	}
}

// ctxResolver fails its live pass when the context is already dead,
// like the real resolver's outbound requests would.
type ctxResolver struct {
	live []types.StreamCandidate
}

func (f *ctxResolver) Resolve(ctx context.Context, id string) []types.StreamCandidate {
	return f.live
}

func (f *ctxResolver) ResolveLive(ctx context.Context, id string) []types.StreamCandidate {
	if ctx.Err() != nil {
		return nil
	}
	return f.live
}

func TestEnsureFreshDetachedFromCallerCancellation(t *testing.T) {
	// The refresh outcome is shared across waiters, so a caller that
	// goes away must not poison the flight for everyone else.
	store := newFakeStore()
	resolver := &ctxResolver{live: []types.StreamCandidate{mp4("720p", "https://c.example.com/a.mp4")}}
	c := cache.New(0)
	defer c.Stop()
	coord := New(testConfig(), store, resolver, c, logging.New("error", false, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if !coord.EnsureFresh(ctx, "abc", false) {
		t.Error("EnsureFresh() = false under a cancelled caller context")
	}
	if store.states["abc"] == nil || !store.states["abc"].HasDirectSources() {
		t.Errorf("refreshed state not persisted: %+v", store.states["abc"])
	}
}

func TestEnsureFreshCollapsesConcurrentRefreshes(t *testing.T) {
	store := newFakeStore()
	resolver := &fakeResolver{
		live:  []types.StreamCandidate{mp4("720p", "https://c.example.com/a.mp4")},
		block: make(chan struct{}),
	}
	coord, c := newTestCoordinator(store, resolver)
	defer c.Stop()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = coord.EnsureFresh(context.Background(), "abc", false)
		}(i)
	}

	// Let every caller reach the singleflight barrier, then release.
	time.Sleep(50 * time.Millisecond)
	close(resolver.block)
	wg.Wait()

	if got := resolver.calls.Load(); got != 1 {
		t.Errorf("ResolveLive called %d times, want 1", got)
	}
	for i, r := range results {
		if !r {
			t.Errorf("caller %d got false, want true", i)
		}
	}
}
