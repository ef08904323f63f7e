// Package app provides the main application setup and dependency injection.
package app

import (
	"fmt"
	"path/filepath"
	"time"

	"vidproxy-go/pkg/cache"
	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/extract"
	"vidproxy-go/pkg/handlers/api"
	proxyhandler "vidproxy-go/pkg/handlers/proxy"
	"vidproxy-go/pkg/httpclient"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/playback"
	"vidproxy-go/pkg/refresh"
	"vidproxy-go/pkg/registry"
	"vidproxy-go/pkg/relay"
	"vidproxy-go/pkg/resolve"
	"vidproxy-go/pkg/server"
	"vidproxy-go/pkg/store"
	"vidproxy-go/pkg/types"
)

// App is the main application container.
type App struct {
	Config     *config.Config
	Log        *logging.Logger
	Server     *server.Server
	HTTPClient *httpclient.Client

	cache      *cache.Cache
	store      *store.BadgerStore
	strategies *registry.StrategyRegistry
	sessions   *playback.Manager
}

// New creates and initializes the application.
func New() (*App, error) {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing vidproxy", "port", cfg.Port, "upstream", cfg.UpstreamBaseURL)

	// Create HTTP client
	httpClient := httpclient.New(cfg, log)

	// Shared TTL cache
	ttlCache := cache.New(time.Minute)

	// Persisted per-video source state
	sourceStore, err := store.Open(filepath.Join(cfg.DataDir, "sources"), cfg.MaxTrackedVideos, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open source store: %w", err)
	}

	// Extraction strategies. The static parser is always the fallback;
	// the browser handles page kinds that need script execution.
	strategies := registry.NewStrategyRegistry(func(kind types.PageKind) string {
		if cfg.BrowserKind(string(kind)) {
			return "browser"
		}
		return ""
	})
	staticStrategy := extract.NewStaticStrategy(cfg, httpClient, log)
	strategies.SetFallback(staticStrategy)
	if cfg.BrowserEnabled {
		strategies.Register(extract.NewBrowserStrategy(cfg, log))
		log.Info("browser strategy enabled", "kinds", cfg.BrowserPageKinds)
	}

	engine := extract.NewEngine(cfg, ttlCache, strategies, log)
	relayClient := relay.NewClient(cfg.RelayEndpoints, cfg.RelayTimeout, httpClient, log)

	// Live resolution must not be served from the extraction cache, so
	// the resolver gets the raw static strategy for its live path.
	resolver := resolve.New(cfg, ttlCache, sourceStore, engine, staticStrategy, relayClient, log)
	refresher := refresh.New(cfg, sourceStore, resolver, ttlCache, log)
	sessions := playback.NewManager(cfg, resolver, refresher, log)

	// Create HTTP server and register handlers
	srv := server.New(cfg, log)
	api.NewHandler(cfg, engine, resolver, refresher, sessions, log).RegisterRoutes(srv.Router())
	proxyhandler.NewHandler(cfg, httpClient, log).RegisterRoutes(srv.Router())

	return &App{
		Config:     cfg,
		Log:        log,
		Server:     srv,
		HTTPClient: httpClient,
		cache:      ttlCache,
		store:      sourceStore,
		strategies: strategies,
		sessions:   sessions,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Log.Info("starting vidproxy server", "port", a.Config.Port)
	return a.Server.Start()
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	a.Log.Info("shutting down application")

	a.sessions.Close()
	a.strategies.Close()
	a.cache.Stop()
	if err := a.store.Close(); err != nil {
		a.Log.Error("failed to close source store", "error", err)
	}
}
