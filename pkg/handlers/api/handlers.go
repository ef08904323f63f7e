// Package api implements the JSON API: listings, video details, stream
// resolution, refresh, and playback session endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/extract"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/playback"
	"vidproxy-go/pkg/types"
)

// Handler implements the JSON API endpoints.
type Handler struct {
	cfg       *config.Config
	engine    *extract.Engine
	resolver  interfaces.SourceResolver
	refresher interfaces.RefreshCoordinator
	sessions  *playback.Manager
	log       *logging.Logger
}

// NewHandler creates the API handler.
func NewHandler(cfg *config.Config, engine *extract.Engine, resolver interfaces.SourceResolver, refresher interfaces.RefreshCoordinator, sessions *playback.Manager, log *logging.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		engine:    engine,
		resolver:  resolver,
		refresher: refresher,
		sessions:  sessions,
		log:       log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleInfo)
	mux.HandleFunc("GET /api/listing", h.handleListing)
	mux.HandleFunc("GET /api/video/{id}", h.handleVideo)
	mux.HandleFunc("GET /stream/{videoID}", h.handleStream)
	mux.HandleFunc("GET /embed/{videoID}", h.handleEmbed)
	mux.HandleFunc("POST /api/refresh/{videoID}", h.handleRefresh)
	mux.HandleFunc("POST /api/session/{videoID}", h.handleSessionStart)
	mux.HandleFunc("GET /api/session/{sessionID}", h.handleSessionGet)
	mux.HandleFunc("POST /api/session/{sessionID}/error", h.handleSessionError)
	mux.HandleFunc("POST /api/session/{sessionID}/quality", h.handleSessionQuality)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "vidproxy",
		"status":  "ok",
		"listing": "/api/listing?kind=listing&page=1",
		"stream":  "/stream/{videoId}",
	})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"upstream":        h.cfg.UpstreamBaseURL,
		"browser_enabled": h.cfg.BrowserEnabled,
		"relays":          len(h.cfg.RelayEndpoints),
	})
}

// handleListing serves one extracted page of records.
// kind: listing|search|channel|model; query is required for all but listing.
func (h *Handler) handleListing(w http.ResponseWriter, r *http.Request) {
	kind := types.PageKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = types.PageKindListing
	}
	switch kind {
	case types.PageKindListing, types.PageKindSearch, types.PageKindChannel, types.PageKindModel:
	default:
		writeError(w, http.StatusBadRequest, "unknown page kind")
		return
	}

	query := r.URL.Query().Get("query")
	if kind != types.PageKindListing && query == "" {
		writeError(w, http.StatusBadRequest, "query is required for kind "+string(kind))
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}

	listing, err := h.engine.Listing(r.Context(), kind, query, page)
	if err != nil {
		h.log.Error("listing extraction failed", "kind", kind, "error", err)
		writeError(w, http.StatusBadGateway, "listing unavailable")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) handleVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := h.engine.Detail(r.Context(), id)
	if err != nil {
		h.log.Error("detail extraction failed", "video_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "detail unavailable")
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleStream resolves a video's candidate sources. The response always
// contains at least the embed fallback, so success is unconditional.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("videoID")
	sources := h.resolver.Resolve(r.Context(), id)
	writeJSON(w, http.StatusOK, streamResult(sources))
}

// handleRefresh forces a live re-resolution and returns the resulting
// candidate set. Clients call it when playback broke, so the check is
// forced even for state inside the freshness window. A refusal (budget
// exhausted, upstream dead) still returns the embed fallback so the
// caller can keep playing.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("videoID")

	if h.refresher.EnsureFresh(r.Context(), id, true) {
		writeJSON(w, http.StatusOK, streamResult(h.resolver.Resolve(r.Context(), id)))
		return
	}

	result := streamResult(h.resolver.Resolve(r.Context(), id))
	result.Success = false
	result.Error = types.ErrRefreshExhausted.Error()
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	view := h.sessions.Start(r.Context(), r.PathValue("videoID"))
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Get(r.PathValue("sessionID"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type errorReport struct {
	Reason      string  `json:"reason"`
	PositionSec float64 `json:"position_sec"`
}

func (h *Handler) handleSessionError(w http.ResponseWriter, r *http.Request) {
	var report errorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Recovery may involve a live refresh; don't let the client closing
	// the report request abort it mid-flight.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.ExtractTimeout+h.cfg.RelayTimeout)
	defer cancel()

	outcome, err := h.sessions.ReportError(ctx, r.PathValue("sessionID"), report.Reason, report.PositionSec)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type qualityChange struct {
	Quality     string  `json:"quality"`
	PositionSec float64 `json:"position_sec"`
	Paused      bool    `json:"paused"`
}

func (h *Handler) handleSessionQuality(w http.ResponseWriter, r *http.Request) {
	var change qualityChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.sessions.ChangeQuality(r.PathValue("sessionID"), change.Quality, change.PositionSec, change.Paused)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleEmbed serves a minimal page hosting the upstream iframe, with a
// loading timeout that swaps in a retry / watch-upstream affordance.
func (h *Handler) handleEmbed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("videoID")
	embedURL := h.cfg.EmbedURL(id)
	upstreamURL := h.cfg.UpstreamBaseURL + "/video/" + id

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprintf(w, embedPage, embedURL, upstreamURL)
}

const embedPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
  html,body{margin:0;height:100%%;background:#000;color:#ddd;font-family:sans-serif}
  iframe{width:100%%;height:100%%;border:0}
  #fallback{display:none;height:100%%;align-items:center;justify-content:center;flex-direction:column;gap:1em}
  a,button{color:#8cf}
</style>
</head>
<body>
<iframe id="player" src="%s" allowfullscreen allow="autoplay; encrypted-media"></iframe>
<div id="fallback">
  <p>The player failed to load.</p>
  <button onclick="retry()">Retry</button>
  <a href="%s" target="_blank" rel="noopener">Watch on the original site</a>
</div>
<script>
  var loaded = false;
  var frame = document.getElementById('player');
  frame.addEventListener('load', function(){ loaded = true; });
  function fail(){
    frame.style.display = 'none';
    document.getElementById('fallback').style.display = 'flex';
  }
  function retry(){
    loaded = false;
    document.getElementById('fallback').style.display = 'none';
    frame.style.display = 'block';
    frame.src = frame.src;
    setTimeout(function(){ if(!loaded) fail(); }, 15000);
  }
  setTimeout(function(){ if(!loaded) fail(); }, 15000);
</script>
</body>
</html>
`

func streamResult(sources []types.StreamCandidate) *types.StreamResult {
	direct := false
	for _, s := range sources {
		if s.MediaType == types.MediaTypeMP4 || s.MediaType == types.MediaTypeHLS {
			direct = true
			break
		}
	}
	return &types.StreamResult{Success: true, Sources: sources, HasDirectSources: direct}
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, playback.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
