// Package playback tracks per-viewer playback sessions and drives the
// error-recovery state machine: candidate escalation, bounded refresh,
// terminal failure.
package playback

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"vidproxy-go/pkg/config"
	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/types"
)

// State is the playback lifecycle state of one session.
type State string

const (
	StateIdle       State = "idle"
	StateResolving  State = "resolving"
	StatePlaying    State = "playing"
	StateBuffering  State = "buffering"
	StateRefreshing State = "refreshing"
	StateFailed     State = "failed"
)

// Action tells the client what to do after an error report.
type Action string

const (
	// ActionNextCandidate: load the returned candidate and keep playing.
	ActionNextCandidate Action = "next_candidate"
	// ActionRestart: resolution was refreshed; restart from the returned
	// candidate at the preserved position.
	ActionRestart Action = "restart"
	// ActionFailed: terminal. Show the manual retry affordance and the
	// open-upstream link.
	ActionFailed Action = "failed"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is one viewer's playback of one video. All mutation happens
// under mu; error reports for the same session are serialized so two
// concurrent reports cannot both advance the candidate index.
type Session struct {
	mu sync.Mutex

	ID      string
	VideoID string

	current    types.StreamCandidate
	candidates []types.StreamCandidate
	index      int
	lifecycle  State

	PositionSec float64
	Paused      bool

	lastActive time.Time
}

// View is the JSON shape of a session returned to clients.
type View struct {
	SessionID   string                `json:"session_id"`
	VideoID     string                `json:"video_id"`
	State       State                 `json:"state"`
	Current     types.StreamCandidate `json:"current"`
	Candidates  int                   `json:"candidates"`
	PositionSec float64               `json:"position_sec"`
	Paused      bool                  `json:"paused"`
}

// Outcome is the response to an error report.
type Outcome struct {
	Action      Action                 `json:"action"`
	State       State                  `json:"state"`
	Candidate   *types.StreamCandidate `json:"candidate,omitempty"`
	PositionSec float64                `json:"position_sec"`
	UpstreamURL string                 `json:"upstream_url,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Manager owns all live sessions and expires idle ones.
type Manager struct {
	cfg       *config.Config
	resolver  interfaces.SourceResolver
	refresher interfaces.RefreshCoordinator
	log       *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	done     chan struct{}
}

// NewManager creates a session manager and starts its idle sweeper.
func NewManager(cfg *config.Config, resolver interfaces.SourceResolver, refresher interfaces.RefreshCoordinator, log *logging.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		resolver:  resolver,
		refresher: refresher,
		log:       log.WithComponent("playback"),
		sessions:  make(map[string]*Session),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Start resolves a video and opens a session on its best candidate.
func (m *Manager) Start(ctx context.Context, videoID string) *View {
	candidates := m.resolver.Resolve(ctx, videoID)

	s := &Session{
		ID:         newSessionID(),
		VideoID:    videoID,
		candidates: candidates,
		lifecycle:  StatePlaying,
		lastActive: m.now(),
	}
	s.current = candidates[0]

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.log.Info("session started", "session_id", s.ID, "video_id", videoID, "candidates", len(candidates))
	return s.view()
}

// Get returns the current view of a session.
func (m *Manager) Get(sessionID string) (*View, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

// ReportError handles a playback error (or loading timeout, which the
// client reports through the same path). The session advances to the
// next candidate; once candidates are exhausted it attempts one
// coordinated refresh, and fails terminally when that is denied.
func (m *Manager) ReportError(ctx context.Context, sessionID, reason string, positionSec float64) (*Outcome, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = m.now()
	if positionSec > 0 {
		s.PositionSec = positionSec
	}

	m.log.Warn("playback error reported",
		"session_id", s.ID, "video_id", s.VideoID,
		"reason", reason, "quality", s.current.Quality, "state", s.lifecycle)

	if s.lifecycle == StateFailed {
		return m.failedOutcome(s), nil
	}

	// Next candidate in the ordered set.
	if s.index+1 < len(s.candidates) {
		s.index++
		s.current = s.candidates[s.index]
		s.lifecycle = StatePlaying
		return &Outcome{
			Action:      ActionNextCandidate,
			State:       s.lifecycle,
			Candidate:   &s.current,
			PositionSec: s.PositionSec,
		}, nil
	}

	// Candidates exhausted. Every stored source just failed, so the
	// tracked state is unplayable regardless of its age; force a live
	// refresh rather than re-serving the same set.
	s.lifecycle = StateRefreshing
	if m.refresher.EnsureFresh(ctx, s.VideoID, true) {
		s.candidates = m.resolver.Resolve(ctx, s.VideoID)
		s.index = 0
		s.current = s.candidates[0]
		s.lifecycle = StatePlaying
		return &Outcome{
			Action:      ActionRestart,
			State:       s.lifecycle,
			Candidate:   &s.current,
			PositionSec: s.PositionSec,
		}, nil
	}

	s.lifecycle = StateFailed
	return m.failedOutcome(s), nil
}

// ChangeQuality switches the session to the candidate with the given
// quality label, preserving position and pause state. Unknown labels
// keep the current candidate.
func (m *Manager) ChangeQuality(sessionID, quality string, positionSec float64, paused bool) (*View, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = m.now()
	s.PositionSec = positionSec
	s.Paused = paused

	for i, c := range s.candidates {
		if c.Quality == quality {
			s.index = i
			s.current = c
			break
		}
	}
	if s.lifecycle != StateFailed {
		s.lifecycle = StatePlaying
	}
	return s.view(), nil
}

// Close stops the idle sweeper.
func (m *Manager) Close() {
	close(m.done)
}

func (m *Manager) failedOutcome(s *Session) *Outcome {
	return &Outcome{
		Action:      ActionFailed,
		State:       StateFailed,
		PositionSec: s.PositionSec,
		UpstreamURL: m.cfg.UpstreamBaseURL + "/video/" + s.VideoID,
		Error:       types.ErrRefreshExhausted.Error(),
	}
}

func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := m.now().Add(-m.cfg.SessionIdleTimeout)
			m.mu.Lock()
			for id, s := range m.sessions {
				s.mu.Lock()
				idle := s.lastActive.Before(cutoff)
				s.mu.Unlock()
				if idle {
					delete(m.sessions, id)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (s *Session) view() *View {
	return &View{
		SessionID:   s.ID,
		VideoID:     s.VideoID,
		State:       s.lifecycle,
		Current:     s.current,
		Candidates:  len(s.candidates),
		PositionSec: s.PositionSec,
		Paused:      s.Paused,
	}
}

func newSessionID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:24]
	}
	return hex.EncodeToString(b)
}
