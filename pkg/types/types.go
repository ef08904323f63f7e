// Package types defines core domain types used throughout the application.
package types

import (
	"strconv"
	"strings"
	"time"
)

// MediaType identifies how a stream candidate is played.
type MediaType string

const (
	MediaTypeMP4   MediaType = "mp4"
	MediaTypeHLS   MediaType = "hls"
	MediaTypeEmbed MediaType = "embed"
)

// PageKind identifies the kind of upstream page, used to pick an
// extraction strategy per kind.
type PageKind string

const (
	PageKindListing PageKind = "listing"
	PageKindSearch  PageKind = "search"
	PageKindChannel PageKind = "channel"
	PageKindModel   PageKind = "model"
	PageKindDetail  PageKind = "detail"
)

// VideoRecord is one video as extracted from an upstream listing.
// Records are immutable once returned; downstream components wrap
// them but never mutate them.
type VideoRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	Duration     string `json:"duration"`
	ViewsLabel   string `json:"views_label,omitempty"`
	QualityLabel string `json:"quality_label,omitempty"`
	Channel      string `json:"channel,omitempty"`
	DetailURL    string `json:"detail_url"`
}

// VideoDetail is the full detail-page view of a video.
type VideoDetail struct {
	VideoRecord
	Description string            `json:"description,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Streams     []StreamCandidate `json:"streams"`
}

// StreamCandidate is one playable option for a video.
type StreamCandidate struct {
	Quality   string    `json:"quality"`
	URL       string    `json:"url"`
	MediaType MediaType `json:"media_type"`
}

// QualityRank returns the numeric resolution of the candidate's quality
// label, or -1 for non-numeric qualities ("auto", "embed") which sort
// after every numeric one.
func (c StreamCandidate) QualityRank() int {
	q := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(c.Quality)), "p")
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return -1
	}
	return n
}

// Listing is one page of extracted video records.
type Listing struct {
	Items   []VideoRecord `json:"items"`
	HasMore bool          `json:"has_more"`
}

// TrackedSourceState is the persisted resolution result for one video id.
// Overwritten whole on refresh, never appended to.
type TrackedSourceState struct {
	Sources         []StreamCandidate `json:"sources"`
	ResolvedAt      time.Time         `json:"resolved_at"`
	RefreshAttempts int               `json:"refresh_attempts"`
}

// HasDirectSources reports whether any stored candidate is directly
// playable (mp4 or hls, not an embed fallback).
func (s *TrackedSourceState) HasDirectSources() bool {
	if s == nil {
		return false
	}
	for _, c := range s.Sources {
		if c.MediaType == MediaTypeMP4 || c.MediaType == MediaTypeHLS {
			return true
		}
	}
	return false
}

// StreamResult is the payload served to playback clients.
type StreamResult struct {
	Success          bool              `json:"success"`
	Sources          []StreamCandidate `json:"sources"`
	HasDirectSources bool              `json:"hasDirectSources"`
	Error            string            `json:"error,omitempty"`
}
