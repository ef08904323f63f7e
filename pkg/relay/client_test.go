package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/types"
)

func testLogger() *logging.Logger {
	return logging.New("error", false, nil)
}

func TestFetchSourcesFirstRelayWins(t *testing.T) {
	calls := 0
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"streams":{"1080p":"https://cdn.example.com/v/a-1080.mp4"}}`))
	}))
	defer good.Close()
	never := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("second relay should not be called")
	}))
	defer never.Close()

	c := NewClient([]string{good.URL + "/?url=", never.URL + "/?url="}, time.Second, nil, testLogger())

	got, err := c.FetchSources(context.Background(), "https://upstream.example.com/api/video/abc")
	if err != nil {
		t.Fatalf("FetchSources() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("first relay called %d times, want 1", calls)
	}
	if len(got) != 1 || got[0].URL != "https://cdn.example.com/v/a-1080.mp4" {
		t.Errorf("candidates = %+v", got)
	}
	if got[0].MediaType != types.MediaTypeMP4 {
		t.Errorf("MediaType = %q, want mp4", got[0].MediaType)
	}
}

func TestFetchSourcesFallsThroughFailedRelays(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sources":[{"quality":"720p","url":"https://cdn.example.com/v/a-720.mp4"}]}`))
	}))
	defer good.Close()

	c := NewClient([]string{bad.URL + "/?url=", good.URL + "/?url="}, time.Second, nil, testLogger())

	got, err := c.FetchSources(context.Background(), "https://upstream.example.com/api/video/abc")
	if err != nil {
		t.Fatalf("FetchSources() error: %v", err)
	}
	if len(got) != 1 || got[0].Quality != "720p" {
		t.Errorf("candidates = %+v", got)
	}
}

func TestFetchSourcesAllRelaysFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	c := NewClient([]string{bad.URL + "/?url=", bad.URL + "/?u="}, time.Second, nil, testLogger())

	_, err := c.FetchSources(context.Background(), "https://upstream.example.com/api/video/abc")
	if !errors.Is(err, types.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestFetchSourcesContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient([]string{"https://relay.example.com/?url="}, time.Second, nil, testLogger())

	_, err := c.FetchSources(ctx, "https://upstream.example.com/api/video/abc")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "streams map",
			body: `{"streams":{"1080p":"https://c.example.com/a.mp4","480p":"https://c.example.com/b.mp4"}}`,
			want: 2,
		},
		{
			name: "duplicate URLs collapse",
			body: `{"streams":{"1080p":"https://c.example.com/a.mp4"},"files":{"hd":"https://c.example.com/a.mp4"}}`,
			want: 1,
		},
		{
			name: "non-media URLs dropped",
			body: `{"sources":[{"quality":"hd","url":"https://c.example.com/player.html"}]}`,
			want: 0,
		},
		{
			name: "unparseable body",
			body: `<html>blocked</html>`,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePayload([]byte(tt.body))
			if len(got) != tt.want {
				t.Errorf("parsePayload() = %d candidates %v, want %d", len(got), got, tt.want)
			}
		})
	}
}
