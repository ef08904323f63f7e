package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"vidproxy-go/pkg/types"
)

const upstreamBase = "https://upstream.example.com"

func docFromHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("failed to parse test HTML: %v", err)
	}
	return doc
}

func TestParseListing(t *testing.T) {
	html := `
	<html><body>
	<div class="video-item">
		<a href="/video/abc123/first-title" title="First Video Title">
			<img src="data:image/gif;base64,x" data-src="//img.example.com/abc123.jpg" alt="First Video Title">
		</a>
		<span class="duration">12:34</span>
		<span class="views">1.2M views</span>
	</div>
	<div class="video-item">
		<a href="/video/abc123/first-title-again" title="Duplicate Of First"></a>
	</div>
	<div class="video-item">
		<a href="/video/def456/second" title="Second Video Title">
			<img src="/thumbs/def456.jpg">
		</a>
	</div>
	<div class="video-item">
		<a href="/video/ghi789/short" title="ab"></a>
	</div>
	<ul><li class="next"><a href="?page=2">Next</a></li></ul>
	</body></html>`

	listing := parseListing(docFromHTML(t, html), upstreamBase)

	if len(listing.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(listing.Items))
	}

	first := listing.Items[0]
	if first.ID != "abc123" {
		t.Errorf("ID = %q, want abc123", first.ID)
	}
	if first.Title != "First Video Title" {
		t.Errorf("Title = %q", first.Title)
	}
	// Lazy-load attribute wins over the placeholder src, and
	// protocol-relative URLs are upgraded.
	if first.ThumbnailURL != "https://img.example.com/abc123.jpg" {
		t.Errorf("ThumbnailURL = %q", first.ThumbnailURL)
	}
	if first.Duration != "12:34" {
		t.Errorf("Duration = %q", first.Duration)
	}
	if first.DetailURL != upstreamBase+"/video/abc123/first-title" {
		t.Errorf("DetailURL = %q", first.DetailURL)
	}

	second := listing.Items[1]
	if second.ID != "def456" {
		t.Errorf("second ID = %q, want def456", second.ID)
	}
	if second.ThumbnailURL != upstreamBase+"/thumbs/def456.jpg" {
		t.Errorf("second ThumbnailURL = %q", second.ThumbnailURL)
	}

	if !listing.HasMore {
		t.Error("HasMore = false, want true")
	}
}

func TestParseListingEmptyPage(t *testing.T) {
	listing := parseListing(docFromHTML(t, "<html><body><p>blocked</p></body></html>"), upstreamBase)
	if len(listing.Items) != 0 {
		t.Errorf("got %d items, want 0", len(listing.Items))
	}
	if listing.HasMore {
		t.Error("HasMore = true, want false")
	}
	if listing.Items == nil {
		t.Error("Items is nil, want empty slice")
	}
}

func TestParseDetail(t *testing.T) {
	html := `
	<html><head>
	<meta property="og:image" content="/covers/abc123.jpg">
	<meta name="description" content="A description.">
	</head><body>
	<h1 class="video-title">Full Video Title</h1>
	<div class="categories"><a>Music</a><a>Live</a></div>
	<div class="tags"><a class="video-tag">concert</a></div>
	<script>
	var player = {
		videoSources = {"1080": "https:\/\/cdn.example.com\/v\/abc-1080.mp4", "480": "https:\/\/cdn.example.com\/v\/abc-480.mp4"}
	};
	</script>
	</body></html>`

	detail := parseDetail(docFromHTML(t, html), "abc123", upstreamBase+"/video/abc123", upstreamBase)
	if detail == nil {
		t.Fatal("parseDetail() = nil")
	}
	if detail.Title != "Full Video Title" {
		t.Errorf("Title = %q", detail.Title)
	}
	if detail.ThumbnailURL != upstreamBase+"/covers/abc123.jpg" {
		t.Errorf("ThumbnailURL = %q", detail.ThumbnailURL)
	}
	if len(detail.Categories) != 2 || detail.Categories[0] != "Music" {
		t.Errorf("Categories = %v", detail.Categories)
	}
	if len(detail.Tags) != 1 || detail.Tags[0] != "concert" {
		t.Errorf("Tags = %v", detail.Tags)
	}
	if len(detail.Streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(detail.Streams))
	}
}

func TestParseDetailWithoutTitle(t *testing.T) {
	detail := parseDetail(docFromHTML(t, "<html><body><p>404</p></body></html>"), "abc123", upstreamBase+"/video/abc123", upstreamBase)
	if detail != nil {
		t.Errorf("parseDetail() = %+v, want nil", detail)
	}
}

func TestMineStreams(t *testing.T) {
	tests := []struct {
		name    string
		scripts []string
		want    []types.StreamCandidate
	}{
		{
			name: "structured sources object",
			scripts: []string{
				`var videoSources = {"1080": "https://cdn.example.com/v/a-1080.mp4", "720p": "https://cdn.example.com/v/a-720.mp4"};`,
			},
			want: []types.StreamCandidate{
				{Quality: "1080", URL: "https://cdn.example.com/v/a-1080.mp4", MediaType: types.MediaTypeMP4},
				{Quality: "720p", URL: "https://cdn.example.com/v/a-720.mp4", MediaType: types.MediaTypeMP4},
			},
		},
		{
			name: "escaped slashes are unescaped",
			scripts: []string{
				`sources: {"480": "https:\/\/cdn.example.com\/v\/a-480.mp4"}`,
			},
			want: []types.StreamCandidate{
				{Quality: "480", URL: "https://cdn.example.com/v/a-480.mp4", MediaType: types.MediaTypeMP4},
			},
		},
		{
			name: "regex scan merges without duplicating structured hits",
			scripts: []string{
				`var qualities = {"720": "https://cdn.example.com/v/a-720.mp4"};
				 var hls = "https://cdn.example.com/hls/a/master.m3u8?tok=1";`,
			},
			want: []types.StreamCandidate{
				{Quality: "720", URL: "https://cdn.example.com/v/a-720.mp4", MediaType: types.MediaTypeMP4},
				{Quality: "auto", URL: "https://cdn.example.com/hls/a/master.m3u8?tok=1", MediaType: types.MediaTypeHLS},
			},
		},
		{
			name: "preview and thumbnail URLs are skipped",
			scripts: []string{
				`var p = "https://cdn.example.com/preview/a.mp4";
				 var t = "https://cdn.example.com/thumbs/a.mp4";
				 var real = "https://cdn.example.com/v/720/a.mp4";`,
			},
			want: []types.StreamCandidate{
				{Quality: "720p", URL: "https://cdn.example.com/v/720/a.mp4", MediaType: types.MediaTypeMP4},
			},
		},
		{
			name: "non-media URLs are skipped",
			scripts: []string{
				`var js = "https://cdn.example.com/player.js";
				 var img = "https://cdn.example.com/a.jpg";`,
			},
			want: nil,
		},
		{
			name:    "no scripts",
			scripts: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MineStreams(tt.scripts)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d candidates %v, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("candidate[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestListingPageURL(t *testing.T) {
	tests := []struct {
		name  string
		kind  types.PageKind
		query string
		page  int
		want  string
	}{
		{
			name: "listing first page",
			kind: types.PageKindListing,
			page: 1,
			want: upstreamBase + "/latest?sort=new",
		},
		{
			name: "listing later page",
			kind: types.PageKindListing,
			page: 3,
			want: upstreamBase + "/latest?sort=new&page=3",
		},
		{
			name:  "search query is escaped",
			kind:  types.PageKindSearch,
			query: "two words",
			page:  1,
			want:  upstreamBase + "/search?q=two+words",
		},
		{
			name:  "channel",
			kind:  types.PageKindChannel,
			query: "somechannel",
			page:  2,
			want:  upstreamBase + "/channel/somechannel?sort=new&page=2",
		},
		{
			name:  "model",
			kind:  types.PageKindModel,
			query: "somemodel",
			page:  1,
			want:  upstreamBase + "/model/somemodel?sort=new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := listingPageURL(upstreamBase, tt.kind, tt.query, tt.page)
			if got != tt.want {
				t.Errorf("listingPageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
