package proxy

import (
	"bufio"
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"vidproxy-go/pkg/urlutil"
)

// Rewriter rewrites HLS manifests so every URL reference points back
// through this proxy.
type Rewriter struct {
	baseURL string
}

// NewRewriter creates a manifest rewriter anchored at the proxy's
// public base URL.
func NewRewriter(baseURL string) *Rewriter {
	return &Rewriter{baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Tag attributes like EXT-X-KEY and EXT-X-MEDIA carry their URL in a
// quoted URI attribute.
var uriAttrRe = regexp.MustCompile(`URI="([^"]+)"`)

// Rewrite processes a manifest line by line:
//   - blank lines pass through unchanged
//   - comment/tag lines pass through, except quoted URI attributes
//     which are resolved and proxied
//   - every other line is a segment or variant-playlist reference,
//     resolved against the manifest's own URL and proxied
//
// Relative references are resolved before proxying so nested playlists
// fetched through the proxy keep working.
func (r *Rewriter) Rewrite(manifest []byte, manifestURL string) []byte {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(manifest))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == "":
			out.WriteString(line)
		case strings.HasPrefix(line, "#"):
			out.WriteString(r.rewriteTagLine(line, manifestURL))
		default:
			out.WriteString(r.ProxyURL(urlutil.ResolveURL(strings.TrimSpace(line), manifestURL)))
		}
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// rewriteTagLine proxies quoted URI attributes inside a tag line and
// leaves everything else byte-identical.
func (r *Rewriter) rewriteTagLine(line, manifestURL string) string {
	if !strings.Contains(line, `URI="`) {
		return line
	}
	return uriAttrRe.ReplaceAllStringFunc(line, func(match string) string {
		sub := uriAttrRe.FindStringSubmatch(match)
		resolved := urlutil.ResolveURL(sub[1], manifestURL)
		return `URI="` + r.ProxyURL(resolved) + `"`
	})
}

// ProxyURL wraps an absolute upstream URL in a proxy fetch URL.
func (r *Rewriter) ProxyURL(target string) string {
	return r.baseURL + "/proxy?url=" + url.QueryEscape(target)
}
