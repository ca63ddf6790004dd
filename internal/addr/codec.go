// Package addr implements the bidirectional mapping between absolute target
// URLs and origin-relative proxy addresses. Two interchangeable schemes exist:
// query-parameter encoding and path-based reversed-host encoding. All other
// packages depend only on the Codec interface.
package addr

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Control paths reserved by the relay. A codec must never produce one of
// these as an encode output, so that proxy addresses stay unambiguous with
// control routes.
const (
	ProxyPath       = "/proxy"
	AgentScriptPath = "/sw.js"
	HealthPath      = "/healthz"
	StatusPath      = "/statusz"
)

// ErrInvalidTargetURL is returned when an input is not a parseable absolute
// http(s) URL, or cannot be represented by the active addressing scheme.
var ErrInvalidTargetURL = errors.New("invalid target URL")

// Codec maps absolute target URLs to origin-relative proxy addresses and back.
// Implementations must satisfy Decode(Encode(u)) == u for every URL they
// accept, up to URL normalization: the path scheme rebuilds the query from
// parsed values, so parameter order and percent-escaping may be normalized
// while the decoded values stay identical.
type Codec interface {
	// Encode returns the origin-relative proxy address for an absolute target URL.
	Encode(target *url.URL) (string, error)
	// Decode recovers the absolute target URL from a request path and query.
	Decode(path string, query url.Values) (*url.URL, error)
	// IsProxyAddress reports whether a request path and query form a
	// well-shaped proxy address for this scheme.
	IsProxyAddress(path string, query url.Values) bool
	// ScopePath returns the proxy-address path prefix owned by a target
	// scheme and host, used to scope rewritten cookies. Every address the
	// codec encodes for that scheme and host has this prefix.
	ScopePath(scheme, host string) string
}

// Scheme names accepted by New.
const (
	SchemeQuery = "query"
	SchemePath  = "path"
)

// New returns the codec for the named addressing scheme.
func New(scheme string) (Codec, error) {
	switch scheme {
	case SchemeQuery:
		return QueryCodec{}, nil
	case SchemePath:
		return PathCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown addressing scheme %q", scheme)
	}
}

// Normalize parses user-entered text into an absolute target URL, defaulting
// to https when no scheme is given (e.g. "example.com" → "https://example.com").
func Normalize(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidTargetURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return validTarget(raw)
}

// validTarget parses raw and verifies it is an absolute http(s) URL with a host.
func validTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidTargetURL, raw)
	}
	return u, nil
}

// QueryCodec encodes the whole target URL as a percent-encoded "url" query
// parameter: /proxy?url=https%3A%2F%2Fexample.com%2Fpath.
type QueryCodec struct{}

func (QueryCodec) Encode(target *url.URL) (string, error) {
	if target == nil {
		return "", ErrInvalidTargetURL
	}
	if _, err := validTarget(target.String()); err != nil {
		return "", err
	}
	return ProxyPath + "?url=" + url.QueryEscape(target.String()), nil
}

func (QueryCodec) Decode(path string, query url.Values) (*url.URL, error) {
	if path != ProxyPath {
		return nil, fmt.Errorf("%w: path %q is not a proxy address", ErrInvalidTargetURL, path)
	}
	raw := query.Get("url")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing url parameter", ErrInvalidTargetURL)
	}
	return validTarget(raw)
}

func (QueryCodec) IsProxyAddress(path string, query url.Values) bool {
	return path == ProxyPath && query.Get("url") != ""
}

// ScopePath returns the shared proxy path. The query scheme addresses every
// host through the same path, so cookie scoping cannot distinguish hosts;
// callers needing per-host cookie isolation should run the path scheme.
func (QueryCodec) ScopePath(_, _ string) string {
	return ProxyPath
}

// schemeMarker prefixes the reversed host when the target scheme is plain
// http; its absence means https.
const schemeMarker = "http."

// PathCodec embeds the target host, dot-labels reversed, as the first path
// segment: /proxy/com.example.www/path?query. Non-default ports are not
// representable and are rejected at encode time.
type PathCodec struct{}

func (PathCodec) Encode(target *url.URL) (string, error) {
	if target == nil {
		return "", ErrInvalidTargetURL
	}
	if _, err := validTarget(target.String()); err != nil {
		return "", err
	}
	if target.Port() != "" {
		return "", fmt.Errorf("%w: path scheme cannot represent port %q", ErrInvalidTargetURL, target.Port())
	}
	host := strings.ToLower(target.Hostname())
	rev := reverseHost(host)
	if strings.HasPrefix(rev, schemeMarker) {
		// A host whose top-level label is "http" would collide with the
		// scheme marker after reversal.
		return "", fmt.Errorf("%w: host %q is ambiguous under the path scheme", ErrInvalidTargetURL, host)
	}
	seg := rev
	if target.Scheme == "http" {
		seg = schemeMarker + rev
	}
	p := target.EscapedPath()
	if p == "" {
		p = "/"
	}
	out := ProxyPath + "/" + seg + p
	if target.RawQuery != "" {
		out += "?" + target.RawQuery
	}
	return out, nil
}

func (PathCodec) Decode(path string, query url.Values) (*url.URL, error) {
	rest, ok := strings.CutPrefix(path, ProxyPath+"/")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: path %q is not a proxy address", ErrInvalidTargetURL, path)
	}
	seg, tail, found := strings.Cut(rest, "/")
	if seg == "" {
		return nil, fmt.Errorf("%w: empty host segment", ErrInvalidTargetURL)
	}
	scheme := "https"
	if cut, isHTTP := strings.CutPrefix(seg, schemeMarker); isHTTP {
		scheme = "http"
		seg = cut
		if seg == "" {
			return nil, fmt.Errorf("%w: empty host segment", ErrInvalidTargetURL)
		}
	}
	targetPath := "/"
	if found {
		targetPath = "/" + tail
	}
	u := &url.URL{
		Scheme:   scheme,
		Host:     reverseHost(seg),
		Path:     targetPath,
		RawQuery: query.Encode(),
	}
	return validTarget(u.String())
}

func (PathCodec) IsProxyAddress(path string, _ url.Values) bool {
	rest, ok := strings.CutPrefix(path, ProxyPath+"/")
	return ok && rest != ""
}

// ScopePath mirrors Encode's host-segment construction, scheme marker
// included, so a cookie's Path prefixes every address encoded for the same
// scheme and host.
func (PathCodec) ScopePath(scheme, host string) string {
	seg := reverseHost(strings.ToLower(host))
	if scheme == "http" {
		seg = schemeMarker + seg
	}
	return ProxyPath + "/" + seg
}

// reverseHost reverses the dot-separated labels of a host. Single-label hosts
// reverse to themselves; the operation is its own inverse.
func reverseHost(host string) string {
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}
