package rewrite

import (
	"io"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/model"
)

// urlAttrs are the attributes rewritten on any element. href on <link> is
// gated separately by rel, and srcset has candidate-list syntax of its own.
var urlAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"poster":     true,
	"cite":       true,
	"longdesc":   true,
	"data":       true,
	"background": true,
	"manifest":   true,
}

// fetchedLinkRels are the <link> rel values that point at a fetched resource;
// only those get their href rewritten.
var fetchedLinkRels = map[string]bool{
	"stylesheet":       true,
	"icon":             true,
	"apple-touch-icon": true,
	"preload":          true,
	"prefetch":         true,
	"modulepreload":    true,
	"manifest":         true,
}

// rawTextTags are elements whose content the tokenizer yields as raw text.
var rawTextTags = map[string]bool{
	"script":   true,
	"style":    true,
	"textarea": true,
	"title":    true,
}

// Attribute is one key/value pair on an element handle.
type Attribute struct {
	Key string
	Val string
}

// Element is a mutable handle on a start tag passing through the stream.
// Handlers may read, replace and remove attributes or drop the element; the
// handle is independent of the underlying tokenizer.
type Element struct {
	Name string

	attrs       []Attribute
	selfClosing bool
	removed     bool
	changed     bool
}

// Attr returns the first value of the named attribute.
func (e *Element) Attr(key string) (string, bool) {
	for _, a := range e.attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr replaces the named attribute's value, adding it if absent.
func (e *Element) SetAttr(key, val string) {
	for i, a := range e.attrs {
		if a.Key == key {
			if a.Val != val {
				e.attrs[i].Val = val
				e.changed = true
			}
			return
		}
	}
	e.attrs = append(e.attrs, Attribute{Key: key, Val: val})
	e.changed = true
}

// RemoveAttr deletes every occurrence of the named attribute.
func (e *Element) RemoveAttr(key string) {
	kept := e.attrs[:0]
	for _, a := range e.attrs {
		if a.Key == key {
			e.changed = true
			continue
		}
		kept = append(kept, a)
	}
	e.attrs = kept
}

// Remove drops the element's tag from the output stream.
func (e *Element) Remove() {
	e.removed = true
	e.changed = true
}

// ElementHandler mutates one element as it streams past.
type ElementHandler func(rc *model.RewriteContext, e *Element)

// Injector produces the markup injected once per document: the interception
// script (carrying the CSP nonce) and the home affordance.
type Injector func(rc *model.RewriteContext) string

// ContentRewriter is the streaming HTML transform. It is stateless across
// responses; all per-response state lives in the RewriteContext and on the
// stack of Rewrite.
type ContentRewriter struct {
	codec    addr.Codec
	inject   Injector
	logger   *slog.Logger
	handlers map[string][]ElementHandler
}

// NewContentRewriter creates a ContentRewriter with the standard handler set
// registered: URL-bearing attribute rewriting on every element, rel-gated
// <link> handling, meta-refresh removal and _blank forcing.
func NewContentRewriter(codec addr.Codec, inject Injector, logger *slog.Logger) *ContentRewriter {
	r := &ContentRewriter{
		codec:    codec,
		inject:   inject,
		logger:   logger.With("component", "content_rewriter"),
		handlers: make(map[string][]ElementHandler),
	}
	r.Handle("*", r.rewriteCommonAttrs)
	r.Handle("link", r.rewriteLink)
	r.Handle("meta", removeMetaRefresh)
	return r
}

// Handle registers a handler for an element name; "*" runs on every element
// before name-specific handlers.
func (r *ContentRewriter) Handle(name string, h ElementHandler) {
	r.handlers[name] = append(r.handlers[name], h)
}

// Rewrite streams src to dst, transforming elements as they pass and
// injecting the interception markup exactly once, before </body> (or at end
// of stream for documents without one). The body is never buffered whole; the
// transform suspends and resumes with backpressure from either side.
func (r *ContentRewriter) Rewrite(dst io.Writer, src io.Reader, rc *model.RewriteContext) error {
	z := html.NewTokenizer(src)
	injected := false
	rawText := ""

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			if !injected {
				if _, err := io.WriteString(dst, r.inject(rc)); err != nil {
					return err
				}
			}
			return nil

		case html.TextToken:
			raw := z.Raw()
			if rawText == "style" {
				if _, err := io.WriteString(dst, r.rewriteCSSURLs(rc, string(raw))); err != nil {
					return err
				}
				continue
			}
			if _, err := dst.Write(raw); err != nil {
				return err
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			el := tokenElement(z, tt)
			if rawTextTags[el.Name] && !el.selfClosing {
				rawText = el.Name
			}
			for _, h := range r.handlers["*"] {
				h(rc, el)
			}
			for _, h := range r.handlers[el.Name] {
				h(rc, el)
			}
			if el.removed {
				continue
			}
			if !el.changed {
				if _, err := dst.Write(z.Raw()); err != nil {
					return err
				}
				continue
			}
			if err := writeTag(dst, el); err != nil {
				return err
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == rawText {
				rawText = ""
			}
			if !injected && (tag == "body" || tag == "html") {
				injected = true
				if _, err := io.WriteString(dst, r.inject(rc)); err != nil {
					return err
				}
			}
			if _, err := dst.Write(z.Raw()); err != nil {
				return err
			}

		default:
			if _, err := dst.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}

// tokenElement builds an Element handle from the tokenizer's current tag.
func tokenElement(z *html.Tokenizer, tt html.TokenType) *Element {
	name, hasAttr := z.TagName()
	el := &Element{
		Name:        string(name),
		selfClosing: tt == html.SelfClosingTagToken,
	}
	for hasAttr {
		var k, v []byte
		k, v, hasAttr = z.TagAttr()
		el.attrs = append(el.attrs, Attribute{Key: string(k), Val: string(v)})
	}
	return el
}

// writeTag serializes a modified element back into the stream.
func writeTag(dst io.Writer, el *Element) error {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(el.Name)
	for _, a := range el.attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteString(`="`)
		sb.WriteString(html.EscapeString(a.Val))
		sb.WriteByte('"')
	}
	if el.selfClosing {
		sb.WriteByte('/')
	}
	sb.WriteByte('>')
	_, err := io.WriteString(dst, sb.String())
	return err
}

// rewriteCommonAttrs is the wildcard handler: URL attributes, srcset, inline
// style, navigation target and (with JS disabled) inline event handlers.
func (r *ContentRewriter) rewriteCommonAttrs(rc *model.RewriteContext, el *Element) {
	for _, a := range append([]Attribute(nil), el.attrs...) {
		key := strings.ToLower(a.Key)
		switch {
		case urlAttrs[key]:
			if el.Name == "link" && key == "href" {
				continue // rel-gated in rewriteLink
			}
			r.rewriteURLAttr(rc, el, a.Key, a.Val)
		case key == "srcset" || key == "imagesrcset":
			if rewritten := r.rewriteSrcset(rc, a.Val); rewritten != a.Val {
				el.SetAttr(a.Key, rewritten)
			}
		case key == "style":
			if rewritten := r.rewriteCSSURLs(rc, a.Val); rewritten != a.Val {
				el.SetAttr(a.Key, rewritten)
			}
		case key == "target":
			if strings.EqualFold(strings.TrimSpace(a.Val), "_blank") {
				el.SetAttr(a.Key, "_self")
			}
		case key == "integrity" || key == "crossorigin":
			el.RemoveAttr(a.Key)
		case strings.HasPrefix(key, "on"):
			if !rc.Session.JSEnabled {
				el.RemoveAttr(a.Key)
			}
		}
	}
}

// rewriteURLAttr rewrites one attribute in place; on failure the original
// value is kept and the stream continues.
func (r *ContentRewriter) rewriteURLAttr(rc *model.RewriteContext, el *Element, key, val string) {
	rewritten, err := r.rewriteURL(rc, val)
	if err != nil {
		r.logger.Debug("attribute rewrite failed",
			"element", el.Name,
			"attr", key,
			"err", err,
		)
		return
	}
	if rewritten != val {
		el.SetAttr(key, rewritten)
	}
}

// rewriteLink applies the rel gate: only fetched-resource rels get their href
// rewritten; alternate, canonical and friends pass through untouched.
func (r *ContentRewriter) rewriteLink(rc *model.RewriteContext, el *Element) {
	rel, _ := el.Attr("rel")
	fetched := false
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if fetchedLinkRels[token] {
			fetched = true
			break
		}
	}
	if !fetched {
		return
	}
	if href, ok := el.Attr("href"); ok && href != "" {
		r.rewriteURLAttr(rc, el, "href", href)
	}
}

// removeMetaRefresh drops <meta http-equiv="refresh"> elements entirely; a
// refresh target cannot be rewritten reliably and is a navigation escape.
func removeMetaRefresh(_ *model.RewriteContext, el *Element) {
	if v, ok := el.Attr("http-equiv"); ok && strings.EqualFold(strings.TrimSpace(v), "refresh") {
		el.Remove()
	}
}

// rewriteSrcset rewrites each candidate URL in a srcset value independently,
// preserving its width/density descriptor.
func (r *ContentRewriter) rewriteSrcset(rc *model.RewriteContext, srcset string) string {
	candidates := strings.Split(srcset, ",")
	out := make([]string, 0, len(candidates))
	changed := false
	for _, c := range candidates {
		fields := strings.Fields(strings.TrimSpace(c))
		if len(fields) == 0 {
			out = append(out, c)
			continue
		}
		rewritten, err := r.rewriteURL(rc, fields[0])
		if err != nil || rewritten == fields[0] {
			out = append(out, strings.TrimSpace(c))
			continue
		}
		changed = true
		fields[0] = rewritten
		out = append(out, strings.Join(fields, " "))
	}
	if !changed {
		return srcset
	}
	return strings.Join(out, ", ")
}

// rewriteURL maps one attribute URL into proxy address space: resolve against
// the page's target URL, then encode. Pseudo-schemes, fragments and values
// that are already proxy addresses come back unchanged.
func (r *ContentRewriter) rewriteURL(rc *model.RewriteContext, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if hasUntouchedScheme(raw) {
		return raw, nil
	}
	if r.isProxyAddress(rc, raw) {
		return raw, nil
	}
	resolved, err := rc.Target.Parse(raw)
	if err != nil {
		return "", err
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return raw, nil
	}
	if resolved.Host == rc.ProxyHost && r.codec.IsProxyAddress(resolved.Path, resolved.Query()) {
		return raw, nil
	}
	return r.codec.Encode(resolved)
}

// isProxyAddress reports whether an attribute value is already an encoded
// proxy address, either origin-relative or absolute against the proxy host.
func (r *ContentRewriter) isProxyAddress(rc *model.RewriteContext, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Host != "" && u.Host != rc.ProxyHost {
		return false
	}
	return r.codec.IsProxyAddress(u.Path, u.Query())
}
