package rewrite

import (
	"fmt"
	"regexp"
	"strings"

	"privacy-proxy-go/internal/model"
)

// cssURLPattern matches url(...) tokens in stylesheet text, capturing the
// single-quoted, double-quoted or bare URL form separately so quoting can be
// preserved.
var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:'([^']*)'|"([^"]*)"|([^)'"\s]+))\s*\)`)

// rewriteCSSURLs rewrites every url(...) reference in stylesheet text into
// proxy address space. References that cannot be rewritten keep their
// original value.
func (r *ContentRewriter) rewriteCSSURLs(rc *model.RewriteContext, css string) string {
	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		raw := sub[1]
		quote := "'"
		if raw == "" && sub[2] != "" {
			raw = sub[2]
			quote = `"`
		}
		if raw == "" {
			raw = sub[3]
		}
		if raw == "" || hasUntouchedScheme(raw) {
			return match
		}
		rewritten, err := r.rewriteURL(rc, raw)
		if err != nil || rewritten == raw {
			return match
		}
		return fmt.Sprintf("url(%s%s%s)", quote, rewritten, quote)
	})
}

// RewriteStylesheet rewrites a whole text/css document. Used by the relay for
// standalone stylesheet responses; inline <style> text and style attributes
// go through the same url(...) rewrite during HTML streaming.
func (r *ContentRewriter) RewriteStylesheet(rc *model.RewriteContext, css string) string {
	return r.rewriteCSSURLs(rc, css)
}

// hasUntouchedScheme reports whether a URL value must be left as-is: fragments
// and pseudo-schemes that carry no fetchable location.
func hasUntouchedScheme(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	return v == "" ||
		strings.HasPrefix(v, "#") ||
		strings.HasPrefix(v, "data:") ||
		strings.HasPrefix(v, "blob:") ||
		strings.HasPrefix(v, "javascript:") ||
		strings.HasPrefix(v, "mailto:") ||
		strings.HasPrefix(v, "tel:") ||
		strings.HasPrefix(v, "about:")
}
