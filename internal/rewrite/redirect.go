package rewrite

import (
	"fmt"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/model"
)

// RedirectTranslator rewrites Location headers into proxy address space. The
// relay never follows redirects itself; the browser navigates to the
// rewritten address and the next request round-trips through the pipeline.
type RedirectTranslator struct {
	codec addr.Codec
}

// NewRedirectTranslator creates a RedirectTranslator over the active codec.
func NewRedirectTranslator(codec addr.Codec) *RedirectTranslator {
	return &RedirectTranslator{codec: codec}
}

// Rewrite resolves a Location value (absolute or relative) against the
// current target URL and re-encodes it as a proxy address.
func (t *RedirectTranslator) Rewrite(rc *model.RewriteContext, location string) (string, error) {
	resolved, err := rc.Target.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: resolve location %q: %v", addr.ErrInvalidTargetURL, location, err)
	}
	return t.codec.Encode(resolved)
}
