package rewrite

import (
	"strings"
	"testing"

	"privacy-proxy-go/internal/model"
)

func rewriteString(t *testing.T, r *ContentRewriter, rc *model.RewriteContext, in string) string {
	t.Helper()
	var sb strings.Builder
	if err := r.Rewrite(&sb, strings.NewReader(in), rc); err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	return sb.String()
}

func TestRewrite_Anchors(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/docs/guide")

	in := `<a href="/about" target="_blank">About</a>`
	got := rewriteString(t, r, rc, in)

	if !strings.Contains(got, `href="`+encoded(t, "https://example.com/about")+`"`) {
		t.Errorf("href not rewritten: %s", got)
	}
	if !strings.Contains(got, `target="_self"`) {
		t.Errorf("_blank not forced to _self: %s", got)
	}
}

func TestRewrite_RelativeResolution(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/docs/guide")

	got := rewriteString(t, r, rc, `<img src="images/fig.png">`)
	if !strings.Contains(got, encoded(t, "https://example.com/docs/images/fig.png")) {
		t.Errorf("relative src not resolved against page URL: %s", got)
	}
}

func TestRewrite_Srcset(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	in := `<img srcset="/small.jpg 480w, /large.jpg 2x">`
	got := rewriteString(t, r, rc, in)

	for _, want := range []string{
		encoded(t, "https://example.com/small.jpg") + " 480w",
		encoded(t, "https://example.com/large.jpg") + " 2x",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("srcset candidate missing %q in %s", want, got)
		}
	}
}

func TestRewrite_PseudoSchemesUntouched(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	tests := []string{
		`<a href="#section">jump</a>`,
		`<a href="javascript:void(0)">noop</a>`,
		`<img src="data:image/gif;base64,R0lGOD">`,
		`<a href="mailto:hi@example.com">mail</a>`,
	}
	for _, in := range tests {
		got := rewriteString(t, r, rc, in)
		if strings.Contains(got, "/proxy") {
			t.Errorf("pseudo-scheme value was rewritten: %s -> %s", in, got)
		}
	}
}

func TestRewrite_NoDoubleWrap(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	in := `<a href="` + encoded(t, "https://example.com/page") + `">once</a>`
	got := rewriteString(t, r, rc, in)
	if strings.Count(got, "url=") != 1 {
		t.Errorf("proxy address was wrapped again: %s", got)
	}
}

func TestRewrite_LinkRelGate(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	t.Run("stylesheet rewritten", func(t *testing.T) {
		got := rewriteString(t, r, rc, `<link rel="stylesheet" href="/main.css">`)
		if !strings.Contains(got, encoded(t, "https://example.com/main.css")) {
			t.Errorf("stylesheet href not rewritten: %s", got)
		}
	})

	t.Run("multi-token rel rewritten", func(t *testing.T) {
		got := rewriteString(t, r, rc, `<link rel="shortcut icon" href="/favicon.ico">`)
		if !strings.Contains(got, encoded(t, "https://example.com/favicon.ico")) {
			t.Errorf("icon href not rewritten: %s", got)
		}
	})

	t.Run("canonical untouched", func(t *testing.T) {
		in := `<link rel="canonical" href="https://example.com/page">`
		if got := rewriteString(t, r, rc, in); got != in {
			t.Errorf("canonical link was modified: %s", got)
		}
	})
}

func TestRewrite_MetaRefreshRemoved(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	in := `<head><meta http-equiv="refresh" content="0; url=https://evil.test/"><meta charset="utf-8"></head>`
	got := rewriteString(t, r, rc, in)
	if strings.Contains(got, "refresh") || strings.Contains(got, "evil.test") {
		t.Errorf("meta refresh survived: %s", got)
	}
	if !strings.Contains(got, `charset="utf-8"`) {
		t.Errorf("unrelated meta removed: %s", got)
	}
}

func TestRewrite_IntegrityAndEventHandlers(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	in := `<script src="/app.js" integrity="sha384-xyz" crossorigin="anonymous"></script>`
	got := rewriteString(t, r, rc, in)
	if strings.Contains(got, "integrity") || strings.Contains(got, "crossorigin") {
		t.Errorf("integrity metadata survived a rewritten URL: %s", got)
	}

	t.Run("inline handlers stripped when js disabled", func(t *testing.T) {
		rc := testContext(t, "https://example.com/")
		rc.Session.JSEnabled = false
		got := rewriteString(t, r, rc, `<body onload="track()"><p onclick="x()">hi</p></body>`)
		if strings.Contains(got, "onload") || strings.Contains(got, "onclick") {
			t.Errorf("inline handlers survived with js disabled: %s", got)
		}
	})

	t.Run("inline handlers kept when js enabled", func(t *testing.T) {
		got := rewriteString(t, r, rc, `<p onclick="x()">hi</p>`)
		if !strings.Contains(got, "onclick") {
			t.Errorf("inline handler stripped with js enabled: %s", got)
		}
	})
}

func TestRewrite_InlineStyle(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	got := rewriteString(t, r, rc, `<div style="background: url(/bg.png)">x</div>`)
	if !strings.Contains(got, "url=") {
		t.Errorf("style attribute url() not rewritten: %s", got)
	}
}

func TestRewrite_StyleElement(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	got := rewriteString(t, r, rc, `<style>body { background: url(/bg.png); }</style>`)
	if !strings.Contains(got, encoded(t, "https://example.com/bg.png")) {
		t.Errorf("style element content not rewritten: %s", got)
	}
}

func TestRewrite_ScriptContentUntouched(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	in := `<script>var re = /<a href="x">/; fetch("/api");</script>`
	got := rewriteString(t, r, rc, in)
	if !strings.Contains(got, `fetch("/api")`) {
		t.Errorf("script body was altered: %s", got)
	}
}

func TestRewrite_InjectsOnceBeforeBodyClose(t *testing.T) {
	inject := func(rc *model.RewriteContext) string {
		return `<script nonce="` + rc.Nonce + `">/*agent*/</script>`
	}
	r := NewContentRewriter(queryCodec(t), inject, discardLogger())
	rc := testContext(t, "https://example.com/")

	in := `<html><body><p>hi</p></body></html>`
	got := rewriteString(t, r, rc, in)

	if strings.Count(got, "/*agent*/") != 1 {
		t.Fatalf("injected markup count != 1: %s", got)
	}
	idx := strings.Index(got, "/*agent*/")
	bodyClose := strings.Index(got, "</body>")
	if idx > bodyClose {
		t.Errorf("injection after </body>: %s", got)
	}
	if !strings.Contains(got, `nonce="abc123"`) {
		t.Errorf("nonce missing from injection: %s", got)
	}
}

func TestRewrite_InjectsAtEOFWithoutBody(t *testing.T) {
	inject := func(_ *model.RewriteContext) string { return "<!--agent-->" }
	r := NewContentRewriter(queryCodec(t), inject, discardLogger())
	rc := testContext(t, "https://example.com/")

	got := rewriteString(t, r, rc, `<p>fragment with no body close`)
	if strings.Count(got, "<!--agent-->") != 1 {
		t.Errorf("expected one injection at end of stream: %s", got)
	}
	if !strings.HasSuffix(got, "<!--agent-->") {
		t.Errorf("injection should be last: %s", got)
	}
}

func TestRewrite_MalformedAttrContinues(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://example.com/")

	in := `<a href="http://[bad">x</a><a href="/good">y</a>`
	got := rewriteString(t, r, rc, in)
	if !strings.Contains(got, encoded(t, "https://example.com/good")) {
		t.Errorf("stream stopped at malformed URL: %s", got)
	}
	if !strings.Contains(got, "[bad") {
		t.Errorf("malformed value should pass through unchanged: %s", got)
	}
}

func TestRewrite_CustomHandler(t *testing.T) {
	r := NewContentRewriter(queryCodec(t), noInject, discardLogger())
	r.Handle("img", func(_ *model.RewriteContext, e *Element) {
		e.SetAttr("loading", "lazy")
	})
	rc := testContext(t, "https://example.com/")

	got := rewriteString(t, r, rc, `<img src="/a.png">`)
	if !strings.Contains(got, `loading="lazy"`) {
		t.Errorf("custom handler did not run: %s", got)
	}
}

func TestRewrite_PathScheme(t *testing.T) {
	r := NewContentRewriter(pathCodec(t), noInject, discardLogger())
	rc := testContext(t, "https://www.example.com/docs/")

	got := rewriteString(t, r, rc, `<a href="intro">start</a>`)
	if !strings.Contains(got, `href="/proxy/com.example.www/docs/intro"`) {
		t.Errorf("path-scheme rewrite wrong: %s", got)
	}
}
