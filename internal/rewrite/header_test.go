package rewrite

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/model"
)

func testContext(t *testing.T, target string) *model.RewriteContext {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse target %q: %v", target, err)
	}
	return &model.RewriteContext{
		Target:      u,
		ProxyHost:   "proxy.test",
		ProxySecure: true,
		Nonce:       "abc123",
		Session: model.Session{
			BaseURL:        "https://example.com/",
			JSEnabled:      true,
			CookiesEnabled: true,
		},
	}
}

func queryCodec(t *testing.T) addr.Codec {
	t.Helper()
	c, err := addr.New(addr.SchemeQuery)
	if err != nil {
		t.Fatalf("addr.New(query): %v", err)
	}
	return c
}

func pathCodec(t *testing.T) addr.Codec {
	t.Helper()
	c, err := addr.New(addr.SchemePath)
	if err != nil {
		t.Fatalf("addr.New(path): %v", err)
	}
	return c
}

func TestOutboundRequest_AllowList(t *testing.T) {
	ht := NewHeaderTranslator(queryCodec(t))
	rc := testContext(t, "https://example.com/page")

	src := http.Header{}
	src.Set("Accept", "text/html")
	src.Set("Accept-Language", "en-US")
	src.Set("User-Agent", "test-agent/1.0")
	src.Set("Sec-CH-UA-Platform", `"Linux"`)
	src.Set("Cookie", "session=abc")
	src.Set("X-Forwarded-For", "203.0.113.7")
	src.Set("Accept-Encoding", "br")

	dst := ht.OutboundRequest(rc, src)

	for _, key := range []string{"Accept", "Accept-Language", "User-Agent", "Sec-Ch-Ua-Platform"} {
		if dst.Get(key) == "" {
			t.Errorf("expected header %s to be forwarded", key)
		}
	}
	for _, key := range []string{"Cookie", "X-Forwarded-For", "Accept-Encoding"} {
		if v := dst.Get(key); v != "" {
			t.Errorf("header %s should be dropped, got %q", key, v)
		}
	}
	if v := dst.Get("Origin"); v != "https://example.com" {
		t.Errorf("Origin = %q, want %q", v, "https://example.com")
	}
}

func TestTranslateReferer(t *testing.T) {
	ht := NewHeaderTranslator(queryCodec(t))
	rc := testContext(t, "https://example.com/page")

	tests := []struct {
		name    string
		referer string
		want    string
	}{
		{
			name:    "empty falls back to target root",
			referer: "",
			want:    "https://example.com/",
		},
		{
			name:    "proxy address decodes to target",
			referer: "https://proxy.test/proxy?url=" + url.QueryEscape("https://example.com/prev"),
			want:    "https://example.com/prev",
		},
		{
			name:    "foreign referer never leaks",
			referer: "https://other.test/somewhere",
			want:    "https://example.com/",
		},
		{
			name:    "proxy host but not a proxy address",
			referer: "https://proxy.test/",
			want:    "https://example.com/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := http.Header{}
			if tt.referer != "" {
				src.Set("Referer", tt.referer)
			}
			dst := ht.OutboundRequest(rc, src)
			if got := dst.Get("Referer"); got != tt.want {
				t.Errorf("Referer = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterResponse(t *testing.T) {
	ht := NewHeaderTranslator(queryCodec(t))

	src := http.Header{}
	src.Set("Content-Type", "text/html; charset=utf-8")
	src.Set("Cache-Control", "no-store")
	src.Set("Content-Security-Policy", "default-src 'none'")
	src.Set("Strict-Transport-Security", "max-age=63072000")
	src.Set("X-Frame-Options", "SAMEORIGIN")
	src.Add("Set-Cookie", "a=b")
	src.Set("Location", "https://example.com/next")

	dst := ht.FilterResponse(src)

	if v := dst.Get("Content-Type"); v != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want pass-through", v)
	}
	if v := dst.Get("Cache-Control"); v != "no-store" {
		t.Errorf("Cache-Control = %q, want pass-through", v)
	}
	for _, key := range []string{
		"Content-Security-Policy", "Strict-Transport-Security",
		"X-Frame-Options", "Set-Cookie", "Location",
	} {
		if v := dst.Get(key); v != "" {
			t.Errorf("header %s should be filtered, got %q", key, v)
		}
	}
}

func TestApplyCORS(t *testing.T) {
	ht := NewHeaderTranslator(queryCodec(t))

	t.Run("with request origin", func(t *testing.T) {
		dst := http.Header{}
		ht.ApplyCORS(dst, "https://proxy.test")
		if v := dst.Get("Access-Control-Allow-Origin"); v != "https://proxy.test" {
			t.Errorf("Allow-Origin = %q, want %q", v, "https://proxy.test")
		}
		if v := dst.Get("Access-Control-Allow-Credentials"); v != "true" {
			t.Errorf("Allow-Credentials = %q, want %q", v, "true")
		}
	})

	t.Run("without request origin", func(t *testing.T) {
		dst := http.Header{}
		ht.ApplyCORS(dst, "")
		if v := dst.Get("Access-Control-Allow-Origin"); v != "*" {
			t.Errorf("Allow-Origin = %q, want %q", v, "*")
		}
		if v := dst.Get("Access-Control-Allow-Credentials"); v != "" {
			t.Errorf("Allow-Credentials should be unset with wildcard origin, got %q", v)
		}
	})
}

func TestSynthesizeCSP(t *testing.T) {
	rc := testContext(t, "https://example.com/")

	t.Run("js enabled", func(t *testing.T) {
		rc.Session.JSEnabled = true
		csp := SynthesizeCSP(rc)
		if !strings.Contains(csp, "script-src 'nonce-abc123' 'self' 'unsafe-inline' 'unsafe-eval' *") {
			t.Errorf("csp missing broad script-src: %s", csp)
		}
		if !strings.Contains(csp, "frame-ancestors 'none'") {
			t.Errorf("csp missing frame-ancestors: %s", csp)
		}
	})

	t.Run("js disabled nonce only", func(t *testing.T) {
		rc.Session.JSEnabled = false
		csp := SynthesizeCSP(rc)
		if !strings.Contains(csp, "script-src 'nonce-abc123';") {
			t.Errorf("csp script-src should name only the nonce: %s", csp)
		}
		if strings.Contains(csp, "unsafe-inline' *") || strings.Contains(csp, "script-src 'nonce-abc123' 'self'") {
			t.Errorf("csp script-src too broad with js disabled: %s", csp)
		}
	})
}
