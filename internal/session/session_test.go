package session

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"privacy-proxy-go/internal/model"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name     string
		cookies  []*http.Cookie
		defaults model.Session
		want     model.Session
	}{
		{
			name:     "no cookies uses defaults",
			defaults: model.Session{JSEnabled: true},
			want:     model.Session{JSEnabled: true},
		},
		{
			name: "flags parsed",
			cookies: []*http.Cookie{
				{Name: CookieJSEnabled, Value: "true"},
				{Name: CookieCookiesEnabled, Value: "false"},
			},
			defaults: model.Session{CookiesEnabled: true},
			want:     model.Session{JSEnabled: true, CookiesEnabled: false},
		},
		{
			name: "garbage flag falls back",
			cookies: []*http.Cookie{
				{Name: CookieJSEnabled, Value: "yes-please"},
			},
			defaults: model.Session{JSEnabled: true},
			want:     model.Session{JSEnabled: true},
		},
		{
			name: "base url unescaped",
			cookies: []*http.Cookie{
				{Name: CookieBaseURL, Value: url.QueryEscape("https://example.com/home")},
			},
			want: model.Session{BaseURL: "https://example.com/home"},
		},
		{
			name: "relative base url ignored",
			cookies: []*http.Cookie{
				{Name: CookieBaseURL, Value: url.QueryEscape("/not/absolute")},
			},
			want: model.Session{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/proxy?url=x", http.NoBody)
			for _, c := range tt.cookies {
				r.AddCookie(c)
			}
			got := FromRequest(r, tt.defaults)
			if got != tt.want {
				t.Errorf("FromRequest = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{CookieBaseURL, true},
		{CookieJSEnabled, true},
		{"Proxy-Current-Url", true},
		{"session", false},
		{"_ga", false},
	}
	for _, tt := range tests {
		if got := IsReserved(tt.name); got != tt.want {
			t.Errorf("IsReserved(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBaseURLCookie(t *testing.T) {
	c := BaseURLCookie("https://example.com/a b", true)
	if c.Name != CookieBaseURL {
		t.Errorf("Name = %q, want %q", c.Name, CookieBaseURL)
	}
	if c.Value != url.QueryEscape("https://example.com/a b") {
		t.Errorf("Value = %q, not query-escaped", c.Value)
	}
	if !c.Secure || c.Path != "/" {
		t.Errorf("cookie scope = Path %q Secure %v, want / true", c.Path, c.Secure)
	}
}
