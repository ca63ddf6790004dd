// Package agent owns the browser-resident interception code: the service
// worker script served at the agent path and the per-response markup the
// content rewriter injects into proxied documents. Both are rendered from
// module-scope templates once at process start and treated as immutable
// configuration data.
package agent

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"privacy-proxy-go/internal/addr"
	"privacy-proxy-go/internal/model"
)

// noncePlaceholder marks the spot in the pre-rendered injected markup where
// the per-response CSP nonce is substituted.
const noncePlaceholder = "__PROXY_NONCE__"

// NewNonce returns a fresh unpredictable CSP nonce. Nonces are never reused
// across responses; a stale allowed nonce would let a blocked script execute.
func NewNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand.Read never fails
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Scripts holds the rendered agent assets.
type Scripts struct {
	workerJS string
	injected string // contains noncePlaceholder
}

// New renders the agent scripts for the given addressing scheme and exempt
// identity-provider hosts.
func New(scheme string, exemptHosts []string) (*Scripts, error) {
	if scheme != addr.SchemeQuery && scheme != addr.SchemePath {
		return nil, fmt.Errorf("agent: unknown addressing scheme %q", scheme)
	}
	if exemptHosts == nil {
		exemptHosts = []string{}
	}
	hostsJSON, err := json.Marshal(exemptHosts)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal exempt hosts: %w", err)
	}
	data := map[string]string{
		"Scheme":      scheme,
		"ProxyPath":   addr.ProxyPath,
		"AgentPath":   addr.AgentScriptPath,
		"ExemptHosts": string(hostsJSON),
	}

	worker, err := render("worker", codecJS+workerJS, data)
	if err != nil {
		return nil, err
	}
	injected, err := render("injected", injectedMarkup, data)
	if err != nil {
		return nil, err
	}
	return &Scripts{workerJS: worker, injected: injected}, nil
}

func render(name, text string, data map[string]string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("agent: parse %s template: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("agent: render %s: %w", name, err)
	}
	return sb.String(), nil
}

// ServiceWorkerJS returns the interception agent script body.
func (s *Scripts) ServiceWorkerJS() string {
	return s.workerJS
}

// InjectedMarkup returns the markup injected once per proxied document: the
// home affordance plus the interception script carrying the response's CSP
// nonce.
func (s *Scripts) InjectedMarkup(rc *model.RewriteContext) string {
	return strings.ReplaceAll(s.injected, noncePlaceholder, rc.Nonce)
}
