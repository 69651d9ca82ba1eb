// Package transport builds the HTTP client shared by the auth gateway and the
// portal client.
package transport

import (
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/gradewatch/internal/policy/ratelimit"
)

// Config controls client behavior.
type Config struct {
	Timeout time.Duration
	// Limiter throttles outbound requests per host; nil disables throttling.
	Limiter *ratelimit.Limiter
	// Base overrides the underlying round tripper (tests).
	Base http.RoundTripper
}

// New returns a client that never follows redirects: every hop of the SSO
// chain is inspected by the caller.
func New(cfg Config) *http.Client {
	base := cfg.Base
	if base == nil {
		base = newHTTPTransport()
	}
	var rt http.RoundTripper = base
	if cfg.Limiter != nil {
		rt = &ratelimit.Transport{Base: base, Limiter: cfg.Limiter}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Transport:     rt,
		Timeout:       timeout,
		CheckRedirect: NoRedirect,
	}
}

// NoRedirect makes the client return 3xx responses as-is.
func NoRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
