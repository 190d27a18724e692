package config

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/gotrs-io/shopwalk/internal/version"
)

// ProbeResult describes one reachability check.
type ProbeResult struct {
	BaseURL  string
	Path     string
	Status   int
	Cookies  int
	Duration time.Duration
}

// Reachable reports whether the target answered with a non-5xx status.
func (r *ProbeResult) Reachable() bool {
	return r != nil && r.Status > 0 && r.Status < 500
}

// Prober checks that the storefront is up before a browser is launched.
type Prober struct {
	DialTimeout time.Duration
	Timeout     time.Duration
	// Paths are tried in order; the first answer wins.
	Paths []string
}

// DefaultProber probes the home page, then the login page.
func DefaultProber() *Prober {
	return &Prober{
		DialTimeout: 500 * time.Millisecond,
		Timeout:     3 * time.Second,
		Paths:       []string{"/", "/login"},
	}
}

// Probe dials the origin, then issues GET requests through a cookie jar so
// session cookies set by the storefront are counted.
func (p *Prober) Probe(ctx context.Context, base string) (*ProbeResult, error) {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", base)
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	start := time.Now()
	d := net.Dialer{Timeout: p.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	_ = conn.Close()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client := &http.Client{Timeout: p.Timeout, Jar: jar}

	origin := strings.TrimRight(u.Scheme+"://"+u.Host, "/")
	var lastErr error
	for _, path := range p.Paths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", version.UserAgent())
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return &ProbeResult{
			BaseURL:  origin,
			Path:     path,
			Status:   resp.StatusCode,
			Cookies:  len(jar.Cookies(req.URL)),
			Duration: time.Since(start),
		}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no probe paths configured")
	}
	return nil, fmt.Errorf("probe %s: %w", origin, lastErr)
}

// Detect returns the first reachable URL among base and its local
// variants. When nothing answers, base is returned with the last error.
func (p *Prober) Detect(ctx context.Context, base string) (string, error) {
	var lastErr error
	for _, candidate := range Candidates(base) {
		res, err := p.Probe(ctx, candidate)
		if err == nil && res.Reachable() {
			return candidate, nil
		}
		if err == nil {
			err = fmt.Errorf("%s answered %d", candidate, res.Status)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return base, lastErr
}

// Candidates lists base followed by localhost and 127.0.0.1 on the same
// port and on the common dev-server ports, without duplicates.
func Candidates(base string) []string {
	out := []string{base}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return out
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	port := u.Port()
	if port == "" {
		port = "3000"
	}
	seen := map[string]bool{strings.TrimRight(base, "/"): true}
	for _, host := range []string{"localhost", "127.0.0.1"} {
		for _, p := range []string{port, "3000", "3001", "8080"} {
			c := scheme + "://" + net.JoinHostPort(host, p)
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
