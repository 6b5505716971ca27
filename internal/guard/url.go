package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// validateRemote checks the URL, fetches it with a hard deadline, and validates
// the response the same way an upload is validated. The host is checked after
// DNS resolution and again at dial time, so rebinding between the two cannot
// reach an internal address.
func (g *Guard) validateRemote(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := g.parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := g.checkURLSafety(ctx, parsed); err != nil {
		return nil, err
	}

	timeout := time.Duration(g.cfg.FetchTimeoutSeconds) * time.Second
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	req.Header.Set("User-Agent", "miwake/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.classifyFetchError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	max := g.cfg.MaxFileSizeBytes()
	if resp.ContentLength > max {
		return nil, fmt.Errorf("%w: content-length %d exceeds %d", ErrOversized, resp.ContentLength, max)
	}
	if ct := resp.Header.Get("Content-Type"); !g.mimeAllowed(ct) {
		return nil, fmt.Errorf("%w: response type %q", ErrBadType, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		return nil, g.classifyFetchError(rawURL, err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrOversized, max)
	}
	if !g.mimeAllowed(http.DetectContentType(data)) {
		return nil, fmt.Errorf("%w: fetched content is not an allowed image format", ErrBadType)
	}
	return data, nil
}

// parseURL enforces scheme and length limits before anything touches the network.
func (g *Guard) parseURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrMalformedURL)
	}
	if len(rawURL) > g.cfg.MaxURLLength {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrMalformedURL, len(rawURL), g.cfg.MaxURLLength)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrMalformedURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrMalformedURL)
	}
	return parsed, nil
}

// checkURLSafety rejects hostnames and resolved addresses that point at
// internal infrastructure. Runs once before the fetch and once per redirect hop.
func (g *Guard) checkURLSafety(ctx context.Context, u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	if g.blockedHostname(host) {
		g.logSSRF(u.String(), "blocked hostname")
		return fmt.Errorf("%w: host %q", ErrSSRFBlocked, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if g.blockedIP(ip) {
			g.logSSRF(u.String(), "blocked ip literal")
			return fmt.Errorf("%w: address %s", ErrSSRFBlocked, ip)
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", ErrFetchFailed, host, err)
	}
	for _, addr := range addrs {
		if g.blockedIP(addr.IP) {
			g.logSSRF(u.String(), fmt.Sprintf("resolves to %s", addr.IP))
			return fmt.Errorf("%w: %s resolves to %s", ErrSSRFBlocked, host, addr.IP)
		}
	}
	return nil
}

// blockedHostname matches names that always refer to internal infrastructure,
// before any DNS lookup happens.
func (g *Guard) blockedHostname(host string) bool {
	switch host {
	case "localhost":
		return !g.allowLoopback
	case "metadata.google.internal", "metadata":
		return true
	}
	return strings.HasSuffix(host, ".internal")
}

// blockedIP reports whether the address is loopback, link-local (cloud metadata
// included), private (RFC 1918 or IPv6 ULA), unspecified, or multicast.
func (g *Guard) blockedIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return !g.allowLoopback
	}
	return ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

// newFetchClient builds the HTTP client used for remote fetches. The dialer's
// Control hook re-checks the resolved address at connect time, which closes the
// window between the pre-fetch DNS check and the actual connection.
func (g *Guard) newFetchClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSSRFBlocked, err)
			}
			ip := net.ParseIP(host)
			if ip == nil || g.blockedIP(ip) {
				return fmt.Errorf("%w: dial %s", ErrSSRFBlocked, host)
			}
			return nil
		},
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConns:          10,
		// No proxy: fetches on behalf of untrusted input must not be routed
		// through environment-configured proxies.
		Proxy: nil,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= g.cfg.MaxRedirects {
				return fmt.Errorf("%w: more than %d redirects", ErrFetchFailed, g.cfg.MaxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: redirect to scheme %q", ErrSSRFBlocked, req.URL.Scheme)
			}
			return g.checkURLSafety(req.Context(), req.URL)
		},
	}
}

// classifyFetchError maps transport failures onto the sentinel taxonomy. SSRF
// blocks raised inside the dialer or redirect hook keep their identity.
func (g *Guard) classifyFetchError(rawURL string, err error) error {
	if errors.Is(err, ErrSSRFBlocked) {
		g.logSSRF(rawURL, "blocked at dial")
		return fmt.Errorf("%w: %s", ErrSSRFBlocked, rawURL)
	}
	if errors.Is(err, ErrOversized) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrFetchTimeout, rawURL)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrFetchTimeout, rawURL)
	}
	if errors.Is(err, ErrFetchFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrFetchFailed, err)
}

// logSSRF records a blocked request as a security event, distinct from ordinary
// validation failures.
func (g *Guard) logSSRF(rawURL, reason string) {
	g.logger.Warn("ssrf attempt blocked",
		zap.String("event", "security"),
		zap.String("url", rawURL),
		zap.String("reason", reason),
	)
}
