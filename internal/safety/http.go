package safety

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBodyTooLarge indicates a response body exceeded the configured read limit.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	// Timeout bounds dialing and response headers. Body reads are not
	// limited so large artifacts can stream as long as needed.
	Timeout time.Duration
	// VerifyTLS enables certificate and host name validation. When false
	// every certificate is accepted.
	VerifyTLS bool
	// UserAgent is sent with every request when set.
	UserAgent string
}

// NewHTTPClient creates the client used to talk to artifact repositories.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.VerifyTLS,
		},
	}
	var rt http.RoundTripper = transport
	if opts.UserAgent != "" {
		rt = &userAgentTransport{next: transport, userAgent: opts.UserAgent}
	}
	return &http.Client{Transport: rt}
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// ReadAllWithLimit reads from r and fails if content exceeds limit bytes.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid read limit: %d", limit)
	}
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

// ValidateHTTPURL ensures the URL parses as HTTP(S) and contains no userinfo.
func ValidateHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL host is required")
	}
	if u.User != nil {
		return nil, fmt.Errorf("URL userinfo is not allowed")
	}
	return u, nil
}

// JoinURL appends a slash separated repository path to base.
func JoinURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}
