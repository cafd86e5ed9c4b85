package esb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"
)

// Session carries the cookies set during login. It is valid for a single
// export and is not safe for concurrent use.
type Session struct {
	client     *http.Client
	noRedirect *http.Client
	userAgent  string
}

// newSession creates an empty session. Both clients share the cookie jar;
// noRedirect hands 3xx responses back to the caller.
func newSession(transport http.RoundTripper, timeout time.Duration, userAgent string) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}
	transport = otelhttp.NewTransport(
		transport,
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return "esb " + r.Method + " " + r.URL.Path
		}),
	)

	return &Session{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   timeout,
		},
		noRedirect: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
	}, nil
}

// get issues a GET following redirects and returns the final response body
func (s *Session) get(ctx context.Context, rawURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	return s.do(s.client, req)
}

// postForm issues a url-encoded POST without following redirects
func (s *Session) postForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return s.do(s.noRedirect, req)
}

func (s *Session) do(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp, body, nil
}

// Close releases idle connections held by the session
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// sample truncates a response body for log and error messages
func sample(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
