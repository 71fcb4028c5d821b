package httputil

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lox/rainwatch/internal/htmlutil"
)

const (
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10
	maxErrorText = 512
)

// NewClient returns an HTTP client with the standard timeout that sends the
// given User-Agent on every request. Upstreams such as api.met.no reject
// requests without one.
func NewClient(userAgent string) *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgentTransport{next: http.DefaultTransport, userAgent: userAgent},
	}
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// StatusError describes a non-200 upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// NewStatusError reads a bounded summary of resp's body into a StatusError.
func NewStatusError(resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: htmlutil.Summarize(string(b), maxErrorText)}
}

// Retryable reports whether the status is worth retrying: rate limiting and
// the auth failures some upstreams return while throttling.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusForbidden, http.StatusUnauthorized,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
