package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Caps applied to captured responses
const (
	MaxResponseHeaderBytes = 65535
	MaxResponseBodyBytes   = 1000000
)

// ContentType is sent with every outgoing notification
const ContentType = "application/ld+json"

// Response is what a dispatcher observed from the receiving inbox
type Response struct {
	Header     string
	Body       []byte
	StatusCode int
}

// Dispatcher posts a notification body to an inbox. A returned error means
// the exchange did not complete; the response is nil unless the status line
// and headers had already arrived, in which case it carries what was read.
type Dispatcher interface {
	Dispatch(ctx context.Context, target string, body []byte) (*Response, error)
}

// HTTPConfig configures outbound requests
type HTTPConfig struct {
	UserAgent          string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// HTTPDispatcher posts notifications to remote inboxes
type HTTPDispatcher struct {
	client    *http.Client
	logger    *zap.Logger
	userAgent string
}

// NewHTTPDispatcher creates a dispatcher. Redirects are followed with the
// default client policy.
func NewHTTPDispatcher(logger *zap.Logger, cfg HTTPConfig) *HTTPDispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "ldninbox/1.0"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for development receivers
	}

	return &HTTPDispatcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger:    logger,
		userAgent: userAgent,
	}
}

// Dispatch posts body to target and captures the final response
func (d *HTTPDispatcher) Dispatch(ctx context.Context, target string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	captured := &Response{
		StatusCode: resp.StatusCode,
		Header:     formatHeader(resp),
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodyBytes))
	captured.Body = respBody
	if err != nil {
		return captured, fmt.Errorf("read response: %w", err)
	}

	d.logger.Debug("inbox responded",
		zap.String("target", target),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("body_bytes", len(respBody)),
	)

	return captured, nil
}

// formatHeader renders the status line and header block of resp, truncated
// to MaxResponseHeaderBytes
func formatHeader(resp *http.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\r\n", resp.Proto, resp.Status)
	_ = resp.Header.Write(&b)
	return truncate(strings.ToValidUTF8(b.String(), ""), MaxResponseHeaderBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
