package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/apperr"
	"github.com/lalithlochan/ldninbox/internal/ingest"
)

// Receiver accepts notifications produced by this system
type Receiver interface {
	ReceiveTrusted(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// LocalDispatcher delivers to inboxes hosted by this system without a
// network round trip. The inbox is taken from the target's inbox_id query
// parameter and the response is synthesized as the inbox endpoint would
// answer.
type LocalDispatcher struct {
	receiver Receiver
	logger   *zap.Logger
}

func NewLocalDispatcher(receiver Receiver, logger *zap.Logger) *LocalDispatcher {
	return &LocalDispatcher{receiver: receiver, logger: logger}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, target string, body []byte) (*Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	inboxID, err := strconv.ParseInt(u.Query().Get("inbox_id"), 10, 64)
	if err != nil || inboxID <= 0 {
		return synthesized(http.StatusBadRequest, "", map[string]string{"error": "Missing or invalid inbox_id"}), nil
	}

	res, err := d.receiver.ReceiveTrusted(ctx, ingest.Request{
		InboxID:     inboxID,
		Body:        body,
		ContentType: ContentType,
	})
	if err != nil {
		status := apperr.HTTPStatus(err)
		payload := map[string]string{"error": apperr.Message(err)}
		if status == http.StatusInternalServerError {
			payload["detail"] = err.Error()
		}
		return synthesized(status, "", payload), nil
	}

	d.logger.Info("delivered internally",
		zap.Int64("inbox_id", inboxID),
		zap.Int64("notification_id", res.ID),
	)

	return synthesized(http.StatusCreated, res.IRI, res), nil
}

func synthesized(status int, location string, payload any) *Response {
	body, _ := json.Marshal(payload)

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	b.WriteString("Content-Type: application/json\r\n")
	if location != "" {
		fmt.Fprintf(&b, "Location: %s\r\n", location)
	}
	b.WriteString("X-Delivery: internal\r\n")

	return &Response{StatusCode: status, Header: b.String(), Body: body}
}

// OriginMatcher decides whether an inbox IRI is served by this system
type OriginMatcher struct {
	origins []origin
}

type origin struct {
	scheme string
	host   string
	port   string
	// path is the mount point under which this system serves inboxes; empty
	// matches any path
	path string
}

var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// NewOriginMatcher matches the origin and path of baseURL, and loopback hosts
// on listenPort
func NewOriginMatcher(baseURL string, listenPort int) (*OriginMatcher, error) {
	base, err := parseOrigin(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	base.path = strings.TrimRight(base.path, "/")

	m := &OriginMatcher{origins: []origin{base}}
	if listenPort > 0 {
		port := strconv.Itoa(listenPort)
		for _, host := range loopbackHosts {
			m.origins = append(m.origins,
				origin{scheme: "http", host: host, port: port},
				origin{scheme: "https", host: host, port: port},
			)
		}
	}
	return m, nil
}

// IsLocal reports whether target has the same scheme, host and port as one
// of the local origins and lies under its base path
func (m *OriginMatcher) IsLocal(target string) bool {
	o, err := parseOrigin(target)
	if err != nil {
		return false
	}
	for _, local := range m.origins {
		if o.scheme != local.scheme || o.host != local.host || o.port != local.port {
			continue
		}
		if local.path == "" || o.path == local.path || strings.HasPrefix(o.path, local.path+"/") {
			return true
		}
	}
	return false
}

func parseOrigin(raw string) (origin, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return origin{}, err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return origin{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return origin{}, fmt.Errorf("missing host in %q", raw)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if scheme == "https" {
			port = "443"
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}
	return origin{scheme: scheme, host: host, port: port, path: u.Path}, nil
}
