// Package airzone talks to the Airzone Local API over HTTP. It owns the single
// http.Client used for a controller, detects which scheme and path prefix the
// firmware answers on, and wraps every fetch in the fallback chains the different
// firmware generations require.
package airzone

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/normalize"
)

const (
	DefaultPort    = 3000
	DefaultTimeout = 5 * time.Second

	maxBodyBytes = 1 << 20
)

var (
	ErrClosed           = errors.New("airzone client closed")
	ErrUpdateFailed     = errors.New("update failed")
	ErrZonesUnavailable = errors.New("no zones returned by any strategy")
	ErrMalformed        = errors.New("response is not JSON")
)

// StatusError is returned for any response other than 200 OK.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// APIError is a 200 response whose body only carries the controller's error report.
type APIError struct {
	Method  string
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: controller error: %s", e.Method, e.Path, e.Message)
}

type Options struct {
	// Prefix is a previously detected or configured API prefix. It is probed first.
	Prefix string
	// Timeout bounds every individual request. Zero means DefaultTimeout.
	Timeout time.Duration
}

type Client struct {
	host    string
	port    int
	prefix  string
	timeout time.Duration

	mu       sync.Mutex
	http     *http.Client
	endpoint Endpoint
	detected bool
	probed   bool
	probeMu  sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func New(host string, port int, opts Options) *Client {
	if port == 0 {
		port = DefaultPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		host:    host,
		port:    port,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Client) Host() string { return c.host }
func (c *Client) Port() int    { return c.port }

// Close aborts in-flight requests and releases the HTTP client. Only the first
// call has any effect; every request made afterwards fails with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.http != nil {
			c.http.CloseIdleConnections()
			c.http = nil
		}
		c.mu.Unlock()
		log.Info().Str("host", c.host).Int("port", c.port).Msg("Airzone client closed")
	})
	return nil
}

func (c *Client) Closed() bool {
	return c.ctx.Err() != nil
}

func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		// Controllers serve self-signed certificates on the LAN.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		c.http = &http.Client{Transport: transport}
	}
	return c.http
}

func (c *Client) endpointURL(ep Endpoint, path string, query url.Values) string {
	u := url.URL{
		Scheme: ep.Scheme,
		Host:   net.JoinHostPort(c.host, strconv.Itoa(c.port)),
		Path:   ep.Prefix + path,
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// roundTrip performs one request and returns the raw status and body. Errors are
// transport failures only; any status code is returned to the caller.
func (c *Client) roundTrip(ctx context.Context, method string, ep Endpoint, path string, query url.Values, body any) (int, []byte, error) {
	if c.Closed() {
		return 0, nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpointURL(ep, path, query), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if c.Closed() {
			return 0, nil, ErrClosed
		}
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, data, nil
}

// request performs one request against ep and decodes the JSON answer whatever
// content type the controller declared. A PUT answered 200 with a body that does
// not decode succeeds with the body under "raw".
func (c *Client) request(ctx context.Context, method string, ep Endpoint, path string, query url.Values, body any) (any, error) {
	status, data, err := c.roundTrip(ctx, method, ep, path, query, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Method: method, Path: path, StatusCode: status, Body: snippet(data)}
	}
	raw, ok := normalize.Decode(data)
	if !ok {
		// A write the controller accepted stays accepted whatever it answered with.
		if method == http.MethodPut {
			return map[string]any{"raw": string(data)}, nil
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrMalformed)
	}
	if msg, isErr := normalize.ErrorMessage(raw); isErr {
		return nil, &APIError{Method: method, Path: path, Message: msg}
	}
	return raw, nil
}

func snippet(b []byte) string {
	const limit = 200
	s := string(bytes.TrimSpace(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
