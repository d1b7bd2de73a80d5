package airzone

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// CandidatePrefixes are the base paths Local API firmwares have been seen serving on.
var CandidatePrefixes = []string{"", "/api/v1", "/airzone/local/api/v1", "/lapi/v1"}

var schemes = []string{"http", "https"}

type Endpoint struct {
	Scheme string `json:"scheme"`
	Prefix string `json:"api_prefix"`
}

// Alternate returns the same prefix over the other scheme.
func (e Endpoint) Alternate() Endpoint {
	if e.Scheme == "https" {
		return Endpoint{Scheme: "http", Prefix: e.Prefix}
	}
	return Endpoint{Scheme: "https", Prefix: e.Prefix}
}

type probeStep struct {
	method string
	path   string
	query  url.Values
	body   any
}

// Cheap requests every firmware answers one way or another.
var probeSteps = []probeStep{
	{method: http.MethodGet, path: "/webserver"},
	{method: http.MethodPost, path: "/webserver", body: map[string]any{}},
	{method: http.MethodGet, path: "/hvac", query: url.Values{"systemid": {"0"}, "zoneid": {"0"}}},
	{method: http.MethodPost, path: "/hvac", body: map[string]any{"systemID": 0, "zoneID": 0}},
}

// Candidates lists every endpoint the prober tries, in order. A configured prefix
// goes first.
func (c *Client) Candidates() []Endpoint {
	prefixes := make([]string, 0, len(CandidatePrefixes)+1)
	seen := make(map[string]bool)
	for _, p := range append([]string{c.prefix}, CandidatePrefixes...) {
		if seen[p] {
			continue
		}
		seen[p] = true
		prefixes = append(prefixes, p)
	}

	var out []Endpoint
	for _, p := range prefixes {
		for _, s := range schemes {
			out = append(out, Endpoint{Scheme: s, Prefix: p})
		}
	}
	return out
}

// Endpoint returns the endpoint requests should use. It probes only when no probe
// has run yet; after a failed probe it keeps returning the fallback candidate until
// Probe or ResetEndpoint is called.
func (c *Client) Endpoint(ctx context.Context) Endpoint {
	c.mu.Lock()
	if c.detected || c.probed {
		ep := c.endpoint
		c.mu.Unlock()
		return ep
	}
	c.mu.Unlock()
	return c.Probe(ctx)
}

// CurrentEndpoint reports the memoized endpoint without touching the network.
func (c *Client) CurrentEndpoint() (Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint, c.detected
}

// SetEndpoint records ep as the endpoint to use from now on.
func (c *Client) SetEndpoint(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = ep
	c.detected = true
}

// ResetEndpoint forgets the detected endpoint so the next request probes again.
func (c *Client) ResetEndpoint() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = Endpoint{}
	c.detected = false
	c.probed = false
}

// Probe walks the candidates and memoizes the first one that answers 200. A
// memoized endpoint is returned without any network I/O. When nothing answers the
// first candidate is returned and used as a fallback, but it is not memoized: the
// failure surfaces at the next real request and the next Probe call tries again.
func (c *Client) Probe(ctx context.Context) Endpoint {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	if ep, ok := c.CurrentEndpoint(); ok {
		return ep
	}

	candidates := c.Candidates()
	for _, ep := range candidates {
		if ctx.Err() != nil || c.Closed() {
			break
		}
		if c.answers(ctx, ep) {
			c.SetEndpoint(ep)
			log.Info().
				Str("host", c.host).
				Str("scheme", ep.Scheme).
				Str("api_prefix", ep.Prefix).
				Msg("Detected Airzone Local API endpoint")
			return ep
		}
	}

	fallback := candidates[0]
	c.mu.Lock()
	if !c.detected {
		c.endpoint = fallback
		c.probed = true
	}
	c.mu.Unlock()

	log.Warn().
		Str("host", c.host).
		Int("port", c.port).
		Msg("No Airzone endpoint answered, using first candidate")
	return fallback
}

func (c *Client) answers(ctx context.Context, ep Endpoint) bool {
	for _, step := range probeSteps {
		status, _, err := c.roundTrip(ctx, step.method, ep, step.path, step.query, step.body)
		if err != nil {
			// A refused connection or failed handshake will not improve on another path.
			if !errors.Is(err, ErrClosed) {
				log.Debug().Err(err).Str("scheme", ep.Scheme).Str("api_prefix", ep.Prefix).Msg("Probe transport failure")
			}
			return false
		}
		if status == http.StatusOK {
			return true
		}
		log.Debug().
			Str("scheme", ep.Scheme).
			Str("api_prefix", ep.Prefix).
			Str("method", step.method).
			Str("path", step.path).
			Int("status", status).
			Msg("Probe step rejected")
	}
	return false
}
