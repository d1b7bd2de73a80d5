package airzone

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
	"github.com/thatsimonsguy/airzone-controller/internal/normalize"
)

// strategy is one way of asking for a resource. Fetchers walk an ordered list of
// them and stop at the first usable answer.
type strategy struct {
	method string
	query  url.Values
	body   map[string]any
}

func (s strategy) transport() string {
	if s.method == http.MethodGet {
		return "GET"
	}
	return "POST"
}

var sentinels = []int{model.BroadcastLegacy, model.BroadcastAll}

func zoneStrategies() []strategy {
	var out []strategy
	for _, s := range sentinels {
		id := strconv.Itoa(s)
		out = append(out, strategy{method: http.MethodGet, query: url.Values{"systemid": {id}, "zoneid": {id}}})
	}
	for _, s := range sentinels {
		out = append(out, strategy{method: http.MethodPost, body: map[string]any{"systemID": s, "zoneID": s}})
	}
	return out
}

// Parameter spellings accepted by different IAQ firmware revisions.
var iaqCasings = [][2]string{
	{"systemid", "iaqsensorid"},
	{"systemID", "iaqsensorID"},
	{"systemId", "iaqSensorId"},
}

func iaqStrategies() []strategy {
	var out []strategy
	for _, casing := range iaqCasings {
		for _, s := range sentinels {
			id := strconv.Itoa(s)
			out = append(out, strategy{method: http.MethodGet, query: url.Values{casing[0]: {id}, casing[1]: {id}}})
		}
	}
	for _, casing := range iaqCasings[1:] {
		for _, s := range sentinels {
			out = append(out, strategy{method: http.MethodPost, body: map[string]any{casing[0]: s, casing[1]: s}})
		}
	}
	return out
}

// Zones fetches every zone of every system through the broadcast sentinels. It
// returns the normalized zones and the transport that produced them. Failure of
// every strategy is reported as ErrZonesUnavailable.
func (c *Client) Zones(ctx context.Context) ([]model.Payload, string, error) {
	ep := c.Endpoint(ctx)
	var lastErr error
	for _, s := range zoneStrategies() {
		raw, err := c.request(ctx, s.method, ep, "/hvac", s.query, bodyOrNil(s.body))
		if err != nil {
			if c.Closed() {
				return nil, "", ErrClosed
			}
			lastErr = err
			log.Debug().Err(err).Str("method", s.method).Msg("Zone broadcast strategy failed")
			continue
		}
		if zones := normalize.ZoneList(raw); len(zones) > 0 {
			return zones, s.transport(), nil
		}
		lastErr = fmt.Errorf("%s /hvac: empty zone list", s.method)
	}
	return nil, "", fmt.Errorf("%w: %w", ErrZonesUnavailable, lastErr)
}

// System fetches per-system detail. Absence is normal on some firmwares.
func (c *Client) System(ctx context.Context, systemID int) (model.Payload, bool) {
	ep := c.Endpoint(ctx)
	id := strconv.Itoa(systemID)
	for _, s := range []strategy{
		{method: http.MethodGet, query: url.Values{"systemid": {id}}},
		{method: http.MethodPost, body: map[string]any{"systemID": systemID}},
	} {
		raw, err := c.request(ctx, s.method, ep, "/hvac", s.query, bodyOrNil(s.body))
		if err != nil {
			log.Debug().Err(err).Int("system_id", systemID).Str("method", s.method).Msg("System fetch strategy failed")
			continue
		}
		if sys, ok := normalize.SystemData(raw, systemID); ok {
			return sys, true
		}
	}
	return nil, false
}

// Webserver fetches the controller's network module details.
func (c *Client) Webserver(ctx context.Context) (model.Payload, bool) {
	ep := c.Endpoint(ctx)
	for _, s := range []strategy{
		{method: http.MethodGet},
		{method: http.MethodPost, body: map[string]any{}},
	} {
		raw, err := c.request(ctx, s.method, ep, "/webserver", nil, bodyOrNil(s.body))
		if err != nil {
			log.Debug().Err(err).Str("method", s.method).Msg("Webserver fetch strategy failed")
			continue
		}
		if ws, ok := normalize.Object(raw); ok {
			return ws, true
		}
	}
	return nil, false
}

// IAQs fetches every IAQ sensor. Installations without sensors yield an empty
// list and an empty transport, which is not an error.
func (c *Client) IAQs(ctx context.Context) ([]model.Payload, string) {
	ep := c.Endpoint(ctx)
	for _, s := range iaqStrategies() {
		raw, err := c.request(ctx, s.method, ep, "/iaq", s.query, bodyOrNil(s.body))
		if err != nil {
			if c.Closed() {
				return nil, ""
			}
			log.Debug().Err(err).Str("method", s.method).Msg("IAQ strategy failed")
			continue
		}
		if sensors := normalize.IAQList(raw); len(sensors) > 0 {
			return sensors, s.transport()
		}
	}
	return nil, ""
}

// Version reads the Local API version string.
func (c *Client) Version(ctx context.Context) (string, bool) {
	ep := c.Endpoint(ctx)
	for _, s := range []strategy{
		{method: http.MethodGet},
		{method: http.MethodPost, body: map[string]any{}},
	} {
		raw, err := c.request(ctx, s.method, ep, "/version", nil, bodyOrNil(s.body))
		if err != nil {
			log.Debug().Err(err).Str("method", s.method).Msg("Version fetch strategy failed")
			continue
		}
		if v := normalize.Version(raw); v != "" {
			return v, true
		}
	}
	return "", false
}

// bodyOrNil keeps a nil map from being sent as a JSON null body.
func bodyOrNil(b map[string]any) any {
	if b == nil {
		return nil
	}
	return b
}
