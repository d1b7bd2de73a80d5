package airzone

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Put sends a write to the current endpoint and retries once over the other
// scheme. When only the retry succeeds its endpoint becomes the preferred one.
func (c *Client) Put(ctx context.Context, path string, body map[string]any) (any, error) {
	ep := c.Endpoint(ctx)
	raw, err := c.request(ctx, http.MethodPut, ep, path, nil, body)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, ErrClosed) {
		return nil, err
	}

	alt := ep.Alternate()
	log.Warn().Err(err).Str("path", path).Str("retry_scheme", alt.Scheme).Msg("PUT failed, retrying on alternate scheme")

	raw, altErr := c.request(ctx, http.MethodPut, alt, path, nil, body)
	if altErr != nil {
		return nil, fmt.Errorf("%w: PUT %s: %w; %s retry: %w", ErrUpdateFailed, path, err, alt.Scheme, altErr)
	}

	c.SetEndpoint(alt)
	log.Info().Str("scheme", alt.Scheme).Str("api_prefix", alt.Prefix).Msg("Switched preferred endpoint after successful retry")
	return raw, nil
}

// SetZone writes fields to one zone.
func (c *Client) SetZone(ctx context.Context, systemID, zoneID int, fields map[string]any) (any, error) {
	body := withIDs(fields, "systemID", systemID, "zoneID", zoneID)
	return c.Put(ctx, "/hvac", body)
}

// SetIAQ writes fields to one IAQ sensor.
func (c *Client) SetIAQ(ctx context.Context, systemID, iaqID int, fields map[string]any) (any, error) {
	body := withIDs(fields, "systemID", systemID, "iaqsensorID", iaqID)
	return c.Put(ctx, "/iaq", body)
}

// SetSystem writes system-wide fields such as eco.
func (c *Client) SetSystem(ctx context.Context, systemID int, fields map[string]any) (any, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["systemID"] = systemID
	return c.Put(ctx, "/hvac", body)
}

// Identifiers always win over same-named fields.
func withIDs(fields map[string]any, k1 string, v1 int, k2 string, v2 int) map[string]any {
	body := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		body[k] = v
	}
	body[k1] = v1
	body[k2] = v2
	return body
}
