package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/modes"
)

var (
	ErrUnknownSystem = errors.New("unknown system")
	ErrInvalidMode   = errors.New("invalid mode")
)

// SetZoneParams writes fields to a zone. On success an early refresh is requested
// and the call returns without waiting for it, so an immediate read may still see
// the old state.
func (c *Coordinator) SetZoneParams(ctx context.Context, systemID, zoneID int, fields map[string]any) (any, error) {
	resp, err := c.client.SetZone(ctx, systemID, zoneID, fields)
	if err != nil {
		log.Error().Err(err).Int("system_id", systemID).Int("zone_id", zoneID).Interface("fields", fields).Msg("Zone write failed")
		return nil, err
	}
	log.Info().Int("system_id", systemID).Int("zone_id", zoneID).Interface("fields", fields).Msg("Zone updated")
	c.RequestRefresh()
	return resp, nil
}

// SetIAQParams writes fields to an IAQ sensor, requesting an early refresh on success.
func (c *Coordinator) SetIAQParams(ctx context.Context, systemID, iaqID int, fields map[string]any) (any, error) {
	resp, err := c.client.SetIAQ(ctx, systemID, iaqID, fields)
	if err != nil {
		log.Error().Err(err).Int("system_id", systemID).Int("iaq_id", iaqID).Interface("fields", fields).Msg("IAQ write failed")
		return nil, err
	}
	log.Info().Int("system_id", systemID).Int("iaq_id", iaqID).Interface("fields", fields).Msg("IAQ sensor updated")
	c.RequestRefresh()
	return resp, nil
}

// SetSystemParams writes system-wide fields such as eco, requesting an early
// refresh on success.
func (c *Coordinator) SetSystemParams(ctx context.Context, systemID int, fields map[string]any) (any, error) {
	resp, err := c.client.SetSystem(ctx, systemID, fields)
	if err != nil {
		log.Error().Err(err).Int("system_id", systemID).Interface("fields", fields).Msg("System write failed")
		return nil, err
	}
	log.Info().Int("system_id", systemID).Interface("fields", fields).Msg("System updated")
	c.RequestRefresh()
	return resp, nil
}

// SetSystemMode puts every zone of a system in mode: off switches them off,
// anything else switches them on in that mode.
func (c *Coordinator) SetSystemMode(ctx context.Context, systemID int, mode modes.Mode) error {
	fields, ok := modes.Fields(mode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return c.writeAllZones(ctx, systemID, fields)
}

// SetSystemEco sets eco_adapt (for example "auto" or "manual") on every zone.
func (c *Coordinator) SetSystemEco(ctx context.Context, systemID int, ecoAdapt string) error {
	return c.writeAllZones(ctx, systemID, map[string]any{"eco_adapt": ecoAdapt})
}

func (c *Coordinator) writeAllZones(ctx context.Context, systemID int, fields map[string]any) error {
	zones := c.ZonesOfSystem(systemID)
	if len(zones) == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownSystem, systemID)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, z := range zones {
		zid, ok := z.Int("zoneID")
		if !ok {
			continue
		}
		wg.Add(1)
		go func(zid int) {
			defer wg.Done()
			body := make(map[string]any, len(fields))
			for k, v := range fields {
				body[k] = v
			}
			if _, err := c.SetZoneParams(ctx, systemID, zid, body); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("zone %d: %w", zid, err))
				mu.Unlock()
			}
		}(zid)
	}
	wg.Wait()
	return errors.Join(errs...)
}
