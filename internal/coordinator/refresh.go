package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
	"github.com/thatsimonsguy/airzone-controller/internal/profile"
)

// Refresh runs one full poll cycle. Cycles never overlap: a call made while one
// is running waits for it. Only the zone broadcast is required; when it fails
// the previous snapshot stays published and the error is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.ctx.Err() != nil {
		return airzone.ErrClosed
	}

	// Close aborts the cycle whichever context the caller passed in.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	start := time.Now()
	snap, err := c.poll(ctx)
	c.recordOutcome(err)

	c.mu.Lock()
	c.lastCycleEnd = time.Now()
	c.mu.Unlock()

	if err != nil {
		if c.endpointSuspect(err) {
			log.Info().Err(err).Msg("Forgetting endpoint, detecting again next cycle")
			c.client.ResetEndpoint()
		}
		return err
	}

	c.mu.Lock()
	c.snapshot = snap
	subs := make([]func(*model.Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	log.Debug().
		Int("zones", len(snap.Zones)).
		Int("systems", len(snap.Systems)).
		Int("iaq_sensors", len(snap.IAQs)).
		Str("transport_hvac", snap.Transport.HVAC).
		Dur("took", time.Since(start)).
		Msg("Airzone poll complete")

	for _, fn := range subs {
		fn(snap)
	}

	c.persistEndpoint()

	for _, sid := range c.FollowMasterSystems() {
		c.enforceFollowMaster(ctx, sid)
	}
	return nil
}

// poll fetches everything and assembles a new snapshot without touching the
// published one.
func (c *Coordinator) poll(ctx context.Context) (*model.Snapshot, error) {
	ep := c.client.Probe(ctx)

	if !c.versionChecked {
		if v, ok := c.client.Version(ctx); ok {
			c.version = v
		}
		c.versionChecked = true
	}

	zones, hvacTransport, err := c.client.Zones(ctx)
	if err != nil {
		return nil, err
	}

	snap := model.NewSnapshot()
	snap.Version = c.version
	for _, z := range zones {
		key := model.ZoneKey{SystemID: z.IntOr("systemID", 0), ZoneID: z.IntOr("zoneID", 0)}
		snap.Zones[key] = z
		snap.ZoneProfiles[key] = profile.Zone(z)
		collectIAQFallback(snap.IAQFallback, key.SystemID, z)
	}

	systemIDs := snap.SystemIDs()
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, sid := range systemIDs {
		wg.Add(1)
		go func(sid int) {
			defer wg.Done()
			sys, ok := c.client.System(ctx, sid)
			if !ok {
				log.Debug().Int("system_id", sid).Msg("No per-system data")
				return
			}
			mu.Lock()
			snap.Systems[sid] = sys
			mu.Unlock()
		}(sid)
	}
	wg.Wait()

	if ws, ok := c.client.Webserver(ctx); ok {
		snap.Webserver = ws
	} else {
		log.Warn().Msg("Webserver info unavailable")
	}

	sensors, iaqTransport := c.client.IAQs(ctx)
	for _, s := range sensors {
		key := model.IAQKey{SystemID: s.IntOr("systemID", 0), IAQID: s.IntOr("iaqsensorID", 0)}
		snap.IAQs[key] = s
	}

	iaqCount := make(map[int]int)
	for k := range snap.IAQs {
		iaqCount[k.SystemID]++
	}
	for _, sid := range systemIDs {
		var zoneProfiles []model.Profile
		for k, p := range snap.ZoneProfiles {
			if k.SystemID == sid {
				zoneProfiles = append(zoneProfiles, p)
			}
		}
		_, hasFallback := snap.IAQFallback[sid]
		snap.SystemProfiles[sid] = profile.System(snap.Systems[sid], zoneProfiles, iaqCount[sid], hasFallback)
	}

	if current, ok := c.client.CurrentEndpoint(); ok {
		ep = current
	}
	snap.Transport = model.Transport{
		HVAC:      hvacTransport,
		IAQ:       iaqTransport,
		Scheme:    ep.Scheme,
		APIPrefix: ep.Prefix,
	}
	snap.UpdatedAt = time.Now()
	return snap, nil
}

// Zones of installations without an /iaq endpoint still report coarse air
// quality; the last zone seen wins per system.
func collectIAQFallback(dst map[int]model.Payload, sid int, z model.Payload) {
	for _, k := range []string{"aq_quality", "aq_mode"} {
		v, ok := z[k]
		if !ok {
			continue
		}
		cur := dst[sid]
		if cur == nil {
			cur = model.Payload{}
			dst[sid] = cur
		}
		cur[k] = v
	}
}

func (c *Coordinator) persistEndpoint() {
	if c.store == nil {
		return
	}
	ep, ok := c.client.CurrentEndpoint()
	if !ok || ep == c.savedEndpoint {
		return
	}
	if err := c.store.SaveEndpoint(ep); err != nil {
		log.Error().Err(err).Msg("Failed to save detected endpoint")
		return
	}
	c.savedEndpoint = ep
}

// endpointSuspect reports whether a failed cycle points at a wrong endpoint rather
// than a controller that is down: the path is missing, or failures have run long
// enough that a moved controller is the likelier cause.
func (c *Coordinator) endpointSuspect(err error) bool {
	var statusErr *airzone.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return true
	}
	c.mu.RLock()
	failures := c.consecutiveFailures
	c.mu.RUnlock()
	return failures > 0 && failures%EndpointResetFailures == 0
}
