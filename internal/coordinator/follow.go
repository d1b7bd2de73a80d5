package coordinator

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/controllers/followmaster"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

// EnableFollowMaster turns on follow-master for a system and fires one
// enforcement pass in the background. The pass waits for any poll cycle in
// progress. Persistence failures are returned but the system stays enabled for
// this run.
func (c *Coordinator) EnableFollowMaster(systemID int) error {
	c.mu.Lock()
	c.follow[systemID] = true
	spawn := !c.closing
	if spawn {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	log.Info().Int("system_id", systemID).Msg("Follow-master enabled")

	if spawn {
		go func() {
			defer c.wg.Done()
			c.refreshMu.Lock()
			defer c.refreshMu.Unlock()
			if c.ctx.Err() != nil {
				return
			}
			c.enforceFollowMaster(c.ctx, systemID)
		}()
	}

	if c.store != nil {
		return c.store.SaveFollowMaster(systemID, true)
	}
	return nil
}

// DisableFollowMaster turns follow-master off. A pass already running finishes
// but no further passes are started.
func (c *Coordinator) DisableFollowMaster(systemID int) error {
	c.mu.Lock()
	delete(c.follow, systemID)
	delete(c.enforced, systemID)
	c.mu.Unlock()
	log.Info().Int("system_id", systemID).Msg("Follow-master disabled")

	if c.store != nil {
		return c.store.SaveFollowMaster(systemID, false)
	}
	return nil
}

func (c *Coordinator) FollowMasterEnabled(systemID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.follow[systemID]
}

// FollowMasterSystems lists the systems with follow-master enabled, ascending.
func (c *Coordinator) FollowMasterSystems() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int, 0, len(c.follow))
	for sid := range c.follow {
		out = append(out, sid)
	}
	sort.Ints(out)
	return out
}

// enforceFollowMaster runs one pass over a system and returns the number of
// successful corrections. Callers hold refreshMu. A snapshot is enforced at most
// once per system: its corrections are already in flight or applied.
func (c *Coordinator) enforceFollowMaster(ctx context.Context, systemID int) int {
	c.mu.Lock()
	snap := c.snapshot
	if !c.follow[systemID] || c.enforced[systemID] == snap {
		c.mu.Unlock()
		return 0
	}
	c.enforced[systemID] = snap
	c.mu.Unlock()

	zones := zonesOf(snap, systemID)
	if len(zones) == 0 {
		log.Debug().Int("system_id", systemID).Msg("Follow-master skipped, system has no zones")
		return 0
	}
	mid, ok := c.master.MasterZoneID(snap.Systems[systemID], zones)
	if !ok {
		return 0
	}
	master, ok := snap.Zones[model.ZoneKey{SystemID: systemID, ZoneID: mid}]
	if !ok {
		return 0
	}

	corrections := followmaster.Plan(master, zones)
	if len(corrections) == 0 {
		return 0
	}
	log.Info().
		Int("system_id", systemID).
		Int("master_zone_id", mid).
		Int("corrections", len(corrections)).
		Msg("Follow-master pass")
	return followmaster.Apply(ctx, c, corrections)
}
