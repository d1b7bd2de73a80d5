package coordinator

import (
	"sort"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

// Snapshot returns the last published poll. It is shared: callers must treat it
// as read-only.
func (c *Coordinator) Snapshot() *model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *Coordinator) Zone(systemID, zoneID int) (model.Payload, bool) {
	snap := c.Snapshot()
	z, ok := snap.Zones[model.ZoneKey{SystemID: systemID, ZoneID: zoneID}]
	if !ok {
		return nil, false
	}
	return z.Clone(), true
}

func (c *Coordinator) System(systemID int) (model.Payload, bool) {
	s, ok := c.Snapshot().Systems[systemID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (c *Coordinator) IAQ(systemID, iaqID int) (model.Payload, bool) {
	s, ok := c.Snapshot().IAQs[model.IAQKey{SystemID: systemID, IAQID: iaqID}]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// IAQFallback returns the coarse air quality reported through zone payloads.
func (c *Coordinator) IAQFallback(systemID int) (model.Payload, bool) {
	p, ok := c.Snapshot().IAQFallback[systemID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ZonesOfSystem returns copies of a system's zones ordered by zone id.
func (c *Coordinator) ZonesOfSystem(systemID int) []model.Payload {
	return zonesOf(c.Snapshot(), systemID)
}

func zonesOf(snap *model.Snapshot, systemID int) []model.Payload {
	var keys []model.ZoneKey
	for k := range snap.Zones {
		if k.SystemID == systemID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ZoneID < keys[j].ZoneID })

	out := make([]model.Payload, 0, len(keys))
	for _, k := range keys {
		out = append(out, snap.Zones[k].Clone())
	}
	return out
}

// SystemIDs returns every system that reported zones in the last poll.
func (c *Coordinator) SystemIDs() []int {
	return c.Snapshot().SystemIDs()
}

// ZoneKeys returns every zone key ordered by system then zone.
func (c *Coordinator) ZoneKeys() []model.ZoneKey {
	snap := c.Snapshot()
	keys := make([]model.ZoneKey, 0, len(snap.Zones))
	for k := range snap.Zones {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SystemID != keys[j].SystemID {
			return keys[i].SystemID < keys[j].SystemID
		}
		return keys[i].ZoneID < keys[j].ZoneID
	})
	return keys
}

// IAQKeys returns every IAQ sensor key ordered by system then sensor.
func (c *Coordinator) IAQKeys() []model.IAQKey {
	snap := c.Snapshot()
	keys := make([]model.IAQKey, 0, len(snap.IAQs))
	for k := range snap.IAQs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SystemID != keys[j].SystemID {
			return keys[i].SystemID < keys[j].SystemID
		}
		return keys[i].IAQID < keys[j].IAQID
	})
	return keys
}

func (c *Coordinator) Webserver() (model.Payload, bool) {
	ws := c.Snapshot().Webserver
	if ws == nil {
		return nil, false
	}
	return ws.Clone(), true
}

func (c *Coordinator) Version() string {
	return c.Snapshot().Version
}

func (c *Coordinator) Transport() model.Transport {
	return c.Snapshot().Transport
}

func (c *Coordinator) ZoneProfile(systemID, zoneID int) (model.Profile, bool) {
	p, ok := c.Snapshot().ZoneProfiles[model.ZoneKey{SystemID: systemID, ZoneID: zoneID}]
	return p, ok
}

func (c *Coordinator) SystemProfile(systemID int) (model.Profile, bool) {
	p, ok := c.Snapshot().SystemProfiles[systemID]
	return p, ok
}

// MasterZoneID resolves a system's master zone. It is false only when the system
// has no zones.
func (c *Coordinator) MasterZoneID(systemID int) (int, bool) {
	snap := c.Snapshot()
	zones := zonesOf(snap, systemID)
	if len(zones) == 0 {
		return 0, false
	}
	return c.master.MasterZoneID(snap.Systems[systemID], zones)
}
