package coordinator

import (
	"strings"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

// MasterResolver picks the master zone of a system. zones is never empty and is
// ordered by zone id; system may be nil when no per-system data was fetched.
type MasterResolver interface {
	MasterZoneID(system model.Payload, zones []model.Payload) (int, bool)
}

type MasterResolverFunc func(system model.Payload, zones []model.Payload) (int, bool)

func (f MasterResolverFunc) MasterZoneID(system model.Payload, zones []model.Payload) (int, bool) {
	return f(system, zones)
}

var masterFlags = []string{"master", "is_master", "zone_master"}

// Words installers use when naming the master thermostat's room.
var masterNameHints = []string{"master", "principal", "despacho"}

// HeuristicMaster matches, in order: an explicit master flag, a name hint, and
// finally the smallest zone id.
func HeuristicMaster(_ model.Payload, zones []model.Payload) (int, bool) {
	for _, z := range zones {
		for _, k := range masterFlags {
			if z.Truthy(k) {
				if zid, ok := z.Int("zoneID"); ok {
					return zid, true
				}
			}
		}
	}

	for _, z := range zones {
		name, ok := z.String("name")
		if !ok {
			continue
		}
		name = strings.ToLower(name)
		for _, hint := range masterNameHints {
			if strings.Contains(name, hint) {
				if zid, ok := z.Int("zoneID"); ok {
					return zid, true
				}
			}
		}
	}

	best, found := 0, false
	for _, z := range zones {
		zid, ok := z.Int("zoneID")
		if !ok {
			continue
		}
		if !found || zid < best {
			best, found = zid, true
		}
	}
	return best, found
}

// SystemFieldMaster trusts the system's master_zoneID when it names an existing
// zone and defers to fallback otherwise.
func SystemFieldMaster(fallback MasterResolver) MasterResolver {
	return MasterResolverFunc(func(system model.Payload, zones []model.Payload) (int, bool) {
		if mid, ok := system.Int("master_zoneID"); ok {
			for _, z := range zones {
				if zid, ok := z.Int("zoneID"); ok && zid == mid {
					return mid, true
				}
			}
		}
		return fallback.MasterZoneID(system, zones)
	})
}
