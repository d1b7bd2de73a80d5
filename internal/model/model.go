package model

import (
	"sort"
	"time"
)

// Broadcast sentinels used by the controller to address every system or zone at once.
// Older firmware answers to 0, newer generations to 127.
const (
	BroadcastLegacy = 0
	BroadcastAll    = 127
)

type ZoneKey struct {
	SystemID int `json:"systemID"`
	ZoneID   int `json:"zoneID"`
}

type IAQKey struct {
	SystemID int `json:"systemID"`
	IAQID    int `json:"iaqsensorID"`
}

// Profile is advisory metadata describing what a zone or system appears to support.
type Profile struct {
	Profile      string   `json:"profile"`
	Capabilities []string `json:"capabilities"`
	ZoneCount    int      `json:"zone_count,omitempty"`
	IAQCount     int      `json:"iaq_count,omitempty"`
}

func (p Profile) Has(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Transport records which request strategy last worked, for diagnostics.
type Transport struct {
	HVAC      string `json:"transport_hvac"`
	IAQ       string `json:"transport_iaq"`
	Scheme    string `json:"transport_scheme"`
	APIPrefix string `json:"api_prefix"`
}

// Snapshot is one complete poll result. It is never mutated after publication;
// each poll cycle builds and publishes a new one.
type Snapshot struct {
	Zones          map[ZoneKey]Payload
	Systems        map[int]Payload
	IAQs           map[IAQKey]Payload
	IAQFallback    map[int]Payload
	Webserver      Payload
	Version        string
	ZoneProfiles   map[ZoneKey]Profile
	SystemProfiles map[int]Profile
	Transport      Transport
	UpdatedAt      time.Time
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Zones:          make(map[ZoneKey]Payload),
		Systems:        make(map[int]Payload),
		IAQs:           make(map[IAQKey]Payload),
		IAQFallback:    make(map[int]Payload),
		ZoneProfiles:   make(map[ZoneKey]Profile),
		SystemProfiles: make(map[int]Profile),
	}
}

// SystemIDs returns the ids of every system that reported at least one zone.
func (s *Snapshot) SystemIDs() []int {
	seen := make(map[int]bool)
	var ids []int
	for k := range s.Zones {
		if !seen[k.SystemID] {
			seen[k.SystemID] = true
			ids = append(ids, k.SystemID)
		}
	}
	sort.Ints(ids)
	return ids
}
