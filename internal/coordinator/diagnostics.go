package coordinator

import (
	"fmt"
	"strings"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

const redacted = "**REDACTED**"

// Keys that identify the installation or its network.
var redactKeys = map[string]bool{
	"ip":            true,
	"host":          true,
	"hostname":      true,
	"url":           true,
	"base_url":      true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"password":      true,
	"ssid":          true,
	"mac":           true,
	"mac_address":   true,
	"serial":        true,
	"serial_number": true,
	"unique_id":     true,
}

// Diagnostics returns a JSON-ready dump of the coordinator with identifying
// values redacted.
func (c *Coordinator) Diagnostics() map[string]any {
	snap := c.Snapshot()
	status := c.Status()

	zones := make(map[string]any, len(snap.Zones))
	for k, z := range snap.Zones {
		zones[fmt.Sprintf("%d:%d", k.SystemID, k.ZoneID)] = map[string]any(z)
	}
	iaqs := make(map[string]any, len(snap.IAQs))
	for k, s := range snap.IAQs {
		iaqs[fmt.Sprintf("%d:%d", k.SystemID, k.IAQID)] = map[string]any(s)
	}
	systems := make(map[string]any, len(snap.Systems))
	for sid, s := range snap.Systems {
		systems[fmt.Sprint(sid)] = map[string]any(s)
	}
	fallback := make(map[string]any, len(snap.IAQFallback))
	for sid, p := range snap.IAQFallback {
		fallback[fmt.Sprint(sid)] = map[string]any(p)
	}
	zoneProfiles := make(map[string]any, len(snap.ZoneProfiles))
	for k, p := range snap.ZoneProfiles {
		zoneProfiles[fmt.Sprintf("%d:%d", k.SystemID, k.ZoneID)] = p
	}
	systemProfiles := make(map[string]any, len(snap.SystemProfiles))
	for sid, p := range snap.SystemProfiles {
		systemProfiles[fmt.Sprint(sid)] = p
	}

	var webserver any
	if snap.Webserver != nil {
		webserver = map[string]any(snap.Webserver)
	}

	data := map[string]any{
		"entry": map[string]any{
			"host":       c.client.Host(),
			"port":       c.client.Port(),
			"api_prefix": snap.Transport.APIPrefix,
		},
		"coordinator": map[string]any{
			"last_update_success":  status.LastUpdateSuccess,
			"update_interval":      status.UpdateInterval,
			"consecutive_failures": status.ConsecutiveFailures,
			"last_error":           status.LastError,
			"follow_master":        c.FollowMasterSystems(),
		},
		"transport": snap.Transport,
		"version":   snap.Version,
		"api_data": map[string]any{
			"zones":           zones,
			"systems":         systems,
			"iaqs":            iaqs,
			"iaq_fallback":    fallback,
			"webserver":       webserver,
			"zone_profiles":   zoneProfiles,
			"system_profiles": systemProfiles,
		},
	}
	return redact(data).(map[string]any)
}

// redact returns a copy of v with every value under a sensitive key replaced.
func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if redactKeys[strings.ToLower(k)] {
				out[k] = redacted
				continue
			}
			out[k] = redact(val)
		}
		return out
	case model.Payload:
		return redact(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redact(e)
		}
		return out
	}
	return v
}
