package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// Topics renders every MQTT topic the bridge uses under one prefix.
type Topics struct {
	Prefix string
}

func (t Topics) Status() string { return t.Prefix + "/status" }

func (t Topics) ZoneState(systemID, zoneID int) string {
	return fmt.Sprintf("%s/zone/%d/%d/state", t.Prefix, systemID, zoneID)
}

func (t Topics) ZoneCommand(systemID, zoneID int) string {
	return fmt.Sprintf("%s/zone/%d/%d/set", t.Prefix, systemID, zoneID)
}

func (t Topics) SystemState(systemID int) string {
	return fmt.Sprintf("%s/system/%d/state", t.Prefix, systemID)
}

func (t Topics) SystemModeCommand(systemID int) string {
	return fmt.Sprintf("%s/system/%d/mode/set", t.Prefix, systemID)
}

func (t Topics) IAQState(systemID, iaqID int) string {
	return fmt.Sprintf("%s/iaq/%d/%d/state", t.Prefix, systemID, iaqID)
}

func (t Topics) ZoneCommandFilter() string { return t.Prefix + "/zone/+/+/set" }

func (t Topics) SystemModeCommandFilter() string { return t.Prefix + "/system/+/mode/set" }

// ParseZoneCommand extracts the ids from a zone command topic.
func (t Topics) ParseZoneCommand(topic string) (systemID, zoneID int, ok bool) {
	parts, ok := t.split(topic)
	if !ok || len(parts) != 4 || parts[0] != "zone" || parts[3] != "set" {
		return 0, 0, false
	}
	sid, err1 := strconv.Atoi(parts[1])
	zid, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return sid, zid, true
}

// ParseSystemModeCommand extracts the system id from a system mode command topic.
func (t Topics) ParseSystemModeCommand(topic string) (int, bool) {
	parts, ok := t.split(topic)
	if !ok || len(parts) != 4 || parts[0] != "system" || parts[2] != "mode" || parts[3] != "set" {
		return 0, false
	}
	sid, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return sid, true
}

func (t Topics) split(topic string) ([]string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return nil, false
	}
	return strings.Split(rest, "/"), true
}
