// Package profile classifies zones and systems from the keys their payloads carry.
// The result is advisory: nothing in the control path branches on it.
package profile

import "github.com/thatsimonsguy/airzone-controller/internal/model"

const (
	DoubleSetpointZone = "Double setpoint zone"
	SlatsSetpointZone  = "Single setpoint zone (+slats)"
	SetpointZone       = "Single setpoint zone"
	GenericZone        = "Generic zone"

	AirToWaterSystem   = "Air to Water (A2W)"
	DoubleSetpointHVAC = "HVAC system (double setpoint)"
	HVACSystem         = "HVAC system"
)

const (
	CapDoubleSetpoint = "double_sp"
	CapSetpoint       = "setpoint"
	CapModes          = "modes"
	CapSpeeds         = "speeds"
	CapSlats          = "slats"
	CapHumidity       = "humidity"
	CapIAQ            = "iaq"
)

var slatKeys = []string{"slats_vertical", "slats_horizontal", "slats_vswing", "slats_hswing"}

// Each of these is reported as a capability under its own name.
var flagKeys = []string{"air_demand", "cold_demand", "heat_demand", "floor_demand", "open_window", "antifreeze", "eco_adapt"}

var waterKeys = []string{"ext_temp", "temp_return", "work_temp"}

func Zone(z model.Payload) model.Profile {
	caps := []string{}
	if z.Truthy("double_sp") || z.Has("heatsetpoint") || z.Has("coolsetpoint") {
		caps = append(caps, CapDoubleSetpoint)
	}
	if z.Has("setpoint") {
		caps = append(caps, CapSetpoint)
	}
	if z.Has("modes") {
		caps = append(caps, CapModes)
	}
	if z.Truthy("speeds") || z.Truthy("speed_values") {
		caps = append(caps, CapSpeeds)
	}
	if hasAny(z, slatKeys) {
		caps = append(caps, CapSlats)
	}
	for _, k := range flagKeys {
		if z.Has(k) {
			caps = append(caps, k)
		}
	}
	if z.Has("humidity") {
		caps = append(caps, CapHumidity)
	}

	p := model.Profile{Capabilities: caps}
	switch {
	case p.Has(CapDoubleSetpoint):
		p.Profile = DoubleSetpointZone
	case p.Has(CapSetpoint) && p.Has(CapSlats):
		p.Profile = SlatsSetpointZone
	case p.Has(CapSetpoint):
		p.Profile = SetpointZone
	default:
		p.Profile = GenericZone
	}
	return p
}

// System derives a system profile from its own payload (which may be nil when the
// per-system fetch failed) and the already computed profiles of its zones.
func System(sys model.Payload, zones []model.Profile, iaqCount int, hasIAQFallback bool) model.Profile {
	caps := []string{}
	for _, k := range waterKeys {
		if sys.Has(k) {
			caps = append(caps, k)
		}
	}
	if iaqCount > 0 || hasIAQFallback {
		caps = append(caps, CapIAQ)
	}

	double := false
	for _, zp := range zones {
		if zp.Has(CapDoubleSetpoint) {
			double = true
			break
		}
	}

	p := model.Profile{
		Capabilities: caps,
		ZoneCount:    len(zones),
		IAQCount:     iaqCount,
	}
	switch {
	case hasAny(sys, waterKeys):
		p.Profile = AirToWaterSystem
	case double:
		p.Profile = DoubleSetpointHVAC
	default:
		p.Profile = HVACSystem
	}
	return p
}

func hasAny(p model.Payload, keys []string) bool {
	for _, k := range keys {
		if p.Has(k) {
			return true
		}
	}
	return false
}
