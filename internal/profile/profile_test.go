package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

func TestZoneProfileLabels(t *testing.T) {
	tests := []struct {
		name string
		zone model.Payload
		want string
	}{
		{"double flag", model.Payload{"double_sp": 1, "setpoint": 21}, DoubleSetpointZone},
		{"heat and cool setpoints", model.Payload{"heatsetpoint": 20, "coolsetpoint": 25}, DoubleSetpointZone},
		{"double flag zero", model.Payload{"double_sp": 0, "setpoint": 21}, SetpointZone},
		{"setpoint with slats", model.Payload{"setpoint": 22, "slats_vswing": 0}, SlatsSetpointZone},
		{"setpoint only", model.Payload{"setpoint": 22}, SetpointZone},
		{"bare", model.Payload{"roomTemp": 20}, GenericZone},
		{"nil", nil, GenericZone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Zone(tt.zone).Profile)
		})
	}
}

func TestZoneCapabilities(t *testing.T) {
	p := Zone(model.Payload{
		"setpoint":     21.5,
		"modes":        []any{1.0, 2.0, 3.0},
		"speeds":       3,
		"heat_demand":  0,
		"open_window":  0,
		"eco_adapt":    "off",
		"humidity":     45,
		"slats_hswing": 1,
	})

	assert.Equal(t, []string{"setpoint", "modes", "speeds", "slats", "heat_demand", "open_window", "eco_adapt", "humidity"}, p.Capabilities)
}

func TestZoneSpeedsNeedValue(t *testing.T) {
	assert.False(t, Zone(model.Payload{"speeds": 0}).Has(CapSpeeds))
	assert.True(t, Zone(model.Payload{"speed_values": []int{1, 2}}).Has(CapSpeeds))
	assert.False(t, Zone(model.Payload{"speed_values": []any{}}).Has(CapSpeeds))
}

func TestSystemProfile(t *testing.T) {
	double := Zone(model.Payload{"double_sp": 1})
	single := Zone(model.Payload{"setpoint": 21})

	tests := []struct {
		name     string
		sys      model.Payload
		zones    []model.Profile
		iaq      int
		fallback bool
		want     string
		caps     []string
	}{
		{"air to water", model.Payload{"ext_temp": 11, "work_temp": 40}, []model.Profile{double}, 0, false, AirToWaterSystem, []string{"ext_temp", "work_temp"}},
		{"double setpoint zones", model.Payload{"mc_connected": 1}, []model.Profile{single, double}, 1, false, DoubleSetpointHVAC, []string{"iaq"}},
		{"plain", nil, []model.Profile{single}, 0, true, HVACSystem, []string{"iaq"}},
		{"no zones", nil, nil, 0, false, HVACSystem, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := System(tt.sys, tt.zones, tt.iaq, tt.fallback)
			assert.Equal(t, tt.want, p.Profile)
			assert.Equal(t, tt.caps, p.Capabilities)
			assert.Equal(t, len(tt.zones), p.ZoneCount)
			assert.Equal(t, tt.iaq, p.IAQCount)
		})
	}
}
