// Package modes translates the controller's numeric mode codes into named HVAC
// modes and works out which of them a zone can sensibly offer.
package modes

import "github.com/thatsimonsguy/airzone-controller/internal/model"

type Mode string

const (
	Off     Mode = "off"
	FanOnly Mode = "fan_only"
	Heat    Mode = "heat"
	Cool    Mode = "cool"
	Auto    Mode = "auto"
	Dry     Mode = "dry"
)

var byCode = map[int]Mode{
	0: Off,
	1: FanOnly,
	2: Heat,
	3: Cool,
	4: Auto,
	5: Dry,
}

var heatKeys = []string{"heatsetpoint", "heatmaxtemp", "heatmintemp"}
var coolKeys = []string{"coolsetpoint", "coolmaxtemp", "coolmintemp"}

// FromCode returns the mode for a controller code.
func FromCode(code int) (Mode, bool) {
	m, ok := byCode[code]
	return m, ok
}

// Code returns the controller code for m.
func Code(m Mode) (int, bool) {
	for c, mode := range byCode {
		if mode == m {
			return c, true
		}
	}
	return 0, false
}

// Parse accepts a mode name as sent by API clients.
func Parse(s string) (Mode, bool) {
	m := Mode(s)
	_, ok := Code(m)
	return m, ok
}

// Fields returns the zone write that selects m: off switches the zone off, any
// other mode switches it on in that mode.
func Fields(m Mode) (map[string]any, bool) {
	code, ok := Code(m)
	if !ok {
		return nil, false
	}
	if m == Off {
		return map[string]any{"on": 0}, true
	}
	return map[string]any{"on": 1, "mode": code}, true
}

func CanHeat(z model.Payload) bool { return hasAny(z, heatKeys) }
func CanCool(z model.Payload) bool { return hasAny(z, coolKeys) }

// Allowed lists the modes a zone should expose. An explicit modes list is
// translated and then clamped: heat and cool are dropped when the zone carries no
// key for them. Without a usable list the set is inferred from those same keys,
// falling back to off and heat. Off is always present.
func Allowed(z model.Payload) []Mode {
	var result []Mode
	seen := make(map[Mode]bool)
	if codes, ok := z.Ints("modes"); ok {
		for _, c := range codes {
			m, ok := byCode[c]
			if !ok || seen[m] {
				continue
			}
			seen[m] = true
			result = append(result, m)
		}
	}

	heatOK, coolOK := CanHeat(z), CanCool(z)
	if len(result) > 0 {
		result = filter(result, func(m Mode) bool {
			return (m != Heat || heatOK) && (m != Cool || coolOK)
		})
	}

	if len(result) == 0 {
		switch {
		case heatOK && coolOK:
			result = []Mode{Off, Heat, Cool}
		case coolOK:
			result = []Mode{Off, Cool}
		default:
			result = []Mode{Off, Heat}
		}
	}

	if !contains(result, Off) {
		result = append([]Mode{Off}, result...)
	}
	return result
}

// Current reports the zone's mode clamped to allowed. A zone that is switched off
// is always Off whatever its mode field says.
func Current(z model.Payload, allowed []Mode) Mode {
	if on, ok := z.Int("on"); ok && on == 0 {
		return Off
	}
	if code, ok := z.Int("mode"); ok {
		if m, ok := byCode[code]; ok && contains(allowed, m) {
			return m
		}
	}
	switch {
	case contains(allowed, Heat) && !contains(allowed, Cool):
		return Heat
	case contains(allowed, Cool) && !contains(allowed, Heat):
		return Cool
	}
	return Off
}

// Names renders modes as plain strings for JSON responses.
func Names(ms []Mode) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}

func contains(ms []Mode, m Mode) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

func filter(ms []Mode, keep func(Mode) bool) []Mode {
	out := ms[:0]
	for _, m := range ms {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func hasAny(p model.Payload, keys []string) bool {
	for _, k := range keys {
		if p.Has(k) {
			return true
		}
	}
	return false
}
