// Package normalize flattens the controller's firmware-dependent JSON shapes into
// uniform payloads. Nothing here does I/O and nothing here returns an error:
// unrecognised structures simply normalize to empty results.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

// Fields sometimes transmitted as numeric strings.
var zoneIntFields = []string{"systemID", "zoneID", "on", "mode", "speed", "speeds", "units", "double_sp"}
var iaqIntFields = []string{"systemID", "iaqsensorID"}
var systemIntFields = []string{"systemID", "units", "mc_connected"}

type alias struct {
	canonical string
	legacy    string
}

// Canonical keys are filled from their legacy spelling; the legacy key is kept.
var aliases = []alias{
	{canonical: "iaqsensorID", legacy: "airqsensorID"},
	{canonical: "open_window", legacy: "window_external_source"},
}

// Loose top-level keys some firmwares use instead of wrapping system data.
var looseSystemKeys = []string{"ext_temp", "temp_return", "work_temp", "num_airqsensor"}

// Zone returns a normalized copy of a zone object.
func Zone(z model.Payload) model.Payload {
	out := z.Clone()
	if out == nil {
		out = model.Payload{}
	}
	applyAliases(out)
	coerceInts(out, zoneIntFields)
	normalizeSpeedValues(out)
	return out
}

// IAQ returns a normalized copy of an IAQ sensor object.
func IAQ(p model.Payload) model.Payload {
	out := p.Clone()
	if out == nil {
		out = model.Payload{}
	}
	applyAliases(out)
	coerceInts(out, iaqIntFields)
	return out
}

// System returns a normalized copy of a system object.
func System(p model.Payload) model.Payload {
	out := p.Clone()
	if out == nil {
		out = model.Payload{}
	}
	coerceInts(out, systemIntFields)
	return out
}

// ZoneList extracts every zone from any of the known envelopes. Entries without
// integral systemID and zoneID are dropped.
func ZoneList(raw any) []model.Payload {
	var zones []model.Payload
	for _, item := range envelopeItems(raw) {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		z := Zone(obj)
		if _, ok := z.Int("systemID"); !ok {
			continue
		}
		if _, ok := z.Int("zoneID"); !ok {
			continue
		}
		zones = append(zones, z)
	}
	return zones
}

// IAQList extracts every IAQ sensor from any of the known envelopes, accepting
// both iaqsensorID and the older airqsensorID.
func IAQList(raw any) []model.Payload {
	var sensors []model.Payload
	for _, item := range envelopeItems(raw) {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		s := IAQ(obj)
		if _, ok := s.Int("systemID"); !ok {
			continue
		}
		if _, ok := s.Int("iaqsensorID"); !ok {
			continue
		}
		sensors = append(sensors, s)
	}
	return sensors
}

// SystemData picks the object describing systemID out of a per-system response.
func SystemData(raw any, systemID int) (model.Payload, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, false
	}

	switch d := obj["data"].(type) {
	case map[string]any:
		return System(d), true
	case []any:
		if p, ok := findSystem(d, systemID); ok {
			return p, true
		}
	}

	if systems, ok := obj["systems"].([]any); ok {
		if p, ok := findSystem(systems, systemID); ok {
			return p, true
		}
	}

	for _, k := range looseSystemKeys {
		if obj.Has(k) {
			return System(obj), true
		}
	}
	return nil, false
}

func findSystem(items []any, systemID int) (model.Payload, bool) {
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		if sid, ok := obj.Int("systemID"); !ok || sid != systemID {
			continue
		}
		if inner, ok := obj["data"].(map[string]any); ok {
			return System(inner), true
		}
		return System(obj), true
	}
	return nil, false
}

// Object unwraps a single-object response such as /webserver.
func Object(raw any) (model.Payload, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, false
	}
	if inner, ok := obj["data"].(map[string]any); ok && len(obj) == 1 {
		return model.Payload(inner).Clone(), true
	}
	return obj.Clone(), true
}

// Version reads the API version from a /version response.
func Version(raw any) string {
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	obj, ok := asObject(raw)
	if !ok {
		return ""
	}
	for _, k := range []string{"version", "lapi_version", "LAPI", "schema"} {
		if v, ok := obj.String(k); ok && v != "" {
			return v
		}
	}
	return ""
}

// Decode parses a response body regardless of its declared content type. Some
// firmwares wrap the JSON document in stray text, so the outermost object or array
// is tried when the body as a whole is not valid JSON.
func Decode(body []byte) (any, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v, true
	}
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := bytes.IndexByte(trimmed, pair[0])
		end := bytes.LastIndexByte(trimmed, pair[1])
		if start < 0 || end <= start {
			continue
		}
		if err := json.Unmarshal(trimmed[start:end+1], &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

// ErrorMessage extracts the controller's error report, if the response is one.
// A response carrying data alongside errors is not treated as an error.
func ErrorMessage(raw any) (string, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return "", false
	}
	if obj.Has("data") || obj.Has("systems") {
		return "", false
	}
	if msg, ok := obj.String("error"); ok && msg != "" {
		return msg, true
	}
	errs, ok := obj["errors"].([]any)
	if !ok || len(errs) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		switch t := e.(type) {
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s: %v", k, t[k]))
			}
		default:
			parts = append(parts, fmt.Sprint(t))
		}
	}
	return strings.Join(parts, "; "), true
}

type envelopeParser func(raw any) ([]any, bool)

// Tried in order; the first parser that recognises the shape wins.
var envelopes = []envelopeParser{bareList, dataEnvelope, systemsEnvelope}

func envelopeItems(raw any) []any {
	for _, parse := range envelopes {
		if items, ok := parse(raw); ok {
			return items
		}
	}
	return nil
}

func bareList(raw any) ([]any, bool) {
	list, ok := raw.([]any)
	return list, ok
}

func dataEnvelope(raw any) ([]any, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, false
	}
	switch d := obj["data"].(type) {
	case []any:
		return d, true
	case map[string]any:
		return []any{d}, true
	}
	return nil, false
}

func systemsEnvelope(raw any) ([]any, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, false
	}
	systems, ok := obj["systems"].([]any)
	if !ok {
		return nil, false
	}
	var items []any
	for _, s := range systems {
		sys, ok := asObject(s)
		if !ok {
			continue
		}
		switch d := sys["data"].(type) {
		case []any:
			items = append(items, d...)
		case map[string]any:
			items = append(items, d)
		}
	}
	return items, true
}

func asObject(v any) (model.Payload, bool) {
	switch t := v.(type) {
	case map[string]any:
		return model.Payload(t), true
	case model.Payload:
		return t, true
	}
	return nil, false
}

func applyAliases(p model.Payload) {
	for _, a := range aliases {
		if p.Has(a.canonical) {
			continue
		}
		if v, ok := p[a.legacy]; ok {
			p[a.canonical] = v
		}
	}
}

func coerceInts(p model.Payload, fields []string) {
	for _, f := range fields {
		v, ok := p[f]
		if !ok {
			continue
		}
		if n, ok := model.AsInt(v); ok {
			if _, isBool := v.(bool); isBool {
				continue
			}
			p[f] = n
		}
	}
}

func normalizeSpeedValues(p model.Payload) {
	values, ok := p.Ints("speed_values")
	if !ok {
		return
	}
	sort.Ints(values)
	out := make([]int, 0, len(values))
	for _, v := range values {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	p["speed_values"] = out
}
