// Package followmaster keeps every zone of a system on the master zone's power
// state and mode ("hotel mode").
package followmaster

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

// Correction is one write needed to bring a zone in line with its master.
type Correction struct {
	SystemID int
	ZoneID   int
	Fields   map[string]any
}

// Writer applies zone writes. The coordinator satisfies it.
type Writer interface {
	SetZoneParams(ctx context.Context, systemID, zoneID int, fields map[string]any) (any, error)
}

// Plan compares every zone with master and returns the writes a single pass needs.
// Power is corrected first and on its own; mode is only corrected on a zone that is
// already on like its master, and only to a mode the zone lists as supported.
func Plan(master model.Payload, zones []model.Payload) []Correction {
	masterOn, ok := master.Int("on")
	if !ok {
		return nil
	}
	masterSID := master.IntOr("systemID", -1)
	masterZID := master.IntOr("zoneID", -1)
	masterMode, hasMode := master.Int("mode")

	var out []Correction
	for _, z := range zones {
		sid, ok := z.Int("systemID")
		if !ok {
			continue
		}
		zid, ok := z.Int("zoneID")
		if !ok || (sid == masterSID && zid == masterZID) {
			continue
		}

		on, ok := z.Int("on")
		if !ok || on != masterOn {
			out = append(out, Correction{SystemID: sid, ZoneID: zid, Fields: map[string]any{"on": masterOn}})
			continue
		}

		if masterOn != 1 || !hasMode {
			continue
		}
		if mode, ok := z.Int("mode"); ok && mode == masterMode {
			continue
		}
		if supports(z, masterMode) {
			out = append(out, Correction{SystemID: sid, ZoneID: zid, Fields: map[string]any{"mode": masterMode}})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SystemID != out[j].SystemID {
			return out[i].SystemID < out[j].SystemID
		}
		return out[i].ZoneID < out[j].ZoneID
	})
	return out
}

// A zone without a modes list cannot confirm the target mode and is left alone.
func supports(z model.Payload, mode int) bool {
	allowed, ok := z.Ints("modes")
	if !ok {
		return false
	}
	for _, m := range allowed {
		if m == mode {
			return true
		}
	}
	return false
}

// Apply issues every correction concurrently. A failed write is logged and does
// not stop the others. It returns the number of writes that succeeded.
func Apply(ctx context.Context, w Writer, corrections []Correction) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, c := range corrections {
		wg.Add(1)
		go func(c Correction) {
			defer wg.Done()
			if _, err := w.SetZoneParams(ctx, c.SystemID, c.ZoneID, c.Fields); err != nil {
				log.Error().
					Err(err).
					Int("system_id", c.SystemID).
					Int("zone_id", c.ZoneID).
					Interface("fields", c.Fields).
					Msg("Follow-master correction failed")
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
			log.Info().
				Int("system_id", c.SystemID).
				Int("zone_id", c.ZoneID).
				Interface("fields", c.Fields).
				Msg("Follow-master correction applied")
		}(c)
	}
	wg.Wait()
	return ok
}
