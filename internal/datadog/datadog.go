package datadog

import (
	"fmt"
	"strings"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/airzone-controller/internal/env"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

var dogstatsd *statsd.Client

func InitMetrics() {
	var err error
	dogstatsd, err = statsd.New(env.Cfg.DDAgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	dogstatsd.Namespace = env.Cfg.DDNamespace
	dogstatsd.Tags = env.Cfg.DDTags

	log.Info().
		Str("addr", env.Cfg.DDAgentAddr).
		Str("namespace", env.Cfg.DDNamespace).
		Strs("tags", env.Cfg.DDTags).
		Msg("Datadog metrics initialized")
}

// Close flushes buffered metrics and releases the client.
func Close() {
	if dogstatsd == nil {
		return
	}
	if err := dogstatsd.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close DogStatsD client")
	}
	dogstatsd = nil
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		err := dogstatsd.Gauge(name, value, tags, 1)
		if err != nil && env.Cfg.EnableDatadog {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

var zoneGauges = map[string]string{
	"roomTemp":     "zone.temperature",
	"humidity":     "zone.humidity",
	"setpoint":     "zone.setpoint",
	"coolsetpoint": "zone.cool_setpoint",
	"heatsetpoint": "zone.heat_setpoint",
	"on":           "zone.on",
	"mode":         "zone.mode",
	"speed":        "zone.fan_speed",
	"air_demand":   "zone.air_demand",
	"heat_demand":  "zone.heat_demand",
	"cold_demand":  "zone.cold_demand",
	"floor_demand": "zone.floor_demand",
}

var iaqGauges = map[string]string{
	"co2_value":      "iaq.co2",
	"pm2_5_value":    "iaq.pm2_5",
	"pm10_value":     "iaq.pm10",
	"tvoc_value":     "iaq.tvoc",
	"pressure_value": "iaq.pressure",
	"iaq_score":      "iaq.score",
}

var systemGauges = map[string]string{
	"ext_temp":    "system.outdoor_temperature",
	"temp_return": "system.return_temperature",
	"work_temp":   "system.work_temperature",
}

// ReportSnapshot emits one gauge per numeric reading in a published poll.
func ReportSnapshot(snap *model.Snapshot) {
	for k, z := range snap.Zones {
		tags := []string{
			"component:zone",
			fmt.Sprintf("system_id:%d", k.SystemID),
			fmt.Sprintf("zone_id:%d", k.ZoneID),
		}
		if name, ok := z.String("name"); ok && name != "" {
			tags = append(tags, "zone:"+tagValue(name))
		}
		emit(z, zoneGauges, tags)
	}

	for k, s := range snap.IAQs {
		emit(s, iaqGauges, []string{
			"component:iaq",
			fmt.Sprintf("system_id:%d", k.SystemID),
			fmt.Sprintf("iaq_id:%d", k.IAQID),
		})
	}

	for sid, s := range snap.Systems {
		emit(s, systemGauges, []string{"component:system", fmt.Sprintf("system_id:%d", sid)})
	}
}

// ReportPoll records the outcome of the most recent poll cycle.
func ReportPoll(success bool, consecutiveFailures int) {
	up := 0.0
	if success {
		up = 1
	}
	Gauge("controller.up", up, "component:coordinator")
	Gauge("controller.consecutive_failures", float64(consecutiveFailures), "component:coordinator")
}

func emit(p model.Payload, gauges map[string]string, tags []string) {
	for key, metric := range gauges {
		if v, ok := p.Float(key); ok {
			Gauge(metric, v, tags...)
		}
	}
}

func tagValue(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
