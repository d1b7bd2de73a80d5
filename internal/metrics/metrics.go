// Package metrics exposes the coordinator's latest snapshot as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thatsimonsguy/airzone-controller/internal/coordinator"
	"github.com/thatsimonsguy/airzone-controller/internal/model"
)

// Source is the read side of the coordinator the collector scrapes.
type Source interface {
	Snapshot() *model.Snapshot
	Status() coordinator.Status
}

type zoneGauge struct {
	key  string
	desc *prometheus.Desc
}

// Collector implements prometheus.Collector over the published snapshot. Scrapes
// never reach the controller.
type Collector struct {
	source Source

	up                  *prometheus.Desc
	consecutiveFailures *prometheus.Desc
	lastUpdate          *prometheus.Desc
	info                *prometheus.Desc
	zoneGauges          []zoneGauge
	zoneDemand          *prometheus.Desc
	iaqValue            *prometheus.Desc
	systemTemperature   *prometheus.Desc
}

var zoneLabels = []string{"system_id", "zone_id", "name"}

var demandKeys = []string{"air_demand", "heat_demand", "cold_demand", "floor_demand"}

var iaqMeasurements = map[string]string{
	"co2_value":      "co2",
	"pm2_5_value":    "pm2_5",
	"pm10_value":     "pm10",
	"tvoc_value":     "tvoc",
	"pressure_value": "pressure",
	"iaq_score":      "score",
}

var systemSensors = map[string]string{
	"ext_temp":    "outdoor",
	"temp_return": "return",
	"work_temp":   "work",
}

func NewCollector(source Source) *Collector {
	zone := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, zoneLabels, nil)
	}
	return &Collector{
		source: source,
		up: prometheus.NewDesc(
			"airzone_up",
			"Whether the last poll of the controller succeeded (1=yes, 0=no)",
			nil, nil,
		),
		consecutiveFailures: prometheus.NewDesc(
			"airzone_consecutive_failures",
			"Number of consecutive failed polls",
			nil, nil,
		),
		lastUpdate: prometheus.NewDesc(
			"airzone_last_update_timestamp_seconds",
			"Unix time of the last published snapshot",
			nil, nil,
		),
		info: prometheus.NewDesc(
			"airzone_info",
			"Controller information",
			[]string{"version", "ws_type", "ws_firmware", "transport_hvac", "scheme", "api_prefix"},
			nil,
		),
		zoneGauges: []zoneGauge{
			{"roomTemp", zone("airzone_zone_temperature", "Room temperature in the zone's configured units")},
			{"humidity", zone("airzone_zone_humidity_percent", "Relative humidity in percent")},
			{"setpoint", zone("airzone_zone_setpoint", "Active setpoint in the zone's configured units")},
			{"on", zone("airzone_zone_on", "Zone power state (1=on, 0=off)")},
			{"mode", zone("airzone_zone_mode", "Raw Airzone mode code")},
			{"speed", zone("airzone_zone_fan_speed", "Fan speed step")},
		},
		zoneDemand: prometheus.NewDesc(
			"airzone_zone_demand",
			"Active demand flags per zone (1=demanding)",
			append(append([]string{}, zoneLabels...), "kind"),
			nil,
		),
		iaqValue: prometheus.NewDesc(
			"airzone_iaq_value",
			"IAQ sensor reading",
			[]string{"system_id", "iaq_id", "measurement"},
			nil,
		),
		systemTemperature: prometheus.NewDesc(
			"airzone_system_temperature",
			"System-level water or outdoor temperature",
			[]string{"system_id", "sensor"},
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.consecutiveFailures
	ch <- c.lastUpdate
	ch <- c.info
	for _, g := range c.zoneGauges {
		ch <- g.desc
	}
	ch <- c.zoneDemand
	ch <- c.iaqValue
	ch <- c.systemTemperature
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.source.Status()
	snap := c.source.Snapshot()

	up := 0.0
	if status.LastUpdateSuccess {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(c.consecutiveFailures, prometheus.GaugeValue, float64(status.ConsecutiveFailures))

	if snap == nil || snap.UpdatedAt.IsZero() {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue, float64(snap.UpdatedAt.Unix()))

	wsType, _ := snap.Webserver.String("ws_type")
	wsFirmware, _ := snap.Webserver.String("ws_firmware")
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
		snap.Version, wsType, wsFirmware, snap.Transport.HVAC, snap.Transport.Scheme, snap.Transport.APIPrefix)

	for k, z := range snap.Zones {
		name, _ := z.String("name")
		labels := []string{strconv.Itoa(k.SystemID), strconv.Itoa(k.ZoneID), name}
		for _, g := range c.zoneGauges {
			if v, ok := z.Float(g.key); ok {
				ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, v, labels...)
			}
		}
		for _, key := range demandKeys {
			if v, ok := z.Float(key); ok {
				ch <- prometheus.MustNewConstMetric(c.zoneDemand, prometheus.GaugeValue, v, append(labels, key)...)
			}
		}
	}

	for k, s := range snap.IAQs {
		for key, measurement := range iaqMeasurements {
			if v, ok := s.Float(key); ok {
				ch <- prometheus.MustNewConstMetric(c.iaqValue, prometheus.GaugeValue, v,
					strconv.Itoa(k.SystemID), strconv.Itoa(k.IAQID), measurement)
			}
		}
	}

	for sid, s := range snap.Systems {
		for key, sensor := range systemSensors {
			if v, ok := s.Float(key); ok {
				ch <- prometheus.MustNewConstMetric(c.systemTemperature, prometheus.GaugeValue, v, strconv.Itoa(sid), sensor)
			}
		}
	}
}
