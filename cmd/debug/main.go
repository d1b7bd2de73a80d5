package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/thatsimonsguy/airzone-controller/db"
	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
	"github.com/thatsimonsguy/airzone-controller/internal/config"
	"github.com/thatsimonsguy/airzone-controller/internal/coordinator"
	"github.com/thatsimonsguy/airzone-controller/internal/env"
	"github.com/thatsimonsguy/airzone-controller/internal/modes"
	"github.com/thatsimonsguy/airzone-controller/system/startup"
)

func main() {
	DebugCLI()
}

type options struct {
	configFile string
	dbPath     string
	host       string
	port       int
	prefix     string
	command    string
	systemID   string
	zoneID     string
	mode       string
	fields     string
	enable     bool
}

func DebugCLI() {
	var o options
	flag.StringVar(&o.configFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&o.dbPath, "db", "", "Path to the SQLite database file (defaults to db_path from config)")
	flag.StringVar(&o.host, "host", "", "Airzone controller host (overrides config)")
	flag.IntVar(&o.port, "port", 0, "Airzone controller port (overrides config)")
	flag.StringVar(&o.prefix, "prefix", "", "API prefix to try first (overrides config)")
	flag.StringVar(&o.command, "cmd", "", "Command to run: probe, zones, systems, iaq, webserver, diagnostics, set-zone, set-system-mode, follow-master, clear-endpoint, install-service")
	flag.StringVar(&o.systemID, "system", "", "System ID for system and zone commands")
	flag.StringVar(&o.zoneID, "zone", "", "Zone ID for zone commands")
	flag.StringVar(&o.mode, "mode", "", "Mode for set-system-mode (off, heat, cool, auto, dry, fan_only)")
	flag.StringVar(&o.fields, "fields", "", `JSON object of fields for set-zone, e.g. '{"setpoint": 21.5}'`)
	flag.BoolVar(&o.enable, "enable", true, "Enable (true) or disable (false) for follow-master; for install-service, also run systemctl enable")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || o.command == "" {
		fmt.Println("\nUsage of airzone-debug:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if err := run(o); err != nil {
		fmt.Printf("Command %s failed: %v\n", o.command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", o.command)
}

func run(o options) error {
	switch o.command {
	case "follow-master":
		if o.systemID == "" {
			return fmt.Errorf("system ID is required")
		}
		path, err := dbPath(o)
		if err != nil {
			return err
		}
		if err := db.SetFollowMasterCLI(path, o.systemID, o.enable); err != nil {
			return err
		}
		systems, err := db.ListFollowMasterCLI(path)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"follow_master": systems})
	case "clear-endpoint":
		path, err := dbPath(o)
		if err != nil {
			return err
		}
		return db.ClearEndpointCLI(path)
	case "install-service":
		cfg, err := config.FromFile(o.configFile)
		if err != nil {
			return err
		}
		env.Cfg = &cfg
		if err := startup.InstallService(); err != nil {
			return err
		}
		if o.enable {
			return startup.EnableService()
		}
		return nil
	}

	client, err := newClient(o)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if o.command == "probe" {
		ep := client.Probe(ctx)
		version, _ := client.Version(ctx)
		return printJSON(map[string]any{"endpoint": ep, "version": version})
	}

	coord := coordinator.New(client, coordinator.Options{})
	defer coord.Close()

	switch o.command {
	case "set-zone":
		sid, zid, err := ids(o.systemID, o.zoneID)
		if err != nil {
			return err
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(o.fields), &fields); err != nil || len(fields) == 0 {
			return fmt.Errorf("fields must be a non-empty JSON object")
		}
		resp, err := coord.SetZoneParams(ctx, sid, zid, fields)
		if err != nil {
			return err
		}
		return printJSON(resp)
	}

	if err := coord.Refresh(ctx); err != nil {
		return err
	}

	switch o.command {
	case "zones":
		out := map[string]any{}
		for _, k := range coord.ZoneKeys() {
			z, _ := coord.Zone(k.SystemID, k.ZoneID)
			allowed := modes.Allowed(z)
			z["hvac_mode"] = modes.Current(z, allowed)
			z["hvac_modes"] = modes.Names(allowed)
			out[fmt.Sprintf("%d/%d", k.SystemID, k.ZoneID)] = z
		}
		return printJSON(out)
	case "systems":
		out := map[string]any{}
		for _, sid := range coord.SystemIDs() {
			sys, _ := coord.System(sid)
			profile, _ := coord.SystemProfile(sid)
			master, _ := coord.MasterZoneID(sid)
			out[strconv.Itoa(sid)] = map[string]any{"data": sys, "profile": profile, "master_zone_id": master}
		}
		return printJSON(out)
	case "iaq":
		out := map[string]any{}
		for _, k := range coord.IAQKeys() {
			s, _ := coord.IAQ(k.SystemID, k.IAQID)
			out[fmt.Sprintf("%d/%d", k.SystemID, k.IAQID)] = s
		}
		return printJSON(out)
	case "webserver":
		ws, ok := coord.Webserver()
		if !ok {
			return fmt.Errorf("webserver info unavailable")
		}
		return printJSON(ws)
	case "diagnostics":
		return printJSON(coord.Diagnostics())
	case "set-system-mode":
		sid, err := strconv.Atoi(o.systemID)
		if err != nil {
			return fmt.Errorf("invalid system ID %q", o.systemID)
		}
		mode, ok := modes.Parse(o.mode)
		if !ok {
			return fmt.Errorf("invalid mode %q", o.mode)
		}
		return coord.SetSystemMode(ctx, sid, mode)
	}
	return fmt.Errorf("invalid command")
}

// Flags win over the config file; the file is optional when -host is given.
func newClient(o options) (*airzone.Client, error) {
	host, port, prefix := o.host, o.port, o.prefix
	timeout := config.DefaultRequestTimeout
	if cfg, err := config.FromFile(o.configFile); err == nil {
		if host == "" {
			host = cfg.Host
		}
		if port == 0 {
			port = cfg.Port
		}
		if prefix == "" {
			prefix = cfg.APIPrefix
		}
		timeout = cfg.RequestTimeoutSeconds
	} else if host == "" {
		return nil, err
	}
	if port == 0 {
		port = config.DefaultPort
	}
	return airzone.New(host, port, airzone.Options{
		Prefix:  prefix,
		Timeout: time.Duration(timeout) * time.Second,
	}), nil
}

func dbPath(o options) (string, error) {
	if o.dbPath != "" {
		return o.dbPath, nil
	}
	cfg, err := config.FromFile(o.configFile)
	if err != nil {
		return "", err
	}
	if cfg.DBPath == "" {
		return "", fmt.Errorf("no database configured")
	}
	return cfg.DBPath, nil
}

func ids(system, zone string) (int, int, error) {
	sid, err := strconv.Atoi(system)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid system ID %q", system)
	}
	zid, err := strconv.Atoi(zone)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid zone ID %q", zone)
	}
	return sid, zid, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
