package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	DefaultPort                = 3000
	DefaultScanInterval        = 5
	MinScanInterval            = 5
	DefaultRequestTimeout      = 5
	DefaultAPIPort             = 8080
	DefaultFailureThreshold    = 3
	DefaultMQTTTopicPrefix     = "airzone"
	DefaultDDAgentAddr         = "127.0.0.1:8125"
	DefaultDDNamespace         = "airzone."
	MasterZoneSourceHeuristic  = "heuristic"
	MasterZoneSourceSystemData = "system"
)

type MQTT struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

type Config struct {
	ConfigFile string
	LogLevel   zerolog.Level
	LogFile    string

	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	APIPrefix             string `json:"api_prefix"`
	ScanInterval          int    `json:"scan_interval"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	APIPort               int    `json:"api_port"`
	DBPath                string `json:"db_path"`

	FollowMaster     []int  `json:"follow_master"`
	MasterZoneSource string `json:"master_zone_source"`

	FailureNotifyThreshold int    `json:"failure_notify_threshold"`
	NtfyTopic              string `json:"ntfy_topic"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	MQTT MQTT `json:"mqtt"`

	// Paths used by the debug CLI when installing the systemd unit.
	MainServicePath string `json:"main_service_path"`
	BinaryPath      string `json:"binary_path"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Optional file to append logs to")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	if err := cfg.readFile(cfg.ConfigFile); err != nil {
		panic(err.Error())
	}

	cfg.applyDefaults()
	cfg.validate()
	return cfg
}

// FromFile loads path without touching command-line flags, for tools that parse
// their own. Invalid contents panic as in Load.
func FromFile(path string) (Config, error) {
	cfg := Config{ConfigFile: path, LogLevel: zerolog.InfoLevel}
	if err := cfg.readFile(path); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	cfg.validate()
	return cfg, nil
}

func (cfg *Config) readFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ScanInterval == 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.ScanInterval < MinScanInterval {
		cfg.ScanInterval = MinScanInterval
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if cfg.APIPort == 0 {
		cfg.APIPort = DefaultAPIPort
	}
	if cfg.FailureNotifyThreshold <= 0 {
		cfg.FailureNotifyThreshold = DefaultFailureThreshold
	}
	if cfg.MasterZoneSource == "" {
		cfg.MasterZoneSource = MasterZoneSourceHeuristic
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")
	if cfg.DDAgentAddr == "" {
		cfg.DDAgentAddr = DefaultDDAgentAddr
	}
	if cfg.DDNamespace == "" {
		cfg.DDNamespace = DefaultDDNamespace
	}
	if cfg.APIPrefix != "" && !strings.HasPrefix(cfg.APIPrefix, "/") {
		cfg.APIPrefix = "/" + cfg.APIPrefix
	}
	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")
}

func (cfg *Config) validate() {
	var problems []string

	if strings.TrimSpace(cfg.Host) == "" {
		problems = append(problems, "host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", cfg.Port))
	}
	if cfg.APIPort < 1 || cfg.APIPort > 65535 {
		problems = append(problems, fmt.Sprintf("api_port %d out of range", cfg.APIPort))
	}
	if cfg.APIPort == cfg.Port && isLocal(cfg.Host) {
		problems = append(problems, "api_port conflicts with controller port on the same host")
	}
	switch cfg.MasterZoneSource {
	case MasterZoneSourceHeuristic, MasterZoneSourceSystemData:
	default:
		problems = append(problems, fmt.Sprintf("unknown master_zone_source %q", cfg.MasterZoneSource))
	}
	seen := map[int]bool{}
	for _, sid := range cfg.FollowMaster {
		if sid <= 0 {
			problems = append(problems, fmt.Sprintf("follow_master system id %d must be positive", sid))
		}
		if seen[sid] {
			problems = append(problems, fmt.Sprintf("follow_master lists system %d twice", sid))
		}
		seen[sid] = true
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, ", "))
	}
}

func isLocal(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
