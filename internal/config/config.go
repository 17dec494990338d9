package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
)

// Environment variables read after the optional .env file. They override the
// config file.
const (
	EnvMQTTBroker   = "SOLAR_PUMP_MQTT_BROKER"
	EnvMQTTUsername = "SOLAR_PUMP_MQTT_USERNAME"
	EnvMQTTPassword = "SOLAR_PUMP_MQTT_PASSWORD"
	EnvNtfyTopic    = "SOLAR_PUMP_NTFY_TOPIC"
	EnvDDAgentAddr  = "SOLAR_PUMP_DD_AGENT_ADDR"
)

type Config struct {
	ConfigFile string        `json:"-"`
	EnvFile    string        `json:"-"`
	LogLevel   zerolog.Level `json:"-"`

	// GPIO
	RelayPin           *int   `json:"relay_pin"`
	FlowPin            *int   `json:"flow_pin"`
	GPIOChip           string `json:"gpio_chip"`
	FlowMinCyclePulses uint64 `json:"flow_min_cycle_pulses"`
	FlowCycleTimeoutMs int    `json:"flow_cycle_timeout_ms"`
	FlowDebounceMs     int    `json:"flow_debounce_ms"`

	// 1-wire
	W1DevicesPath  string `json:"w1_devices_path"`
	W1Bus          string `json:"w1_bus"`
	SamplePeriodMs int    `json:"sample_period_ms"`

	// pump policy
	HighThreshold float64 `json:"high_threshold"`
	LowThreshold  float64 `json:"low_threshold"`
	MinOffSeconds int     `json:"min_off_seconds"`
	MinOnSeconds  int     `json:"min_on_seconds"`
	MaxOnSeconds  int     `json:"max_on_seconds"`

	HTTPPort            int    `json:"http_port"`
	DBPath              string `json:"db_path"`
	LogFile             string `json:"log_file"`
	SafeMode            bool   `json:"safe_mode"`
	ValidateStartupPins bool   `json:"validate_startup_pins"`

	MQTTBroker      string `json:"mqtt_broker"`
	MQTTClientID    string `json:"mqtt_client_id"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`
	MQTTUsername    string `json:"-"`
	MQTTPassword    string `json:"-"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	NtfyTopic                string `json:"ntfy_topic"`
	TelemetryIntervalSeconds int    `json:"telemetry_interval_seconds"`

	BootScriptPath  string `json:"boot_script_path"`
	OSServicePath   string `json:"os_service_path"`
	MainServicePath string `json:"main_service_path"`
}

// Defaults returns the values used for keys absent from the config file.
func Defaults() Config {
	policy := model.DefaultPumpPolicy()
	return Config{
		GPIOChip:           "gpiochip0",
		FlowMinCyclePulses: 5,
		FlowCycleTimeoutMs: 5000,

		W1DevicesPath: "/sys/bus/w1/devices",
		W1Bus:         "w1_bus_master1",

		HighThreshold: policy.HighThreshold,
		LowThreshold:  policy.LowThreshold,
		MinOffSeconds: int(policy.MinOff / time.Second),
		MinOnSeconds:  int(policy.MinOn / time.Second),
		MaxOnSeconds:  int(policy.MaxOn / time.Second),

		HTTPPort:            8080,
		DBPath:              "data/solar-pump.db",
		LogFile:             "/var/log/solar-pump-controller.log",
		ValidateStartupPins: true,

		MQTTClientID:    "solar-pump-controller",
		MQTTTopicPrefix: "solar",

		DDAgentAddr: "127.0.0.1:8125",
		DDNamespace: "solar_pump.",

		TelemetryIntervalSeconds: 60,

		BootScriptPath:  "/usr/local/bin/solar-pump-boot.sh",
		OSServicePath:   "/etc/systemd/system/solar-pump-boot.service",
		MainServicePath: "/etc/systemd/system/solar-pump-controller.service",
	}
}

// Load parses the process flags and loads the config they point at.
func Load() Config {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) Config {
	var (
		configFile string
		envFile    string
		logLevel   string
	)

	flags := flag.NewFlagSet("solar-pump-controller", flag.ExitOnError)
	flags.StringVar(&configFile, "config-file", "config.json", "Path to controller config file")
	flags.StringVar(&envFile, "env-file", ".env", "Optional dotenv file with secrets")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.Parse(args)

	cfg := LoadFile(configFile, envFile)
	cfg.LogLevel = ParseLogLevel(logLevel)
	return cfg
}

// LoadFile reads configFile over the defaults, applies environment overrides
// and validates the result. It panics on any error.
func LoadFile(configFile, envFile string) Config {
	cfg := Defaults()
	cfg.ConfigFile = configFile
	cfg.EnvFile = envFile
	cfg.LogLevel = zerolog.InfoLevel

	file, err := os.Open(configFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			panic("Failed to load env file: " + err.Error())
		}
	}
	cfg.applyEnv()

	cfg.validate()
	return cfg
}

func (cfg *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&cfg.MQTTBroker, EnvMQTTBroker)
	override(&cfg.MQTTUsername, EnvMQTTUsername)
	override(&cfg.MQTTPassword, EnvMQTTPassword)
	override(&cfg.NtfyTopic, EnvNtfyTopic)
	override(&cfg.DDAgentAddr, EnvDDAgentAddr)
}

func ParseLogLevel(level string) zerolog.Level {
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

// Policy is the pump policy described by the config file.
func (cfg Config) Policy() model.PumpPolicy {
	return model.PumpPolicy{
		HighThreshold: cfg.HighThreshold,
		LowThreshold:  cfg.LowThreshold,
		MinOff:        time.Duration(cfg.MinOffSeconds) * time.Second,
		MinOn:         time.Duration(cfg.MinOnSeconds) * time.Second,
		MaxOn:         time.Duration(cfg.MaxOnSeconds) * time.Second,
	}
}

func (cfg Config) SamplePeriod() time.Duration {
	return time.Duration(cfg.SamplePeriodMs) * time.Millisecond
}

func (cfg Config) FlowCycleTimeout() time.Duration {
	return time.Duration(cfg.FlowCycleTimeoutMs) * time.Millisecond
}

func (cfg Config) FlowDebounce() time.Duration {
	return time.Duration(cfg.FlowDebounceMs) * time.Millisecond
}

func (cfg Config) TelemetryInterval() time.Duration {
	return time.Duration(cfg.TelemetryIntervalSeconds) * time.Second
}

func (cfg *Config) validate() {
	var problems []string

	switch {
	case cfg.RelayPin == nil && cfg.FlowPin == nil:
		problems = append(problems, "missing required GPIO config fields: relay_pin, flow_pin")
	case cfg.RelayPin == nil:
		problems = append(problems, "missing required GPIO config field: relay_pin")
	case cfg.FlowPin == nil:
		problems = append(problems, "missing required GPIO config field: flow_pin")
	case *cfg.RelayPin == *cfg.FlowPin:
		problems = append(problems, fmt.Sprintf("relay_pin and flow_pin both use pin %d", *cfg.RelayPin))
	}

	if err := cfg.Policy().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.SamplePeriodMs < 0 || (cfg.SamplePeriodMs > 0 && cfg.SamplePeriodMs < 750) {
		problems = append(problems, fmt.Sprintf("sample_period_ms %d must be 0 (default) or at least 750", cfg.SamplePeriodMs))
	}
	if cfg.FlowMinCyclePulses == 0 {
		problems = append(problems, "flow_min_cycle_pulses must be at least 1")
	}
	if cfg.FlowCycleTimeoutMs <= 0 {
		problems = append(problems, "flow_cycle_timeout_ms must be positive")
	}
	if cfg.FlowDebounceMs < 0 {
		problems = append(problems, "flow_debounce_ms must not be negative")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, fmt.Sprintf("http_port %d out of range", cfg.HTTPPort))
	}
	if cfg.TelemetryIntervalSeconds <= 0 {
		problems = append(problems, "telemetry_interval_seconds must be positive")
	}

	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}
