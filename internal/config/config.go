package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CELLMODULE"

type GPIO struct {
	Chip           string `mapstructure:"chip"`
	LoadLine       int    `mapstructure:"load_line"`
	LedLine        int    `mapstructure:"led_line"`
	ReferenceLine  int    `mapstructure:"reference_line"`
	TempEnableLine int    `mapstructure:"temp_enable_line"`
}

// ADC points at sysfs IIO raw value files, one per channel.
type ADC struct {
	CellVoltagePath  string  `mapstructure:"cell_voltage_path"`
	InternalTempPath string  `mapstructure:"internal_temp_path"`
	ExternalTempPath string  `mapstructure:"external_temp_path"`
	SettleMs         int     `mapstructure:"settle_ms"`
	MVPerCode        float64 `mapstructure:"mv_per_code"`
}

type Module struct {
	SafetyCutoffC      int     `mapstructure:"safety_cutoff_c"`
	LoadResistanceOhms float64 `mapstructure:"load_resistance_ohms"`
	TickHz             int     `mapstructure:"tick_hz"`
	WatchdogSeconds    int     `mapstructure:"watchdog_seconds"`
	PollIterations     int     `mapstructure:"poll_iterations"`
	PollIntervalMs     int     `mapstructure:"poll_interval_ms"`
	LoopIntervalMs     int     `mapstructure:"loop_interval_ms"`
	StatusEvery        int     `mapstructure:"status_every"`
	MaxSleepMs         int     `mapstructure:"max_sleep_ms"`
}

type PID struct {
	Kp float64 `mapstructure:"kp"`
	Ki float64 `mapstructure:"ki"`
	Kd float64 `mapstructure:"kd"`
	Hz float64 `mapstructure:"hz"`
}

type Serial struct {
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
}

type MQTT struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type Datadog struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addr      string   `mapstructure:"addr"`
	Namespace string   `mapstructure:"namespace"`
	Tags      []string `mapstructure:"tags"`
}

type Notify struct {
	NtfyURL   string `mapstructure:"ntfy_url"`
	NtfyTopic string `mapstructure:"ntfy_topic"`
}

type API struct {
	Port int `mapstructure:"port"`
}

type Config struct {
	ConfigFile string        `mapstructure:"-"`
	LogLevel   zerolog.Level `mapstructure:"-"`

	LogLevelName string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
	DBPath       string `mapstructure:"db_path"`
	SafeMode     bool   `mapstructure:"safe_mode"`
	Hardware     string `mapstructure:"hardware"`

	GPIO    GPIO    `mapstructure:"gpio"`
	ADC     ADC     `mapstructure:"adc"`
	Module  Module  `mapstructure:"module"`
	PID     PID     `mapstructure:"pid"`
	Serial  Serial  `mapstructure:"serial"`
	MQTT    MQTT    `mapstructure:"mqtt"`
	Datadog Datadog `mapstructure:"datadog"`
	Notify  Notify  `mapstructure:"notify"`
	API     API     `mapstructure:"api"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("db_path", "data/cell-module.db")
	v.SetDefault("safe_mode", false)
	v.SetDefault("hardware", "linux")

	v.SetDefault("gpio.chip", "gpiochip0")
	v.SetDefault("gpio.load_line", 17)
	v.SetDefault("gpio.led_line", 27)
	v.SetDefault("gpio.reference_line", 22)
	v.SetDefault("gpio.temp_enable_line", 23)

	v.SetDefault("adc.cell_voltage_path", "/sys/bus/iio/devices/iio:device0/in_voltage0_raw")
	v.SetDefault("adc.internal_temp_path", "/sys/bus/iio/devices/iio:device0/in_voltage1_raw")
	v.SetDefault("adc.external_temp_path", "/sys/bus/iio/devices/iio:device0/in_voltage2_raw")
	v.SetDefault("adc.settle_ms", 2)
	v.SetDefault("adc.mv_per_code", 1.0)

	v.SetDefault("module.safety_cutoff_c", 85)
	v.SetDefault("module.load_resistance_ohms", 4.4)
	v.SetDefault("module.tick_hz", 1000)
	v.SetDefault("module.watchdog_seconds", 8)
	v.SetDefault("module.poll_iterations", 200)
	v.SetDefault("module.poll_interval_ms", 1)
	v.SetDefault("module.loop_interval_ms", 0)
	v.SetDefault("module.status_every", 10)
	v.SetDefault("module.max_sleep_ms", 5000)

	v.SetDefault("pid.kp", 5.0)
	v.SetDefault("pid.ki", 1.0)
	v.SetDefault("pid.kd", 0.1)
	v.SetDefault("pid.hz", 3.0)

	v.SetDefault("serial.device", "")
	v.SetDefault("serial.baud", 5000)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "cell-module")
	v.SetDefault("mqtt.topic_prefix", "bms/cell")

	v.SetDefault("datadog.enabled", false)
	v.SetDefault("datadog.addr", "127.0.0.1:8125")
	v.SetDefault("datadog.namespace", "cellmodule.")
	v.SetDefault("datadog.tags", []string{})

	v.SetDefault("notify.ntfy_url", "https://ntfy.sh")
	v.SetDefault("notify.ntfy_topic", "")

	v.SetDefault("api.port", 0)
}

// Load reads configuration from defaults, an optional config file, CELLMODULE_*
// environment variables and command line flags, in increasing precedence.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("cell-module", pflag.ContinueOnError)
	configFile := fs.String("config", "", "Path to config file (toml, json or yaml)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("db", "data/cell-module.db", "Path to the SQLite database file")
	fs.Bool("safe-mode", false, "Never drive output lines")
	fs.String("hardware", "linux", "Hardware backend (linux, sim)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"log_level": "log-level",
		"db_path":   "db",
		"safe_mode": "safe-mode",
		"hardware":  "hardware",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flagName, err)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ConfigFile = *configFile
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
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

func (cfg *Config) Validate() error {
	var problems []string

	if cfg.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if cfg.Hardware != "linux" && cfg.Hardware != "sim" {
		problems = append(problems, fmt.Sprintf("hardware must be linux or sim, got %q", cfg.Hardware))
	}
	if cfg.Module.TickHz <= 0 {
		problems = append(problems, "module.tick_hz must be positive")
	}
	if cfg.Module.LoadResistanceOhms <= 0 {
		problems = append(problems, "module.load_resistance_ohms must be positive")
	}
	if cfg.Module.WatchdogSeconds <= 0 {
		problems = append(problems, "module.watchdog_seconds must be positive")
	}
	if cfg.Module.SafetyCutoffC <= minSafetyCutoffC {
		problems = append(problems, fmt.Sprintf("module.safety_cutoff_c must be above %d", minSafetyCutoffC))
	}
	if cfg.Module.PollIterations < 0 || cfg.Module.PollIntervalMs < 0 {
		problems = append(problems, "module.poll_iterations and module.poll_interval_ms must not be negative")
	}
	if cfg.Module.LoopIntervalMs < 0 {
		problems = append(problems, "module.loop_interval_ms must not be negative")
	}
	if cfg.Module.MaxSleepMs <= 0 {
		problems = append(problems, "module.max_sleep_ms must be positive")
	} else if gap := cfg.Module.WatchdogGapMs(); gap >= cfg.Module.WatchdogSeconds*1000 {
		problems = append(problems, fmt.Sprintf(
			"module.max_sleep_ms + loop_interval_ms + poll window + %dms margin is %dms, must be shorter than the watchdog period",
			watchdogMarginMs, gap))
	}
	if cfg.PID.Hz <= 0 {
		problems = append(problems, "pid.hz must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

const (
	// minSafetyCutoffC leaves room for the lowest allowed setpoint plus its margin.
	minSafetyCutoffC = 20
	// watchdogMarginMs covers LED patterns, sensor settling and command handling
	// inside one iteration.
	watchdogMarginMs = 500
)

// WatchdogGapMs is the longest the loop can go between two watchdog resets:
// one full suspension, the loop pause and the serial poll window.
func (m Module) WatchdogGapMs() int {
	return m.MaxSleepMs + m.LoopIntervalMs + m.PollIterations*m.PollIntervalMs + watchdogMarginMs
}
