package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// CaptureConfig describes how audio segments are acquired. In exec mode an
// external command must write raw little-endian int16 PCM to stdout for the
// requested window.
type CaptureConfig struct {
	Mode          string `yaml:"mode"` // mock, exec
	Command       string `yaml:"command"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	WindowSeconds int    `yaml:"window_seconds"`
	QueueDepth    int    `yaml:"queue_depth"`
}

// GateConfig holds the audio-quality thresholds. Clinical speech shifts the
// useful cutoffs (soft-spoken patients sit near the silence floor), so all
// three are tunable rather than constants.
type GateConfig struct {
	SilenceFloor   float64 `yaml:"silence_floor"`
	SecondaryFloor float64 `yaml:"secondary_floor"`
	NoiseCeiling   float64 `yaml:"noise_ceiling"`
}

type PrimaryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Language        string `yaml:"language"`
	AltLanguage     string `yaml:"alt_language"`
	AllAlternatives bool   `yaml:"all_alternatives"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

// SecondaryConfig configures the paid Whisper backend. SilenceFloor,
// EnergyFloor and NoiseCeiling are re-checked against the segment right
// before the paid call, independently of the generic gate thresholds.
type SecondaryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	Language     string  `yaml:"language"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
	SilenceFloor float64 `yaml:"silence_floor"`
	EnergyFloor  float64 `yaml:"energy_floor"`
	NoiseCeiling float64 `yaml:"noise_ceiling"`
}

type LedgerConfig struct {
	Path             string  `yaml:"path"`
	CostPerMinute    float64 `yaml:"cost_per_minute"`
	WarnThresholdUSD float64 `yaml:"warn_threshold_usd"`
}

type HintsConfig struct {
	CatalogPath string  `yaml:"catalog_path"`
	MaxPhrases  int     `yaml:"max_phrases"`
	Boost       float64 `yaml:"boost"`
}

type ArchiveConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Capture     CaptureConfig   `yaml:"capture"`
	Gate        GateConfig      `yaml:"gate"`
	Primary     PrimaryConfig   `yaml:"primary"`
	Secondary   SecondaryConfig `yaml:"secondary"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Hints       HintsConfig     `yaml:"hints"`
	Archive     ArchiveConfig   `yaml:"archive"`
}

func Default() Config {
	return Config{
		RuntimeName: "negar-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Mode:          "exec",
			SampleRate:    16000,
			Channels:      1,
			WindowSeconds: 5,
			QueueDepth:    8,
		},
		Gate: GateConfig{
			SilenceFloor:   300,
			SecondaryFloor: 500,
			NoiseCeiling:   0.3,
		},
		Primary: PrimaryConfig{
			Enabled:         true,
			Endpoint:        "https://speech.googleapis.com/v1/speech:recognize",
			Language:        "fa-IR",
			AltLanguage:     "en-US",
			AllAlternatives: true,
			TimeoutMS:       10000,
		},
		Secondary: SecondaryConfig{
			Enabled:      true,
			Endpoint:     "https://api.openai.com/v1",
			Model:        "whisper-1",
			Language:     "fa",
			Temperature:  0,
			TimeoutMS:    30000,
			SilenceFloor: 300,
			EnergyFloor:  500,
			NoiseCeiling: 0.3,
		},
		Ledger: LedgerConfig{
			Path:             "./data/usage.json",
			CostPerMinute:    0.006,
			WarnThresholdUSD: 1.0,
		},
		Hints: HintsConfig{
			CatalogPath: "./dsm5_terminology.json",
			MaxPhrases:  500,
			Boost:       10,
		},
		Archive: ArchiveConfig{
			Path:          "./data/negar-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "NEGAR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NEGAR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NEGAR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NEGAR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NEGAR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NEGAR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NEGAR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NEGAR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NEGAR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NEGAR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NEGAR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NEGAR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NEGAR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NEGAR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NEGAR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NEGAR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Mode, "NEGAR_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "NEGAR_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "NEGAR_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "NEGAR_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.WindowSeconds, "NEGAR_CAPTURE_WINDOW_SECONDS")
	overrideInt(&cfg.Capture.QueueDepth, "NEGAR_CAPTURE_QUEUE_DEPTH")
	overrideFloat(&cfg.Gate.SilenceFloor, "NEGAR_GATE_SILENCE_FLOOR")
	overrideFloat(&cfg.Gate.SecondaryFloor, "NEGAR_GATE_SECONDARY_FLOOR")
	overrideFloat(&cfg.Gate.NoiseCeiling, "NEGAR_GATE_NOISE_CEILING")
	overrideBool(&cfg.Primary.Enabled, "NEGAR_PRIMARY_ENABLED")
	overrideString(&cfg.Primary.Endpoint, "NEGAR_PRIMARY_ENDPOINT")
	overrideString(&cfg.Primary.APIKey, "NEGAR_PRIMARY_API_KEY")
	overrideString(&cfg.Primary.Language, "NEGAR_PRIMARY_LANGUAGE")
	overrideString(&cfg.Primary.AltLanguage, "NEGAR_PRIMARY_ALT_LANGUAGE")
	overrideBool(&cfg.Primary.AllAlternatives, "NEGAR_PRIMARY_ALL_ALTERNATIVES")
	overrideInt(&cfg.Primary.TimeoutMS, "NEGAR_PRIMARY_TIMEOUT_MS")
	overrideBool(&cfg.Secondary.Enabled, "NEGAR_SECONDARY_ENABLED")
	overrideString(&cfg.Secondary.Endpoint, "NEGAR_SECONDARY_ENDPOINT")
	overrideString(&cfg.Secondary.APIKey, "NEGAR_SECONDARY_API_KEY")
	overrideString(&cfg.Secondary.Model, "NEGAR_SECONDARY_MODEL")
	overrideString(&cfg.Secondary.Language, "NEGAR_SECONDARY_LANGUAGE")
	overrideFloat(&cfg.Secondary.Temperature, "NEGAR_SECONDARY_TEMPERATURE")
	overrideInt(&cfg.Secondary.TimeoutMS, "NEGAR_SECONDARY_TIMEOUT_MS")
	overrideFloat(&cfg.Secondary.SilenceFloor, "NEGAR_SECONDARY_SILENCE_FLOOR")
	overrideFloat(&cfg.Secondary.EnergyFloor, "NEGAR_SECONDARY_ENERGY_FLOOR")
	overrideFloat(&cfg.Secondary.NoiseCeiling, "NEGAR_SECONDARY_NOISE_CEILING")
	overrideString(&cfg.Ledger.Path, "NEGAR_LEDGER_PATH")
	overrideFloat(&cfg.Ledger.CostPerMinute, "NEGAR_LEDGER_COST_PER_MINUTE")
	overrideFloat(&cfg.Ledger.WarnThresholdUSD, "NEGAR_LEDGER_WARN_THRESHOLD_USD")
	overrideString(&cfg.Hints.CatalogPath, "NEGAR_HINTS_CATALOG_PATH")
	overrideInt(&cfg.Hints.MaxPhrases, "NEGAR_HINTS_MAX_PHRASES")
	overrideFloat(&cfg.Hints.Boost, "NEGAR_HINTS_BOOST")
	overrideString(&cfg.Archive.Path, "NEGAR_ARCHIVE_PATH")
	overrideString(&cfg.Archive.RetentionMode, "NEGAR_ARCHIVE_RETENTION_MODE")
	overrideInt(&cfg.Archive.RetentionDays, "NEGAR_ARCHIVE_RETENTION_DAYS")
	overrideInt(&cfg.Archive.MaxSessions, "NEGAR_ARCHIVE_MAX_SESSIONS")
	overrideBool(&cfg.Archive.VacuumOnStart, "NEGAR_ARCHIVE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.WindowSeconds <= 0 {
		return errors.New("capture.window_seconds must be positive")
	}
	if cfg.Capture.QueueDepth <= 0 {
		return errors.New("capture.queue_depth must be >= 1")
	}
	if cfg.Gate.SilenceFloor < 0 {
		return errors.New("gate.silence_floor must be >= 0")
	}
	if cfg.Gate.SecondaryFloor < cfg.Gate.SilenceFloor {
		return errors.New("gate.secondary_floor must not be below gate.silence_floor")
	}
	if cfg.Gate.NoiseCeiling <= 0 || cfg.Gate.NoiseCeiling >= 1 {
		return errors.New("gate.noise_ceiling must be between 0 and 1 exclusive")
	}
	if cfg.Primary.Enabled {
		if cfg.Primary.Endpoint == "" {
			return errors.New("primary.endpoint must not be empty when primary backend is enabled")
		}
		if cfg.Primary.Language == "" {
			return errors.New("primary.language must not be empty when primary backend is enabled")
		}
		if cfg.Primary.TimeoutMS <= 0 {
			return errors.New("primary.timeout_ms must be positive")
		}
	}
	if cfg.Secondary.Enabled {
		if cfg.Secondary.APIKey == "" {
			return errors.New("secondary.api_key must be set when secondary backend is enabled")
		}
		if cfg.Secondary.Endpoint == "" {
			return errors.New("secondary.endpoint must not be empty when secondary backend is enabled")
		}
		if cfg.Secondary.Model == "" {
			return errors.New("secondary.model must not be empty when secondary backend is enabled")
		}
		if cfg.Secondary.TimeoutMS <= 0 {
			return errors.New("secondary.timeout_ms must be positive")
		}
	}
	if !cfg.Primary.Enabled && !cfg.Secondary.Enabled {
		return errors.New("at least one recognition backend must be enabled")
	}
	if cfg.Ledger.Path == "" {
		return errors.New("ledger.path must not be empty")
	}
	if cfg.Ledger.CostPerMinute < 0 {
		return errors.New("ledger.cost_per_minute must be >= 0")
	}
	if cfg.Hints.MaxPhrases < 0 {
		return errors.New("hints.max_phrases must be >= 0")
	}
	if cfg.Archive.Path == "" {
		return errors.New("archive.path must not be empty")
	}
	switch cfg.Archive.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("archive.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Archive.RetentionDays < 0 {
		return errors.New("archive.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
