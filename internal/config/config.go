package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the VoiceDesk server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	CORSOrigins string
	LogFormat   string // log output format: "text" or "json"

	ProbeTimeout     time.Duration // transport probe for telephony tests
	LivenessInterval time.Duration // telephony re-probe while registered
	MonitorInterval  time.Duration // metrics snapshot loop
	TicketingTimeout time.Duration // 1C HTTP client timeout
	SpeechTimeout    time.Duration // TTS/STT subprocess deadline

	EngineBinDir   string // directory holding the TTS/STT executables
	SpeechModelDir string // root directory for STT model files
	AudioOutDir    string // where synthesized WAV files are written
}

// defaults
const (
	defaultDataDir          = "./data"
	defaultHTTPPort         = 8080
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultProbeTimeout     = 5 * time.Second
	defaultLivenessInterval = 30 * time.Second
	defaultMonitorInterval  = 60 * time.Second
	defaultTicketingTimeout = 10 * time.Second
	defaultSpeechTimeout    = 30 * time.Second
	defaultEngineBinDir     = "/usr/local/bin"
	defaultSpeechModelDir   = "/models"
	defaultAudioOutDir      = "/tmp"
)

// envPrefix is the prefix for all VoiceDesk environment variables.
const envPrefix = "VOICEDESK_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voicedesk", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the SQLite database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.DurationVar(&cfg.ProbeTimeout, "probe-timeout", defaultProbeTimeout, "timeout for telephony TCP reachability probes")
	fs.DurationVar(&cfg.LivenessInterval, "liveness-interval", defaultLivenessInterval, "interval between telephony liveness re-probes")
	fs.DurationVar(&cfg.MonitorInterval, "monitor-interval", defaultMonitorInterval, "interval between system metrics snapshots")
	fs.DurationVar(&cfg.TicketingTimeout, "ticketing-timeout", defaultTicketingTimeout, "HTTP timeout for the 1C ticketing API")
	fs.DurationVar(&cfg.SpeechTimeout, "speech-timeout", defaultSpeechTimeout, "deadline for TTS/STT subprocess invocations")
	fs.StringVar(&cfg.EngineBinDir, "engine-bin-dir", defaultEngineBinDir, "directory holding the speech engine executables")
	fs.StringVar(&cfg.SpeechModelDir, "speech-model-dir", defaultSpeechModelDir, "root directory for STT model files")
	fs.StringVar(&cfg.AudioOutDir, "audio-out-dir", defaultAudioOutDir, "directory for synthesized audio output")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":          envPrefix + "DATA_DIR",
		"http-port":         envPrefix + "HTTP_PORT",
		"log-level":         envPrefix + "LOG_LEVEL",
		"cors-origins":      envPrefix + "CORS_ORIGINS",
		"log-format":        envPrefix + "LOG_FORMAT",
		"probe-timeout":     envPrefix + "PROBE_TIMEOUT",
		"liveness-interval": envPrefix + "LIVENESS_INTERVAL",
		"monitor-interval":  envPrefix + "MONITOR_INTERVAL",
		"ticketing-timeout": envPrefix + "TICKETING_TIMEOUT",
		"speech-timeout":    envPrefix + "SPEECH_TIMEOUT",
		"engine-bin-dir":    envPrefix + "ENGINE_BIN_DIR",
		"speech-model-dir":  envPrefix + "SPEECH_MODEL_DIR",
		"audio-out-dir":     envPrefix + "AUDIO_OUT_DIR",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "log-format":
			cfg.LogFormat = val
		case "probe-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.ProbeTimeout = v
			}
		case "liveness-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.LivenessInterval = v
			}
		case "monitor-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.MonitorInterval = v
			}
		case "ticketing-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.TicketingTimeout = v
			}
		case "speech-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.SpeechTimeout = v
			}
		case "engine-bin-dir":
			cfg.EngineBinDir = val
		case "speech-model-dir":
			cfg.SpeechModelDir = val
		case "audio-out-dir":
			cfg.AudioOutDir = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	for name, d := range map[string]time.Duration{
		"probe-timeout":     c.ProbeTimeout,
		"liveness-interval": c.LivenessInterval,
		"monitor-interval":  c.MonitorInterval,
		"ticketing-timeout": c.TicketingTimeout,
		"speech-timeout":    c.SpeechTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
