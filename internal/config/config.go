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

const (
	envVarListenAddr      = "SIGNAL_RELAY_LISTEN_ADDR"
	envVarMode            = "SIGNAL_RELAY_MODE"
	envVarLogFormat       = "SIGNAL_RELAY_LOG_FORMAT"
	envVarLogLevel        = "SIGNAL_RELAY_LOG_LEVEL"
	envVarShutdownTimeout = "SIGNAL_RELAY_SHUTDOWN_TIMEOUT"
	envVarStaticDir       = "SIGNAL_RELAY_STATIC_DIR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Relay core knobs.
	envVarMaxSessions                 = "MAX_SESSIONS"
	envVarMaxParticipantsPerSession   = "MAX_PARTICIPANTS_PER_SESSION"
	envVarMaxQueuedMessages           = "MAX_QUEUED_MESSAGES_PER_PARTICIPANT"
	envVarMaxSignalMessagesPerSecond  = "MAX_SIGNAL_MESSAGES_PER_SECOND"
	envVarMaxSignalPayloadBytes       = "MAX_SIGNAL_PAYLOAD_BYTES"
	envVarStreamKeepaliveInterval     = "STREAM_KEEPALIVE_INTERVAL"
	envVarWSIdleTimeout               = "WS_IDLE_TIMEOUT"
)

const (
	DefaultListenAddr           = "127.0.0.1:3000"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev

	DefaultMaxQueuedMessagesPerParticipant = 256
	DefaultMaxSignalMessagesPerSecond      = 50
	DefaultMaxSignalPayloadBytes           = int64(64 * 1024)
	DefaultStreamKeepaliveInterval         = 15 * time.Second
	DefaultWSIdleTimeout                   = 60 * time.Second
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// StaticDir, when non-empty, is served at / for the browser UI. The
	// relay itself never depends on it.
	StaticDir string

	// AllowedOrigins restricts browser callers. Empty means same-origin plus
	// non-browser clients (no Origin header).
	AllowedOrigins []string

	// Relay quotas. A value <= 0 generally means "unlimited" / disabled.
	MaxSessions                     int
	MaxParticipantsPerSession       int
	MaxQueuedMessagesPerParticipant int
	MaxSignalMessagesPerSecond      int
	MaxSignalPayloadBytes           int64

	// StreamKeepaliveInterval is how often an idle delivery stream emits a
	// heartbeat (SSE comment or WS ping).
	StreamKeepaliveInterval time.Duration

	WSIdleTimeout time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddrDefault := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	staticDirDefault := envOrDefault(lookup, envVarStaticDir, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	maxSessions, err := envIntOrDefault(lookup, envVarMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}
	maxParticipants, err := envIntOrDefault(lookup, envVarMaxParticipantsPerSession, 0)
	if err != nil {
		return Config{}, err
	}
	maxQueued, err := envIntOrDefault(lookup, envVarMaxQueuedMessages, DefaultMaxQueuedMessagesPerParticipant)
	if err != nil {
		return Config{}, err
	}
	maxSignalPerSec, err := envIntOrDefault(lookup, envVarMaxSignalMessagesPerSecond, DefaultMaxSignalMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxPayloadBytes, err := envInt64OrDefault(lookup, envVarMaxSignalPayloadBytes, DefaultMaxSignalPayloadBytes)
	if err != nil {
		return Config{}, err
	}
	keepalive, err := envDurationOrDefault(lookup, envVarStreamKeepaliveInterval, DefaultStreamKeepaliveInterval)
	if err != nil {
		return Config{}, err
	}
	wsIdle, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("signal-relay", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", listenAddrDefault, "address to listen on (host:port)")
	modeStr := fs.String("mode", modeDefault, "deployment mode: dev or prod")
	logFormatStr := fs.String("log-format", logFormatDefault, "log output format: text or json")
	logLevelStr := fs.String("log-level", logLevelDefault, "log level: debug, info, warn or error")
	staticDir := fs.String("static-dir", staticDirDefault, "directory of static UI assets to serve at / (empty disables)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected positional arguments: %v", fs.Args())
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}

	// Mode set via flag changes the log defaults unless they were pinned
	// explicitly by env or flag.
	effLogFormat := *logFormatStr
	if !envLogFormatSet && !setFlags["log-format"] {
		effLogFormat = defaultLogFormatForMode(string(mode))
	}
	effLogLevel := *logLevelStr
	if !envLogLevelSet && !setFlags["log-level"] {
		effLogLevel = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(effLogFormat)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(effLogLevel)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      *listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		StaticDir:       *staticDir,
		AllowedOrigins:  splitCommaList(allowedOriginsStr),

		MaxSessions:                     maxSessions,
		MaxParticipantsPerSession:       maxParticipants,
		MaxQueuedMessagesPerParticipant: maxQueued,
		MaxSignalMessagesPerSecond:      maxSignalPerSec,
		MaxSignalPayloadBytes:           maxPayloadBytes,

		StreamKeepaliveInterval: keepalive,
		WSIdleTimeout:           wsIdle,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development", "":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (want dev or prod)", raw)
	}
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q (want text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}
