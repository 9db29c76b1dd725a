package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Errorf("ShutdownTimeout=%v, want %v", cfg.ShutdownTimeout, DefaultShutdown)
	}
	if cfg.MaxQueuedMessagesPerParticipant != DefaultMaxQueuedMessagesPerParticipant {
		t.Errorf("MaxQueuedMessagesPerParticipant=%d, want %d",
			cfg.MaxQueuedMessagesPerParticipant, DefaultMaxQueuedMessagesPerParticipant)
	}
	if cfg.MaxSignalPayloadBytes != DefaultMaxSignalPayloadBytes {
		t.Errorf("MaxSignalPayloadBytes=%d, want %d", cfg.MaxSignalPayloadBytes, DefaultMaxSignalPayloadBytes)
	}
	if cfg.StaticDir != "" {
		t.Errorf("StaticDir=%q, want empty", cfg.StaticDir)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
}

func TestLoad_ProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"SIGNAL_RELAY_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLoad_ExplicitLogSettingsWinOverMode(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"SIGNAL_RELAY_LOG_FORMAT": "text",
	}), []string{"-mode", "prod", "-log-level", "warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Errorf("Mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat=%q, want %q (env pins it)", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel=%v, want %v (flag pins it)", cfg.LogLevel, slog.LevelWarn)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"SIGNAL_RELAY_LISTEN_ADDR": "127.0.0.1:9999",
	}), []string{"-listen-addr", "0.0.0.0:8080"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("ListenAddr=%q, want flag value", cfg.ListenAddr)
	}
}

func TestLoad_Quotas(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"MAX_SESSIONS":                        "3",
		"MAX_PARTICIPANTS_PER_SESSION":        "8",
		"MAX_QUEUED_MESSAGES_PER_PARTICIPANT": "16",
		"MAX_SIGNAL_MESSAGES_PER_SECOND":      "10",
		"MAX_SIGNAL_PAYLOAD_BYTES":            "1024",
		"STREAM_KEEPALIVE_INTERVAL":           "5s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("MaxSessions=%d, want 3", cfg.MaxSessions)
	}
	if cfg.MaxParticipantsPerSession != 8 {
		t.Errorf("MaxParticipantsPerSession=%d, want 8", cfg.MaxParticipantsPerSession)
	}
	if cfg.MaxQueuedMessagesPerParticipant != 16 {
		t.Errorf("MaxQueuedMessagesPerParticipant=%d, want 16", cfg.MaxQueuedMessagesPerParticipant)
	}
	if cfg.MaxSignalMessagesPerSecond != 10 {
		t.Errorf("MaxSignalMessagesPerSecond=%d, want 10", cfg.MaxSignalMessagesPerSecond)
	}
	if cfg.MaxSignalPayloadBytes != 1024 {
		t.Errorf("MaxSignalPayloadBytes=%d, want 1024", cfg.MaxSignalPayloadBytes)
	}
	if cfg.StreamKeepaliveInterval != 5*time.Second {
		t.Errorf("StreamKeepaliveInterval=%v, want 5s", cfg.StreamKeepaliveInterval)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad max sessions", env: map[string]string{"MAX_SESSIONS": "lots"}},
		{name: "bad duration", env: map[string]string{"WS_IDLE_TIMEOUT": "soon"}},
		{name: "bad mode", args: []string{"-mode", "staging"}},
		{name: "bad log level", args: []string{"-log-level", "verbose"}},
		{name: "positional args", args: []string{"stray"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupFrom(tc.env), tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"ALLOWED_ORIGINS": "https://app.example.com, https://staging.example.com ,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "https://staging.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
		}
	}
}
