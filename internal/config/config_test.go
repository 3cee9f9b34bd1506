package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFromMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("LogFormat = %q, want text (dev default)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug (dev default)", cfg.LogLevel)
	}
	if cfg.MinRoomIDLength != DefaultMinRoomIDLength {
		t.Fatalf("MinRoomIDLength = %d, want %d", cfg.MinRoomIDLength, DefaultMinRoomIDLength)
	}
	if cfg.ShutdownTimeout != DefaultShutdown {
		t.Fatalf("ShutdownTimeout = %v, want %v", cfg.ShutdownTimeout, DefaultShutdown)
	}
	if cfg.MaxRooms != 0 || cfg.MaxParticipantsPerRoom != 0 {
		t.Fatalf("capacity limits = (%d, %d), want unlimited", cfg.MaxRooms, cfg.MaxParticipantsPerRoom)
	}
	if cfg.WSPingInterval >= cfg.WSIdleTimeout {
		t.Fatalf("default ping interval %v not < idle timeout %v", cfg.WSPingInterval, cfg.WSIdleTimeout)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError = %v, want nil", err)
	}
}

func TestLoad_ProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"SIGNAL_RELAY_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("LogFormat = %q, want json (prod default)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v, want info (prod default)", cfg.LogLevel)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"SIGNAL_RELAY_LISTEN_ADDR": "127.0.0.1:9999",
		"MIN_ROOM_ID_LENGTH":       "12",
	}), []string{"--listen-addr=0.0.0.0:8081", "--min-room-id-length=8"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:8081" {
		t.Fatalf("ListenAddr = %q, want flag value", cfg.ListenAddr)
	}
	if cfg.MinRoomIDLength != 8 {
		t.Fatalf("MinRoomIDLength = %d, want 8", cfg.MinRoomIDLength)
	}
}

func TestLoad_AllowedOriginsNormalized(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"ALLOWED_ORIGINS": "https://APP.example.com:443, *",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "*"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoad_InvalidAllowedOrigin(t *testing.T) {
	_, err := load(lookupFromMap(map[string]string{
		"ALLOWED_ORIGINS": "not a url",
	}), nil)
	if err == nil || !strings.Contains(err.Error(), "ALLOWED_ORIGINS") {
		t.Fatalf("err = %v, want ALLOWED_ORIGINS parse error", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"zero min room id length", nil, []string{"--min-room-id-length=0"}},
		{"negative shutdown", map[string]string{"SIGNAL_RELAY_SHUTDOWN_TIMEOUT": "-1s"}, nil},
		{"zero message bytes", map[string]string{"MAX_CHAT_MESSAGE_BYTES": "0"}, nil},
		{"zero message rate", map[string]string{"MAX_CHAT_MESSAGES_PER_SECOND": "0"}, nil},
		{"ping >= idle", map[string]string{"CHAT_WS_PING_INTERVAL": "30s", "CHAT_WS_IDLE_TIMEOUT": "30s"}, nil},
		{"bad mode", nil, []string{"--mode=staging"}},
		{"bad log level", nil, []string{"--log-level=verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(lookupFromMap(tt.env), tt.args); err == nil {
				t.Fatalf("load succeeded, want error")
			}
		})
	}
}

func TestLoad_ICEMisconfigurationIsDeferred(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"ICE_SERVERS_JSON": "not json",
	}), nil)
	if err != nil {
		t.Fatalf("load = %v, want deferred ICE error", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("ICEConfigError = nil, want parse error")
	}
}

func TestLoad_TURNRESTDefaultsAndValidation(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"TURN_REST_SHARED_SECRET": "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURNREST not enabled with shared secret set")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds {
		t.Fatalf("TTLSeconds = %d, want %d", cfg.TURNREST.TTLSeconds, DefaultTURNRESTTTLSeconds)
	}
	if cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("UsernamePrefix = %q, want %q", cfg.TURNREST.UsernamePrefix, DefaultTURNRESTUsernamePrefix)
	}

	if _, err := load(lookupFromMap(map[string]string{
		"TURN_REST_SHARED_SECRET": "s3cret",
		"TURN_REST_TTL_SECONDS":   "0",
	}), nil); err == nil {
		t.Fatalf("load accepted zero TTL with TURN REST enabled")
	}
	if _, err := load(lookupFromMap(map[string]string{
		"TURN_REST_SHARED_SECRET":   "s3cret",
		"TURN_REST_USERNAME_PREFIX": "a:b",
	}), nil); err == nil {
		t.Fatalf("load accepted ':' in TURN REST username prefix")
	}
}

func TestLoad_TURNRESTAllowsCredentiallessTURNURLs(t *testing.T) {
	// Without TURN REST, TURN URLs demand static credentials.
	cfg, err := load(lookupFromMap(map[string]string{
		"TURN_URLS": "turn:turn.example.com:3478",
	}), nil)
	if err != nil {
		t.Fatalf("load = %v, want deferred ICE error", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error for credentialless TURN URLs")
	}

	// With TURN REST, /ice injects credentials per request.
	cfg, err = load(lookupFromMap(map[string]string{
		"TURN_URLS":               "turn:turn.example.com:3478",
		"TURN_REST_SHARED_SECRET": "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Fatalf("ICEConfigError = %v, want nil with TURN REST enabled", err)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers = %v, want one TURN entry", cfg.ICEServers)
	}
}

func TestLoad_WSTimersFromEnv(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		"CHAT_WS_IDLE_TIMEOUT":  "2m",
		"CHAT_WS_PING_INTERVAL": "45s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WSIdleTimeout != 2*time.Minute || cfg.WSPingInterval != 45*time.Second {
		t.Fatalf("timers = (%v, %v), want (2m, 45s)", cfg.WSIdleTimeout, cfg.WSPingInterval)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("NewLogger accepted unsupported format")
	}
}
