package main

import (
	"log/slog"

	"github.com/roomlink/signal-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxRooms <= 0 {
		logger.Warn("startup security warning: MAX_ROOMS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_rooms_unlimited_in_prod",
			"max_rooms", cfg.MaxRooms,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxParticipantsPerRoom <= 0 {
		logger.Warn("startup security warning: MAX_PARTICIPANTS_PER_ROOM is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_participants_unlimited_in_prod",
			"max_participants_per_room", cfg.MaxParticipantsPerRoom,
			"mode", cfg.Mode,
		)
	}

	// Warn if the chat frame cap is unusually large, since this weakens the
	// relay's oversized message DoS hardening.
	if cfg.MaxChatMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_CHAT_MESSAGE_BYTES is very large (increases per-frame allocation risk)",
			"warning_code", "max_chat_message_bytes_large",
			"max_chat_message_bytes", cfg.MaxChatMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /ice will report unavailable",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	} else if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured; video calls will only connect on networks that need no NAT traversal",
			"warning_code", "ice_servers_empty",
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
