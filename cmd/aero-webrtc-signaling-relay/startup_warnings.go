package main

import (
	"log/slog"
	"net"
	"slices"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any web page can open signaling connections)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && !cfg.TLSEnabled() && !isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: serving plain HTTP on a non-loopback address while --mode=prod (SDP and ICE candidates travel unencrypted unless a TLS proxy fronts the relay)",
			"warning_code", "tls_disabled_in_prod",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.SignalingUpgradesPerMinutePerIP <= 0 {
		logger.Warn("startup security warning: SIGNALING_UPGRADES_PER_MINUTE_PER_IP is 0 (unlimited) while --mode=prod",
			"warning_code", "signaling_upgrades_unlimited_in_prod",
			"signaling_upgrades_per_minute_per_ip", cfg.SignalingUpgradesPerMinutePerIP,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	for _, server := range cfg.ICEServers {
		if !iceServerHasTURNURL(server) {
			continue
		}
		if cred, ok := server.Credential.(string); ok && strings.TrimSpace(cred) != "" {
			logger.Warn("startup security warning: static TURN credentials are handed to every browser via /webrtc/ice",
				"warning_code", "static_turn_credentials",
				"urls", server.URLs,
				"mode", cfg.Mode,
			)
			break
		}
	}
}

func iceServerHasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u, err := stun.ParseURI(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
			return true
		}
	}
	return false
}

func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
