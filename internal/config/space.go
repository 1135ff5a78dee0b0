// Package config provides configuration helpers for go-spaces commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default endpoints for a locally running media gateway.
const (
	DefaultGatewayURL = "http://localhost:8088/janus"
	DefaultChatURL    = "ws://localhost:8090/chatapi/v1/chatnow"
)

// Env returns the value of an env var or the provided default.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvRequired returns the value of an env var.
// Exits with a usage hint if not set.
func EnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable is required\n", key)
		fmt.Fprintf(os.Stderr, "Usage: %s=... go run ./cmd/...\n", key)
		os.Exit(1)
	}
	return v
}

// EnvInt returns an integer env var or the provided default.
// Non-numeric values fall back to the default.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// EnvDuration returns a duration env var (Go syntax, e.g. "90s") or the default.
func EnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// GatewayURL returns the media gateway base URL from GATEWAY_URL.
func GatewayURL() string {
	return Env("GATEWAY_URL", DefaultGatewayURL)
}

// ChatURL returns the chat websocket endpoint from CHAT_URL.
func ChatURL() string {
	return Env("CHAT_URL", DefaultChatURL)
}
