package gateway

import (
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds the terminal gateway connection settings injected by the host
// POS configuration.
type Config struct {
	// BaseURL is the GoLocalLink server URL (e.g. "https://127.0.0.1:8443")
	BaseURL string

	// TerminalID is the PDQ terminal identifier registered with the gateway
	TerminalID string

	// Enabled indicates whether the integration is switched on for this POS
	Enabled bool

	// Debug mirrors the POS debug-logging flag
	Debug bool

	// DecimalPlaces is the currency's decimal-place count (0-3)
	DecimalPlaces int

	// InitiateTimeout bounds the transaction-initiation request
	InitiateTimeout time.Duration

	// RequestTimeout bounds cancel and status-poll requests
	RequestTimeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	// GoLocalLink installations commonly run with self-signed certificates.
	InsecureSkipVerify bool
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://127.0.0.1:8443",
		TerminalID:         "",
		Enabled:            true,
		Debug:              false,
		DecimalPlaces:      2,
		InitiateTimeout:    30 * time.Second,
		RequestTimeout:     10 * time.Second,
		InsecureSkipVerify: true,
	}
}

// Validate checks if the configuration is usable.
// A disabled integration fails with ErrDisabled; a missing terminal id or an
// unparseable base URL fails with ErrNotConfigured.
func (c *Config) Validate() error {
	if !c.Enabled {
		return ErrDisabled
	}
	if c.TerminalID == "" {
		return ErrNotConfigured
	}
	if c.BaseURL == "" {
		return ErrNotConfigured
	}
	u, err := url.ParseRequestURI(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrNotConfigured
	}
	if c.DecimalPlaces < 0 || c.DecimalPlaces > 3 {
		return ErrNotConfigured
	}
	return nil
}

// FromEnv returns a configuration populated from environment variables,
// with defaults for anything unset.
// GOLOCALLINK_URL, GOLOCALLINK_TERMID, GOLOCALLINK_ENABLED,
// GOLOCALLINK_DEBUG, GOLOCALLINK_DECIMAL_PLACES, GOLOCALLINK_TLS_VERIFY.
func FromEnv() Config {
	config := DefaultConfig()

	if v := os.Getenv("GOLOCALLINK_URL"); v != "" {
		config.BaseURL = v
	}
	if v := os.Getenv("GOLOCALLINK_TERMID"); v != "" {
		config.TerminalID = v
	}
	if v := os.Getenv("GOLOCALLINK_ENABLED"); v != "" {
		config.Enabled = v == "true" || v == "1"
	}
	if os.Getenv("GOLOCALLINK_DEBUG") == "true" {
		config.Debug = true
	}
	if v := os.Getenv("GOLOCALLINK_DECIMAL_PLACES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.DecimalPlaces = n
		}
	}
	if os.Getenv("GOLOCALLINK_TLS_VERIFY") == "true" {
		config.InsecureSkipVerify = false
	}

	return config
}
