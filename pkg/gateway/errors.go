package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Common terminal gateway errors.
// These are the standard errors the client returns for failures that are not
// server-reported.
var (
	// ErrNotConfigured is returned when the terminal id or base URL is missing
	ErrNotConfigured = errors.New("gateway: terminal not configured")

	// ErrDisabled is returned when the integration is switched off in the POS
	// configuration
	ErrDisabled = errors.New("gateway: integration disabled")

	// ErrNetwork is returned on transport-level failure reaching the gateway
	ErrNetwork = errors.New("gateway: network error")

	// ErrProtocol is returned when the gateway answers with a malformed body,
	// e.g. an initiation response without a UTI
	ErrProtocol = errors.New("gateway: protocol error")

	// ErrCircuitOpen is returned when the initiation circuit breaker is open
	ErrCircuitOpen = errors.New("gateway: circuit breaker open")
)

// GatewayError is a non-success HTTP response from the terminal gateway, with
// the server-supplied error body when one was present.
type GatewayError struct {
	// Code is the HTTP status code
	Code int
	// Message is the server-supplied error text, or empty
	Message string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: HTTP %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: HTTP %d", e.Code)
}

// IsNotConfigured checks if the given error indicates missing configuration.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrDisabled)
}

// IsNetwork checks if the given error indicates a transport failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsProtocol checks if the given error indicates a malformed gateway response.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsCircuitOpen checks if the given error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a string classification of the error type for metrics.
// This keeps label cardinality bounded in observability dashboards.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	var ge *GatewayError
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrDisabled):
		return "not_configured"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.As(err, &ge):
		return "gateway"
	default:
		errStr := strings.ToLower(err.Error())
		switch {
		case strings.Contains(errStr, "context deadline"), strings.Contains(errStr, "timeout"):
			return "timeout"
		case strings.Contains(errStr, "connect"), strings.Contains(errStr, "dial"):
			return "connection"
		default:
			return "other"
		}
	}
}
