package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Descriptor errors
	ErrMissingDescriptor = errors.New("profile needs an outbound object or a vless_uri string")
	ErrURIInvalid        = errors.New("invalid URI")

	// Core errors
	ErrBinaryMissing     = errors.New("xray binary not found")
	ErrSpawnFailed       = errors.New("failed to start core")
	ErrEarlyExit         = errors.New("core exited during startup")
	ErrStopTimeout       = errors.New("core did not exit after kill")
	ErrProxyToggleFailed = errors.New("failed to toggle system proxy")
	ErrStatsQueryFailed  = errors.New("stats query failed")
	ErrInvalidTransition = errors.New("invalid state transition")

	// Subscription errors
	ErrSubscriptionFetchFailed  = errors.New("failed to fetch subscription")
	ErrSubscriptionDecodeFailed = errors.New("failed to decode subscription")
	ErrSubscriptionEmpty        = errors.New("subscription is empty")
	ErrNoReachableNode          = errors.New("no reachable node")

	// Autostart errors
	ErrAutostartUnsupported = errors.New("autostart is not supported on this platform")
	ErrProxyUnsupported     = errors.New("system proxy is not supported on this platform")
)

// ValidationError reports a connection URI that cannot be compiled.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid URI: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid URI: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrURIInvalid
}

// ConfigError represents a failure to build the runtime configuration
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config '%s': %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SubscriptionError represents a subscription-related error
type SubscriptionError struct {
	URL string
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription '%s': %v", e.URL, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// CoreError represents a core-related error
type CoreError struct {
	CoreType string
	Err      error
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s core: %v", e.CoreType, e.Err)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NetworkError represents a network-related error
type NetworkError struct {
	Address string
	Port    int
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s:%d): %v", e.Address, e.Port, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
