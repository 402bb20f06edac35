// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for nexgram.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// API identifies the application to the platform.
	API APIConfig `yaml:"api"`

	// TestMode switches to the test datacenter environment.
	TestMode bool `yaml:"test_mode,omitempty"`

	Transport   TransportConfig   `yaml:"transport,omitempty"`
	Storage     StorageConfig     `yaml:"storage,omitempty"`
	Retry       RetryConfig       `yaml:"retry,omitempty"`
	Keepalive   KeepaliveConfig   `yaml:"keepalive,omitempty"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics,omitempty"`
	Maintenance MaintenanceConfig `yaml:"maintenance,omitempty"`

	// Datacenters overrides individual entries of the built-in DC table.
	Datacenters []DCOverride `yaml:"datacenters,omitempty"`
}

// APIConfig holds the application credentials issued by the platform.
type APIConfig struct {
	ID   int    `yaml:"id"`
	Hash string `yaml:"hash"`
}

// TransportConfig selects the wire framing and endpoint style.
type TransportConfig struct {
	// Mode is one of "abridged", "intermediate", "full".
	// Empty selects intermediate.
	Mode string `yaml:"mode,omitempty"`

	// WebsocketURL, when set, connects over websocket instead of TCP.
	WebsocketURL string `yaml:"websocket_url,omitempty"`
}

// StorageConfig controls session persistence.
type StorageConfig struct {
	// Path is the SQLite database file. Empty keeps the session in memory.
	Path string `yaml:"path,omitempty"`

	// Passphrase, when set, seals auth key material at rest.
	Passphrase string `yaml:"passphrase,omitempty"`
}

// RetryConfig tunes the call retry policy.
type RetryConfig struct {
	MaxRedirects    int           `yaml:"max_redirects,omitempty"`
	MaxAttempts     int           `yaml:"max_attempts,omitempty"`
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
}

// KeepaliveConfig tunes the connection liveness probe.
type KeepaliveConfig struct {
	// Interval between pings. Zero selects the default.
	Interval time.Duration `yaml:"interval,omitempty"`
}

// DiagnosticsConfig controls the local diagnostics HTTP server.
type DiagnosticsConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8123". Empty disables
	// the server.
	Addr string `yaml:"addr,omitempty"`
}

// MaintenanceConfig controls background maintenance jobs.
type MaintenanceConfig struct {
	// AutosaveSpec is the cron spec for session autosave.
	// Empty selects the default.
	AutosaveSpec string `yaml:"autosave_spec,omitempty"`

	// SaltRefreshSpec is the cron spec for future-salt refresh.
	// Empty selects the default.
	SaltRefreshSpec string `yaml:"salt_refresh_spec,omitempty"`
}

// DCOverride replaces the address of one datacenter.
type DCOverride struct {
	ID   int    `yaml:"id"`
	Addr string `yaml:"addr"`
}
