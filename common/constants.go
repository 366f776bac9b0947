// Package common provides shared constants, types, and utilities
// used across the Ovvio VPN client.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.ovvio.vpnclient"
	// AppName is the display name of the application.
	AppName = "Ovvio VPN"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "ovvio-vpn"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	StateFileName       = "state.db"
	CredentialsFileName = ".credentials"
	LogFileName         = "ovvio-vpn.log"
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time to wait for a connection.
	ConnectionTimeout = 30 * time.Second
	// DisconnectTimeout bounds how long AwaitDisconnected polls the
	// published state before giving up on the backend.
	DisconnectTimeout = 15 * time.Second
	// DisconnectPollInterval is the polling period used while waiting
	// for the tunnel to report disconnected.
	DisconnectPollInterval = 200 * time.Millisecond
	// AutoConnectDelay is how long the launch check waits after forcing
	// a status reload before deciding whether to auto-connect.
	AutoConnectDelay = 1 * time.Second
	// SessionTickInterval is the period of the connected-session clock.
	SessionTickInterval = 1 * time.Second
	// RegistrationTimeout bounds the register-client API call.
	RegistrationTimeout = 20 * time.Second
)

// Latency probing defaults.
const (
	// ProbeInterval is how often a new probe cycle is dispatched.
	ProbeInterval = 5 * time.Second
	// ProbeTimeout is the per-probe deadline; probes with no reply by
	// then are recorded as failed.
	ProbeTimeout = 2 * time.Second
	// ProbeMaxConcurrent caps simultaneous in-flight probes across the
	// whole catalog.
	ProbeMaxConcurrent = 16
)

// Server tier values as reported by the servers API.
const (
	TierFree    = "free"
	TierPremium = "premium"
)
