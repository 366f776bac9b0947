// Package common provides shared constants, types, and utilities
// used across the Ovvio VPN client.
package common

// SecretStore defines the interface for secret storage.
// Implementations may use the system keyring, encrypted files, etc.
type SecretStore interface {
	// Put saves a secret under the given key.
	Put(key, value string) error
	// Get retrieves a secret by key.
	Get(key string) (string, error)
	// Delete removes a secret by key.
	Delete(key string) error
}

// Entitlements reports what the signed-in account is allowed to use.
// Premium servers are gated on this both at selection time and again at
// connect time, since the subscription can lapse in between.
type Entitlements interface {
	// IsPremium reports whether the account has an active premium plan.
	IsPremium() bool
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
