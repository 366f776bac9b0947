// Package common provides shared constants, types, and utilities
// used across the Ovvio VPN client.
package common

import "errors"

// Sentinel errors for VPN operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Connection errors.
	ErrAlreadyConnected = errors.New("connection already active")
	ErrNotConnected     = errors.New("no active connection")
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrCancelled        = errors.New("operation cancelled")

	// Selection errors.
	ErrNoServerSelected = errors.New("no server selected")
	ErrUpgradeRequired  = errors.New("server requires a premium subscription")
	ErrServerNotFound   = errors.New("server not found")
	ErrNoServersLoaded  = errors.New("server list not loaded")

	// Registration errors.
	ErrNotAuthenticated   = errors.New("not signed in")
	ErrRegistrationFailed = errors.New("client registration failed")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrNoTunnelSecret      = errors.New("tunnel secret not configured")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
