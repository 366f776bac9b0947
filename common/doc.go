// Package common provides shared constants, types, utilities, and interfaces
// used throughout the Ovvio VPN client.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts, intervals, and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for secret storage, entitlements, and logging
//   - Logger: Structured logging with multiple output destinations
//
// # Usage
//
// Import the package to access shared functionality:
//
//	import "github.com/ovvio/vpn-client/common"
//
//	// Use constants
//	timeout := common.ConnectionTimeout
//
//	// Use logger
//	common.LogInfo("Connecting to %s", serverName)
//
//	// Check errors
//	if errors.Is(err, common.ErrNoServerSelected) {
//	    // Route the user to server selection
//	}
package common
