// Package vpn implements the connection lifecycle core of the Ovvio VPN
// client. This file defines the published connection state and the
// tunnel-level status surface reported by a TunnelBackend.
package vpn

// ConnectionState is the application-visible connection state.
// It changes only through the Manager's reconciliation of backend
// status events, never directly.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates a connection is being established.
	StateConnecting
	// StateConnected indicates an active, established connection.
	StateConnected
	// StateDisconnecting indicates the connection is being terminated.
	StateDisconnecting
)

// String returns a human-readable representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting..."
	default:
		return "Unknown"
	}
}

// TunnelStatus is the raw status surface reported by the tunnel backend.
// It is wider than ConnectionState; reconciliation folds it down.
type TunnelStatus int

const (
	TunnelDisconnected TunnelStatus = iota
	TunnelConnecting
	TunnelConnected
	TunnelDisconnecting
	TunnelInvalid
	TunnelReasserting
)

// String returns a human-readable representation of the tunnel status.
func (s TunnelStatus) String() string {
	switch s {
	case TunnelDisconnected:
		return "Disconnected"
	case TunnelConnecting:
		return "Connecting"
	case TunnelConnected:
		return "Connected"
	case TunnelDisconnecting:
		return "Disconnecting"
	case TunnelInvalid:
		return "Invalid"
	case TunnelReasserting:
		return "Reasserting"
	default:
		return "Unknown"
	}
}
