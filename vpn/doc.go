// Package vpn provides the connection lifecycle core of the Ovvio VPN client.
//
// This package implements the central client functionality including:
//
//   - Connection management: Establishing, monitoring, and terminating tunnels
//   - Server catalog: Flattened endpoint list with filtering, favourites, and selection
//   - Latency probing: Continuous round-trip measurement of catalog endpoints
//   - Tunnel backends: IKEv2 tunnel orchestration through strongSwan
//
// # Architecture
//
// The package is organized around three main types:
//
//   - Manager: Single authority over connection state and the connect protocol
//   - Catalog: The connectable endpoint list with premium gating
//   - Prober: Background latency measurement over the catalog
//
// # Connection Flow
//
// A typical connection flow:
//
//  1. Caller selects an endpoint through the Catalog
//  2. Caller invokes Manager.Connect()
//  3. Manager registers the client with the control API
//  4. Manager hands the tunnel credentials to the TunnelBackend
//  5. Backend status notifications drive the Manager's published state
//
// The Manager never writes its published state directly from the connect
// path. All transitions funnel through reconciliation against the
// backend's reported tunnel status, so the published state can never
// disagree with the tunnel for more than one notification.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The Manager,
// Catalog, and Prober use internal locking to protect shared state.
package vpn
