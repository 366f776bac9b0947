// Package vpn implements the connection lifecycle core of the Ovvio VPN
// client. This file defines the external collaborator interfaces the
// Manager is built against.
package vpn

import (
	"context"
	"time"

	"github.com/ovvio/vpn-client/store"
)

// TunnelConfig carries everything the backend needs to configure and
// start the system tunnel.
type TunnelConfig struct {
	// ServerAddress is the gateway domain the tunnel connects to.
	ServerAddress string
	// Username is the registered client identity.
	Username string
	// Password is the tunnel secret.
	Password string
	// Description is the human-readable tunnel label.
	Description string
	// KillSwitch blocks traffic outside the tunnel while connected.
	KillSwitch bool
}

// TunnelBackend is the platform tunnel control surface. Exactly one
// Manager issues commands to a backend; status flows back through the
// Notifications channel.
type TunnelBackend interface {
	// LoadStatus forces a refresh of the backend-reported status.
	// Completion is asynchronous: the refreshed status arrives on the
	// Notifications channel.
	LoadStatus()
	// ConfigureAndStart configures the tunnel and requests that it be
	// started. A nil return means the start was requested, not that the
	// tunnel is up; the connected status arrives asynchronously.
	ConfigureAndStart(cfg TunnelConfig) error
	// Stop requests that the tunnel be torn down.
	Stop() error
	// CurrentStatus returns the last known backend status.
	CurrentStatus() TunnelStatus
	// Notifications is the status event stream. It carries every
	// backend status change for the lifetime of the backend.
	Notifications() <-chan TunnelStatus
}

// RegisterData is the optional payload of a registration response.
type RegisterData struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// RegisterResult is the gateway's answer to a register-client request.
type RegisterResult struct {
	Connected bool          `json:"connected"`
	Message   string        `json:"message"`
	Data      *RegisterData `json:"data,omitempty"`
}

// RegistrationClient registers a client identity with the remote VPN
// gateway before the tunnel is started.
type RegistrationClient interface {
	Register(ctx context.Context, ip, clientName, password, token string) (RegisterResult, error)
}

// StateStore is the persisted client state the connection core reads
// and writes. *store.Store is the production implementation; tests use
// an in-memory fake.
type StateStore interface {
	Selection() (store.Selection, bool, error)
	SaveSelection(store.Selection) error
	SessionStart() (time.Time, bool, error)
	SetSessionStart(time.Time) error
	ClearSessionStart() error
	Favourites() ([]int, error)
	SetFavourites([]int) error
	DeviceID() (string, error)
	Account() (store.Account, bool, error)
}
