// Package vpn implements the connection lifecycle core of the Ovvio VPN
// client. This file contains the Manager type, the single authority
// over connection state and the connect/disconnect protocol.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ovvio/vpn-client/common"
	"github.com/ovvio/vpn-client/store"
)

// Re-exported for convenience.
var (
	ErrAlreadyConnected = common.ErrAlreadyConnected
	ErrNoServerSelected = common.ErrNoServerSelected
	ErrUpgradeRequired  = common.ErrUpgradeRequired
)

// tunnelSecretKey is the fixed key the active session's tunnel secret
// is stored under.
const tunnelSecretKey = "tunnel_password"

// ManagerConfig holds the settings the Manager consults at connect and
// launch time.
type ManagerConfig struct {
	// AutoConnect connects to the last selected server on launch.
	AutoConnect bool
	// KillSwitch is passed through to the tunnel backend.
	KillSwitch bool
	// TunnelSecret is the shared secret used for client registration
	// and tunnel authentication.
	TunnelSecret string

	// SettleDelay is how long the launch check waits after the forced
	// status reload before deciding whether to auto-connect. Zero means
	// common.AutoConnectDelay.
	SettleDelay time.Duration
	// RegistrationTimeout bounds the register-client call. Zero means
	// common.RegistrationTimeout.
	RegistrationTimeout time.Duration
	// SessionTick is the session clock period. Zero means
	// common.SessionTickInterval.
	SessionTick time.Duration
}

// ConnectedServerInfo is the display snapshot of the server the tunnel
// is connected to.
type ConnectedServerInfo struct {
	DisplayName string
	ImageURL    string
	IP          string
}

// Manager owns the connection state machine. It orchestrates client
// registration, tunnel start, and the reconciliation of asynchronous
// backend status events into one published ConnectionState.
//
// Connect is not reentrant: callers must not issue overlapping connect
// requests. The state checks defend against the common
// already-connected case only.
type Manager struct {
	backend      TunnelBackend
	registrar    RegistrationClient
	secrets      common.SecretStore
	state        StateStore
	entitlements common.Entitlements
	cfg          ManagerConfig

	mu               sync.RWMutex
	connState        ConnectionState
	manualDisconnect bool
	launchChecked    bool
	sessionStart     time.Time
	elapsed          time.Duration
	connectedInfo    *ConnectedServerInfo
	attemptCancel    context.CancelFunc
	tickStop         chan struct{}

	onStateChange func(ConnectionState)
	onError       func(err error, message string)

	stopWatch chan struct{}
	watchDone chan struct{}
}

// NewManager creates a connection manager over the given collaborators
// and starts consuming the backend's status stream.
func NewManager(backend TunnelBackend, registrar RegistrationClient, secrets common.SecretStore, state StateStore, entitlements common.Entitlements, cfg ManagerConfig) *Manager {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = common.AutoConnectDelay
	}
	if cfg.RegistrationTimeout == 0 {
		cfg.RegistrationTimeout = common.RegistrationTimeout
	}
	if cfg.SessionTick == 0 {
		cfg.SessionTick = common.SessionTickInterval
	}

	m := &Manager{
		backend:      backend,
		registrar:    registrar,
		secrets:      secrets,
		state:        state,
		entitlements: entitlements,
		cfg:          cfg,
		connState:    StateDisconnected,
		stopWatch:    make(chan struct{}),
		watchDone:    make(chan struct{}),
	}

	go m.watchBackend()

	return m
}

// Close stops the status watcher and the session clock. The backend is
// left alone: an active tunnel survives the process by design.
func (m *Manager) Close() {
	close(m.stopWatch)
	<-m.watchDone
	m.stopTicker()
}

// SetOnStateChange sets a callback invoked whenever the published
// connection state changes.
func (m *Manager) SetOnStateChange(callback func(ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = callback
}

// SetOnError sets a callback for user-facing connection errors.
func (m *Manager) SetOnError(callback func(err error, message string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = callback
}

// State returns the current published connection state.
func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connState
}

// IsConnected reports whether the tunnel is established.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// ConnectedServerInfo returns the display snapshot of the connected
// server, or nil when not connected.
func (m *Manager) ConnectedServerInfo() *ConnectedServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.connectedInfo == nil {
		return nil
	}
	info := *m.connectedInfo
	return &info
}

// watchBackend consumes the backend status stream for the lifetime of
// the manager.
func (m *Manager) watchBackend() {
	defer close(m.watchDone)
	for {
		select {
		case <-m.stopWatch:
			return
		case status, ok := <-m.backend.Notifications():
			if !ok {
				return
			}
			m.reconcile(status)
		}
	}
}

// Connect validates the persisted selection and entitlement, then
// kicks off the registration/tunnel-start sequence. Precondition
// failures are returned synchronously; everything after that is
// asynchronous, surfaced through the state and error callbacks.
func (m *Manager) Connect() error {
	m.mu.RLock()
	current := m.connState
	m.mu.RUnlock()
	if current == StateConnected || current == StateConnecting {
		return ErrAlreadyConnected
	}

	sel, ok, err := m.state.Selection()
	if err != nil {
		return common.WrapError(err, "failed to read selection")
	}
	if !ok {
		return ErrNoServerSelected
	}

	// Entitlement is re-checked here even though selection was gated:
	// the subscription can lapse between selection and connect.
	if sel.Tier == common.TierPremium && !m.entitlements.IsPremium() {
		return ErrUpgradeRequired
	}

	acc, ok, err := m.state.Account()
	if err != nil {
		return common.WrapError(err, "failed to read account")
	}
	if !ok {
		return common.ErrNotAuthenticated
	}

	if m.cfg.TunnelSecret == "" {
		return common.ErrNoTunnelSecret
	}

	deviceID, err := m.state.DeviceID()
	if err != nil {
		return common.WrapError(err, "failed to read device id")
	}
	clientName := deriveClientName(acc.Name, deviceID)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RegistrationTimeout)

	m.mu.Lock()
	m.manualDisconnect = false
	m.attemptCancel = cancel
	m.mu.Unlock()

	m.setState(StateConnecting)

	common.LogInfo("Connecting: registering client %s with %s", clientName, sel.IP)
	go m.runConnect(ctx, sel, acc, clientName)

	return nil
}

// runConnect performs the asynchronous half of a connect attempt:
// registration, then tunnel start. The connected state itself only
// arrives later through reconciliation.
func (m *Manager) runConnect(ctx context.Context, sel store.Selection, acc store.Account, clientName string) {
	result, err := m.registrar.Register(ctx, sel.IP, clientName, m.cfg.TunnelSecret, acc.Token)

	if errors.Is(ctx.Err(), context.Canceled) {
		// Disconnect arrived mid-registration; the result no longer
		// matters.
		common.LogInfo("Registration for %s cancelled, discarding result", clientName)
		m.reconcile(TunnelDisconnected)
		return
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		common.LogError("Client registration timed out for %s", clientName)
		m.failConnect(common.WrapError(common.ErrTimeout, "client registration timed out"), "Connection timed out")
		return
	}

	if err != nil {
		common.LogError("Client registration failed: %v", err)
		m.failConnect(common.WrapError(err, "client registration failed"), err.Error())
		return
	}
	if !result.Connected {
		common.LogError("Client registration rejected: %s", result.Message)
		m.failConnect(common.ErrRegistrationFailed, result.Message)
		return
	}

	if err := m.secrets.Put(tunnelSecretKey, m.cfg.TunnelSecret); err != nil {
		common.LogError("Failed to store tunnel secret: %v", err)
		m.failConnect(common.WrapError(err, "failed to store tunnel secret"), "Could not store tunnel credentials")
		return
	}

	common.LogInfo("Registration accepted, starting tunnel to %s", sel.Domain)
	err = m.backend.ConfigureAndStart(TunnelConfig{
		ServerAddress: sel.Domain,
		Username:      clientName,
		Password:      m.cfg.TunnelSecret,
		Description:   fmt.Sprintf("%s - %s", common.AppName, sel.DisplayName),
		KillSwitch:    m.cfg.KillSwitch,
	})
	if err != nil {
		common.LogError("Tunnel start request failed: %v", err)
		m.failConnect(common.WrapError(err, "tunnel start failed"), err.Error())
		return
	}
	// From here the state machine is driven by backend status events.
}

// failConnect resets the attempt to disconnected and surfaces the
// error through the callback channel.
func (m *Manager) failConnect(err error, message string) {
	m.clearAttempt()
	m.reconcile(TunnelDisconnected)

	m.mu.RLock()
	callback := m.onError
	m.mu.RUnlock()
	if callback != nil {
		callback(err, message)
	}
}

func (m *Manager) clearAttempt() {
	m.mu.Lock()
	cancel := m.attemptCancel
	m.attemptCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Disconnect requests tunnel teardown. The session clock is cleared
// optimistically; the canonical disconnected state still flows from
// backend reconciliation. A connect attempt stuck in registration is
// cancelled.
func (m *Manager) Disconnect(userInitiated bool) {
	m.mu.Lock()
	m.manualDisconnect = userInitiated
	cancel := m.attemptCancel
	m.attemptCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	common.LogInfo("Disconnecting (user initiated: %v)", userInitiated)
	if err := m.backend.Stop(); err != nil {
		common.LogWarn("Tunnel stop request failed: %v", err)
	}

	m.stopTicker()
	m.mu.Lock()
	m.elapsed = 0
	m.sessionStart = time.Time{}
	m.mu.Unlock()
	if err := m.state.ClearSessionStart(); err != nil {
		common.LogWarn("Failed to clear session start: %v", err)
	}
}

// AwaitDisconnected polls the published state until it becomes
// disconnected, the timeout elapses, or the context is cancelled.
// Callers use it to guarantee no active tunnel before a fresh connect,
// e.g. when switching servers while connected.
func (m *Manager) AwaitDisconnected(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = common.DisconnectTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(common.DisconnectPollInterval)
	defer ticker.Stop()

	for {
		if m.State() == StateDisconnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return common.ErrCancelled
		case <-deadline.C:
			return common.ErrTimeout
		case <-ticker.C:
		}
	}
}

// StartupCheck runs the launch policy: force a status reload so an
// already-active tunnel from a previous session is picked up, then —
// once per process, after a short settle delay — auto-connect if
// enabled and the user did not disconnect manually earlier in this
// process.
func (m *Manager) StartupCheck() {
	m.backend.LoadStatus()
	m.reconcile(m.backend.CurrentStatus())

	m.mu.Lock()
	if m.launchChecked {
		m.mu.Unlock()
		return
	}
	m.launchChecked = true
	m.mu.Unlock()

	go func() {
		time.Sleep(m.cfg.SettleDelay)
		m.runLaunchLogic()
	}()
}

func (m *Manager) runLaunchLogic() {
	state := m.State()
	common.LogInfo("Launch check: state is %s", state)

	if state == StateConnected || state == StateConnecting {
		// Tunnel already active from a previous session; nothing to do.
		return
	}

	if !m.cfg.AutoConnect {
		return
	}

	m.mu.RLock()
	manual := m.manualDisconnect
	m.mu.RUnlock()
	if manual {
		common.LogInfo("Auto-connect skipped: user disconnected manually")
		return
	}

	common.LogInfo("Auto-connect triggered")
	if err := m.Connect(); err != nil {
		common.LogWarn("Auto-connect failed: %v", err)
	}
}

// reconcile folds a backend status into the published connection state.
// This is the only place the state changes. It is idempotent: feeding
// the same status twice neither double-starts the session clock nor
// double-clears the session.
func (m *Manager) reconcile(status TunnelStatus) {
	common.LogDebug("Tunnel status update: %s", status)

	switch status {
	case TunnelConnected:
		m.setState(StateConnected)
		m.startTicker()
		m.loadConnectedInfo()
	case TunnelConnecting, TunnelReasserting:
		m.setState(StateConnecting)
	case TunnelDisconnecting:
		m.setState(StateDisconnecting)
	default:
		// TunnelDisconnected, TunnelInvalid, and anything unknown all
		// land on disconnected.
		m.setState(StateDisconnected)
		m.stopTicker()
		m.mu.Lock()
		m.elapsed = 0
		m.sessionStart = time.Time{}
		m.connectedInfo = nil
		m.mu.Unlock()
		if err := m.state.ClearSessionStart(); err != nil {
			common.LogWarn("Failed to clear session start: %v", err)
		}
	}
}

func (m *Manager) setState(state ConnectionState) {
	m.mu.Lock()
	if m.connState == state {
		m.mu.Unlock()
		return
	}
	m.connState = state
	callback := m.onStateChange
	m.mu.Unlock()

	common.LogInfo("Connection state: %s", state)
	if callback != nil {
		callback(state)
	}
}

// loadConnectedInfo populates the connected-server display snapshot
// from the persisted selection.
func (m *Manager) loadConnectedInfo() {
	sel, ok, err := m.state.Selection()
	if err != nil || !ok {
		return
	}
	m.mu.Lock()
	m.connectedInfo = &ConnectedServerInfo{
		DisplayName: sel.DisplayName,
		ImageURL:    sel.ImageURL,
		IP:          sel.IP,
	}
	m.mu.Unlock()
}

// startTicker starts the 1 Hz session clock, restoring the persisted
// start timestamp if one exists so elapsed time survives a restart.
// No-op when the clock is already running.
func (m *Manager) startTicker() {
	m.mu.Lock()
	if m.tickStop != nil {
		m.mu.Unlock()
		return
	}

	start, ok, err := m.state.SessionStart()
	if err != nil {
		common.LogWarn("Failed to read session start: %v", err)
	}
	if !ok {
		start = time.Now()
		if err := m.state.SetSessionStart(start); err != nil {
			common.LogWarn("Failed to persist session start: %v", err)
		}
	}

	m.sessionStart = start
	m.elapsed = time.Since(start)
	stop := make(chan struct{})
	m.tickStop = stop
	m.mu.Unlock()

	go m.runTicker(stop, start)
}

// runTicker recomputes elapsed time as now minus the persisted start on
// every tick, rather than accumulating, so the displayed duration stays
// correct across process suspension.
func (m *Manager) runTicker(stop chan struct{}, start time.Time) {
	ticker := time.NewTicker(m.cfg.SessionTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.State() != StateConnected {
				return
			}
			m.mu.Lock()
			m.elapsed = time.Since(start)
			m.mu.Unlock()
		}
	}
}

func (m *Manager) stopTicker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
	// The persisted start timestamp is left alone here: if the process
	// dies and restarts while the tunnel is still up, startTicker
	// recovers the original start time.
}

// Elapsed returns the current session duration.
func (m *Manager) Elapsed() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.connState == StateConnected && !m.sessionStart.IsZero() {
		return time.Since(m.sessionStart)
	}
	return m.elapsed
}

// FormatElapsed renders the session duration as "HH : MM : SS".
func (m *Manager) FormatElapsed() string {
	d := m.Elapsed()
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d : %02d : %02d", hours, minutes, seconds)
}

// deriveClientName builds the gateway-side client identity from the
// account name and the stable per-install device id.
func deriveClientName(accountName, deviceID string) string {
	short := deviceID
	if len(short) > 8 {
		short = short[:8]
	}
	return accountName + "-" + short
}
