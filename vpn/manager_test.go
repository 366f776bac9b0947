package vpn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovvio/vpn-client/common"
	"github.com/ovvio/vpn-client/store"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

// fakeBackend is an in-memory TunnelBackend driven by tests.
type fakeBackend struct {
	mu        sync.Mutex
	status    TunnelStatus
	events    chan TunnelStatus
	started   []TunnelConfig
	stopCalls int
	loadCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan TunnelStatus, 16)}
}

func (b *fakeBackend) LoadStatus() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadCalls++
}

func (b *fakeBackend) ConfigureAndStart(cfg TunnelConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = append(b.started, cfg)
	return nil
}

func (b *fakeBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCalls++
	return nil
}

func (b *fakeBackend) CurrentStatus() TunnelStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *fakeBackend) Notifications() <-chan TunnelStatus {
	return b.events
}

// emit records a status and publishes it on the event stream.
func (b *fakeBackend) emit(status TunnelStatus) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	b.events <- status
}

func (b *fakeBackend) startedConfigs() []TunnelConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TunnelConfig(nil), b.started...)
}

// fakeRegistrar delegates to an injectable function.
type fakeRegistrar struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) (RegisterResult, error)
}

func (r *fakeRegistrar) Register(ctx context.Context, ip, clientName, password, token string) (RegisterResult, error) {
	r.mu.Lock()
	r.calls++
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return RegisterResult{Connected: true, Message: "ok"}, nil
}

func (r *fakeRegistrar) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeSecrets is an in-memory SecretStore.
type fakeSecrets struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{data: make(map[string]string)}
}

func (s *fakeSecrets) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *fakeSecrets) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return value, nil
}

func (s *fakeSecrets) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// fakeState is an in-memory StateStore.
type fakeState struct {
	mu              sync.Mutex
	sel             store.Selection
	hasSel          bool
	sessionStart    time.Time
	hasStart        bool
	setStartCalls   int
	clearStartCalls int
	favs            []int
	deviceID        string
	acc             store.Account
	hasAcc          bool
}

func newFakeState() *fakeState {
	return &fakeState{deviceID: "1234567890abcdef"}
}

func (s *fakeState) Selection() (store.Selection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel, s.hasSel, nil
}

func (s *fakeState) SaveSelection(sel store.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel = sel
	s.hasSel = true
	return nil
}

func (s *fakeState) SessionStart() (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionStart, s.hasStart, nil
}

func (s *fakeState) SetSessionStart(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionStart = t
	s.hasStart = true
	s.setStartCalls++
	return nil
}

func (s *fakeState) ClearSessionStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionStart = time.Time{}
	s.hasStart = false
	s.clearStartCalls++
	return nil
}

func (s *fakeState) Favourites() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.favs...), nil
}

func (s *fakeState) SetFavourites(ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favs = append([]int(nil), ids...)
	return nil
}

func (s *fakeState) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID, nil
}

func (s *fakeState) Account() (store.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc, s.hasAcc, nil
}

func (s *fakeState) setAccount(acc store.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acc = acc
	s.hasAcc = true
}

func (s *fakeState) setSelection(sel store.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel = sel
	s.hasSel = true
}

func (s *fakeState) startCalls() (set, cleared int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStartCalls, s.clearStartCalls
}

// fakeEntitlements reports a fixed premium flag.
type fakeEntitlements struct{ premium bool }

func (e *fakeEntitlements) IsPremium() bool { return e.premium }

type managerFixture struct {
	manager   *Manager
	backend   *fakeBackend
	registrar *fakeRegistrar
	secrets   *fakeSecrets
	state     *fakeState
	ent       *fakeEntitlements
}

func newManagerFixture(t *testing.T, cfg ManagerConfig) *managerFixture {
	t.Helper()

	if cfg.TunnelSecret == "" {
		cfg.TunnelSecret = "test-secret"
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 20 * time.Millisecond
	}
	if cfg.SessionTick == 0 {
		cfg.SessionTick = 20 * time.Millisecond
	}

	f := &managerFixture{
		backend:   newFakeBackend(),
		registrar: &fakeRegistrar{},
		secrets:   newFakeSecrets(),
		state:     newFakeState(),
		ent:       &fakeEntitlements{},
	}
	f.state.setAccount(store.Account{Name: "alice", Token: "tok-1"})
	f.state.setSelection(store.Selection{
		EndpointID:  7,
		SubServerID: 7,
		IP:          "203.0.113.10",
		Domain:      "fr1.example.com",
		DisplayName: "France - Paris",
		Tier:        common.TierFree,
	})

	f.manager = NewManager(f.backend, f.registrar, f.secrets, f.state, f.ent, cfg)
	t.Cleanup(f.manager.Close)
	return f
}

func (f *managerFixture) awaitState(t *testing.T, want ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.manager.State() == want
	}, waitFor, tick, "state never became %s", want)
}

func TestConnectWithoutSelection(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.state.mu.Lock()
	f.state.hasSel = false
	f.state.mu.Unlock()

	err := f.manager.Connect()
	assert.ErrorIs(t, err, ErrNoServerSelected)
	assert.Equal(t, StateDisconnected, f.manager.State())
	assert.Zero(t, f.registrar.callCount())
	assert.Empty(t, f.backend.startedConfigs())
}

func TestConnectWhileAlreadyConnected(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.backend.emit(TunnelConnected)
	f.awaitState(t, StateConnected)

	err := f.manager.Connect()
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestConnectPremiumGateRecheckedAtConnectTime(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.state.setSelection(store.Selection{
		EndpointID: 9, IP: "203.0.113.20", Domain: "de1.example.com",
		DisplayName: "Germany - Berlin", Tier: common.TierPremium,
	})

	err := f.manager.Connect()
	assert.ErrorIs(t, err, ErrUpgradeRequired)
	assert.Zero(t, f.registrar.callCount())

	f.ent.premium = true
	require.NoError(t, f.manager.Connect())
}

func TestConnectWithoutAccount(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.state.mu.Lock()
	f.state.hasAcc = false
	f.state.mu.Unlock()

	err := f.manager.Connect()
	assert.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestConnectWithoutTunnelSecret(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{TunnelSecret: "x"})
	f.manager.cfg.TunnelSecret = ""

	err := f.manager.Connect()
	assert.ErrorIs(t, err, common.ErrNoTunnelSecret)
}

func TestConnectFlow(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})

	require.NoError(t, f.manager.Connect())
	assert.Equal(t, StateConnecting, f.manager.State())

	require.Eventually(t, func() bool {
		return len(f.backend.startedConfigs()) == 1
	}, waitFor, tick, "backend never received a start request")

	cfg := f.backend.startedConfigs()[0]
	assert.Equal(t, "fr1.example.com", cfg.ServerAddress)
	assert.Equal(t, "alice-12345678", cfg.Username)
	assert.Equal(t, "test-secret", cfg.Password)

	stored, err := f.secrets.Get("tunnel_password")
	require.NoError(t, err)
	assert.Equal(t, "test-secret", stored)

	f.backend.emit(TunnelConnected)
	f.awaitState(t, StateConnected)

	info := f.manager.ConnectedServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "France - Paris", info.DisplayName)
	assert.Equal(t, "203.0.113.10", info.IP)
}

func TestRegistrationRejected(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.registrar.fn = func(ctx context.Context) (RegisterResult, error) {
		return RegisterResult{Connected: false, Message: "quota exceeded"}, nil
	}

	errCh := make(chan string, 1)
	f.manager.SetOnError(func(err error, message string) {
		errCh <- message
	})

	require.NoError(t, f.manager.Connect())

	select {
	case msg := <-errCh:
		assert.Equal(t, "quota exceeded", msg)
	case <-time.After(waitFor):
		t.Fatal("error callback never fired")
	}

	f.awaitState(t, StateDisconnected)
	assert.Empty(t, f.backend.startedConfigs())
}

func TestRegistrationFailure(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.registrar.fn = func(ctx context.Context) (RegisterResult, error) {
		return RegisterResult{}, errors.New("gateway unreachable")
	}

	errCh := make(chan error, 1)
	f.manager.SetOnError(func(err error, message string) {
		errCh <- err
	})

	require.NoError(t, f.manager.Connect())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("error callback never fired")
	}
	f.awaitState(t, StateDisconnected)
}

func TestRegistrationTimeoutSurfacesError(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{RegistrationTimeout: 50 * time.Millisecond})
	f.registrar.fn = func(ctx context.Context) (RegisterResult, error) {
		// Never answers; the attempt's own deadline must cut it off.
		<-ctx.Done()
		return RegisterResult{}, ctx.Err()
	}

	errCh := make(chan error, 1)
	f.manager.SetOnError(func(err error, message string) {
		errCh <- err
	})

	require.NoError(t, f.manager.Connect())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, common.ErrTimeout)
	case <-time.After(waitFor):
		t.Fatal("a timed-out registration must surface a connection error")
	}

	f.awaitState(t, StateDisconnected)
	assert.Empty(t, f.backend.startedConfigs())
}

func TestDisconnectDuringRegistrationDiscardsResult(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	release := make(chan struct{})
	f.registrar.fn = func(ctx context.Context) (RegisterResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return RegisterResult{}, ctx.Err()
		}
		return RegisterResult{Connected: true}, nil
	}

	require.NoError(t, f.manager.Connect())
	assert.Equal(t, StateConnecting, f.manager.State())

	f.manager.Disconnect(true)
	close(release)

	f.awaitState(t, StateDisconnected)
	assert.Empty(t, f.backend.startedConfigs(), "tunnel must not start after a cancelled registration")
}

func TestSessionClockSurvivesRestart(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	past := time.Now().Add(-90 * time.Second)
	require.NoError(t, f.state.SetSessionStart(past))

	f.backend.emit(TunnelConnected)
	f.awaitState(t, StateConnected)

	require.Eventually(t, func() bool {
		return f.manager.Elapsed() >= 90*time.Second
	}, waitFor, tick, "elapsed time was not restored from the persisted start")

	set, _ := f.state.startCalls()
	assert.Equal(t, 1, set, "an existing session start must not be overwritten")
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})

	var transitions []ConnectionState
	var mu sync.Mutex
	f.manager.SetOnStateChange(func(s ConnectionState) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	f.backend.emit(TunnelConnected)
	f.backend.emit(TunnelConnected)
	f.awaitState(t, StateConnected)

	// Let any spurious second transition surface.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionState{StateConnected}, transitions)

	set, _ := f.state.startCalls()
	assert.Equal(t, 1, set)
}

func TestDisconnectClearsSession(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	f.backend.emit(TunnelConnected)
	f.awaitState(t, StateConnected)

	f.manager.Disconnect(true)
	f.backend.emit(TunnelDisconnected)
	f.awaitState(t, StateDisconnected)

	assert.Equal(t, time.Duration(0), f.manager.Elapsed())
	assert.Nil(t, f.manager.ConnectedServerInfo())
	assert.Equal(t, 1, f.backend.stopCalls)

	_, cleared := f.state.startCalls()
	assert.GreaterOrEqual(t, cleared, 1)
}

func TestAwaitDisconnected(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})

	// Already disconnected: returns immediately.
	require.NoError(t, f.manager.AwaitDisconnected(context.Background(), time.Second))

	f.backend.emit(TunnelConnected)
	f.awaitState(t, StateConnected)

	err := f.manager.AwaitDisconnected(context.Background(), 300*time.Millisecond)
	assert.ErrorIs(t, err, common.ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.manager.AwaitDisconnected(ctx, time.Second)
	assert.ErrorIs(t, err, common.ErrCancelled)

	// Becomes disconnected while waiting.
	go func() {
		time.Sleep(50 * time.Millisecond)
		f.backend.emit(TunnelDisconnected)
	}()
	require.NoError(t, f.manager.AwaitDisconnected(context.Background(), waitFor))
}

func TestStartupAutoConnect(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{AutoConnect: true})

	f.manager.StartupCheck()

	require.Eventually(t, func() bool {
		return f.registrar.callCount() == 1
	}, waitFor, tick, "auto-connect never triggered")
}

func TestStartupAutoConnectRunsOncePerProcess(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{AutoConnect: true})

	f.manager.StartupCheck()
	f.manager.StartupCheck()

	require.Eventually(t, func() bool {
		return f.registrar.callCount() >= 1
	}, waitFor, tick)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.registrar.callCount())
}

func TestStartupAutoConnectSkippedWhenDisabled(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{AutoConnect: false})

	f.manager.StartupCheck()
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.registrar.callCount())
}

func TestStartupAutoConnectSkippedWhenTunnelActive(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{AutoConnect: true})
	f.backend.emit(TunnelConnected)
	f.awaitState(t, StateConnected)

	f.manager.StartupCheck()
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.registrar.callCount())
}

func TestManualDisconnectSuppressesAutoConnect(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{AutoConnect: true})

	f.manager.Disconnect(true)
	f.manager.StartupCheck()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.registrar.callCount())
}

func TestFormatElapsed(t *testing.T) {
	f := newManagerFixture(t, ManagerConfig{})
	assert.Equal(t, "00 : 00 : 00", f.manager.FormatElapsed())

	f.manager.mu.Lock()
	f.manager.elapsed = 2*time.Hour + 5*time.Minute + 9*time.Second
	f.manager.mu.Unlock()
	assert.Equal(t, "02 : 05 : 09", f.manager.FormatElapsed())
}

func TestDeriveClientName(t *testing.T) {
	assert.Equal(t, "alice-1234abcd", deriveClientName("alice", "1234abcd-9999"))
	assert.Equal(t, "bob-x1", deriveClientName("bob", "x1"))
}
