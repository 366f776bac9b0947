package vpn

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/ovvio/vpn-client/common"
)

// IPSecBackend drives an IKEv2 tunnel through strongSwan's charon-cmd.
// The daemon is started per connection and its output is parsed for
// lifecycle events; killing the process tears the tunnel down. The
// backend only orchestrates the process, it never touches routing or
// key material itself.
type IPSecBackend struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	status   TunnelStatus
	events   chan TunnelStatus
	stopping bool
}

// NewIPSecBackend creates a backend with no tunnel running.
func NewIPSecBackend() *IPSecBackend {
	return &IPSecBackend{
		status: TunnelDisconnected,
		events: make(chan TunnelStatus, 8),
	}
}

// LoadStatus refreshes the backend's view of the tunnel. A charon-cmd
// child only exists while this process runs, so with no child the
// tunnel is down.
func (b *IPSecBackend) LoadStatus() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		b.status = TunnelDisconnected
	}
}

// CurrentStatus returns the last observed tunnel status.
func (b *IPSecBackend) CurrentStatus() TunnelStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Notifications returns the stream of tunnel status changes.
func (b *IPSecBackend) Notifications() <-chan TunnelStatus {
	return b.events
}

// ConfigureAndStart launches charon-cmd against the given gateway and
// begins monitoring its output. The EAP password is fed over stdin so
// it never appears in the process table.
func (b *IPSecBackend) ConfigureAndStart(config TunnelConfig) error {
	b.mu.Lock()
	if b.cmd != nil {
		b.mu.Unlock()
		return common.ErrAlreadyConnected
	}

	args := []string{
		"charon-cmd",
		"--host", config.ServerAddress,
		"--identity", config.Username,
		"--profile", "ikev2-eap",
	}

	cmd := exec.Command("pkexec", args...)
	common.LogDebug("Starting tunnel: pkexec %s", strings.Join(args, " "))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		b.mu.Unlock()
		return common.WrapError(common.ErrConnectionFailed, err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.mu.Unlock()
		return common.WrapError(common.ErrConnectionFailed, err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.mu.Unlock()
		return common.WrapError(common.ErrConnectionFailed, err.Error())
	}

	if err := cmd.Start(); err != nil {
		b.mu.Unlock()
		common.LogError("Could not start charon-cmd: %v", err)
		return common.WrapError(common.ErrConnectionFailed, err.Error())
	}
	common.LogInfo("charon-cmd started with PID %d", cmd.Process.Pid)

	b.cmd = cmd
	b.stopping = false
	b.setStatusLocked(TunnelConnecting)
	b.mu.Unlock()

	go func() {
		defer stdin.Close()
		fmt.Fprintf(stdin, "%s\n", config.Password)
	}()

	go b.monitorOutput(stdout)
	go b.monitorOutput(stderr)
	go b.waitForExit(cmd)

	return nil
}

// Stop terminates the charon-cmd process. charon-cmd deletes its SA on
// SIGINT, giving the gateway a clean teardown.
func (b *IPSecBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd == nil {
		return nil
	}

	b.stopping = true
	b.setStatusLocked(TunnelDisconnecting)

	if err := b.cmd.Process.Signal(os.Interrupt); err != nil {
		common.LogWarn("Interrupt failed, killing charon-cmd: %v", err)
		_ = b.cmd.Process.Kill()
	}
	return nil
}

// monitorOutput parses charon-cmd output for lifecycle events.
func (b *IPSecBackend) monitorOutput(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		common.LogDebug("charon-cmd: %s", line)

		switch {
		case strings.Contains(line, "established successfully"):
			common.LogInfo("Tunnel established")
			b.setStatus(TunnelConnected)
		case strings.Contains(line, "reauthenticating"), strings.Contains(line, "restarting"):
			b.setStatus(TunnelReasserting)
		case strings.Contains(line, "EAP authentication failed"),
			strings.Contains(line, "AUTH_FAILED"):
			common.LogError("Tunnel authentication failed")
		}
	}
}

// waitForExit reaps the process and reports the terminal status.
func (b *IPSecBackend) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && !b.stopping {
		common.LogError("charon-cmd terminated with error: %v", err)
	} else {
		common.LogInfo("charon-cmd terminated")
	}

	b.cmd = nil
	b.stopping = false
	b.setStatusLocked(TunnelDisconnected)
}

// setStatus records a status change and publishes it.
func (b *IPSecBackend) setStatus(status TunnelStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setStatusLocked(status)
}

func (b *IPSecBackend) setStatusLocked(status TunnelStatus) {
	if b.status == status {
		return
	}
	b.status = status

	// If the consumer stalls, drop the oldest queued event rather than
	// the new one: the stream must always end on the latest status.
	select {
	case b.events <- status:
	default:
		select {
		case stale := <-b.events:
			common.LogWarn("Tunnel status event dropped: %s", stale)
		default:
		}
		select {
		case b.events <- status:
		default:
		}
	}
}
