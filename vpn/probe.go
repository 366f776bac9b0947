// Package vpn implements the connection lifecycle core of the Ovvio VPN
// client. This file contains the Prober, which keeps a continuously
// refreshed latency map over the catalog's endpoints.
package vpn

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ovvio/vpn-client/common"
)

// LatencyState describes one endpoint's latency record.
type LatencyState int

const (
	// LatencyPending means a probe is in flight.
	LatencyPending LatencyState = iota
	// LatencyMeasured means the last probe completed with a round trip.
	LatencyMeasured
	// LatencyFailed means the last probe errored or timed out.
	LatencyFailed
)

// String returns a human-readable representation of the latency state.
func (s LatencyState) String() string {
	switch s {
	case LatencyPending:
		return "Pending"
	case LatencyMeasured:
		return "Measured"
	case LatencyFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Latency is one endpoint's latency record.
type Latency struct {
	State LatencyState
	RTT   time.Duration
}

// ProbeConfig holds configuration for the prober.
type ProbeConfig struct {
	// Interval is how often a new probe cycle is dispatched.
	Interval time.Duration
	// Timeout is the per-probe deadline.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous in-flight probes.
	MaxConcurrent int
}

// DefaultProbeConfig returns sensible probing defaults.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval:      common.ProbeInterval,
		Timeout:       common.ProbeTimeout,
		MaxConcurrent: common.ProbeMaxConcurrent,
	}
}

// dialFunc measures one round trip to an address. Injectable in tests.
type dialFunc func(addr string, timeout time.Duration) (time.Duration, error)

// tcpRoundTrip measures the time to establish a TCP connection.
func tcpRoundTrip(addr string, timeout time.Duration) (time.Duration, error) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}

// Prober periodically measures the round-trip latency of every catalog
// endpoint. At most one probe is in flight per endpoint at any instant:
// an endpoint still pending when the next cycle fires is skipped, not
// queued. Total fan-out is capped by a semaphore so a large catalog
// cannot flood the network.
type Prober struct {
	config  ProbeConfig
	targets func() []Endpoint
	dial    dialFunc

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	results  map[int]Latency
	onUpdate func(id int, lat Latency)

	sem chan struct{}
}

// NewProber creates a prober over the given endpoint source.
func NewProber(config ProbeConfig, targets func() []Endpoint) *Prober {
	if config.Interval <= 0 {
		config.Interval = common.ProbeInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = common.ProbeTimeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = common.ProbeMaxConcurrent
	}

	return &Prober{
		config:   config,
		targets:  targets,
		dial:     tcpRoundTrip,
		stopChan: make(chan struct{}),
		results:  make(map[int]Latency),
		sem:      make(chan struct{}, config.MaxConcurrent),
	}
}

// SetOnUpdate sets a callback invoked whenever an endpoint's latency
// record changes.
func (p *Prober) SetOnUpdate(callback func(id int, lat Latency)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = callback
}

// Start begins the probing loop. The first cycle fires immediately.
func (p *Prober) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stop := p.stopChan

	// Probes orphaned by a previous Stop left their records pending;
	// clear them so those endpoints are measured again rather than
	// skipped forever.
	for id, lat := range p.results {
		if lat.State == LatencyPending {
			delete(p.results, id)
		}
	}
	p.mu.Unlock()

	common.LogInfo("Latency prober started (interval: %v, timeout: %v)", p.config.Interval, p.config.Timeout)

	go p.runLoop(stop)
}

// Stop stops the probing loop. Probes already in flight are orphaned:
// they observe the stop signal and terminate without committing an
// outcome.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	common.LogInfo("Latency prober stopped")
}

// IsRunning returns whether the prober is currently running.
func (p *Prober) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Results returns a snapshot of the latency map.
func (p *Prober) Results() map[int]Latency {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snapshot := make(map[int]Latency, len(p.results))
	for id, lat := range p.results {
		snapshot[id] = lat
	}
	return snapshot
}

// Result returns one endpoint's latency record.
func (p *Prober) Result(id int) (Latency, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lat, ok := p.results[id]
	return lat, ok
}

// runLoop dispatches probe cycles until stopped.
func (p *Prober) runLoop(stop chan struct{}) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.probeCycle(stop)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.probeCycle(stop)
		}
	}
}

// probeCycle dispatches one probe per endpoint not already pending.
// Endpoints with no resolvable address are marked failed immediately,
// without a probe.
func (p *Prober) probeCycle(stop chan struct{}) {
	for _, e := range p.targets() {
		if e.IP == "" {
			p.commit(e.ID, Latency{State: LatencyFailed})
			continue
		}

		p.mu.Lock()
		if lat, ok := p.results[e.ID]; ok && lat.State == LatencyPending {
			p.mu.Unlock()
			continue
		}
		p.results[e.ID] = Latency{State: LatencyPending}
		p.mu.Unlock()

		go p.probe(e, stop)
	}
}

// probe measures one endpoint, racing the measurement against the
// configured deadline. Whichever resolves first wins; the loser's
// outcome is discarded, so at most one outcome is committed per cycle.
func (p *Prober) probe(e Endpoint, stop chan struct{}) {
	select {
	case p.sem <- struct{}{}:
	case <-stop:
		return
	}
	defer func() { <-p.sem }()

	addr := net.JoinHostPort(e.IP, strconv.Itoa(probePort(e)))

	type outcome struct {
		rtt time.Duration
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		rtt, err := p.dial(addr, p.config.Timeout)
		ch <- outcome{rtt: rtt, err: err}
	}()

	deadline := time.NewTimer(p.config.Timeout)
	defer deadline.Stop()

	select {
	case o := <-ch:
		if o.err != nil {
			p.commit(e.ID, Latency{State: LatencyFailed})
		} else {
			p.commit(e.ID, Latency{State: LatencyMeasured, RTT: o.rtt})
		}
	case <-deadline.C:
		// No reply within the deadline; a reply arriving later is
		// dropped into the buffered channel and never committed.
		p.commit(e.ID, Latency{State: LatencyFailed})
	case <-stop:
		// Prober stopped; no outcome is committed.
	}
}

func (p *Prober) commit(id int, lat Latency) {
	p.mu.Lock()
	p.results[id] = lat
	callback := p.onUpdate
	p.mu.Unlock()

	if callback != nil {
		callback(id, lat)
	}
}

// probePort picks the port the round trip is measured against.
func probePort(e Endpoint) int {
	if e.Port > 0 {
		return e.Port
	}
	// IKEv2 gateways listen on 500/4500 UDP; for a TCP round trip the
	// HTTPS port is the most reliably reachable.
	return 443
}
