package vpn

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticTargets returns a fixed endpoint list source.
func staticTargets(endpoints ...Endpoint) func() []Endpoint {
	return func() []Endpoint { return endpoints }
}

// countingDial wraps a dial function and counts invocations.
type countingDial struct {
	mu    sync.Mutex
	calls int
	fn    dialFunc
}

func (d *countingDial) dial(addr string, timeout time.Duration) (time.Duration, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.fn(addr, timeout)
}

func (d *countingDial) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testProbeConfig() ProbeConfig {
	return ProbeConfig{
		// Long enough that only the immediate first cycle runs during a
		// test unless it drives cycles by hand.
		Interval:      time.Hour,
		Timeout:       100 * time.Millisecond,
		MaxConcurrent: 4,
	}
}

func TestProbeMeasuresRoundTrip(t *testing.T) {
	target := Endpoint{ID: 1, IP: "203.0.113.1", Port: 443}
	p := NewProber(testProbeConfig(), staticTargets(target))
	p.dial = func(addr string, timeout time.Duration) (time.Duration, error) {
		assert.Equal(t, "203.0.113.1:443", addr)
		return 12 * time.Millisecond, nil
	}

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		lat, ok := p.Result(1)
		return ok && lat.State == LatencyMeasured
	}, waitFor, tick)

	lat, _ := p.Result(1)
	assert.Equal(t, 12*time.Millisecond, lat.RTT)
}

func TestProbeDialErrorFails(t *testing.T) {
	target := Endpoint{ID: 1, IP: "203.0.113.1", Port: 443}
	p := NewProber(testProbeConfig(), staticTargets(target))
	p.dial = func(addr string, timeout time.Duration) (time.Duration, error) {
		return 0, errors.New("connection refused")
	}

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		lat, ok := p.Result(1)
		return ok && lat.State == LatencyFailed
	}, waitFor, tick)
}

func TestProbeTimeoutFails(t *testing.T) {
	target := Endpoint{ID: 1, IP: "203.0.113.1", Port: 443}
	cfg := testProbeConfig()
	cfg.Timeout = 20 * time.Millisecond

	release := make(chan struct{})
	p := NewProber(cfg, staticTargets(target))
	p.dial = func(addr string, timeout time.Duration) (time.Duration, error) {
		<-release
		return time.Millisecond, nil
	}

	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		lat, ok := p.Result(1)
		return ok && lat.State == LatencyFailed
	}, waitFor, tick, "deadline never fired")

	// A reply arriving after the deadline is discarded, the record
	// stays failed.
	close(release)
	time.Sleep(50 * time.Millisecond)
	lat, _ := p.Result(1)
	assert.Equal(t, LatencyFailed, lat.State)
}

func TestProbeNoAddressFailsWithoutDialing(t *testing.T) {
	target := Endpoint{ID: 5, IP: ""}
	d := &countingDial{fn: func(addr string, timeout time.Duration) (time.Duration, error) {
		return time.Millisecond, nil
	}}

	p := NewProber(testProbeConfig(), staticTargets(target))
	p.dial = d.dial

	p.probeCycle(make(chan struct{}))

	lat, ok := p.Result(5)
	require.True(t, ok)
	assert.Equal(t, LatencyFailed, lat.State)
	assert.Zero(t, d.callCount())
}

func TestProbeSkipsEndpointStillPending(t *testing.T) {
	target := Endpoint{ID: 1, IP: "203.0.113.1", Port: 443}
	release := make(chan struct{})
	d := &countingDial{fn: func(addr string, timeout time.Duration) (time.Duration, error) {
		<-release
		return time.Millisecond, nil
	}}

	cfg := testProbeConfig()
	cfg.Timeout = time.Second
	p := NewProber(cfg, staticTargets(target))
	p.dial = d.dial

	stop := make(chan struct{})
	defer close(stop)

	p.probeCycle(stop)
	require.Eventually(t, func() bool {
		return d.callCount() == 1
	}, waitFor, tick)

	// The endpoint is still pending; a second cycle must not dispatch
	// another probe for it.
	p.probeCycle(stop)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.callCount())

	close(release)
	require.Eventually(t, func() bool {
		lat, ok := p.Result(1)
		return ok && lat.State == LatencyMeasured
	}, waitFor, tick)
}

func TestStopOrphansInFlightProbe(t *testing.T) {
	target := Endpoint{ID: 1, IP: "203.0.113.1", Port: 443}
	release := make(chan struct{})
	defer close(release)

	cfg := testProbeConfig()
	cfg.Timeout = time.Hour
	p := NewProber(cfg, staticTargets(target))
	p.dial = func(addr string, timeout time.Duration) (time.Duration, error) {
		<-release
		return time.Millisecond, nil
	}

	p.Start()
	require.Eventually(t, func() bool {
		lat, ok := p.Result(1)
		return ok && lat.State == LatencyPending
	}, waitFor, tick)

	p.Stop()
	time.Sleep(50 * time.Millisecond)

	// No outcome is committed after stop, the record stays pending.
	lat, ok := p.Result(1)
	require.True(t, ok)
	assert.Equal(t, LatencyPending, lat.State)
}

func TestRestartMeasuresOrphanedEndpoints(t *testing.T) {
	target := Endpoint{ID: 1, IP: "203.0.113.1", Port: 443}
	release := make(chan struct{})
	defer close(release)

	cfg := testProbeConfig()
	cfg.Timeout = time.Hour
	p := NewProber(cfg, staticTargets(target))
	p.dial = func(addr string, timeout time.Duration) (time.Duration, error) {
		<-release
		return time.Millisecond, nil
	}

	p.Start()
	require.Eventually(t, func() bool {
		lat, ok := p.Result(1)
		return ok && lat.State == LatencyPending
	}, waitFor, tick)
	p.Stop()

	// The orphaned record must not starve the endpoint: after a
	// restart the next cycle probes it again.
	p.dial = func(addr string, timeout time.Duration) (time.Duration, error) {
		return 9 * time.Millisecond, nil
	}
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		lat, ok := p.Result(1)
		return ok && lat.State == LatencyMeasured
	}, waitFor, tick, "endpoint never measured again after restart")
}

func TestProberStartStop(t *testing.T) {
	p := NewProber(testProbeConfig(), staticTargets())

	assert.False(t, p.IsRunning())
	p.Start()
	assert.True(t, p.IsRunning())

	// Second start is a no-op.
	p.Start()
	assert.True(t, p.IsRunning())

	p.Stop()
	assert.False(t, p.IsRunning())

	// Second stop is a no-op.
	p.Stop()
	assert.False(t, p.IsRunning())

	// Restart after stop.
	p.Start()
	assert.True(t, p.IsRunning())
	p.Stop()
}

func TestProbeOnUpdateCallback(t *testing.T) {
	target := Endpoint{ID: 3, IP: "203.0.113.3", Port: 443}
	p := NewProber(testProbeConfig(), staticTargets(target))
	p.dial = func(addr string, timeout time.Duration) (time.Duration, error) {
		return 7 * time.Millisecond, nil
	}

	type update struct {
		id  int
		lat Latency
	}
	updates := make(chan update, 8)
	p.SetOnUpdate(func(id int, lat Latency) {
		updates <- update{id: id, lat: lat}
	})

	p.Start()
	defer p.Stop()

	deadline := time.After(waitFor)
	for {
		select {
		case u := <-updates:
			if u.lat.State == LatencyMeasured {
				assert.Equal(t, 3, u.id)
				assert.Equal(t, 7*time.Millisecond, u.lat.RTT)
				return
			}
		case <-deadline:
			t.Fatal("measurement update never arrived")
		}
	}
}

func TestProbeResultsSnapshot(t *testing.T) {
	p := NewProber(testProbeConfig(), staticTargets())
	p.commit(1, Latency{State: LatencyMeasured, RTT: 5 * time.Millisecond})
	p.commit(2, Latency{State: LatencyFailed})

	snapshot := p.Results()
	assert.Len(t, snapshot, 2)

	// Mutating the snapshot does not touch the prober's map.
	snapshot[1] = Latency{State: LatencyFailed}
	lat, _ := p.Result(1)
	assert.Equal(t, LatencyMeasured, lat.State)
}
