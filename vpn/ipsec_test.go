package vpn

import (
	"testing"
)

func TestIPSecBackendInitialStatus(t *testing.T) {
	b := NewIPSecBackend()

	if got := b.CurrentStatus(); got != TunnelDisconnected {
		t.Errorf("CurrentStatus() = %v, want %v", got, TunnelDisconnected)
	}

	b.LoadStatus()
	if got := b.CurrentStatus(); got != TunnelDisconnected {
		t.Errorf("CurrentStatus() after LoadStatus = %v, want %v", got, TunnelDisconnected)
	}
}

func TestIPSecBackendStatusDeduplication(t *testing.T) {
	b := NewIPSecBackend()

	b.setStatus(TunnelConnecting)
	b.setStatus(TunnelConnecting)
	b.setStatus(TunnelConnected)

	if got := len(b.events); got != 2 {
		t.Fatalf("queued events = %d, want 2 (repeated status must not re-publish)", got)
	}
}

func TestIPSecBackendNewestStatusWinsWhenFull(t *testing.T) {
	b := NewIPSecBackend()

	// Fill the event buffer without a consumer.
	statuses := []TunnelStatus{
		TunnelConnecting, TunnelReasserting,
		TunnelConnecting, TunnelReasserting,
		TunnelConnecting, TunnelReasserting,
		TunnelConnecting, TunnelReasserting,
	}
	for _, s := range statuses {
		b.setStatus(s)
	}
	if got := len(b.events); got != cap(b.events) {
		t.Fatalf("setup: queued events = %d, want full buffer %d", got, cap(b.events))
	}

	b.setStatus(TunnelConnected)

	// The oldest event gave way; the last event drained must be the
	// newest status.
	var last TunnelStatus
	for len(b.events) > 0 {
		last = <-b.events
	}
	if last != TunnelConnected {
		t.Errorf("last drained status = %v, want %v", last, TunnelConnected)
	}
	if got := b.CurrentStatus(); got != TunnelConnected {
		t.Errorf("CurrentStatus() = %v, want %v", got, TunnelConnected)
	}
}
