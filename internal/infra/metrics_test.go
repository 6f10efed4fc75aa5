package infra

import (
	"testing"
)

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordEnvelope()
	m.RecordEnvelope()
	m.RecordUnknownKind()
	m.RecordDecodeError()
	m.RecordIntent()
	m.RecordIntentRejected()
	m.RecordTransportError()

	snap := m.Snapshot()

	if snap.EnvelopesApplied != 2 {
		t.Errorf("Expected 2 envelopes, got %d", snap.EnvelopesApplied)
	}
	if snap.UnknownKinds != 1 || snap.DecodeErrors != 1 {
		t.Errorf("Expected 1 unknown kind and 1 decode error, got %d/%d", snap.UnknownKinds, snap.DecodeErrors)
	}
	if snap.LocalIntents != 1 || snap.IntentsRejected != 1 {
		t.Errorf("Expected 1 intent and 1 rejection, got %d/%d", snap.LocalIntents, snap.IntentsRejected)
	}
	if snap.TransportErrors != 1 {
		t.Errorf("Expected 1 transport error, got %d", snap.TransportErrors)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Reconnects(t *testing.T) {
	m := &Metrics{}

	m.RecordReconnect(1)
	m.RecordReconnect(2)

	snap := m.Snapshot()
	if snap.Reconnects != 2 {
		t.Errorf("Expected 2 reconnects, got %d", snap.Reconnects)
	}
	if snap.ReconnectAttempt != 2 {
		t.Errorf("Expected attempt gauge 2, got %d", snap.ReconnectAttempt)
	}

	m.ResetReconnectAttempt()
	if m.Snapshot().ReconnectAttempt != 0 {
		t.Error("Expected attempt gauge reset to 0")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordEnvelope()
	m.RecordDecodeError()
	m.IncrementConnections()
	m.SetLiveOrders(12)

	m.Reset()
	snap := m.Snapshot()

	if snap.EnvelopesApplied != 0 {
		t.Error("Expected 0 envelopes after reset")
	}
	if snap.DecodeErrors != 0 {
		t.Error("Expected 0 decode errors after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
	if snap.LiveOrders != 0 {
		t.Error("Expected 0 live orders after reset")
	}
}
