package config

import (
	"testing"

	"github.com/charlesrocket/veilid/types"
)

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.Limits.MaxConnectionsPerIP4 != 32 {
		t.Errorf("MaxConnectionsPerIP4 = %d, want 32", c.Limits.MaxConnectionsPerIP4)
	}
	if c.RoutingTable.NeverReachedPingCount != 3 {
		t.Errorf("NeverReachedPingCount = %d, want 3", c.RoutingTable.NeverReachedPingCount)
	}
	if c.PublicAddress.ChangeDetectionCount != 3 {
		t.Errorf("ChangeDetectionCount = %d, want 3", c.PublicAddress.ChangeDetectionCount)
	}
	if c.NewConnectionQueue.Capacity != 128 {
		t.Errorf("Capacity = %d, want 128", c.NewConnectionQueue.Capacity)
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", c.LogLevel)
	}
}

func TestWithDefaultsPreservesExplicitValues(t *testing.T) {
	c := Config{Limits: ConnectionLimitsConfig{MaxConnectionsPerIP4: 5}}.WithDefaults()
	if c.Limits.MaxConnectionsPerIP4 != 5 {
		t.Errorf("explicit value overwritten: got %d", c.Limits.MaxConnectionsPerIP4)
	}
}

func TestValidateRejectsZeroNodeID(t *testing.T) {
	c := Config{Transport: TransportConfig{UDP: ProtocolConfig{Enabled: true}}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero node id")
	}
}

func TestValidateRequiresATransport(t *testing.T) {
	kind, _ := types.ParseCryptoKind("VLD0")
	c := Config{NodeID: types.TypedKey{Kind: kind, Key: types.NodeId{1}}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error when no transport is enabled")
	}
}

func TestValidateRequiresWSSRequestPath(t *testing.T) {
	kind, _ := types.ParseCryptoKind("VLD0")
	c := Config{
		NodeID:    types.TypedKey{Kind: kind, Key: types.NodeId{1}},
		Transport: TransportConfig{WSS: ProtocolConfig{Enabled: true}},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for wss without a request path")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	kind, _ := types.ParseCryptoKind("VLD0")
	c := Config{
		NodeID:    types.TypedKey{Kind: kind, Key: types.NodeId{1}},
		Transport: TransportConfig{UDP: ProtocolConfig{Enabled: true}},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
