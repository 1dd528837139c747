// Package config defines the typed configuration shape consumed by an
// external loader (daemon config parsing, CLI, flags — all out of
// scope). Every struct here is plain data with JSON tags in the
// teacher's style (omitempty on optional fields), and every zero-value
// default documented in a comment matches the constant the spec assigns
// it.
package config

import (
	"fmt"
	"time"

	"github.com/charlesrocket/veilid/types"
)

// ConnectionLimitsConfig bounds concurrent connections per IP and per
// IPv6 prefix (spec §4.2 connection admission control).
type ConnectionLimitsConfig struct {
	// MaxConnectionsPerIP4 caps concurrent connections from a single
	// IPv4 address. Default 32.
	MaxConnectionsPerIP4 int `json:"max_connections_per_ip4,omitempty"`
	// MaxConnectionsPerIP6Prefix caps concurrent connections from a
	// single IPv6 /PrefixLength block. Default 32.
	MaxConnectionsPerIP6Prefix int `json:"max_connections_per_ip6_prefix,omitempty"`
	// MaxConnectionsPerIP6PrefixSize is N in the /N prefix used to
	// group IPv6 addresses into one bucket. Default 56.
	MaxConnectionsPerIP6PrefixSize int `json:"max_connections_per_ip6_prefix_size,omitempty"`
	// MaxConnectionFrequencyPerMin caps new-connection attempts per
	// minute from a single IP/prefix. Default 128.
	MaxConnectionFrequencyPerMin int `json:"max_connection_frequency_per_min,omitempty"`
}

func (c ConnectionLimitsConfig) withDefaults() ConnectionLimitsConfig {
	if c.MaxConnectionsPerIP4 == 0 {
		c.MaxConnectionsPerIP4 = 32
	}
	if c.MaxConnectionsPerIP6Prefix == 0 {
		c.MaxConnectionsPerIP6Prefix = 32
	}
	if c.MaxConnectionsPerIP6PrefixSize == 0 {
		c.MaxConnectionsPerIP6PrefixSize = 56
	}
	if c.MaxConnectionFrequencyPerMin == 0 {
		c.MaxConnectionFrequencyPerMin = 128
	}
	return c
}

// PortSelectionConfig controls automatic listener port assignment (spec
// §6 "Bad-port denylist").
type PortSelectionConfig struct {
	// MinPort/MaxPort are carried for configuration loaders; nothing in
	// this module reads them. transport.SelectPort scans upward from a
	// caller-supplied base port and always skips the bad-port denylist.
	MinPort uint16 `json:"min_port,omitempty"`
	MaxPort uint16 `json:"max_port,omitempty"`
}

// ProtocolConfig enables a protocol and pins its listen address/port.
type ProtocolConfig struct {
	Enabled     bool   `json:"enabled"`
	ListenAddr  string `json:"listen_addr,omitempty"`
	Port        uint16 `json:"port,omitempty"`
	RequestPath string `json:"request_path,omitempty"` // WS/WSS only
}

// TransportConfig groups the four protocol handlers' configuration.
type TransportConfig struct {
	UDP          ProtocolConfig      `json:"udp"`
	TCP          ProtocolConfig      `json:"tcp"`
	WS           ProtocolConfig      `json:"ws"`
	WSS          ProtocolConfig      `json:"wss"`
	PortSelect   PortSelectionConfig `json:"port_select,omitempty"`
	ConnInactTimeout time.Duration   `json:"connection_inactivity_timeout,omitempty"` // default 60s
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.ConnInactTimeout == 0 {
		c.ConnInactTimeout = 60 * time.Second
	}
	return c
}

// RoutingTableConfig tunes the bucket/liveness machinery of spec §4.5.
type RoutingTableConfig struct {
	// BucketDepthLimit caps entries per bucket before a kick is
	// triggered. Default 8.
	BucketDepthLimit int `json:"bucket_depth_limit,omitempty"`
	// MinPeerCount is the floor the peer-minimum-refresh task tries to
	// keep the table above. Default 16.
	MinPeerCount int `json:"min_peer_count,omitempty"`

	// Ping policy constants (spec §4.5 "Ping policy"). Defaults match
	// the spec's named constants exactly.
	ReliablePingIntervalStart time.Duration `json:"reliable_ping_interval_start,omitempty"` // default 10s
	ReliablePingIntervalMax   time.Duration `json:"reliable_ping_interval_max,omitempty"`   // default 600s
	ReliablePingMultiplier    float64       `json:"reliable_ping_multiplier,omitempty"`     // default 2.0
	UnreliablePingSpan        time.Duration `json:"unreliable_ping_span,omitempty"`         // default 60s
	UnreliablePingInterval    time.Duration `json:"unreliable_ping_interval,omitempty"`     // default 5s
	KeepalivePingInterval     time.Duration `json:"keepalive_ping_interval,omitempty"`      // default 10s
	NeverReachedPingCount     int           `json:"never_reached_ping_count,omitempty"`     // default 3
}

func (c RoutingTableConfig) withDefaults() RoutingTableConfig {
	if c.BucketDepthLimit == 0 {
		c.BucketDepthLimit = 8
	}
	if c.MinPeerCount == 0 {
		c.MinPeerCount = 16
	}
	if c.ReliablePingIntervalStart == 0 {
		c.ReliablePingIntervalStart = 10 * time.Second
	}
	if c.ReliablePingIntervalMax == 0 {
		c.ReliablePingIntervalMax = 600 * time.Second
	}
	if c.ReliablePingMultiplier == 0 {
		c.ReliablePingMultiplier = 2.0
	}
	if c.UnreliablePingSpan == 0 {
		c.UnreliablePingSpan = 60 * time.Second
	}
	if c.UnreliablePingInterval == 0 {
		c.UnreliablePingInterval = 5 * time.Second
	}
	if c.KeepalivePingInterval == 0 {
		c.KeepalivePingInterval = 10 * time.Second
	}
	if c.NeverReachedPingCount == 0 {
		c.NeverReachedPingCount = 3
	}
	return c
}

// PublicAddressConfig tunes spec §4.6.5's detection hysteresis.
type PublicAddressConfig struct {
	DetectAddressChanges bool          `json:"detect_address_changes"`
	CacheSize            int           `json:"cache_size,omitempty"`             // default 8
	ChangeDetectionCount int           `json:"change_detection_count,omitempty"` // default 3
	CheckInterval        time.Duration `json:"check_interval,omitempty"`         // default 60s
	InconsistencyTimeout time.Duration `json:"inconsistency_timeout,omitempty"`  // default 300s
	PunishmentTimeout    time.Duration `json:"punishment_timeout,omitempty"`     // default 3600s
	IP6PrefixSize        int           `json:"ip6_prefix_size,omitempty"`        // default 56
}

func (c PublicAddressConfig) withDefaults() PublicAddressConfig {
	if c.CacheSize == 0 {
		c.CacheSize = 8
	}
	if c.ChangeDetectionCount == 0 {
		c.ChangeDetectionCount = 3
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.InconsistencyTimeout == 0 {
		c.InconsistencyTimeout = 300 * time.Second
	}
	if c.PunishmentTimeout == 0 {
		c.PunishmentTimeout = 3600 * time.Second
	}
	if c.IP6PrefixSize == 0 {
		c.IP6PrefixSize = 56
	}
	return c
}

// RelayWhitelistConfig bounds the sender whitelist used to decide
// whether an unrecognized recipient id should be relayed (spec §4.6.2
// step 9, open question resolved in SPEC_FULL.md §3).
type RelayWhitelistConfig struct {
	MaxEntries int           `json:"max_entries,omitempty"` // default 1024
	EntryTTL   time.Duration `json:"entry_ttl,omitempty"`   // default 5m, refreshed on access
}

func (c RelayWhitelistConfig) withDefaults() RelayWhitelistConfig {
	if c.MaxEntries == 0 {
		c.MaxEntries = 1024
	}
	if c.EntryTTL == 0 {
		c.EntryTTL = 5 * time.Minute
	}
	return c
}

// CryptoConfig names which crypto_kind to use for newly issued key pairs
// and which kinds to accept on decode.
type CryptoConfig struct {
	PreferredKind  string   `json:"preferred_kind,omitempty"` // default "VLD0"
	AcceptedKinds  []string `json:"accepted_kinds,omitempty"` // default ["VLD0", "SECP"]
	MaxTimestampSkewPast   time.Duration `json:"max_timestamp_skew_past,omitempty"`
	MaxTimestampSkewFuture time.Duration `json:"max_timestamp_skew_future,omitempty"`
}

func (c CryptoConfig) withDefaults() CryptoConfig {
	if c.PreferredKind == "" {
		c.PreferredKind = "VLD0"
	}
	if len(c.AcceptedKinds) == 0 {
		c.AcceptedKinds = []string{"VLD0", "SECP"}
	}
	return c
}

// ReceiptConfig tunes spec §4.7's timeouts.
type ReceiptConfig struct {
	ReverseConnectionReceiptTime time.Duration `json:"reverse_connection_receipt_time,omitempty"` // default 5s
	HolePunchReceiptTime         time.Duration `json:"hole_punch_receipt_time,omitempty"`         // default 5s
}

func (c ReceiptConfig) withDefaults() ReceiptConfig {
	if c.ReverseConnectionReceiptTime == 0 {
		c.ReverseConnectionReceiptTime = 5 * time.Second
	}
	if c.HolePunchReceiptTime == 0 {
		c.HolePunchReceiptTime = 5 * time.Second
	}
	return c
}

// TasksConfig tunes the background task scheduler's cadences (spec §4.8).
type TasksConfig struct {
	RollingTransfersInterval time.Duration `json:"rolling_transfers_interval,omitempty"` // default 10s
	BootstrapHostnames       []string      `json:"bootstrap_hostnames,omitempty"`
}

func (c TasksConfig) withDefaults() TasksConfig {
	if c.RollingTransfersInterval == 0 {
		c.RollingTransfersInterval = 10 * time.Second
	}
	return c
}

// NewConnectionQueueConfig bounds the connection manager's admission
// FIFO (spec §5 "Backpressure": "bounded (default 128)").
type NewConnectionQueueConfig struct {
	Capacity int `json:"capacity,omitempty"` // default 128
}

func (c NewConnectionQueueConfig) withDefaults() NewConnectionQueueConfig {
	if c.Capacity == 0 {
		c.Capacity = 128
	}
	return c
}

// Config is the root NetworkManager configuration, composing every
// component's sub-config.
type Config struct {
	LogLevel string `json:"log_level,omitempty"` // default "info"

	NodeID types.TypedKey `json:"node_id"`

	Limits           ConnectionLimitsConfig   `json:"limits,omitempty"`
	Transport        TransportConfig          `json:"transport"`
	RoutingTable     RoutingTableConfig       `json:"routing_table,omitempty"`
	PublicAddress    PublicAddressConfig      `json:"public_address,omitempty"`
	RelayWhitelist   RelayWhitelistConfig     `json:"relay_whitelist,omitempty"`
	Crypto           CryptoConfig             `json:"crypto,omitempty"`
	Receipt          ReceiptConfig            `json:"receipt,omitempty"`
	Tasks            TasksConfig              `json:"tasks,omitempty"`
	NewConnectionQueue NewConnectionQueueConfig `json:"new_connection_queue,omitempty"`

	// RunMode selects cooperative single-executor vs thread-per-core
	// scheduling (spec §5 "Scheduling").
	RunMode RunMode `json:"run_mode,omitempty"`
}

// RunMode selects the scheduler topology (spec §5).
type RunMode int

const (
	RunModeSingleThreaded RunMode = iota
	RunModeThreadPerCore
)

// WithDefaults returns a copy of c with every zero-valued field replaced
// by its documented spec default. The caller-supplied NodeID, bootstrap
// hostnames, and enabled-protocol choices are never defaulted — those
// are always supplied by the (external) loader.
func (c Config) WithDefaults() Config {
	c.Limits = c.Limits.withDefaults()
	c.Transport = c.Transport.withDefaults()
	c.RoutingTable = c.RoutingTable.withDefaults()
	c.PublicAddress = c.PublicAddress.withDefaults()
	c.RelayWhitelist = c.RelayWhitelist.withDefaults()
	c.Crypto = c.Crypto.withDefaults()
	c.Receipt = c.Receipt.withDefaults()
	c.Tasks = c.Tasks.withDefaults()
	c.NewConnectionQueue = c.NewConnectionQueue.withDefaults()
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Validate performs the fatal-tier checks of spec §7 tier 3: config
// invalid at startup must be reported to the caller, not silently
// defaulted or dropped.
func (c Config) Validate() error {
	if c.NodeID.IsZero() {
		return fmt.Errorf("config: node_id must be set to a non-zero typed key")
	}
	if !c.Transport.UDP.Enabled && !c.Transport.TCP.Enabled &&
		!c.Transport.WS.Enabled && !c.Transport.WSS.Enabled {
		return fmt.Errorf("config: at least one transport protocol must be enabled")
	}
	if c.Transport.WSS.Enabled && c.Transport.WSS.RequestPath == "" {
		return fmt.Errorf("config: wss.request_path must be set when wss is enabled")
	}
	return nil
}
