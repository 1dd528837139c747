package tasks

import (
	"context"
	"time"

	"github.com/charlesrocket/veilid/nodeinfo"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/rpcdispatch"
	"github.com/charlesrocket/veilid/types"
)

// PublicAddressCheckInterval is the cadence of the public-address
// rediscovery task (spec §4.8 "Public-address check (60s)").
const PublicAddressCheckInterval = 60 * time.Second

// BootstrapPollInterval is the cadence at which the bootstrap task
// checks whether the routing table is still empty.
const BootstrapPollInterval = 10 * time.Second

// PeerMinimumPollInterval is the cadence at which the peer-minimum
// refresh task checks whether it still needs to find more peers.
const PeerMinimumPollInterval = 30 * time.Second

// PingValidatorInterval is the cadence of the continuous ping-validator
// walk over the routing table.
const PingValidatorInterval = 5 * time.Second

// RollingTransfers builds the task that periodically rotates/decays the
// per-address transfer-rate windows (spec §4.8 "Rolling transfers
// (10s)"). decay is called once per tick with the scheduler's context;
// its implementation lives wherever the rolling-stats state is owned.
func RollingTransfers(interval time.Duration, decay func(ctx context.Context) error) *Task {
	return &Task{
		Name:     "rolling-transfers",
		Interval: interval,
		Run:      decay,
	}
}

// Bootstrapper is satisfied by the Network Manager's boot_request
// flow, used by the Bootstrap task to reach out to every configured
// bootstrap hostname in turn.
type Bootstrapper interface {
	BootRequest(ctx context.Context, dialInfo types.DialInfo) []nodeinfo.PeerInfo
}

// RoutingTableSink is satisfied by the routing table, receiving
// newly-discovered peers from bootstrap/refresh tasks.
type RoutingTableSink interface {
	GetOrCreate(id types.TypedKey, filter routingtable.Filter) *routingtable.NodeRef
	Len() int
}

// Bootstrap builds the task that ticks while the routing table is empty,
// dialing each of bootstrapDialInfo in turn and seeding the routing
// table with whatever peers come back (spec §4.6.4/§4.8).
func Bootstrap(rt RoutingTableSink, bs Bootstrapper, bootstrapDialInfo []types.DialInfo) *Task {
	return &Task{
		Name:      "bootstrap",
		Interval:  BootstrapPollInterval,
		ShouldRun: func() bool { return rt.Len() == 0 },
		Run: func(ctx context.Context) error {
			for _, di := range bootstrapDialInfo {
				peers := bs.BootRequest(ctx, di)
				for _, p := range peers {
					ref := rt.GetOrCreate(p.NodeID, routingtable.Filter{})
					ref.Release()
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return nil
		},
	}
}

// PeerMinimumRefresh builds the task that, while the routing table holds
// fewer than minimum entries (of any liveness state), asks find to locate more (e.g. via a
// DHT find-node walk or another bootstrap round) and seeds the results.
func PeerMinimumRefresh(rt RoutingTableSink, minimum int, find func(ctx context.Context) []types.TypedKey) *Task {
	return &Task{
		Name:      "peer-minimum-refresh",
		Interval:  PeerMinimumPollInterval,
		ShouldRun: func() bool { return rt.Len() < minimum },
		Run: func(ctx context.Context) error {
			for _, id := range find(ctx) {
				ref := rt.GetOrCreate(id, routingtable.Filter{})
				ref.Release()
			}
			return nil
		},
	}
}

// Pinger is satisfied by whatever issues the ping-validator's outgoing
// status RPC (the Network Manager, via rpcdispatch).
type Pinger interface {
	Ping(ctx context.Context, target *routingtable.NodeRef) (rpcdispatch.CallID, error)
}

// PingValidatorTable is the subset of the routing table the ping
// validator walks.
type PingValidatorTable interface {
	NeedsPingEntries(filter routingtable.Filter) []*routingtable.NodeRef
}

// PingValidator builds the continuous liveness-validation task: every
// tick, walk the routing table for entries due a ping and fire one off
// for each (spec §6 "Ping validator ... walks the routing table's
// NeedsPingEntries").
func PingValidator(rt PingValidatorTable, pinger Pinger) *Task {
	return &Task{
		Name:     "ping-validator",
		Interval: PingValidatorInterval,
		Run: func(ctx context.Context) error {
			for _, ref := range rt.NeedsPingEntries(routingtable.Filter{}) {
				if _, err := pinger.Ping(ctx, ref); err != nil {
					ref.Release()
					continue
				}
				ref.Release()
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return nil
		},
	}
}

// PublicAddressChecker is satisfied by the Network Manager's
// public-address rediscovery hook.
type PublicAddressChecker interface {
	CheckPublicAddress(ctx context.Context) error
}

// PublicAddressCheck builds the task that periodically re-runs public
// address rediscovery (spec §4.8 "Public-address check (60s)").
func PublicAddressCheck(checker PublicAddressChecker) *Task {
	return &Task{
		Name:     "public-address-check",
		Interval: PublicAddressCheckInterval,
		Run:      checker.CheckPublicAddress,
	}
}
