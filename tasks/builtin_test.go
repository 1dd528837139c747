package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesrocket/veilid/mclock"
	"github.com/charlesrocket/veilid/nodeinfo"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/types"
)

func testRoutingTable(t *testing.T) *routingtable.Table {
	t.Helper()
	var clock mclock.Simulated
	clock.Run(0)
	return routingtable.New(types.NodeId{}, &clock, routingtable.PingPolicy{
		ReliableIntervalStart: 1, ReliableIntervalMax: 1, ReliableMultiplier: 2,
		UnreliableSpan: 1, UnreliableInterval: 1, KeepaliveInterval: 1, NeverReachedCount: 3,
	}, 8)
}

func idWithByte(b byte) types.TypedKey {
	var id types.NodeId
	id[0] = b
	return types.TypedKey{Kind: types.CryptoKind{'V', 'L', 'D', '0'}, Key: id}
}

type fakeBootstrapper struct{ peers []nodeinfo.PeerInfo }

func (f fakeBootstrapper) BootRequest(ctx context.Context, dialInfo types.DialInfo) []nodeinfo.PeerInfo {
	return f.peers
}

func TestBootstrapTaskOnlyRunsWhileTableEmpty(t *testing.T) {
	rt := testRoutingTable(t)
	task := Bootstrap(rt, fakeBootstrapper{peers: []nodeinfo.PeerInfo{{NodeID: idWithByte(9)}}}, []types.DialInfo{types.NewDialInfoUDP(types.NewSocketAddress(nil, 4001))})

	require.True(t, task.ShouldRun())
	ref := rt.GetOrCreate(idWithByte(1), routingtable.Filter{})
	defer ref.Release()
	assert.False(t, task.ShouldRun())
}

func TestBootstrapTaskSeedsRoutingTable(t *testing.T) {
	rt := testRoutingTable(t)
	peers := []nodeinfo.PeerInfo{{NodeID: idWithByte(5)}}
	task := Bootstrap(rt, fakeBootstrapper{peers: peers}, []types.DialInfo{types.NewDialInfoUDP(types.NewSocketAddress(nil, 4001))})

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 1, rt.Len())
}

func TestPeerMinimumRefreshGatedByCount(t *testing.T) {
	rt := testRoutingTable(t)
	task := PeerMinimumRefresh(rt, 2, func(ctx context.Context) []types.TypedKey {
		return []types.TypedKey{idWithByte(1), idWithByte(2)}
	})

	assert.True(t, task.ShouldRun())
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 2, rt.Len())
	assert.False(t, task.ShouldRun())
}
