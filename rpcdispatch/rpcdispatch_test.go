package rpcdispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesrocket/veilid/mclock"
	"github.com/charlesrocket/veilid/netresult"
	"github.com/charlesrocket/veilid/routingtable"
	"github.com/charlesrocket/veilid/types"
)

func testTarget() types.TypedKey {
	return types.TypedKey{Kind: types.CryptoKind{'V', 'L', 'D', '0'}, Key: types.NodeId{1}}
}

func TestDeadlineScalesWithHopCount(t *testing.T) {
	assert.Equal(t, BaseTimeout, Deadline(1))
	assert.Equal(t, BaseTimeout*3, Deadline(3))
	assert.Equal(t, BaseTimeout, Deadline(0))
}

func TestResolveDeliversValue(t *testing.T) {
	var clock mclock.Simulated
	clock.Run(time.Hour)
	tbl := NewTable(&clock, nil)

	id, ch := tbl.Register(context.Background(), testTarget(), 1)
	tbl.Resolve(id, []byte("pong"))

	select {
	case r := <-ch:
		require.Equal(t, netresult.KindValue, r.Kind())
	default:
		t.Fatal("expected immediate delivery")
	}
	assert.Equal(t, 0, tbl.Outstanding())
}

func TestTimeoutFiresAndRecordsLostAnswer(t *testing.T) {
	var clock mclock.Simulated
	clock.Run(time.Hour)

	var lostFor types.TypedKey
	var gotLost bool
	tbl := NewTable(&clock, func(target types.TypedKey) {
		lostFor = target
		gotLost = true
	})

	target := testTarget()
	_, ch := tbl.Register(context.Background(), target, 1)

	clock.Run(BaseTimeout + time.Second)

	select {
	case r := <-ch:
		assert.Equal(t, netresult.KindTimeout, r.Kind())
	default:
		t.Fatal("expected timeout delivery")
	}
	assert.True(t, gotLost)
	assert.Equal(t, target, lostFor)
	assert.Equal(t, 0, tbl.Outstanding())
}

func TestResolveAfterTimeoutIsNoop(t *testing.T) {
	var clock mclock.Simulated
	clock.Run(time.Hour)
	tbl := NewTable(&clock, nil)

	id, ch := tbl.Register(context.Background(), testTarget(), 1)
	clock.Run(BaseTimeout + time.Second)
	<-ch

	assert.NotPanics(t, func() { tbl.Resolve(id, []byte("late")) })
}

func TestCancelResolvesServiceUnavailable(t *testing.T) {
	var clock mclock.Simulated
	clock.Run(time.Hour)
	tbl := NewTable(&clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, ch := tbl.Register(ctx, testTarget(), 1)
	cancel()

	select {
	case r := <-ch:
		assert.Equal(t, netresult.KindServiceUnavailable, r.Kind())
	case <-time.After(time.Second):
		t.Fatal("expected cancellation to resolve the waiter")
	}
}

type fakeDispatcher struct{ err error }

func (f fakeDispatcher) Dispatch(ctx context.Context, body []byte, from *routingtable.NodeRef, desc types.ConnectionDescriptor) error {
	return f.err
}

func TestHandoffNoDispatcherReturnsTypedError(t *testing.T) {
	err := Handoff(context.Background(), nil, nil, nil, types.ConnectionDescriptor{})
	var want ErrNoDispatcher
	assert.ErrorAs(t, err, &want)
}

func TestHandoffWrapsDispatcherError(t *testing.T) {
	d := fakeDispatcher{err: errors.New("boom")}
	err := Handoff(context.Background(), d, nil, nil, types.ConnectionDescriptor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
