// Package event implements a simple one-to-many notification feed used to
// broadcast peer and network-state changes to interested subscribers
// without coupling the emitter to a fixed set of listeners.
package event

import (
	"reflect"
	"sync"
)

// Subscription represents a stream of events. The carrier of the event is
// typically a channel, but isn't part of the interface itself.
type Subscription interface {
	// Unsubscribe stops delivery of events. It is safe to call more than
	// once and from multiple goroutines.
	Unsubscribe()
}

// Feed implements one-to-many subscription. Values sent to a Feed are
// delivered to all subscribed channels. The zero value is ready to use.
type Feed struct {
	mu   sync.Mutex
	subs map[*feedSub]struct{}
}

type feedSub struct {
	feed *Feed
	ch   reflect.Value
	once sync.Once
}

// Subscribe adds a channel to the feed. ch must be a channel value (e.g.
// chan *PeerEvent); future sends will be delivered on it until the
// subscription is unsubscribed. The channel should be buffered, or drained
// promptly, since delivery never blocks the sender.
func (f *Feed) Subscribe(ch interface{}) Subscription {
	rv := reflect.ValueOf(ch)
	if rv.Kind() != reflect.Chan || rv.Type().ChanDir() == reflect.RecvDir {
		panic("event: Subscribe argument must be a send or bidirectional channel")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[*feedSub]struct{})
	}
	sub := &feedSub{feed: f, ch: rv}
	f.subs[sub] = struct{}{}
	return sub
}

func (s *feedSub) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
	})
}

// Send delivers value to all current subscribers. It does not block
// waiting for a slow subscriber to drain its channel.
func (f *Feed) Send(value interface{}) int {
	f.mu.Lock()
	subs := make([]*feedSub, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	rval := reflect.ValueOf(value)
	delivered := 0
	for _, s := range subs {
		if trySend(s.ch, rval) {
			delivered++
		}
	}
	return delivered
}
