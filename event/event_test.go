package event

import (
	"testing"
	"time"
)

func TestFeedSendDeliversToSubscriber(t *testing.T) {
	var feed Feed
	ch := make(chan int, 1)
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	n := feed.Send(42)
	if n != 1 {
		t.Fatalf("Send returned %d, want 1", n)
	}
	select {
	case v := <-ch:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	default:
		t.Fatal("no value delivered")
	}
}

func TestFeedSendSkipsFullSubscriber(t *testing.T) {
	var feed Feed
	ch := make(chan int) // unbuffered, nobody reading
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	done := make(chan int, 1)
	go func() { done <- feed.Send(1) }()

	select {
	case n := <-done:
		if n != 0 {
			t.Fatalf("Send delivered to a channel nobody is draining: %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Send blocked instead of skipping a full subscriber")
	}
}

func TestFeedUnsubscribeStopsDelivery(t *testing.T) {
	var feed Feed
	ch := make(chan int, 1)
	sub := feed.Subscribe(ch)
	sub.Unsubscribe()

	if n := feed.Send(1); n != 0 {
		t.Fatalf("Send reported %d deliveries after Unsubscribe", n)
	}
}

func TestFeedUnsubscribeIsIdempotent(t *testing.T) {
	var feed Feed
	ch := make(chan int, 1)
	sub := feed.Subscribe(ch)
	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic
}

func TestFeedSubscribePanicsOnNonChan(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic subscribing a non-channel value")
		}
	}()
	var feed Feed
	feed.Subscribe(42)
}

func TestFeedMultipleSubscribers(t *testing.T) {
	var feed Feed
	a := make(chan int, 1)
	b := make(chan int, 1)
	feed.Subscribe(a)
	feed.Subscribe(b)

	if n := feed.Send(7); n != 2 {
		t.Fatalf("Send delivered to %d subscribers, want 2", n)
	}
	if <-a != 7 || <-b != 7 {
		t.Fatal("wrong value delivered")
	}
}
