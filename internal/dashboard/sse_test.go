package dashboard

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := newSSEBroker(rate.NewLimiter(rate.Inf, 1))
	ch := b.subscribe()
	b.publish(Stats{Count: 5})

	select {
	case got := <-ch:
		if got.Count != 5 {
			t.Errorf("got.Count = %d, want 5", got.Count)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive published stats")
	}

	b.unsubscribe(ch)
	b.publish(Stats{Count: 6})
	select {
	case v, ok := <-ch:
		if ok {
			t.Errorf("unsubscribed channel received %+v, want nothing", v)
		}
	case <-time.After(10 * time.Millisecond):
		// No delivery, as expected.
	}
}

func TestForceBypassesThrottle(t *testing.T) {
	// A limiter that would never allow a tick through on its own.
	b := newSSEBroker(rate.NewLimiter(rate.Every(time.Hour), 1))
	ch := b.subscribe()

	b.Force(Stats{Count: 9})

	select {
	case got := <-ch:
		if got.Count != 9 {
			t.Errorf("got.Count = %d, want 9", got.Count)
		}
	case <-time.After(time.Second):
		t.Fatal("Force did not deliver a snapshot despite bypassing the throttle")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := newSSEBroker(rate.NewLimiter(rate.Inf, 1))
	ch := b.subscribe()
	b.publish(Stats{Count: 1})
	// ch now holds one buffered value and is never drained; a second
	// publish must not block.
	done := make(chan struct{})
	go func() {
		b.publish(Stats{Count: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow/full subscriber channel")
	}
	_ = ch
}

func TestRunStopsOnContextCancel(t *testing.T) {
	b := newSSEBroker(rate.NewLimiter(rate.Inf, 1))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.run(ctx, func() Stats { return Stats{} })
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after context cancellation")
	}
}
