package dashboard

import (
	"context"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// sseBroker fans a periodically produced Stats snapshot out to every
// subscribed /events client, throttled by limiter (config.BroadcastThrottle,
// spec §4.8). Grounded on the same subscribe/broadcast shape as the
// teacher's diagnostics reset loop (internal/diagnostics.RunResetLoop): a
// single background goroutine on a timer, reading under a short-lived
// lock.
type sseBroker struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	subs map[chan Stats]struct{}
}

func newSSEBroker(limiter *rate.Limiter) *sseBroker {
	return &sseBroker{limiter: limiter, subs: make(map[chan Stats]struct{})}
}

func (b *sseBroker) subscribe() chan Stats {
	ch := make(chan Stats, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *sseBroker) unsubscribe(ch chan Stats) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// run blocks, publishing snapshot() to every subscriber at the limiter's
// rate, until ctx is canceled.
func (b *sseBroker) run(ctx context.Context, snapshot func() Stats) {
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		b.publish(snapshot())
	}
}

// Force publishes stats immediately, bypassing the throttle limiter — the
// force=true escape hatch of spec §4.8, used for the location opt-in
// mutation and for LEAVE/eviction-driven registry changes (spec §4.4).
func (b *sseBroker) Force(stats Stats) {
	b.publish(stats)
}

func (b *sseBroker) publish(stats Stats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- stats:
		default:
			// Slow reader: drop this tick rather than block the broker.
		}
	}
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
