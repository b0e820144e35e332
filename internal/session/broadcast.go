package session

import (
	"sync"

	"github.com/vidgrab/vidgrab/internal/types"
)

// subscriberBuffer bounds each subscriber's queue; a subscriber that falls
// this far behind starts losing intermediate progress events, never
// blocking the pipeline.
const subscriberBuffer = 64

// Broadcaster fans progress events out to any number of subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan types.Event]struct{}
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan types.Event]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription; after it returns the channel is
// closed.
func (b *Broadcaster) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking; slow
// subscribers drop events.
func (b *Broadcaster) Publish(ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
