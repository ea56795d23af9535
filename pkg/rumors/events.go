package rumors

import (
	"context"
	"sync"

	"github.com/amirimatin/go-rumors/pkg/membership"
)

// Subscribe returns a channel of table changes. The returned channel is
// buffered and closed automatically when ctx is done. Events may be dropped if
// the consumer is too slow.
func (e *Engine) Subscribe(ctx context.Context) <-chan membership.Event {
	ch := make(chan membership.Event, 64)
	e.eb.add(ch)
	go func() {
		<-ctx.Done()
		e.eb.remove(ch)
		close(ch)
	}()
	return ch
}

type eventBus struct {
	mu   sync.Mutex
	subs map[chan membership.Event]struct{}
}

func (b *eventBus) add(ch chan membership.Event) {
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan membership.Event]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
}

func (b *eventBus) remove(ch chan membership.Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *eventBus) publish(ev membership.Event) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// drop if receiver is slow
		}
	}
	b.mu.Unlock()
}
