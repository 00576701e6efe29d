package session

import (
	"sync"

	"github.com/rbright/livelink/internal/channel"
)

// outbox is a bounded FIFO between capture callbacks and the sender. When
// full, the oldest item is discarded so push never blocks.
type outbox struct {
	mu     sync.Mutex
	items  []channel.Outbound
	limit  int
	closed bool
	ready  chan struct{}
}

func newOutbox(limit int) *outbox {
	if limit <= 0 {
		limit = 1
	}
	return &outbox{
		items: make([]channel.Outbound, 0, limit),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push appends ev and returns the item it displaced, if any.
func (o *outbox) push(ev channel.Outbound) (channel.Outbound, bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ev, true
	}

	var evicted channel.Outbound
	dropped := false
	if len(o.items) == o.limit {
		evicted = o.items[0]
		o.items[0] = nil
		o.items = o.items[1:]
		dropped = true
	}
	o.items = append(o.items, ev)

	select {
	case o.ready <- struct{}{}:
	default:
	}
	o.mu.Unlock()
	return evicted, dropped
}

// next blocks until an item is available or the outbox closes.
func (o *outbox) next() (channel.Outbound, bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		if len(o.items) > 0 {
			ev := o.items[0]
			o.items[0] = nil
			o.items = o.items[1:]
			o.mu.Unlock()
			return ev, true
		}
		o.mu.Unlock()

		<-o.ready
	}
}

// close discards queued items and wakes the sender. It returns how many
// items were discarded.
func (o *outbox) close() int {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0
	}
	o.closed = true
	discarded := len(o.items)
	o.items = nil
	close(o.ready)
	o.mu.Unlock()
	return discarded
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
