package session

import "sync"

const defaultSubscriberBuffer = 256

// Bus is the ordered notification channel between background tasks and
// observers. Publish never blocks; a single goroutine delivers events to every
// subscriber in publish order. A subscriber that falls behind by more than its
// buffer is dropped and its channel closed, so it can never observe a gap.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	// deliverMu serializes delivery with subscriber removal so channels are
	// only closed when no send is in progress. Lock order: deliverMu, mu.
	deliverMu sync.Mutex

	signal chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

type subscriber struct {
	id     uint64
	after  uint64
	ch     chan Event
	closed bool
}

// NewBus starts the delivery goroutine. Call Close to stop it.
func NewBus() *Bus {
	b := &Bus{
		subs:   make(map[uint64]*subscriber),
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues e for delivery.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, e)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Subscribe registers a subscriber that receives events with Seq > after.
// The returned cancel func is idempotent and closes the channel.
func (b *Bus) Subscribe(after uint64, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	s := &subscriber{after: after, ch: make(chan Event, buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()
	return s.ch, func() {
		b.deliverMu.Lock()
		b.closeSub(s)
		b.deliverMu.Unlock()
	}
}

// Close stops delivery after flushing queued events and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.quit)
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case <-b.signal:
			b.flush()
		case <-b.quit:
			b.flush()
			b.deliverMu.Lock()
			b.mu.Lock()
			subs := make([]*subscriber, 0, len(b.subs))
			for _, s := range b.subs {
				subs = append(subs, s)
			}
			b.mu.Unlock()
			for _, s := range subs {
				b.closeSub(s)
			}
			b.deliverMu.Unlock()
			return
		}
	}
}

func (b *Bus) flush() {
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		b.deliverMu.Lock()
		for _, e := range batch {
			b.mu.Lock()
			subs := make([]*subscriber, 0, len(b.subs))
			for _, s := range b.subs {
				subs = append(subs, s)
			}
			b.mu.Unlock()
			for _, s := range subs {
				if s.closed || e.Seq <= s.after {
					continue
				}
				select {
				case s.ch <- e:
				default:
					// slow consumer; drop rather than reorder or block publishers
					b.closeSub(s)
				}
			}
		}
		b.deliverMu.Unlock()
	}
}

// closeSub must be called with deliverMu held.
func (b *Bus) closeSub(s *subscriber) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
}
