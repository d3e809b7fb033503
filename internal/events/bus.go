package events

import (
	"sync"
)

// Message pairs a topic with its payload so multi-topic subscribers can
// tell deliveries apart.
type Message struct {
	Topic   Event `json:"topic"`
	Payload any   `json:"payload"`
}

// Bus is a lightweight pub/sub broker using channels. Publishing never
// blocks; slow subscribers lose messages instead of stalling producers.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Message
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Message)}
}

// Subscribe registers a listener for one event and returns the channel and
// an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Message, func()) {
	return b.SubscribeMany([]Event{e}, buffer)
}

// SubscribeMany registers one channel across several events. The
// unsubscribe function is idempotent and closes the channel.
func (b *Bus) SubscribeMany(evs []Event, buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	for _, e := range evs {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range evs {
				subs := b.subs[e]
				for i, c := range subs {
					if c == ch {
						b.subs[e] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- Message{Topic: e, Payload: payload}:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
