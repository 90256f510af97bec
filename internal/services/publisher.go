// Package services holds one service per entity kind. A service owns all
// writes to its collection, enqueues the matching remote mutations, and
// publishes a fresh snapshot to subscribers after every change. The sync
// engine never touches the store for entity data; it goes through these
// services.
package services

import "sync"

// Publisher delivers replace-style snapshots to subscribers. Each subscriber
// gets a buffered channel of one; publishing drops the stale snapshot before
// sending, so a slow consumer only ever observes the latest state and a
// publisher never blocks.
type Publisher[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
	last *T
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a new subscriber. The current snapshot, if any, is
// delivered immediately. The returned cancel func unregisters and closes the
// channel.
func (p *Publisher[T]) Subscribe() (<-chan T, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++
	ch := make(chan T, 1)
	p.subs[id] = ch
	if p.last != nil {
		ch <- *p.last
	}

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish replaces the current snapshot and fans it out.
func (p *Publisher[T]) Publish(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &v
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
