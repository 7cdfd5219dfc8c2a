// Package logstream fans progress lines out to live observers.
package logstream

import (
	"sync"
	"time"
)

const DefaultBuffer = 256

// Line is one rendered log event.
type Line struct {
	Time  time.Time
	Level string
	Text  string
}

func (l Line) String() string {
	return l.Text
}

// Subscription receives every line published after it was created. C is
// closed when the subscriber is dropped or unsubscribes.
type Subscription struct {
	C <-chan Line

	id uint64
	ch chan Line
}

// Broadcaster delivers lines to all subscribers in publish order. A
// subscriber whose queue is full is dropped instead of blocking Publish.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	onCount func(int)
}

type Option func(*Broadcaster)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithObserverGauge is called with the subscriber count whenever it changes.
func WithObserverGauge(fn func(int)) Option {
	return func(b *Broadcaster) {
		b.onCount = fn
	}
}

func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs:   make(map[uint64]*Subscription),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Line, b.buffer)
	sub := &Subscription{C: ch, id: b.nextID, ch: ch}
	b.subs[sub.id] = sub
	b.reportLocked()
	return sub
}

// Unsubscribe is safe to call more than once and after the subscriber was dropped.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.id)
}

// Publish never blocks on a subscriber.
func (b *Broadcaster) Publish(line Line) {
	if line.Time.IsZero() {
		line.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- line:
		default:
			b.removeLocked(id)
		}
	}
}

func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) removeLocked(id uint64) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
	b.reportLocked()
}

func (b *Broadcaster) reportLocked() {
	if b.onCount != nil {
		b.onCount(len(b.subs))
	}
}
