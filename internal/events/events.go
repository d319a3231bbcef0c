package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	OpAdd    = "add"
	OpPut    = "put"
	OpDelete = "delete"
)

// Change describes one committed write.
type Change struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, change Change)
}

// Bus fans changes out to in-process subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the change.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Change
	nextID int
	log    zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[int]chan Change),
		log:  log,
	}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(_ context.Context, change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- change:
		default:
			b.log.Warn().Int("subscriber", id).Str("table", change.Table).Str("id", change.ID).Msg("subscriber buffer full, change dropped")
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Fanout publishes to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, change Change) {
	for _, p := range f {
		p.Publish(ctx, change)
	}
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Change) {}
