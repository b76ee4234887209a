package feed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const DefaultBuffer = 64

// Broker fans events out to in-process subscribers, keyed by user.
type Broker struct {
	log    zerolog.Logger
	buffer int

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription
}

func NewBroker(log zerolog.Logger, buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		log:    log.With().Str("component", "feed").Logger(),
		buffer: buffer,
		subs:   make(map[string]map[uint64]*Subscription),
	}
}

type Subscription struct {
	b      *Broker
	id     uint64
	userID string
	ch     chan Event
	once   sync.Once
}

// C yields the subscriber's events. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() { s.b.remove(s) })
}

// Subscribe registers a feed for userID. The caller must Close it.
func (b *Broker) Subscribe(userID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{b: b, id: b.nextID, userID: userID, ch: make(chan Event, b.buffer)}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[uint64]*Subscription)
	}
	b.subs[userID][s.id] = s
	return s
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m := b.subs[s.userID]; m != nil {
		delete(m, s.id)
		if len(m) == 0 {
			delete(b.subs, s.userID)
		}
	}
	close(s.ch)
}

// Publish delivers ev to the owner's subscribers without blocking. A full
// subscriber queue is emptied and replaced by one resync event.
func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[ev.UserID] {
		b.deliver(s, ev)
	}
	return nil
}

// ResyncAll sends a resync event to every open subscription.
func (b *Broker) ResyncAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for userID, m := range b.subs {
		for _, s := range m {
			b.deliver(s, resync(userID))
			n++
		}
	}
	if n > 0 {
		b.log.Info().Int("subscribers", n).Msg("sent resync to all subscribers")
	}
}

// deliver must be called with mu held.
func (b *Broker) deliver(s *Subscription, ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}

	dropped := 0
drain:
	for {
		select {
		case <-s.ch:
			dropped++
		default:
			break drain
		}
	}
	s.ch <- resync(s.userID)
	if ev.Kind != KindResync {
		dropped++
	}
	b.log.Warn().Str("user_id", s.userID).Int("dropped", dropped).Msg("subscriber overflow, sent resync")
}

// Subscribers reports how many feeds are open for userID.
func (b *Broker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}
