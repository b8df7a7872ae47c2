// Package bus delivers ledger facts to subscribers. Facts for one
// identity arrive in commit order; there is no cross-identity ordering
// guarantee. Publishing never blocks on subscriber behavior.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FactKind names an outbound fact.
type FactKind string

const (
	LedgerMutated    FactKind = "LedgerMutated"
	DeathProcessed   FactKind = "DeathProcessed"
	RebirthProcessed FactKind = "RebirthProcessed"
	FeedbackComputed FactKind = "FeedbackComputed"
)

// Fact is one outbound state delta.
type Fact struct {
	Kind       FactKind               `json:"kind"`
	IdentityID string                 `json:"identity_id"`
	Generation int                    `json:"generation"`
	Seq        uint64                 `json:"seq"`
	Timestamp  time.Time              `json:"timestamp"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Filter restricts which facts a subscription receives. Zero-value
// filters match everything.
type Filter struct {
	IdentityID string
	Kinds      []FactKind
}

func (f Filter) matches(fact Fact) bool {
	if f.IdentityID != "" && f.IdentityID != fact.IdentityID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == fact.Kind {
			return true
		}
	}
	return false
}

// Config bounds the bus.
type Config struct {
	// ReplaySize caps the ring buffer used by late joiners. Default 4096.
	ReplaySize int
	// ReplayWindow drops buffered facts older than this. Default 10m.
	ReplayWindow time.Duration
	// Watermark is the pending-queue size at which a slow subscriber is
	// dropped from the live stream. Default 1000.
	Watermark int
}

func (c *Config) defaults() {
	if c.ReplaySize <= 0 {
		c.ReplaySize = 4096
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 10 * time.Minute
	}
	if c.Watermark <= 0 {
		c.Watermark = 1000
	}
}

// Subscription is one live stream. Facts arrives on C. When the
// subscriber falls behind the watermark it is dropped: C is closed and
// Dropped reports true. Resubscribe with replay to catch up.
type Subscription struct {
	C      <-chan Fact
	ch     chan Fact
	filter Filter
	bus    *Bus
	id     uint64

	dropped atomic.Bool
	once    sync.Once
}

// Dropped reports whether the bus evicted this subscriber for falling
// behind.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.once.Do(func() { close(s.ch) })
}

// Bus is an in-process fan-out with a bounded replay buffer.
type Bus struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64

	ring []Fact // oldest first

	published   uint64
	droppedSubs uint64
}

func New(cfg Config, log *slog.Logger) *Bus {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		cfg:  cfg,
		log:  log,
		subs: make(map[uint64]*Subscription),
	}
}

// Publish fans the fact out to matching subscribers and records it in
// the replay buffer. It never blocks: a subscriber whose queue is full
// past the watermark is evicted instead.
func (b *Bus) Publish(fact Fact) {
	if fact.Timestamp.IsZero() {
		fact.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.published++
	b.ring = append(b.ring, fact)
	if len(b.ring) > b.cfg.ReplaySize {
		b.ring = b.ring[len(b.ring)-b.cfg.ReplaySize:]
	}

	var evicted []*Subscription
	for id, sub := range b.subs {
		if !sub.filter.matches(fact) {
			continue
		}
		select {
		case sub.ch <- fact:
		default:
			delete(b.subs, id)
			evicted = append(evicted, sub)
		}
	}
	b.droppedSubs += uint64(len(evicted))
	b.mu.Unlock()

	for _, sub := range evicted {
		sub.dropped.Store(true)
		sub.once.Do(func() { close(sub.ch) })
		b.log.Warn("subscriber dropped: queue past watermark",
			"watermark", b.cfg.Watermark,
			"kind", string(fact.Kind),
			"identity_id", fact.IdentityID,
		)
	}
}

// Subscribe attaches a live stream for facts matching the filter.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	ch := make(chan Fact, b.cfg.Watermark)
	sub := &Subscription{C: ch, ch: ch, filter: filter, bus: b}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// SubscribeReplay first delivers the buffered facts matching the filter
// that are newer than `since` (zero means the whole window), then
// continues live. Replayed and live facts share the subscription's
// ordered queue, so per-identity order holds across the seam.
func (b *Bus) SubscribeReplay(filter Filter, since time.Time) *Subscription {
	ch := make(chan Fact, b.cfg.Watermark)
	sub := &Subscription{C: ch, ch: ch, filter: filter, bus: b}

	b.mu.Lock()
	cutoff := time.Now().Add(-b.cfg.ReplayWindow)
	if since.After(cutoff) {
		cutoff = since
	}
	for _, fact := range b.ring {
		if fact.Timestamp.Before(cutoff) || !filter.matches(fact) {
			continue
		}
		select {
		case ch <- fact:
		default:
			// Replay alone overran the queue. A silent gap would break
			// per-identity order across the replay seam, so the
			// subscriber is dropped and must retry with a narrower
			// since.
			b.droppedSubs++
			b.mu.Unlock()
			sub.dropped.Store(true)
			sub.once.Do(func() { close(ch) })
			b.log.Warn("replay overran subscriber queue",
				"watermark", b.cfg.Watermark,
			)
			return sub
		}
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Stats reports counters for observability.
func (b *Bus) Stats() (published, buffered, subscribers, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published, uint64(len(b.ring)), uint64(len(b.subs)), b.droppedSubs
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
