// Package events carries progress notifications between the proof flows and
// whatever presents them. A Bus is passed by reference to the components
// that publish; there is no process-wide instance.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Topic names a kind of event.
type Topic string

const (
	TopicFileUploaded  Topic = "file_uploaded"
	TopicProofMinted   Topic = "proof_minted"
	TopicProofIndexed  Topic = "proof_indexed"
	TopicAccessGranted Topic = "access_granted"
	TopicAccessRevoked Topic = "access_revoked"
)

// DefaultBuffer is the channel capacity of a subscription.
const DefaultBuffer = 64

// Event is one published notification. Payload holds the topic's payload
// type, e.g. ProofMinted for TopicProofMinted.
type Event struct {
	ID      string
	Topic   Topic
	Time    time.Time
	Payload any
}

// FileUploaded is published after a ciphertext blob is stored.
type FileUploaded struct {
	BlobID   string
	PolicyID string
	Size     int
	Role     string // "document" or "result"
}

// ProofMinted is published once the mint transaction is accepted.
type ProofMinted struct {
	Digest string
	Owner  string
}

// ProofIndexed is published when a mint resolves to a record id.
type ProofIndexed struct {
	Digest   string
	RecordID string
}

// AccessChanged is the payload of TopicAccessGranted and TopicAccessRevoked.
type AccessChanged struct {
	RecordID string
	Viewer   string
	Digest   string
}

type subscription struct {
	ch     chan Event
	topics map[Topic]bool // empty means all
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	next    uint64
	buffer  int
	dropped atomic.Uint64
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the channel capacity of new subscriptions.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*subscription),
		buffer: DefaultBuffer,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel receiving events of the given topics, or of
// every topic when none are given, and a func that ends the subscription and
// closes the channel. The func may be called more than once.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Event, func()) {
	sub := &subscription{
		ch:     make(chan Event, b.buffer),
		topics: make(map[Topic]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish delivers payload to every matching subscriber and returns the
// event. A nil Bus discards events.
func (b *Bus) Publish(topic Topic, payload any) Event {
	if b == nil {
		return Event{Topic: topic, Payload: payload}
	}
	ev := Event{
		ID:      uuid.NewString(),
		Topic:   topic,
		Time:    b.now(),
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber buffer full",
				"topic", topic,
				"event", ev.ID,
				"subscriber", id)
		}
	}
	return ev
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
