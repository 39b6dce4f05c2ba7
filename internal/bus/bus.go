// Package bus is the in-process publish/subscribe fabric for engine events.
// Publishing never blocks: a subscriber that cannot keep up loses events.
// That property is load-bearing for the sync orchestrator, whose progress
// reporting must be fire-and-forget.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Topics published by the engine. Subscribers filter by prefix, so
// "sync." matches both progress and completion events.
const (
	TopicSyncProgress    = "sync.progress"
	TopicSyncFinished    = "sync.finished"
	TopicMessageUpserted = "message.upserted"
	TopicMessageAck      = "message.ack"
	TopicMediaAttached   = "media.attached"
	TopicSessionStatus   = "session.status"
	TopicSendResult      = "send.result"
)

// Event is one published engine event.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}

// Progress is the payload for TopicSyncProgress events.
type Progress struct {
	Session      string
	ChatsTotal   int
	ChatsDone    int
	MessagesDone int
	CurrentChat  string
}

// Bus fans events out to prefix-filtered subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Topic.
// Delivery is best-effort: full subscriber channels drop the event.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Timestamp: time.Now(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Topic, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a prefix-filtered subscriber with the given channel
// buffer and returns the receive channel plus an unsubscribe function.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
