package feed

import (
	"sync"

	"go.uber.org/zap"
)

// Publisher accepts change events for delivery.
type Publisher interface {
	Publish(ev Event)
}

// Subscriber hands out event streams for a topic. The returned cancel func
// closes the channel and must be called exactly once.
type Subscriber interface {
	Subscribe(topic Topic) (<-chan Event, func())
}

const subscriptionBuffer = 64

type subscription struct {
	topic Topic
	ch    chan Event
}

// Bus fans events out to in-process subscribers by table. A subscriber
// that falls behind loses events instead of blocking the publisher.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, subs: make(map[string]map[*subscription]struct{})}
}

func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	sub := &subscription{topic: topic, ch: make(chan Event, subscriptionBuffer)}
	b.mu.Lock()
	if b.subs[topic.Table] == nil {
		b.subs[topic.Table] = make(map[*subscription]struct{})
	}
	b.subs[topic.Table][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subs[topic.Table]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.subs, topic.Table)
				}
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[ev.Table] {
		if !sub.topic.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn("feed subscriber is full, dropping event",
				zap.String("table", ev.Table),
				zap.String("type", string(ev.Type)),
				zap.String("id", ev.ID()),
			)
		}
	}
}

// Subscribers reports the number of live subscriptions for a table.
func (b *Bus) Subscribers(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[table])
}
