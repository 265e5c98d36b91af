// Package eventbus is an in-process, non-durable publish/subscribe bus
// (C11). It exists purely to decouple samplers, the RAID controller, and
// the scheduler from whoever is interested in their transitions — there
// is no persistence, no replay, and no cross-process delivery.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Well-known topics published by other components. Subscribers match on
// exact topic string; there is no wildcard routing.
const (
	TopicDiskSmartFailing    = "diskSmartFailing"
	TopicArrayDegraded       = "arrayDegraded"
	TopicArrayFailed         = "arrayFailed"
	TopicArrayRebuildDone    = "arrayRebuildDone"
	TopicJobFailed           = "jobFailed"
	TopicSchedulerJobFailing = "schedulerJobFailing"
	TopicQuotaExceeded       = "quotaExceeded"
	TopicBusDropped          = "busDropped"
)

// Event is the single envelope type carried over the bus.
type Event struct {
	Topic   string
	Payload any
}

const subscriberBufferSize = 64

type subscriber struct {
	topic string
	ch    chan Event
	done  chan struct{}
}

// Bus fans out published events to every subscriber of a topic. Each
// subscriber has its own goroutine and a bounded buffer; a slow
// subscriber drops its oldest queued event rather than blocking the
// publisher, and a busDropped event is published in its place.
type Bus struct {
	log *zap.SugaredLogger

	mu   sync.RWMutex
	subs map[string][]*subscriber
}

func New(log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{log: log, subs: make(map[string][]*subscriber)}
}

// Subscribe registers handler to run, on its own goroutine, for every
// event published to topic. The returned cancel func stops delivery and
// releases the goroutine; it is safe to call more than once.
func (b *Bus) Subscribe(topic string, handler func(Event)) (cancel func()) {
	sub := &subscriber{topic: topic, ch: make(chan Event, subscriberBufferSize), done: make(chan struct{})}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				handler(ev)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(sub.done)
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[topic]
			for i, s := range subs {
				if s == sub {
					b.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber of ev.Topic. Delivery
// is best-effort: a subscriber whose buffer is full has its oldest
// pending event dropped to make room, and a busDropped event (naming the
// overwhelmed topic) is sent to the subscribers of TopicBusDropped —
// unless ev.Topic is itself busDropped, to avoid a feedback loop.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[ev.Topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			if ev.Topic != TopicBusDropped {
				b.log.Warnw("eventbus dropped event for slow subscriber", "topic", ev.Topic)
				b.notifyDropped(ev.Topic)
			}
		}
	}
}

func (b *Bus) notifyDropped(topic string) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[TopicBusDropped]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub.ch <- Event{Topic: TopicBusDropped, Payload: topic}:
		default:
		}
	}
}
