package local

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/cmopt122/pkg/events"
	"github.com/veesix-networks/cmopt122/pkg/logger"
)

const DefaultCapacity = 4096

type publishRequest struct {
	topic string
	event events.Event
}

type subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

func (s *subscription) Unsubscribe() {
	s.bus.remove(s.topic, s.id)
}

// Bus delivers events from a single dispatch goroutine. Handlers for one
// topic run in publish order.
type Bus struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	subs      map[string]map[uint64]events.Handler
	mu        sync.RWMutex
	nextID    atomic.Uint64
	publishCh chan publishRequest
	logger    *slog.Logger
	published atomic.Uint64
	dropped   atomic.Uint64
	closeOnce sync.Once
}

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		subs:      make(map[string]map[uint64]events.Handler),
		publishCh: make(chan publishRequest, capacity),
		logger:    logger.Get(logger.Events),
	}

	go b.dispatch()

	return b
}

func (b *Bus) Publish(topic string, event events.Event) {
	if b.ctx.Err() != nil {
		b.dropped.Add(1)
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	select {
	case b.publishCh <- publishRequest{topic: topic, event: event}:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("Publish channel full, dropping event", "topic", topic)
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.publishCh:
			b.deliver(req)
		}
	}
}

func (b *Bus) deliver(req publishRequest) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs[req.topic]))
	for id := range b.subs[req.topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]events.Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[req.topic][id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(req.topic, h, req.event)
	}
}

func (b *Bus) invoke(topic string, h events.Handler, e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "topic", topic, "event_id", e.ID, "panic", r)
		}
	}()
	h(e)
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]events.Handler)
	}
	b.subs[topic][id] = handler
	count := len(b.subs[topic])
	b.mu.Unlock()

	b.logger.Debug("Subscribed to topic", "topic", topic, "handler_count", count)

	return &subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if topicSubs, ok := b.subs[topic]; ok {
		delete(topicSubs, id)
		if len(topicSubs) == 0 {
			delete(b.subs, topic)
		}
	}
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	topics := make([]events.TopicStats, 0, len(b.subs))
	for topic, subs := range b.subs {
		topics = append(topics, events.TopicStats{Topic: topic, Subscribers: len(subs)})
	}
	b.mu.RUnlock()

	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })

	return events.Stats{
		Topics:    topics,
		Pending:   len(b.publishCh),
		Capacity:  cap(b.publishCh),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Close stops dispatching. Events still queued are discarded.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		<-b.done
	})
	return nil
}
