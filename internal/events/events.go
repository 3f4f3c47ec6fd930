// Package events provides a channel-based pub-sub bus carrying task
// lifecycle notifications between the orchestrator, the swarm, and any
// external consumer. Delivery is best-effort and at-least-once from the
// publisher's view: a full subscriber buffer drops the event, so
// consumers that need certainty must poll the store.
package events

import (
	"sync"
	"time"
)

// Topics published on the bus.
const (
	// TopicWorkReady announces that one or more work items became ready.
	TopicWorkReady = "work.ready"
	// TopicTaskStarted announces a worker claimed a task.
	TopicTaskStarted = "task.started"
	// TopicTaskCompleted announces a task finished successfully.
	TopicTaskCompleted = "task.completed"
	// TopicTaskFailed announces a task failed.
	TopicTaskFailed = "task.failed"
)

// Event is a single bus message.
type Event struct {
	// Topic the event was published under.
	Topic string
	// TaskID identifies the related task, if any.
	TaskID string
	// Count carries the ready-item count for TopicWorkReady.
	Count int
	// Message is free-form detail.
	Message string
	// Timestamp is when the event was published.
	Timestamp time.Time
}

// Bus is a topic-based pub-sub bus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event
	allSubs []chan Event
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events for one topic.
// bufSize defaults to 64 when non-positive.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Publish fans an event out to topic and all-topic subscribers.
// Non-blocking: a full subscriber channel drops the event.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// WorkReady publishes the best-effort "work is ready" signal.
func (b *Bus) WorkReady(count int) {
	b.Publish(Event{Topic: TopicWorkReady, Count: count, Message: "work is ready"})
}

// Close closes the bus and every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
