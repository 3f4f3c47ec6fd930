package events

import (
	"testing"
	"time"
)

func TestPublishToTopicSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe(TopicWorkReady, 4)
	b.WorkReady(3)

	select {
	case ev := <-ch:
		if ev.Count != 3 {
			t.Errorf("count = %d, want 3", ev.Count)
		}
		if ev.Message != "work is ready" {
			t.Errorf("message = %q", ev.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscriberOnlySeesOwnTopic(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe(TopicTaskFailed, 4)
	b.Publish(Event{Topic: TopicTaskCompleted, TaskID: "t1"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.SubscribeAll(4)
	b.Publish(Event{Topic: TopicTaskStarted, TaskID: "t1"})
	b.Publish(Event{Topic: TopicTaskCompleted, TaskID: "t1"})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe(TopicWorkReady, 1)
	b.WorkReady(1)
	b.WorkReady(2) // dropped, buffer full

	<-ch
	select {
	case ev := <-ch:
		t.Fatalf("expected second event dropped, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(TopicWorkReady, 1)
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed")
	}

	// Publishing after close must not panic.
	b.WorkReady(1)
}
