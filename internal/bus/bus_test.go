package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribePrefix(t *testing.T) {
	b := New()
	syncCh, unsubSync := b.Subscribe("sync.", 4)
	defer unsubSync()
	allCh, unsubAll := b.Subscribe("", 4)
	defer unsubAll()

	b.Publish(TopicSyncProgress, Progress{Session: "main", ChatsDone: 1})
	b.Publish(TopicMessageUpserted, nil)

	select {
	case evt := <-syncCh:
		if evt.Topic != TopicSyncProgress {
			t.Errorf("topic = %q, want %q", evt.Topic, TopicSyncProgress)
		}
		p, ok := evt.Payload.(Progress)
		if !ok || p.ChatsDone != 1 {
			t.Errorf("payload = %#v, want Progress with ChatsDone=1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync event")
	}

	// The sync-prefixed subscriber must not see the message event.
	select {
	case evt := <-syncCh:
		t.Errorf("unexpected event on sync subscriber: %q", evt.Topic)
	default:
	}

	// The catch-all subscriber sees both.
	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d on catch-all subscriber", i)
		}
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(TopicSyncProgress, Progress{ChatsDone: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	// The buffer held exactly one event.
	if got := len(ch); got != 1 {
		t.Errorf("buffered events = %d, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 4)
	unsub()
	b.Publish(TopicSessionStatus, nil)
	if got := len(ch); got != 0 {
		t.Errorf("events after unsubscribe = %d, want 0", got)
	}
}
