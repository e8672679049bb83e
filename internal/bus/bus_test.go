package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(TopicTaskUpdated, "payload")

	select {
	case ev := <-sub.Ch():
		if ev.Topic != TopicTaskUpdated {
			t.Errorf("topic = %q, want %q", ev.Topic, TopicTaskUpdated)
		}
		if ev.Payload != "payload" {
			t.Errorf("payload = %v, want payload", ev.Payload)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPrefixMatch(t *testing.T) {
	b := New()
	vcs := b.Subscribe("vcs:")
	defer b.Unsubscribe(vcs)

	b.Publish(TopicTaskUpdated, nil)
	b.Publish(TopicMergeRequestUpdate, nil)

	select {
	case ev := <-vcs.Ch():
		if ev.Topic != TopicMergeRequestUpdate {
			t.Errorf("topic = %q, want %q", ev.Topic, TopicMergeRequestUpdate)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	select {
	case ev := <-vcs.Ch():
		t.Errorf("unexpected second event %q", ev.Topic)
	default:
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	// Overfill the buffer; publishes must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBufferSize*2; i++ {
			b.Publish(TopicAgentOutput, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	if got := len(sub.ch); got != defaultBufferSize {
		t.Errorf("buffered = %d, want %d", got, defaultBufferSize)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch(); ok {
		t.Error("channel still open after unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}

	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}
