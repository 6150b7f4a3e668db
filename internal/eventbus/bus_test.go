package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: PulseStarted, Data: PulseData{Pulse: "hb"}})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != PulseStarted || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
			if d, ok := e.Data.(PulseData); !ok || d.Pulse != "hb" {
				t.Fatalf("unexpected data %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsForFullSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: PulseCompleted})
	b.Publish(Event{Type: PulseError})

	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
	if e := <-ch; e.Type != PulseCompleted {
		t.Fatalf("first event kept, got %s", e.Type)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: PulseFatal})
}
