package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: "quiz.answered", Data: "q1"})

	for i, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != "quiz.answered" || e.Data != "q1" {
			t.Fatalf("subscriber %d got %+v", i, e)
		}
		if e.Time.IsZero() {
			t.Fatalf("subscriber %d: event time not stamped", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := (<-ch).Type; got != "a" {
		t.Fatalf("first event = %q, want a", got)
	}
	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}
