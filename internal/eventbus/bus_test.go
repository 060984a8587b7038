package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, "cooldown.recorded")
	defer unsubOnly()

	b.Publish(Event{Type: "decision.made"})
	b.Publish(Event{Type: "cooldown.recorded", Data: 1})

	if got := Drain(all); len(got) != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", len(got))
	}
	got := Drain(only)
	if len(got) != 1 || got[0].Type != "cooldown.recorded" {
		t.Fatalf("filtered subscriber got %+v", got)
	}
	if got[0].Time.IsZero() {
		t.Fatal("Publish should stamp missing times")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "x"})
	}
	if n := len(Drain(ch)); n != 1 {
		t.Fatalf("buffered %d events, want 1", n)
	}
	if d := b.Dropped(); d != 99 {
		t.Fatalf("Dropped() = %d, want 99", d)
	}
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "x"})
}
