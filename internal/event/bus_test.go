package event

import "testing"

func TestType_String(t *testing.T) {
	if got := SessionOverlap.String(); got != "SessionOverlap" {
		t.Errorf("String() = %q, want %q", got, "SessionOverlap")
	}
	if got := Type(0).String(); got != "Unknown" {
		t.Errorf("String() = %q, want %q", got, "Unknown")
	}
	if got := Type(1000).String(); got != "Unknown" {
		t.Errorf("String() = %q, want %q", got, "Unknown")
	}
}

func TestBus_Publish(t *testing.T) {
	t.Run("delivers to every subscriber", func(t *testing.T) {
		b := NewBus()
		a, cancelA := b.Subscribe(4)
		defer cancelA()
		c, cancelC := b.Subscribe(4)
		defer cancelC()

		b.Publish(Event{Type: SessionStarted, SessionID: "s1"})

		for _, ch := range []<-chan Event{a, c} {
			e := <-ch
			if e.Type != SessionStarted || e.SessionID != "s1" {
				t.Errorf("got %+v, want SessionStarted for s1", e)
			}
			if e.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
		}
	})

	t.Run("drops events when subscriber is full", func(t *testing.T) {
		b := NewBus()
		ch, cancel := b.Subscribe(1)
		defer cancel()

		b.Publish(Event{Type: BackupProgress, Count: 1})
		b.Publish(Event{Type: BackupProgress, Count: 2})

		e := <-ch
		if e.Count != 1 {
			t.Errorf("Count = %d, want 1", e.Count)
		}
		select {
		case e := <-ch:
			t.Errorf("unexpected event %+v", e)
		default:
		}
	})

	t.Run("cancel closes the channel", func(t *testing.T) {
		b := NewBus()
		ch, cancel := b.Subscribe(1)
		cancel()
		cancel()

		if _, ok := <-ch; ok {
			t.Error("channel still open after cancel")
		}
		b.Publish(Event{Type: SessionEnded})
	})

	t.Run("close closes all channels", func(t *testing.T) {
		b := NewBus()
		ch, _ := b.Subscribe(1)
		b.Close()
		if _, ok := <-ch; ok {
			t.Error("channel still open after Close")
		}
		late, _ := b.Subscribe(1)
		if _, ok := <-late; ok {
			t.Error("subscription after Close should be closed")
		}
	})
}
