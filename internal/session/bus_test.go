package session

import (
	"context"
	"testing"
	"time"

	"localchat/pkg/types"
)

func TestBus_DeliversInOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(0, 1024)
	defer cancel()
	for i := 1; i <= 200; i++ {
		b.Publish(Event{Seq: uint64(i)})
	}
	b.Close()
	var want uint64 = 1
	for e := range ch {
		if e.Seq != want {
			t.Fatalf("out of order: got %d want %d", e.Seq, want)
		}
		want++
	}
	if want != 201 {
		t.Fatalf("expected 200 events, got %d", want-1)
	}
}

func TestBus_SkipsEventsBeforeSubscription(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe(5, 16)
	for i := 1; i <= 8; i++ {
		b.Publish(Event{Seq: uint64(i)})
	}
	b.Close()
	var got []uint64
	for e := range ch {
		got = append(got, e.Seq)
	}
	if len(got) != 3 || got[0] != 6 || got[2] != 8 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestBus_DropsSlowSubscriber(t *testing.T) {
	b := NewBus()
	slow, _ := b.Subscribe(0, 1)
	fast, _ := b.Subscribe(0, 64)
	for i := 1; i <= 10; i++ {
		b.Publish(Event{Seq: uint64(i)})
	}
	b.Close()

	n := 0
	for range slow {
		n++
	}
	if n > 1 {
		t.Fatalf("slow subscriber should be dropped after its buffer filled, got %d events", n)
	}
	m := 0
	for range fast {
		m++
	}
	if m != 10 {
		t.Fatalf("fast subscriber should receive all events, got %d", m)
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := NewBus()
	defer b.Close()
	_, _ = b.Subscribe(0, 1)
	done := make(chan struct{})
	go func() {
		for i := 1; i <= 10000; i++ {
			b.Publish(Event{Seq: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on an unread subscriber")
	}
}

func TestBus_CancelIsIdempotent(t *testing.T) {
	b := NewBus()
	defer b.Close()
	ch, cancel := b.Subscribe(0, 4)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	b := NewBus()
	b.Close()
	b.Close()
	ch, cancel := b.Subscribe(0, 4)
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
}

func TestSession_SubscribeSeesGenerationInOrder(t *testing.T) {
	b := &fakeBackend{tokens: []string{"x", "y", "z"}}
	h := newHarness(t, b, nil, types.Chat{})
	snap, ch, cancel := h.sess.Subscribe(4096)
	defer cancel()
	if snap.Chat == nil || snap.Chat.ID != h.chat.ID {
		t.Fatalf("snapshot should carry the active chat")
	}

	g, _ := h.sess.SendQuery(context.Background(), "q")
	if out, _ := waitGen(t, g); out != OutcomeCompleted {
		t.Fatalf("want completed, got %s", out)
	}

	var (
		last     uint64
		partial  string
		finished bool
	)
	timeout := time.After(2 * time.Second)
	for !finished {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed early")
			}
			if last != 0 && e.Seq != last+1 {
				t.Fatalf("gap or reorder: %d after %d", e.Seq, last)
			}
			last = e.Seq
			if e.Name == EventFragment {
				partial = e.State.Partial
			}
			if e.Name == EventGenerating && e.Fields["outcome"] == string(OutcomeCompleted) {
				finished = true
			}
		case <-timeout:
			t.Fatalf("did not observe completion")
		}
	}
	if partial != "xyz" {
		t.Fatalf("observers should see fragments in order, got %q", partial)
	}
}
