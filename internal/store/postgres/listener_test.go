package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestListenerFansOutPerClinic(t *testing.T) {
	l := NewListener(nil, zerolog.Nop())
	// Keep the listen loop from starting against a nil pool.
	l.startOnce.Do(func() { close(l.done) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hits := make(chan string, 4)
	unsubscribeA := l.Subscribe(ctx, "clinic-a", func() { hits <- "a" })
	l.Subscribe(ctx, "clinic-b", func() { hits <- "b" })

	l.signal("clinic-a")
	if got := <-hits; got != "a" {
		t.Fatalf("expected clinic-a callback, got %s", got)
	}
	l.signal("clinic-c")
	select {
	case got := <-hits:
		t.Fatalf("unexpected callback %s", got)
	default:
	}

	l.signalAll()
	if len(hits) != 2 {
		t.Fatalf("expected both clinics signalled, got %d", len(hits))
	}

	unsubscribeA()
	unsubscribeA()
	if l.subscriberCount("clinic-a") != 0 {
		t.Fatalf("expected clinic-a to be unsubscribed")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for l.subscriberCount("clinic-b") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("context cancel did not unsubscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
	l.Close()
}
