package realtime

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseSubscribe(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		ok     bool
		clinic string
	}{
		{"subscribe", `{"action":"subscribe","clinic_id":" c1 "}`, true, "c1"},
		{"subscribe without clinic", `{"action":"subscribe"}`, false, ""},
		{"unsubscribe", `{"action":"unsubscribe"}`, true, ""},
		{"unknown action", `{"action":"dance","clinic_id":"c1"}`, false, ""},
		{"not json", `hello`, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := ParseSubscribe([]byte(tc.data))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && msg.ClinicID != tc.clinic {
				t.Fatalf("expected clinic %q, got %q", tc.clinic, msg.ClinicID)
			}
		})
	}
}

func TestBroadcastOnlyReachesFollowers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := &Client{ID: "a", Send: make(chan []byte, 1)}
	b := &Client{ID: "b", Send: make(chan []byte, 1)}
	idle := &Client{ID: "idle", Send: make(chan []byte, 1)}
	h.Register(a)
	h.Register(b)
	h.Register(idle)
	h.UpdateSubscription(a, "c1")
	h.UpdateSubscription(b, "c2")

	h.Broadcast([]byte("one"), "c1")
	if len(a.Send) != 1 || len(b.Send) != 0 || len(idle.Send) != 0 {
		t.Fatalf("unexpected delivery: a=%d b=%d idle=%d", len(a.Send), len(b.Send), len(idle.Send))
	}

	// Full buffer drops instead of blocking.
	h.Broadcast([]byte("two"), "c1")
	if got := string(<-a.Send); got != "one" {
		t.Fatalf("expected first message, got %q", got)
	}

	if previous := h.UpdateSubscription(a, ""); previous != "c1" {
		t.Fatalf("expected previous clinic c1, got %q", previous)
	}
	if clinicID := h.Unregister(b); clinicID != "c2" {
		t.Fatalf("expected c2 on unregister, got %q", clinicID)
	}
	if _, ok := <-b.Send; ok {
		t.Fatalf("expected closed send channel")
	}
	if h.Unregister(b) != "" {
		t.Fatalf("second unregister must be a no-op")
	}
	if h.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", h.ClientCount())
	}
}
