package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"meditoken/internal/clinic"
	"meditoken/internal/models"
	"meditoken/internal/store"
	"meditoken/internal/store/memory"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type fakeWatcher struct {
	mu      sync.Mutex
	feeds   map[string]chan clinic.Change
	stopped map[string]int
	err     error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{feeds: map[string]chan clinic.Change{}, stopped: map[string]int{}}
}

func (f *fakeWatcher) Watch(ctx context.Context, clinicID string) (<-chan clinic.Change, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	ch := make(chan clinic.Change, 4)
	f.feeds[clinicID] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			f.stopped[clinicID]++
			f.mu.Unlock()
			close(ch)
		})
	}, nil
}

func (f *fakeWatcher) feed(clinicID string) chan clinic.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeds[clinicID]
}

func (f *fakeWatcher) stops(clinicID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped[clinicID]
}

func TestBridgeSharesOneWatchPerClinic(t *testing.T) {
	watcher := newFakeWatcher()
	h := NewHub(zerolog.Nop())
	bridge := NewBridge(h, watcher, zerolog.Nop())
	ctx := context.Background()

	a := &Client{ID: "a", Send: make(chan []byte, 4)}
	b := &Client{ID: "b", Send: make(chan []byte, 4)}
	h.Register(a)
	h.Register(b)

	if err := bridge.Follow(ctx, a, "c1"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := bridge.Follow(ctx, b, "c1"); err != nil {
		t.Fatalf("follow: %v", err)
	}

	watcher.feed("c1") <- clinic.Change{ClinicID: "c1", Snapshot: models.ClinicSnapshot{
		LastTokenNumber: 4,
		Patients:        []models.Patient{{ID: "p4", TokenNumber: 4, Status: models.StatusWaiting, Phone: "9876543210"}},
	}}
	for _, client := range []*Client{a, b} {
		select {
		case msg := <-client.Send:
			var envelope Envelope
			if err := json.Unmarshal(msg, &envelope); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if envelope.Type != "tokens.changed" || envelope.LastTokenNumber != 4 || envelope.Waiting != 1 {
				t.Fatalf("unexpected envelope: %+v", envelope)
			}
			if strings.Contains(string(msg), "9876543210") {
				t.Fatalf("envelope must not carry phone numbers")
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s got no envelope", client.ID)
		}
	}

	bridge.Follow(ctx, a, "")
	if !bridge.Following("c1") {
		t.Fatalf("watch must survive while a client follows")
	}
	bridge.Leave(b)
	if bridge.Following("c1") || watcher.stops("c1") != 1 {
		t.Fatalf("watch must stop with the last client")
	}
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"", []string{"https://clinic.example"}, true},
		{"https://clinic.example", nil, true},
		{"https://clinic.example", []string{"https://CLINIC.example"}, true},
		{"https://evil.example", []string{"https://clinic.example"}, false},
		{"https://evil.example", []string{"*"}, true},
	}
	for _, tc := range tests {
		if got := originAllowed(tc.origin, tc.allowed); got != tc.want {
			t.Fatalf("originAllowed(%q, %v) = %v, want %v", tc.origin, tc.allowed, got, tc.want)
		}
	}
}

func TestBridgeReportsWatchErrors(t *testing.T) {
	watcher := newFakeWatcher()
	watcher.err = store.ErrTenantNotFound
	h := NewHub(zerolog.Nop())
	bridge := NewBridge(h, watcher, zerolog.Nop())
	client := &Client{ID: "a", Send: make(chan []byte, 1)}
	h.Register(client)

	err := bridge.Follow(context.Background(), client, "missing")
	if !errors.Is(err, store.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
	if client.ClinicID != "" {
		t.Fatalf("failed follow must not subscribe the client")
	}
	if followErrorText(err) != "clinic not found" {
		t.Fatalf("unexpected error text %q", followErrorText(err))
	}
}

func TestWebSocketReceivesClinicChanges(t *testing.T) {
	st := memory.NewStore()
	ctx := context.Background()
	if _, err := st.SaveTenant(ctx, models.Tenant{ID: "c1", Name: "City Clinic"}); err != nil {
		t.Fatalf("save tenant: %v", err)
	}
	svc := clinic.NewService(st, st, clinic.Options{Logger: zerolog.Nop()})
	defer svc.Shutdown()

	h := NewHub(zerolog.Nop())
	bridge := NewBridge(h, svc, zerolog.Nop())
	defer bridge.Close()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewServer(h, bridge, zerolog.Nop(), []string{"*"}).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","clinic_id":"c1"}`)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitForFollower(t, h, "c1")

	if _, err := svc.Register(ctx, "c1", "Asha", "9876543210"); err != nil {
		t.Fatalf("register: %v", err)
	}
	readEnvelope(t, ws, func(e Envelope) bool { return e.LastTokenNumber == 1 })

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","clinic_id":"nope"}`)); err != nil {
		t.Fatalf("subscribe unknown: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.Contains(string(data), `"type":"error"`) {
			if !strings.Contains(string(data), "clinic not found") {
				t.Fatalf("unexpected error message %s", data)
			}
			break
		}
	}
}

func waitForFollower(t *testing.T, h *Hub, clinicID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		for _, client := range h.clients {
			if client.ClinicID == clinicID {
				h.mu.RUnlock()
				return
			}
		}
		h.mu.RUnlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no client followed %s", clinicID)
}

func readEnvelope(t *testing.T, ws *websocket.Conn, match func(Envelope) bool) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		if envelope.Type == "tokens.changed" && match(envelope) {
			return
		}
	}
}
