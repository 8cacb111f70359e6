package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"meditoken/internal/clinic"
	"meditoken/internal/queue"

	"github.com/rs/zerolog"
)

// Watcher is the clinic change feed the bridge forwards.
type Watcher interface {
	Watch(ctx context.Context, clinicID string) (<-chan clinic.Change, func(), error)
}

// Envelope is pushed to clients on every clinic change. It carries the
// public board only; dashboards re-fetch the snapshot on receipt.
type Envelope struct {
	Type            string      `json:"type"`
	ClinicID        string      `json:"clinic_id"`
	LastTokenNumber int         `json:"last_token_number"`
	Waiting         int         `json:"waiting"`
	Board           queue.Board `json:"board"`
	SyncError       string      `json:"sync_error,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type errorMessage struct {
	Type     string `json:"type"`
	ClinicID string `json:"clinic_id,omitempty"`
	Message  string `json:"message"`
}

// Bridge keeps one clinic watch per followed clinic: it starts with the
// first client and stops after the last one leaves.
type Bridge struct {
	hub     *Hub
	watcher Watcher
	logger  zerolog.Logger

	mu      sync.Mutex
	watches map[string]*watch
}

type watch struct {
	refs int
	stop func()
	done chan struct{}
}

func NewBridge(hub *Hub, watcher Watcher, logger zerolog.Logger) *Bridge {
	return &Bridge{hub: hub, watcher: watcher, logger: logger, watches: make(map[string]*watch)}
}

// Follow moves client to clinicID, releasing whatever clinic it followed.
// An empty clinicID only unsubscribes.
func (b *Bridge) Follow(ctx context.Context, client *Client, clinicID string) error {
	if clinicID != "" {
		if err := b.acquire(ctx, clinicID); err != nil {
			return err
		}
	}
	previous := b.hub.UpdateSubscription(client, clinicID)
	if previous != "" {
		b.release(previous)
	}
	return nil
}

// Leave unregisters the client and releases its clinic.
func (b *Bridge) Leave(client *Client) {
	if clinicID := b.hub.Unregister(client); clinicID != "" {
		b.release(clinicID)
	}
}

// Close stops every watch.
func (b *Bridge) Close() {
	b.mu.Lock()
	watches := b.watches
	b.watches = make(map[string]*watch)
	b.mu.Unlock()
	for _, w := range watches {
		w.stop()
		<-w.done
	}
}

func (b *Bridge) Following(clinicID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.watches[clinicID]
	return ok
}

func (b *Bridge) acquire(ctx context.Context, clinicID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.watches[clinicID]; ok {
		w.refs++
		return nil
	}
	changes, stop, err := b.watcher.Watch(ctx, clinicID)
	if err != nil {
		return err
	}
	w := &watch{refs: 1, stop: stop, done: make(chan struct{})}
	b.watches[clinicID] = w
	go b.forward(clinicID, changes, w.done)
	b.logger.Debug().Str("clinic_id", clinicID).Msg("realtime watch started")
	return nil
}

func (b *Bridge) release(clinicID string) {
	b.mu.Lock()
	w, ok := b.watches[clinicID]
	if !ok {
		b.mu.Unlock()
		return
	}
	w.refs--
	if w.refs > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.watches, clinicID)
	b.mu.Unlock()

	w.stop()
	<-w.done
	b.logger.Debug().Str("clinic_id", clinicID).Msg("realtime watch stopped")
}

func (b *Bridge) forward(clinicID string, changes <-chan clinic.Change, done chan struct{}) {
	defer close(done)
	for change := range changes {
		payload, err := json.Marshal(NewEnvelope(change))
		if err != nil {
			b.logger.Error().Err(err).Str("clinic_id", clinicID).Msg("encode realtime envelope")
			continue
		}
		b.hub.Broadcast(payload, clinicID)
	}
}

func NewEnvelope(change clinic.Change) Envelope {
	return Envelope{
		Type:            "tokens.changed",
		ClinicID:        change.ClinicID,
		LastTokenNumber: change.Snapshot.LastTokenNumber,
		Waiting:         len(queue.WaitingQueue(change.Snapshot.Patients)),
		Board:           queue.DisplayBoard(change.Snapshot),
		SyncError:       change.Snapshot.SyncError,
		UpdatedAt:       change.Snapshot.UpdatedAt,
	}
}

func encodeError(clinicID, message string) []byte {
	payload, _ := json.Marshal(errorMessage{Type: "error", ClinicID: clinicID, Message: message})
	return payload
}
