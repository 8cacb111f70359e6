// Package announce speaks the patient a cabin is now serving. It follows
// clinic changes and hands each new headline to a Provider once.
package announce

import (
	"context"
	"sync"
	"time"

	"meditoken/internal/clinic"
	"meditoken/internal/models"
	"meditoken/internal/queue"

	"github.com/rs/zerolog"
)

type Watcher interface {
	Watch(ctx context.Context, clinicID string) (<-chan clinic.Change, func(), error)
}

// ClinicLister is the directory Run rescans for token-based clinics.
type ClinicLister interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

type Worker struct {
	watcher     Watcher
	provider    Provider
	logger      zerolog.Logger
	sendTimeout time.Duration
	listTimeout time.Duration
	rescan      time.Duration

	mu    sync.Mutex
	state map[string]*clinicState
}

type clinicState struct {
	seeded    bool
	announced map[string]struct{}
}

type Config struct {
	SendTimeout time.Duration
	ListTimeout time.Duration
	// Rescan is how often Run looks for clinics added or switched to tokens.
	Rescan time.Duration
}

type follow struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(watcher Watcher, provider Provider, logger zerolog.Logger, cfg Config) *Worker {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 5 * time.Second
	}
	if cfg.Rescan <= 0 {
		cfg.Rescan = 30 * time.Second
	}
	return &Worker{
		watcher:     watcher,
		provider:    provider,
		logger:      logger,
		sendTimeout: cfg.SendTimeout,
		listTimeout: cfg.ListTimeout,
		rescan:      cfg.Rescan,
		state:       make(map[string]*clinicState),
	}
}

// Run follows every token-based clinic the lister knows until ctx is
// cancelled, picking up new clinics on each rescan. A clinic whose watch
// fails or ends is tried again on the next rescan.
func (w *Worker) Run(ctx context.Context, clinics ClinicLister) {
	followed := make(map[string]*follow)
	defer func() {
		for id, f := range followed {
			w.unfollow(id, f)
		}
	}()

	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()
	for {
		w.sync(ctx, clinics, followed)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) sync(ctx context.Context, clinics ClinicLister, followed map[string]*follow) {
	listCtx, cancel := context.WithTimeout(ctx, w.listTimeout)
	tenants, err := clinics.ListTenants(listCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("list clinics for announcements")
		}
		return
	}

	wanted := make(map[string]bool, len(tenants))
	for _, tenant := range tenants {
		if tenant.IsTokenBased {
			wanted[tenant.ID] = true
		}
	}
	for id, f := range followed {
		ended := false
		select {
		case <-f.done:
			ended = true
		default:
		}
		if ended || !wanted[id] {
			w.unfollow(id, f)
			delete(followed, id)
		}
	}
	for id := range wanted {
		if _, ok := followed[id]; ok {
			continue
		}
		if f, ok := w.follow(ctx, id); ok {
			followed[id] = f
		}
	}
}

func (w *Worker) follow(ctx context.Context, clinicID string) (*follow, bool) {
	followCtx, cancel := context.WithCancel(ctx)
	changes, stop, err := w.watcher.Watch(followCtx, clinicID)
	if err != nil {
		cancel()
		w.logger.Warn().Err(err).Str("clinic_id", clinicID).Msg("announce watch failed")
		return nil, false
	}
	f := &follow{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer stop()
		for {
			select {
			case <-followCtx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				w.Handle(followCtx, change)
			}
		}
	}()
	w.logger.Debug().Str("clinic_id", clinicID).Msg("announcing for clinic")
	return f, true
}

func (w *Worker) unfollow(clinicID string, f *follow) {
	f.cancel()
	<-f.done
	w.mu.Lock()
	delete(w.state, clinicID)
	w.mu.Unlock()
}

// Handle announces the change's headline if it has not been announced yet.
// The first change seen for a clinic only records who is already being
// served, so a restart does not repeat the last call.
func (w *Worker) Handle(ctx context.Context, change clinic.Change) {
	board := queue.DisplayBoard(change.Snapshot)
	entry, ok := w.next(change.ClinicID, board)
	if !ok {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()
	text := queue.AnnouncementText(entry)
	if err := w.provider.Send(sendCtx, text, change.ClinicID); err != nil {
		w.logger.Warn().Err(err).Str("clinic_id", change.ClinicID).Int("token_number", entry.TokenNumber).Msg("announce failed")
	}
}

func (w *Worker) next(clinicID string, board queue.Board) (queue.BoardEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.state[clinicID]
	if !ok {
		st = &clinicState{announced: make(map[string]struct{})}
		w.state[clinicID] = st
	}

	serving := make(map[string]struct{}, len(board.Serving))
	for _, entry := range board.Serving {
		serving[entry.PatientID] = struct{}{}
	}
	// A patient leaves IN_PROGRESS for good, so only serving ids need remembering.
	for id := range st.announced {
		if _, ok := serving[id]; !ok {
			delete(st.announced, id)
		}
	}

	if !st.seeded {
		st.seeded = true
		for id := range serving {
			st.announced[id] = struct{}{}
		}
		return queue.BoardEntry{}, false
	}

	entry, ok := board.Headline()
	if !ok {
		return queue.BoardEntry{}, false
	}
	if _, done := st.announced[entry.PatientID]; done {
		return queue.BoardEntry{}, false
	}
	st.announced[entry.PatientID] = struct{}{}
	return entry, true
}
