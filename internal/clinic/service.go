// Package clinic runs the live view of each open clinic: it loads the
// snapshot, keeps it in sync with store change signals and applies doctor
// and kiosk actions through the store.
package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"meditoken/internal/models"
	"meditoken/internal/queue"
	"meditoken/internal/store"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	StoreTimeout    time.Duration
	RetryMaxElapsed time.Duration
	// RetryInitialInterval overrides the first backoff step; zero keeps the
	// library default.
	RetryInitialInterval time.Duration
	LegacyTokenNumbering bool
	RegisterRetries      int
	Logger               zerolog.Logger
}

// Change carries the clinic snapshot after something changed.
type Change struct {
	ClinicID string
	Snapshot models.ClinicSnapshot
}

type Service struct {
	tokens    store.TokenStore
	directory store.DirectoryStore
	options   Options
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	clinicID string
	refs     int

	mu       sync.Mutex
	snapshot models.ClinicSnapshot

	watchMu  sync.Mutex
	watchers map[int]chan Change
	nextID   int

	signals     chan struct{}
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewService(tokens store.TokenStore, directory store.DirectoryStore, options Options) *Service {
	if options.StoreTimeout <= 0 {
		options.StoreTimeout = 5 * time.Second
	}
	if options.RetryMaxElapsed <= 0 {
		options.RetryMaxElapsed = 10 * time.Second
	}
	if options.RegisterRetries <= 0 {
		options.RegisterRetries = 3
	}
	return &Service{
		tokens:    tokens,
		directory: directory,
		options:   options,
		logger:    options.Logger,
		tracer:    otel.Tracer("meditoken/clinic"),
		sessions:  make(map[string]*session),
	}
}

// Open loads the clinic and subscribes to its token changes. Each Open must
// be paired with a Close.
func (s *Service) Open(ctx context.Context, clinicID string) error {
	_, err := s.acquire(ctx, clinicID)
	return err
}

// Close drops one reference to the clinic; the subscription ends with the last one.
func (s *Service) Close(clinicID string) {
	s.mu.Lock()
	sess := s.sessions[strings.TrimSpace(clinicID)]
	s.mu.Unlock()
	if sess != nil {
		s.release(sess)
	}
}

// Shutdown closes every open clinic and rejects further use.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
}

// OpenClinics lists the clinics that currently hold a subscription.
func (s *Service) OpenClinics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) Snapshot(ctx context.Context, clinicID string) (models.ClinicSnapshot, error) {
	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return models.ClinicSnapshot{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return cloneSnapshot(sess.snapshot), nil
}

// Refresh re-reads tokens and cabins. A token read that keeps failing after
// retries leaves an empty patient list with SyncError set, and the error is
// returned as well.
func (s *Service) Refresh(ctx context.Context, clinicID string) (snapshot models.ClinicSnapshot, err error) {
	ctx, span := s.startSpan(ctx, "clinic.Refresh", clinicID)
	defer func() { endSpan(span, err) }()

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return models.ClinicSnapshot{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	err = s.refreshLocked(ctx, sess)
	sess.notifyLocked()
	return cloneSnapshot(sess.snapshot), err
}

// Watch streams clinic snapshots, starting with the current one. Slow
// readers only see the latest change. The returned func stops the stream.
func (s *Service) Watch(ctx context.Context, clinicID string) (<-chan Change, func(), error) {
	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return nil, nil, err
	}

	// The initial snapshot goes into the empty buffer before the watcher is
	// visible to notifyLocked; both happen under sess.mu so no change is lost.
	ch := make(chan Change, 1)
	sess.mu.Lock()
	ch <- Change{ClinicID: sess.clinicID, Snapshot: cloneSnapshot(sess.snapshot)}
	sess.watchMu.Lock()
	id := sess.nextID
	sess.nextID++
	sess.watchers[id] = ch
	sess.watchMu.Unlock()
	sess.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			sess.removeWatcher(id)
			s.release(sess)
		})
	}
	return ch, stop, nil
}

func (s *Service) acquire(ctx context.Context, clinicID string) (*session, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, fmt.Errorf("%w: clinic id is required", store.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("clinic service is shut down")
	}
	if sess, ok := s.sessions[clinicID]; ok {
		sess.refs++
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	sess, err := s.openSession(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.sessions[clinicID]; ok && !s.closed {
		existing.refs++
		s.mu.Unlock()
		sess.stop()
		return existing, nil
	}
	if s.closed {
		s.mu.Unlock()
		sess.stop()
		return nil, errors.New("clinic service is shut down")
	}
	sess.refs = 1
	s.sessions[clinicID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Service) release(sess *session) {
	s.mu.Lock()
	if s.sessions[sess.clinicID] != sess {
		s.mu.Unlock()
		return
	}
	sess.refs--
	if sess.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.clinicID)
	s.mu.Unlock()
	sess.stop()
}

// openSession subscribes before loading so no change between the two is lost.
func (s *Service) openSession(ctx context.Context, clinicID string) (*session, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		clinicID: clinicID,
		watchers: make(map[int]chan Change),
		signals:  make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	unsubscribe, err := s.tokens.SubscribeToChanges(runCtx, clinicID, sess.signal)
	if err != nil {
		cancel()
		return nil, err
	}
	sess.unsubscribe = unsubscribe

	snapshot, err := s.load(ctx, clinicID)
	if err != nil && snapshot.Tenant.ID == "" {
		unsubscribe()
		cancel()
		return nil, err
	}
	sess.snapshot = snapshot

	go s.run(runCtx, sess)
	s.logger.Debug().Str("clinic_id", clinicID).Msg("clinic opened")
	return sess, nil
}

func (s *Service) run(ctx context.Context, sess *session) {
	defer close(sess.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.signals:
			sess.mu.Lock()
			if err := s.refreshLocked(ctx, sess); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Str("clinic_id", sess.clinicID).Msg("clinic sync failed")
			}
			sess.notifyLocked()
			sess.mu.Unlock()
		}
	}
}

// load builds a full snapshot. Directory failures abort; a token read
// failure degrades to an empty list with SyncError set.
func (s *Service) load(ctx context.Context, clinicID string) (models.ClinicSnapshot, error) {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()

	tenant, err := s.directory.GetTenant(callCtx, clinicID)
	if err != nil {
		return models.ClinicSnapshot{}, err
	}
	doctors, err := s.activeDoctors(callCtx, clinicID)
	if err != nil {
		return models.ClinicSnapshot{}, err
	}
	assistants, err := s.activeAssistants(callCtx, clinicID)
	if err != nil {
		return models.ClinicSnapshot{}, err
	}
	cabins, err := s.directory.ListCabins(callCtx, clinicID)
	if err != nil {
		return models.ClinicSnapshot{}, err
	}

	snapshot := models.ClinicSnapshot{
		Tenant:     tenant,
		Cabins:     cabins,
		Doctors:    doctors,
		Assistants: assistants,
		Patients:   []models.Patient{},
		UpdatedAt:  time.Now().UTC(),
	}
	patients, err := s.fetchTokens(ctx, clinicID)
	if err != nil {
		snapshot.SyncError = err.Error()
		s.logger.Error().Err(err).Str("clinic_id", clinicID).Msg("token load failed")
		return snapshot, err
	}
	snapshot.Patients = patients
	snapshot.LastTokenNumber = queue.LastTokenNumber(patients)
	return snapshot, nil
}

func (s *Service) refreshLocked(ctx context.Context, sess *session) error {
	callCtx, cancel := s.storeContext(ctx)
	cabins, cabinErr := s.directory.ListCabins(callCtx, sess.clinicID)
	cancel()
	if cabinErr == nil {
		sess.snapshot.Cabins = cabins
	} else {
		s.logger.Warn().Err(cabinErr).Str("clinic_id", sess.clinicID).Msg("cabin reload failed")
	}

	patients, err := s.fetchTokens(ctx, sess.clinicID)
	sess.snapshot.UpdatedAt = time.Now().UTC()
	if err != nil {
		sess.snapshot.Patients = []models.Patient{}
		sess.snapshot.LastTokenNumber = 0
		sess.snapshot.SyncError = err.Error()
		return err
	}
	sess.snapshot.Patients = patients
	sess.snapshot.LastTokenNumber = queue.LastTokenNumber(patients)
	sess.snapshot.SyncError = ""
	return nil
}

// fetchTokens retries unavailable-store reads with exponential backoff;
// any other error stops immediately.
func (s *Service) fetchTokens(ctx context.Context, clinicID string) ([]models.Patient, error) {
	policy := backoff.NewExponentialBackOff()
	if s.options.RetryInitialInterval > 0 {
		policy.InitialInterval = s.options.RetryInitialInterval
	}
	attempt := 0
	operation := func() ([]models.Patient, error) {
		attempt++
		callCtx, cancel := s.storeContext(ctx)
		defer cancel()
		patients, err := s.tokens.ListTokens(callCtx, clinicID)
		if err == nil {
			return patients, nil
		}
		if !errors.Is(err, store.ErrStoreUnavailable) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		s.logger.Debug().Err(err).Int("attempt", attempt).Str("clinic_id", clinicID).Msg("retrying token read")
		return nil, err
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(s.options.RetryMaxElapsed),
	)
}

func (s *Service) activeDoctors(ctx context.Context, clinicID string) ([]models.Doctor, error) {
	mappings, err := s.directory.ListDoctorMappings(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	active := map[string]bool{}
	for _, mapping := range mappings {
		if mapping.Status == models.MappingActive {
			active[mapping.DoctorID] = true
		}
	}
	all, err := s.directory.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}
	doctors := []models.Doctor{}
	for _, doctor := range all {
		if active[doctor.ID] {
			doctors = append(doctors, doctor)
		}
	}
	return doctors, nil
}

func (s *Service) activeAssistants(ctx context.Context, clinicID string) ([]models.Assistant, error) {
	mappings, err := s.directory.ListAssistantMappings(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	active := map[string]bool{}
	for _, mapping := range mappings {
		if mapping.Status == models.MappingActive {
			active[mapping.AssistantID] = true
		}
	}
	all, err := s.directory.ListAssistants(ctx)
	if err != nil {
		return nil, err
	}
	assistants := []models.Assistant{}
	for _, assistant := range all {
		if active[assistant.ID] {
			assistants = append(assistants, assistant)
		}
	}
	return assistants, nil
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.options.StoreTimeout)
}

func (s *Service) startSpan(ctx context.Context, name, clinicID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("clinic.id", clinicID))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// signal coalesces change notifications; the store may call it from any goroutine.
func (sess *session) signal() {
	select {
	case sess.signals <- struct{}{}:
	default:
	}
}

func (sess *session) notifyLocked() {
	change := Change{ClinicID: sess.clinicID, Snapshot: cloneSnapshot(sess.snapshot)}
	sess.watchMu.Lock()
	defer sess.watchMu.Unlock()
	for _, ch := range sess.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- change:
		default:
		}
	}
}

func (sess *session) removeWatcher(id int) {
	sess.watchMu.Lock()
	defer sess.watchMu.Unlock()
	if ch, ok := sess.watchers[id]; ok {
		delete(sess.watchers, id)
		close(ch)
	}
}

func (sess *session) stop() {
	if sess.unsubscribe != nil {
		sess.unsubscribe()
	}
	sess.cancel()
	select {
	case <-sess.done:
	case <-time.After(5 * time.Second):
	}

	sess.watchMu.Lock()
	for id, ch := range sess.watchers {
		delete(sess.watchers, id)
		close(ch)
	}
	sess.watchMu.Unlock()
}

func cloneSnapshot(snapshot models.ClinicSnapshot) models.ClinicSnapshot {
	out := snapshot
	out.Patients = make([]models.Patient, len(snapshot.Patients))
	copy(out.Patients, snapshot.Patients)
	out.Cabins = queue.CloneCabins(snapshot.Cabins)
	out.Doctors = append([]models.Doctor{}, snapshot.Doctors...)
	out.Assistants = append([]models.Assistant{}, snapshot.Assistants...)
	return out
}
