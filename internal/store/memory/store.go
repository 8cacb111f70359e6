// Package memory is an in-process TokenStore and DirectoryStore. It backs
// `serve --memory` and the service tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"meditoken/internal/models"
	"meditoken/internal/queue"
	"meditoken/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu          sync.Mutex
	tokens      map[string][]models.Patient
	counters    map[string]int
	events      map[string][]store.TokenEvent
	subscribers map[string]map[string]func()

	tenants           map[string]models.Tenant
	doctors           map[string]models.Doctor
	assistants        map[string]models.Assistant
	doctorMappings    map[string]models.DoctorClinicMapping
	assistantMappings map[string]models.AssistantClinicMapping
	cabins            map[string][]models.Cabin
	accounts          map[string]models.StaffAccount
	now               func() time.Time
}

func NewStore() *Store {
	return &Store{
		tokens:            make(map[string][]models.Patient),
		counters:          make(map[string]int),
		events:            make(map[string][]store.TokenEvent),
		subscribers:       make(map[string]map[string]func()),
		tenants:           make(map[string]models.Tenant),
		doctors:           make(map[string]models.Doctor),
		assistants:        make(map[string]models.Assistant),
		doctorMappings:    make(map[string]models.DoctorClinicMapping),
		assistantMappings: make(map[string]models.AssistantClinicMapping),
		cabins:            make(map[string][]models.Cabin),
		accounts:          make(map[string]models.StaffAccount),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) ListTokens(ctx context.Context, clinicID string) ([]models.Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	patients := make([]models.Patient, len(s.tokens[clinicID]))
	copy(patients, s.tokens[clinicID])
	queue.SortByToken(patients)
	return patients, nil
}

func (s *Store) InsertToken(ctx context.Context, input store.InsertTokenInput) (models.Patient, error) {
	if err := ctx.Err(); err != nil {
		return models.Patient{}, fmt.Errorf("%w: %v", store.ErrStoreWriteFailed, err)
	}
	input.ClinicID = strings.TrimSpace(input.ClinicID)
	input.Name = strings.TrimSpace(input.Name)
	if input.ClinicID == "" || input.Name == "" || input.TokenNumber < 0 {
		return models.Patient{}, store.ErrInvalidInput
	}

	s.mu.Lock()
	number := input.TokenNumber
	if number == 0 {
		number = s.counters[input.ClinicID] + 1
	} else {
		for _, existing := range s.tokens[input.ClinicID] {
			if existing.TokenNumber == number {
				s.mu.Unlock()
				return models.Patient{}, store.ErrDuplicateToken
			}
		}
	}
	if number > s.counters[input.ClinicID] {
		s.counters[input.ClinicID] = number
	}

	registeredAt := input.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = s.now()
	}
	patient := models.Patient{
		ID:           uuid.NewString(),
		ClinicID:     input.ClinicID,
		TokenNumber:  number,
		Name:         input.Name,
		Phone:        input.Phone,
		Status:       models.StatusWaiting,
		RegisteredAt: registeredAt,
	}
	s.tokens[input.ClinicID] = append(s.tokens[input.ClinicID], patient)
	if err := s.appendEvent(patient, "token.created"); err != nil {
		s.mu.Unlock()
		return models.Patient{}, fmt.Errorf("%w: %v", store.ErrStoreWriteFailed, err)
	}
	notify := s.listeners(input.ClinicID)
	s.mu.Unlock()

	dispatch(notify)
	return patient, nil
}

func (s *Store) UpdateTokenStatus(ctx context.Context, input store.UpdateStatusInput) (models.Patient, error) {
	if err := ctx.Err(); err != nil {
		return models.Patient{}, fmt.Errorf("%w: %v", store.ErrStoreWriteFailed, err)
	}
	if input.ClinicID == "" || input.PatientID == "" {
		return models.Patient{}, store.ErrInvalidInput
	}

	s.mu.Lock()
	tokens := s.tokens[input.ClinicID]
	index := -1
	for i := range tokens {
		if tokens[i].ID == input.PatientID {
			index = i
			break
		}
	}
	if index < 0 {
		s.mu.Unlock()
		return models.Patient{}, store.ErrTokenNotFound
	}
	if !store.ValidStatusChange(tokens[index].Status, input.Status) {
		s.mu.Unlock()
		return models.Patient{}, store.ErrInvalidState
	}

	updated := tokens[index]
	updated.Status = input.Status
	updated.CabinID = copyString(input.CabinID)
	updated.DoctorID = copyString(input.DoctorID)
	tokens[index] = updated
	if err := s.appendEvent(updated, store.EventTypeFor(input.Status)); err != nil {
		s.mu.Unlock()
		return models.Patient{}, fmt.Errorf("%w: %v", store.ErrStoreWriteFailed, err)
	}
	notify := s.listeners(input.ClinicID)
	s.mu.Unlock()

	dispatch(notify)
	return updated, nil
}

func (s *Store) DeleteAllTokens(ctx context.Context, clinicID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrStoreWriteFailed, err)
	}
	s.mu.Lock()
	for _, patient := range s.tokens[clinicID] {
		delete(s.events, patient.ID)
	}
	delete(s.tokens, clinicID)
	delete(s.counters, clinicID)
	notify := s.listeners(clinicID)
	s.mu.Unlock()

	dispatch(notify)
	return nil
}

// SubscribeToChanges registers onChange for the clinic. The subscription
// ends when the returned func is called or ctx is done.
func (s *Store) SubscribeToChanges(ctx context.Context, clinicID string, onChange func()) (func(), error) {
	if onChange == nil {
		return nil, store.ErrInvalidInput
	}
	id := uuid.NewString()
	s.mu.Lock()
	if s.subscribers[clinicID] == nil {
		s.subscribers[clinicID] = make(map[string]func())
	}
	s.subscribers[clinicID][id] = onChange
	s.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			delete(s.subscribers[clinicID], id)
			if len(s.subscribers[clinicID]) == 0 {
				delete(s.subscribers, clinicID)
			}
			s.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
	return unsubscribe, nil
}

func (s *Store) ListTokenEvents(ctx context.Context, clinicID, patientID string) ([]store.TokenEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := findToken(s.tokens[clinicID], patientID); !ok {
		return nil, store.ErrTokenNotFound
	}
	events := make([]store.TokenEvent, len(s.events[patientID]))
	copy(events, s.events[patientID])
	return events, nil
}

// SubscriberCount is used by tests to check that subscriptions are released.
func (s *Store) SubscriberCount(clinicID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[clinicID])
}

func (s *Store) appendEvent(patient models.Patient, eventType string) error {
	payload, err := store.TokenEventPayload(patient)
	if err != nil {
		return err
	}
	trail := s.events[patient.ID]
	var prev *store.TokenEvent
	if len(trail) > 0 {
		prev = &trail[len(trail)-1]
	}
	s.events[patient.ID] = append(trail, store.NextTokenEvent(prev, patient.ID, eventType, payload, s.now()))
	return nil
}

func (s *Store) listeners(clinicID string) []func() {
	var out []func()
	for _, fn := range s.subscribers[clinicID] {
		out = append(out, fn)
	}
	return out
}

func dispatch(listeners []func()) {
	for _, fn := range listeners {
		go fn()
	}
}

func findToken(tokens []models.Patient, patientID string) (models.Patient, bool) {
	for _, token := range tokens {
		if token.ID == patientID {
			return token, true
		}
	}
	return models.Patient{}, false
}

func copyString(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	return models.StringPtr(*value)
}
