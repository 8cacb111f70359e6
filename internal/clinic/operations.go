package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meditoken/internal/models"
	"meditoken/internal/queue"
	"meditoken/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

// CallResult reports the tokens one doctor action moved.
type CallResult struct {
	CabinID   string          `json:"cabin_id"`
	Completed *models.Patient `json:"completed,omitempty"`
	Called    *models.Patient `json:"called,omitempty"`
}

// Register issues the next token for a walk-in. An empty name is taken from
// the latest visit with the same phone when there is one.
func (s *Service) Register(ctx context.Context, clinicID, name, phone string) (patient models.Patient, err error) {
	ctx, span := s.startSpan(ctx, "clinic.Register", clinicID)
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if err := queue.ValidatePhone(phone); err != nil {
		return models.Patient{}, err
	}

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return models.Patient{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if name == "" {
		known, ok := queue.KnownName(sess.snapshot.Patients, phone)
		if !ok {
			return models.Patient{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
		}
		name = known
	}

	input := store.InsertTokenInput{ClinicID: sess.clinicID, Name: name, Phone: phone}
	if s.options.LegacyTokenNumbering {
		patient, err = s.insertComputed(ctx, sess, input)
	} else {
		callCtx, cancel := s.storeContext(ctx)
		patient, err = s.tokens.InsertToken(callCtx, input)
		cancel()
	}
	if err != nil {
		s.logger.Error().Err(err).Str("clinic_id", sess.clinicID).Msg("token registration failed")
		return models.Patient{}, err
	}

	sess.snapshot.Patients = queue.ApplyUpdate(sess.snapshot.Patients, patient)
	sess.snapshot.LastTokenNumber = queue.LastTokenNumber(sess.snapshot.Patients)
	sess.notifyLocked()
	span.SetAttributes(attribute.Int("token.number", patient.TokenNumber))
	s.logger.Info().Str("clinic_id", sess.clinicID).Int("token_number", patient.TokenNumber).Msg("token registered")
	return patient, nil
}

// insertComputed numbers the token as lastTokenNumber+1 from the local
// snapshot. A collision with a concurrent registration is reported by the
// store as ErrDuplicateToken; the tokens are re-read and the insert retried.
func (s *Service) insertComputed(ctx context.Context, sess *session, input store.InsertTokenInput) (models.Patient, error) {
	var lastErr error
	for attempt := 0; attempt < s.options.RegisterRetries; attempt++ {
		input.TokenNumber = queue.LastTokenNumber(sess.snapshot.Patients) + 1
		callCtx, cancel := s.storeContext(ctx)
		patient, err := s.tokens.InsertToken(callCtx, input)
		cancel()
		if err == nil {
			return patient, nil
		}
		if !errors.Is(err, store.ErrDuplicateToken) {
			return models.Patient{}, err
		}
		lastErr = err
		s.logger.Warn().Str("clinic_id", sess.clinicID).Int("token_number", input.TokenNumber).Msg("token number taken, re-reading queue")
		if err := s.refreshLocked(ctx, sess); err != nil {
			return models.Patient{}, err
		}
	}
	return models.Patient{}, lastErr
}

// CallNext finishes the doctor's current patient and calls the head of the
// waiting queue into the doctor's cabin. With nobody waiting the cabin is
// left empty.
func (s *Service) CallNext(ctx context.Context, clinicID, doctorID string) (result CallResult, err error) {
	ctx, span := s.startSpan(ctx, "clinic.CallNext", clinicID, attribute.String("doctor.id", doctorID))
	defer func() { endSpan(span, err) }()

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return CallResult{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	plan, err := queue.PlanCallNext(sess.snapshot.Patients, sess.snapshot.Cabins, doctorID)
	if err != nil {
		return CallResult{}, err
	}
	result, err = s.applyPlan(ctx, sess, plan)
	if err == nil && result.Called == nil {
		sess.snapshot.Cabins = clearCabinPatient(sess.snapshot.Cabins, plan.CabinID)
	}
	if saveErr := s.saveCabinsLocked(ctx, sess); saveErr != nil && err == nil {
		err = saveErr
	}
	sess.notifyLocked()
	return result, err
}

// Complete finishes the doctor's current patient without calling anyone else.
func (s *Service) Complete(ctx context.Context, clinicID, doctorID string) (result CallResult, err error) {
	ctx, span := s.startSpan(ctx, "clinic.Complete", clinicID, attribute.String("doctor.id", doctorID))
	defer func() { endSpan(span, err) }()

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return CallResult{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	plan, err := queue.PlanComplete(sess.snapshot.Patients, sess.snapshot.Cabins, doctorID)
	if err != nil {
		return CallResult{}, err
	}
	result, err = s.applyPlan(ctx, sess, plan)
	if saveErr := s.saveCabinsLocked(ctx, sess); saveErr != nil && err == nil {
		err = saveErr
	}
	sess.notifyLocked()
	return result, err
}

// Cancel withdraws a waiting token.
func (s *Service) Cancel(ctx context.Context, clinicID, patientID string) (patient models.Patient, err error) {
	ctx, span := s.startSpan(ctx, "clinic.Cancel", clinicID, attribute.String("token.id", patientID))
	defer func() { endSpan(span, err) }()

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return models.Patient{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	update, err := queue.PlanCancel(sess.snapshot.Patients, patientID)
	if err != nil {
		return models.Patient{}, err
	}
	patient, err = s.persistUpdate(ctx, sess, update)
	if err != nil {
		return models.Patient{}, err
	}
	sess.notifyLocked()
	return patient, nil
}

// ClaimCabin seats the doctor in cabinID and vacates the doctor's previous
// cabin. A consultation the doctor left open follows them to the new cabin.
func (s *Service) ClaimCabin(ctx context.Context, clinicID, cabinID, doctorID string) (cabins []models.Cabin, err error) {
	ctx, span := s.startSpan(ctx, "clinic.ClaimCabin", clinicID, attribute.String("cabin.id", cabinID), attribute.String("doctor.id", doctorID))
	defer func() { endSpan(span, err) }()

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !hasDoctor(sess.snapshot.Doctors, doctorID) {
		return nil, store.ErrDoctorNotFound
	}
	claimed, err := queue.ClaimCabin(sess.snapshot.Cabins, doctorID, cabinID)
	if err != nil {
		return nil, err
	}
	if current, ok := queue.CurrentPatient(sess.snapshot.Patients, claimed, doctorID); ok {
		claimed = queue.ApplyStatus(claimed, queue.StatusUpdate{
			PatientID: current.ID,
			Status:    models.StatusInProgress,
			CabinID:   models.StringPtr(cabinID),
		})
	}

	if err := s.persistCabins(ctx, sess, claimed); err != nil {
		return nil, err
	}
	sess.notifyLocked()
	s.logger.Info().Str("clinic_id", sess.clinicID).Str("cabin_id", cabinID).Str("doctor_id", doctorID).Msg("cabin claimed")
	return queue.CloneCabins(sess.snapshot.Cabins), nil
}

// ReleaseCabin frees the doctor's cabin. The patient being seen stays
// IN_PROGRESS with the doctor.
func (s *Service) ReleaseCabin(ctx context.Context, clinicID, doctorID string) (cabins []models.Cabin, err error) {
	ctx, span := s.startSpan(ctx, "clinic.ReleaseCabin", clinicID, attribute.String("doctor.id", doctorID))
	defer func() { endSpan(span, err) }()

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	released, ok := queue.ReleaseCabin(sess.snapshot.Cabins, doctorID)
	if !ok {
		return nil, store.ErrNoActiveCabin
	}
	if err := s.persistCabins(ctx, sess, released); err != nil {
		return nil, err
	}
	sess.notifyLocked()
	return queue.CloneCabins(sess.snapshot.Cabins), nil
}

// UpdateCabins replaces the cabin layout. Occupancy of cabins that keep
// their id is carried over; input occupancy is ignored.
func (s *Service) UpdateCabins(ctx context.Context, clinicID string, layout []models.Cabin) (cabins []models.Cabin, err error) {
	ctx, span := s.startSpan(ctx, "clinic.UpdateCabins", clinicID)
	defer func() { endSpan(span, err) }()

	seen := map[string]bool{}
	for _, cabin := range layout {
		id := strings.TrimSpace(cabin.ID)
		if id == "" || strings.TrimSpace(cabin.Name) == "" || seen[id] {
			return nil, fmt.Errorf("%w: cabins need unique ids and names", store.ErrInvalidInput)
		}
		seen[id] = true
	}

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	next := make([]models.Cabin, 0, len(layout))
	for _, cabin := range layout {
		entry := models.Cabin{ID: strings.TrimSpace(cabin.ID), Name: strings.TrimSpace(cabin.Name)}
		if existing, ok := queue.FindCabin(sess.snapshot.Cabins, entry.ID); ok {
			entry.CurrentDoctorID = existing.CurrentDoctorID
			entry.CurrentPatientID = existing.CurrentPatientID
		}
		next = append(next, entry)
	}
	if err := s.persistCabins(ctx, sess, queue.CloneCabins(next)); err != nil {
		return nil, err
	}
	sess.notifyLocked()
	return queue.CloneCabins(sess.snapshot.Cabins), nil
}

// ResetQueue deletes every token of the clinic; the next registration is
// token 1. Cabins keep their doctors but lose their patients.
func (s *Service) ResetQueue(ctx context.Context, clinicID string) (err error) {
	ctx, span := s.startSpan(ctx, "clinic.ResetQueue", clinicID)
	defer func() { endSpan(span, err) }()

	sess, err := s.acquire(ctx, clinicID)
	if err != nil {
		return err
	}
	defer s.release(sess)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	callCtx, cancel := s.storeContext(ctx)
	err = s.tokens.DeleteAllTokens(callCtx, sess.clinicID)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Str("clinic_id", sess.clinicID).Msg("queue reset failed")
		return err
	}
	sess.snapshot.Patients = []models.Patient{}
	sess.snapshot.LastTokenNumber = 0

	cleared := queue.CloneCabins(sess.snapshot.Cabins)
	dirty := false
	for i := range cleared {
		if cleared[i].CurrentPatientID != nil {
			cleared[i].CurrentPatientID = nil
			dirty = true
		}
	}
	if dirty {
		err = s.persistCabins(ctx, sess, cleared)
	}
	sess.notifyLocked()
	s.logger.Info().Str("clinic_id", sess.clinicID).Msg("queue reset")
	return err
}

// History lists the clinic's visits for a phone number, newest first.
func (s *Service) History(ctx context.Context, clinicID, phone string) ([]models.Patient, error) {
	snapshot, err := s.Snapshot(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return queue.History(snapshot.Patients, phone), nil
}

func (s *Service) Display(ctx context.Context, clinicID string) (queue.Board, error) {
	snapshot, err := s.Snapshot(ctx, clinicID)
	if err != nil {
		return queue.Board{}, err
	}
	return queue.DisplayBoard(snapshot), nil
}

// TokenEvents returns a token's audit trail after checking its hash chain.
func (s *Service) TokenEvents(ctx context.Context, clinicID, patientID string) ([]store.TokenEvent, error) {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	events, err := s.tokens.ListTokenEvents(callCtx, clinicID, patientID)
	if err != nil {
		return nil, err
	}
	if err := store.VerifyTokenEvents(events); err != nil {
		s.logger.Error().Err(err).Str("clinic_id", clinicID).Str("token_id", patientID).Msg("token event chain broken")
		return events, err
	}
	return events, nil
}

// applyPlan persists updates in order and stops at the first failure;
// updates already written stay applied to the snapshot.
func (s *Service) applyPlan(ctx context.Context, sess *session, plan queue.Plan) (CallResult, error) {
	result := CallResult{CabinID: plan.CabinID}
	for _, update := range plan.Updates {
		patient, err := s.persistUpdate(ctx, sess, update)
		if err != nil {
			return result, err
		}
		switch patient.Status {
		case models.StatusCompleted:
			result.Completed = &patient
		case models.StatusInProgress:
			result.Called = &patient
		}
	}
	return result, nil
}

func (s *Service) persistUpdate(ctx context.Context, sess *session, update queue.StatusUpdate) (models.Patient, error) {
	callCtx, cancel := s.storeContext(ctx)
	patient, err := s.tokens.UpdateTokenStatus(callCtx, store.UpdateStatusInput{
		ClinicID:  sess.clinicID,
		PatientID: update.PatientID,
		Status:    update.Status,
		CabinID:   update.CabinID,
		DoctorID:  update.DoctorID,
	})
	cancel()
	if err != nil {
		s.logger.Error().Err(err).
			Str("clinic_id", sess.clinicID).
			Str("token_id", update.PatientID).
			Str("status", update.Status).
			Msg("token status update failed")
		return models.Patient{}, err
	}
	sess.snapshot.Patients = queue.ApplyUpdate(sess.snapshot.Patients, patient)
	sess.snapshot.Cabins = queue.ApplyStatus(sess.snapshot.Cabins, update)
	return patient, nil
}

func (s *Service) persistCabins(ctx context.Context, sess *session, cabins []models.Cabin) error {
	callCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.directory.SaveCabins(callCtx, sess.clinicID, cabins); err != nil {
		s.logger.Error().Err(err).Str("clinic_id", sess.clinicID).Msg("cabin save failed")
		return err
	}
	sess.snapshot.Cabins = cabins
	return nil
}

func (s *Service) saveCabinsLocked(ctx context.Context, sess *session) error {
	return s.persistCabins(ctx, sess, queue.CloneCabins(sess.snapshot.Cabins))
}

func clearCabinPatient(cabins []models.Cabin, cabinID string) []models.Cabin {
	out := queue.CloneCabins(cabins)
	for i := range out {
		if out[i].ID == cabinID {
			out[i].CurrentPatientID = nil
		}
	}
	return out
}

func hasDoctor(doctors []models.Doctor, doctorID string) bool {
	for _, doctor := range doctors {
		if doctor.ID == doctorID {
			return true
		}
	}
	return false
}
