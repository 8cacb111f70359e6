package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"meditoken/internal/models"
	"meditoken/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const tokenColumns = "id, clinic_id, token_number, name, phone, status, cabin_id, doctor_id, created_at"

type Store struct {
	pool     *pgxpool.Pool
	listener *Listener
	logger   zerolog.Logger
}

type Options struct {
	Logger zerolog.Logger
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	return &Store{
		pool:     pool,
		listener: NewListener(pool, options.Logger),
		logger:   options.Logger,
	}
}

// Close stops the change listener. The pool is owned by the caller.
func (s *Store) Close() {
	s.listener.Close()
}

func (s *Store) ListTokens(ctx context.Context, clinicID string) ([]models.Patient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE clinic_id = $1
		ORDER BY token_number ASC
	`, clinicID)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	patients := []models.Patient{}
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, readError(err)
		}
		patients = append(patients, patient)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	return patients, nil
}

// InsertToken stores a WAITING token. With TokenNumber zero the number comes
// from the clinic counter row, which serializes concurrent registrations.
// A caller-supplied number is checked by the (clinic_id, token_number) key.
func (s *Store) InsertToken(ctx context.Context, input store.InsertTokenInput) (models.Patient, error) {
	input.ClinicID = strings.TrimSpace(input.ClinicID)
	input.Name = strings.TrimSpace(input.Name)
	if input.ClinicID == "" || input.Name == "" || input.TokenNumber < 0 {
		return models.Patient{}, store.ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Patient{}, writeError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	number := input.TokenNumber
	if number == 0 {
		number, err = nextTokenNumber(ctx, tx, input.ClinicID)
	} else {
		err = raiseTokenCounter(ctx, tx, input.ClinicID, number)
	}
	if err != nil {
		return models.Patient{}, writeError(err)
	}

	registeredAt := input.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tokens (id, clinic_id, token_number, name, phone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+tokenColumns,
		uuid.NewString(), input.ClinicID, number, input.Name, input.Phone, models.StatusWaiting, registeredAt)
	var patient models.Patient
	if patient, err = scanPatient(row); err != nil {
		return models.Patient{}, writeError(err)
	}

	if err = insertTokenEvent(ctx, tx, patient, "token.created"); err != nil {
		return models.Patient{}, writeError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Patient{}, writeError(err)
	}
	return patient, nil
}

func (s *Store) UpdateTokenStatus(ctx context.Context, input store.UpdateStatusInput) (models.Patient, error) {
	if input.ClinicID == "" || input.PatientID == "" {
		return models.Patient{}, store.ErrInvalidInput
	}
	if _, err := uuid.Parse(input.PatientID); err != nil {
		return models.Patient{}, store.ErrTokenNotFound
	}
	action, ok := store.ActionFor(input.Status)
	if !ok {
		return models.Patient{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Patient{}, writeError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	fromStatus, exists, err := loadTokenStatus(ctx, tx, input.ClinicID, input.PatientID)
	if err != nil {
		return models.Patient{}, writeError(err)
	}
	if !exists {
		err = store.ErrTokenNotFound
		return models.Patient{}, err
	}
	if !store.ValidTransition(action, fromStatus) {
		err = store.ErrInvalidState
		return models.Patient{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE tokens
		SET status = $1, cabin_id = $2, doctor_id = $3, updated_at = $4
		WHERE id = $5 AND clinic_id = $6 AND status = $7
		RETURNING `+tokenColumns,
		input.Status, nullIfEmptyPtr(input.CabinID), nullIfEmptyPtr(input.DoctorID), time.Now().UTC(),
		input.PatientID, input.ClinicID, fromStatus)
	var patient models.Patient
	if patient, err = scanPatient(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidState
			return models.Patient{}, err
		}
		return models.Patient{}, writeError(err)
	}

	if err = insertTokenEvent(ctx, tx, patient, store.EventTypeFor(input.Status)); err != nil {
		return models.Patient{}, writeError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Patient{}, writeError(err)
	}
	return patient, nil
}

// DeleteAllTokens clears the clinic's tokens and its counter in one
// transaction, so the next issued number is 1.
func (s *Store) DeleteAllTokens(ctx context.Context, clinicID string) error {
	if clinicID == "" {
		return store.ErrInvalidInput
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return writeError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM tokens WHERE clinic_id = $1`, clinicID); err != nil {
		return writeError(err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM token_counters WHERE clinic_id = $1`, clinicID); err != nil {
		return writeError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return writeError(err)
	}
	return nil
}

func (s *Store) SubscribeToChanges(ctx context.Context, clinicID string, onChange func()) (func(), error) {
	if onChange == nil || clinicID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.listener.Subscribe(ctx, clinicID, onChange), nil
}

func (s *Store) ListTokenEvents(ctx context.Context, clinicID, patientID string) ([]store.TokenEvent, error) {
	if _, err := uuid.Parse(patientID); err != nil {
		return nil, store.ErrTokenNotFound
	}
	rows, err := s.pool.Query(ctx, `
		SELECT e.token_id, e.token_seq, e.type, e.payload, e.created_at, e.prev_hash, e.hash
		FROM token_events e
		JOIN tokens t ON t.id = e.token_id
		WHERE t.clinic_id = $1 AND e.token_id = $2
		ORDER BY e.token_seq ASC
	`, clinicID, patientID)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	var events []store.TokenEvent
	for rows.Next() {
		var event store.TokenEvent
		if err := rows.Scan(&event.TokenID, &event.TokenSeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, readError(err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	if len(events) == 0 {
		return nil, store.ErrTokenNotFound
	}
	return events, nil
}

func nextTokenNumber(ctx context.Context, tx pgx.Tx, clinicID string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO token_counters (clinic_id, last_number)
		VALUES ($1, (SELECT COALESCE(MAX(token_number), 0) + 1 FROM tokens WHERE clinic_id = $1))
		ON CONFLICT (clinic_id)
		DO UPDATE SET last_number = token_counters.last_number + 1
		RETURNING last_number
	`, clinicID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func raiseTokenCounter(ctx context.Context, tx pgx.Tx, clinicID string, number int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO token_counters (clinic_id, last_number)
		VALUES ($1, $2)
		ON CONFLICT (clinic_id)
		DO UPDATE SET last_number = GREATEST(token_counters.last_number, EXCLUDED.last_number)
	`, clinicID, number)
	return err
}

func insertTokenEvent(ctx context.Context, tx pgx.Tx, patient models.Patient, eventType string) error {
	payload, err := store.TokenEventPayload(patient)
	if err != nil {
		return err
	}

	var prev *store.TokenEvent
	var last store.TokenEvent
	row := tx.QueryRow(ctx, `
		SELECT token_seq, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY token_seq DESC
		LIMIT 1
		FOR UPDATE
	`, patient.ID)
	if err := row.Scan(&last.TokenSeq, &last.Hash); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	} else {
		prev = &last
	}

	event := store.NextTokenEvent(prev, patient.ID, eventType, payload, time.Now().UTC())
	_, err = tx.Exec(ctx, `
		INSERT INTO token_events (token_id, token_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.TokenID, event.TokenSeq, event.Type, []byte(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func loadTokenStatus(ctx context.Context, tx pgx.Tx, clinicID, patientID string) (string, bool, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM tokens
		WHERE id = $1 AND clinic_id = $2
		FOR UPDATE
	`, patientID, clinicID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func scanPatient(row pgx.Row) (models.Patient, error) {
	var patient models.Patient
	var cabinIDNull sql.NullString
	var doctorIDNull sql.NullString
	if err := row.Scan(&patient.ID, &patient.ClinicID, &patient.TokenNumber, &patient.Name, &patient.Phone, &patient.Status, &cabinIDNull, &doctorIDNull, &patient.RegisteredAt); err != nil {
		return models.Patient{}, err
	}
	patient.CabinID = nullStringPtr(cabinIDNull)
	patient.DoctorID = nullStringPtr(doctorIDNull)
	patient.RegisteredAt = patient.RegisteredAt.UTC()
	return patient, nil
}

func nullIfEmptyPtr(value *string) interface{} {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
