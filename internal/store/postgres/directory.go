package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"meditoken/internal/models"
	"meditoken/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tenantColumns = "id, name, address, phone, email, city, state, pincode, specialties, operation_timings, is_token_based, is_appointment_based, allow_media_access, created_at"

func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name ASC`)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, readError(err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	return tenants, nil
}

func (s *Store) GetTenant(ctx context.Context, clinicID string) (models.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, clinicID)
	tenant, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Tenant{}, store.ErrTenantNotFound
		}
		return models.Tenant{}, readError(err)
	}
	return tenant, nil
}

func (s *Store) SaveTenant(ctx context.Context, tenant models.Tenant) (models.Tenant, error) {
	tenant.Name = strings.TrimSpace(tenant.Name)
	if tenant.Name == "" {
		return models.Tenant{}, store.ErrInvalidInput
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	specialties, err := json.Marshal(nonNilStrings(tenant.Specialties))
	if err != nil {
		return models.Tenant{}, store.ErrInvalidInput
	}
	timings, err := json.Marshal(nonNilTimings(tenant.OperationTimings))
	if err != nil {
		return models.Tenant{}, store.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			pincode = EXCLUDED.pincode,
			specialties = EXCLUDED.specialties,
			operation_timings = EXCLUDED.operation_timings,
			is_token_based = EXCLUDED.is_token_based,
			is_appointment_based = EXCLUDED.is_appointment_based,
			allow_media_access = EXCLUDED.allow_media_access
		RETURNING `+tenantColumns,
		tenant.ID, tenant.Name, tenant.Address, tenant.Phone, tenant.Email, tenant.City, tenant.State, tenant.Pincode,
		specialties, timings, tenant.IsTokenBased, tenant.IsAppointmentBased, tenant.AllowMediaAccess, tenant.CreatedAt)
	saved, err := scanTenant(row)
	if err != nil {
		return models.Tenant{}, writeError(err)
	}
	return saved, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, mobile, email, specialization, verification_status, source, created_at
		FROM doctors
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	doctors := []models.Doctor{}
	for rows.Next() {
		var doctor models.Doctor
		if err := rows.Scan(&doctor.ID, &doctor.Name, &doctor.Mobile, &doctor.Email, &doctor.Specialization, &doctor.VerificationStatus, &doctor.Source, &doctor.CreatedAt); err != nil {
			return nil, readError(err)
		}
		doctors = append(doctors, doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	return doctors, nil
}

func (s *Store) SaveDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error) {
	doctor.Name = strings.TrimSpace(doctor.Name)
	if doctor.Name == "" {
		return models.Doctor{}, store.ErrInvalidInput
	}
	if doctor.VerificationStatus == "" {
		doctor.VerificationStatus = models.VerificationUnverified
	}
	if !models.ValidVerificationStatus(doctor.VerificationStatus) {
		return models.Doctor{}, store.ErrInvalidInput
	}
	if doctor.ID == "" {
		doctor.ID = uuid.NewString()
	}
	if doctor.CreatedAt.IsZero() {
		doctor.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, mobile, email, specialization, verification_status, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			mobile = EXCLUDED.mobile,
			email = EXCLUDED.email,
			specialization = EXCLUDED.specialization,
			verification_status = EXCLUDED.verification_status,
			source = EXCLUDED.source
	`, doctor.ID, doctor.Name, doctor.Mobile, doctor.Email, doctor.Specialization, doctor.VerificationStatus, doctor.Source, doctor.CreatedAt)
	if err != nil {
		return models.Doctor{}, writeError(err)
	}
	return doctor, nil
}

func (s *Store) ListAssistants(ctx context.Context) ([]models.Assistant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, mobile, email, verification_status, source, created_at
		FROM assistants
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	assistants := []models.Assistant{}
	for rows.Next() {
		var assistant models.Assistant
		if err := rows.Scan(&assistant.ID, &assistant.Name, &assistant.Mobile, &assistant.Email, &assistant.VerificationStatus, &assistant.Source, &assistant.CreatedAt); err != nil {
			return nil, readError(err)
		}
		assistants = append(assistants, assistant)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	return assistants, nil
}

func (s *Store) SaveAssistant(ctx context.Context, assistant models.Assistant) (models.Assistant, error) {
	assistant.Name = strings.TrimSpace(assistant.Name)
	if assistant.Name == "" {
		return models.Assistant{}, store.ErrInvalidInput
	}
	if assistant.VerificationStatus == "" {
		assistant.VerificationStatus = models.VerificationUnverified
	}
	if !models.ValidVerificationStatus(assistant.VerificationStatus) {
		return models.Assistant{}, store.ErrInvalidInput
	}
	if assistant.ID == "" {
		assistant.ID = uuid.NewString()
	}
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO assistants (id, name, mobile, email, verification_status, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			mobile = EXCLUDED.mobile,
			email = EXCLUDED.email,
			verification_status = EXCLUDED.verification_status,
			source = EXCLUDED.source
	`, assistant.ID, assistant.Name, assistant.Mobile, assistant.Email, assistant.VerificationStatus, assistant.Source, assistant.CreatedAt)
	if err != nil {
		return models.Assistant{}, writeError(err)
	}
	return assistant, nil
}

func (s *Store) ListDoctorMappings(ctx context.Context, clinicID string) ([]models.DoctorClinicMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, doctor_id, clinic_id, doctor_type, timings, status, created_at
		FROM doctor_clinic_mappings
		WHERE clinic_id = $1
		ORDER BY created_at ASC
	`, clinicID)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	var mappings []models.DoctorClinicMapping
	for rows.Next() {
		var mapping models.DoctorClinicMapping
		var timings []byte
		if err := rows.Scan(&mapping.ID, &mapping.DoctorID, &mapping.ClinicID, &mapping.DoctorType, &timings, &mapping.Status, &mapping.CreatedAt); err != nil {
			return nil, readError(err)
		}
		if err := json.Unmarshal(timings, &mapping.Timings); err != nil {
			return nil, readError(err)
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	return mappings, nil
}

// SaveDoctorMapping upserts on (doctor_id, clinic_id). Unknown doctors or
// clinics surface through the foreign keys.
func (s *Store) SaveDoctorMapping(ctx context.Context, mapping models.DoctorClinicMapping) (models.DoctorClinicMapping, error) {
	if mapping.DoctorID == "" || mapping.ClinicID == "" {
		return models.DoctorClinicMapping{}, store.ErrInvalidInput
	}
	if mapping.Status == "" {
		mapping.Status = models.MappingActive
	}
	if mapping.DoctorType == "" {
		mapping.DoctorType = models.DoctorConsulting
	}
	if !models.ValidMappingStatus(mapping.Status) || !models.ValidDoctorType(mapping.DoctorType) {
		return models.DoctorClinicMapping{}, store.ErrInvalidInput
	}
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	timings, err := json.Marshal(nonNilTimings(mapping.Timings))
	if err != nil {
		return models.DoctorClinicMapping{}, store.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO doctor_clinic_mappings (id, doctor_id, clinic_id, doctor_type, timings, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (doctor_id, clinic_id) DO UPDATE SET
			doctor_type = EXCLUDED.doctor_type,
			timings = EXCLUDED.timings,
			status = EXCLUDED.status
		RETURNING id, created_at
	`, mapping.ID, mapping.DoctorID, mapping.ClinicID, mapping.DoctorType, timings, mapping.Status, time.Now().UTC())
	if err := row.Scan(&mapping.ID, &mapping.CreatedAt); err != nil {
		switch constraintName(err) {
		case "doctor_clinic_mappings_doctor_id_fkey":
			return models.DoctorClinicMapping{}, store.ErrDoctorNotFound
		case "doctor_clinic_mappings_clinic_id_fkey":
			return models.DoctorClinicMapping{}, store.ErrTenantNotFound
		}
		return models.DoctorClinicMapping{}, writeError(err)
	}
	return mapping, nil
}

func (s *Store) ListAssistantMappings(ctx context.Context, clinicID string) ([]models.AssistantClinicMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, assistant_id, clinic_id, timings, status, created_at
		FROM assistant_clinic_mappings
		WHERE clinic_id = $1
		ORDER BY created_at ASC
	`, clinicID)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	var mappings []models.AssistantClinicMapping
	for rows.Next() {
		var mapping models.AssistantClinicMapping
		var timings []byte
		if err := rows.Scan(&mapping.ID, &mapping.AssistantID, &mapping.ClinicID, &timings, &mapping.Status, &mapping.CreatedAt); err != nil {
			return nil, readError(err)
		}
		if err := json.Unmarshal(timings, &mapping.Timings); err != nil {
			return nil, readError(err)
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	return mappings, nil
}

func (s *Store) SaveAssistantMapping(ctx context.Context, mapping models.AssistantClinicMapping) (models.AssistantClinicMapping, error) {
	if mapping.AssistantID == "" || mapping.ClinicID == "" {
		return models.AssistantClinicMapping{}, store.ErrInvalidInput
	}
	if mapping.Status == "" {
		mapping.Status = models.MappingActive
	}
	if !models.ValidMappingStatus(mapping.Status) {
		return models.AssistantClinicMapping{}, store.ErrInvalidInput
	}
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	timings, err := json.Marshal(nonNilTimings(mapping.Timings))
	if err != nil {
		return models.AssistantClinicMapping{}, store.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO assistant_clinic_mappings (id, assistant_id, clinic_id, timings, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (assistant_id, clinic_id) DO UPDATE SET
			timings = EXCLUDED.timings,
			status = EXCLUDED.status
		RETURNING id, created_at
	`, mapping.ID, mapping.AssistantID, mapping.ClinicID, timings, mapping.Status, time.Now().UTC())
	if err := row.Scan(&mapping.ID, &mapping.CreatedAt); err != nil {
		switch constraintName(err) {
		case "assistant_clinic_mappings_assistant_id_fkey":
			return models.AssistantClinicMapping{}, store.ErrInvalidInput
		case "assistant_clinic_mappings_clinic_id_fkey":
			return models.AssistantClinicMapping{}, store.ErrTenantNotFound
		}
		return models.AssistantClinicMapping{}, writeError(err)
	}
	return mapping, nil
}

// ListCabins returns the stored layout in position order, or the default
// four cabins when the clinic has never saved one.
func (s *Store) ListCabins(ctx context.Context, clinicID string) ([]models.Cabin, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, current_doctor_id, current_patient_id
		FROM cabins
		WHERE clinic_id = $1
		ORDER BY position ASC
	`, clinicID)
	if err != nil {
		return nil, readError(err)
	}
	defer rows.Close()

	var cabins []models.Cabin
	for rows.Next() {
		var cabin models.Cabin
		if err := rows.Scan(&cabin.ID, &cabin.Name, &cabin.CurrentDoctorID, &cabin.CurrentPatientID); err != nil {
			return nil, readError(err)
		}
		cabins = append(cabins, cabin)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	if len(cabins) == 0 {
		return store.DefaultCabins(), nil
	}
	return cabins, nil
}

// SaveCabins replaces the clinic's whole cabin layout.
func (s *Store) SaveCabins(ctx context.Context, clinicID string, cabins []models.Cabin) error {
	if clinicID == "" {
		return store.ErrInvalidInput
	}
	for _, cabin := range cabins {
		if cabin.ID == "" {
			return store.ErrInvalidInput
		}
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

	if _, err = tx.Exec(ctx, `DELETE FROM cabins WHERE clinic_id = $1`, clinicID); err != nil {
		return writeError(err)
	}
	batch := &pgx.Batch{}
	for i, cabin := range cabins {
		batch.Queue(`
			INSERT INTO cabins (clinic_id, id, name, position, current_doctor_id, current_patient_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, clinicID, cabin.ID, cabin.Name, i, nullIfEmptyPtr(cabin.CurrentDoctorID), nullIfEmptyPtr(cabin.CurrentPatientID))
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return writeError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return writeError(err)
	}
	return nil
}

func (s *Store) GetStaffAccount(ctx context.Context, login string) (models.StaffAccount, error) {
	var account models.StaffAccount
	row := s.pool.QueryRow(ctx, `
		SELECT login, password_hash, role, clinic_id, staff_id
		FROM staff_accounts
		WHERE login = $1
	`, strings.ToLower(strings.TrimSpace(login)))
	if err := row.Scan(&account.Login, &account.PasswordHash, &account.Role, &account.ClinicID, &account.StaffID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.StaffAccount{}, store.ErrAccountNotFound
		}
		return models.StaffAccount{}, readError(err)
	}
	return account, nil
}

func (s *Store) SaveStaffAccount(ctx context.Context, account models.StaffAccount) error {
	account.Login = strings.ToLower(strings.TrimSpace(account.Login))
	if account.Login == "" || account.PasswordHash == "" {
		return store.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staff_accounts (login, password_hash, role, clinic_id, staff_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (login) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role,
			clinic_id = EXCLUDED.clinic_id,
			staff_id = EXCLUDED.staff_id
	`, account.Login, account.PasswordHash, account.Role, account.ClinicID, account.StaffID)
	if err != nil {
		return writeError(err)
	}
	return nil
}

func scanTenant(row pgx.Row) (models.Tenant, error) {
	var tenant models.Tenant
	var specialties, timings []byte
	if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.Address, &tenant.Phone, &tenant.Email, &tenant.City, &tenant.State, &tenant.Pincode,
		&specialties, &timings, &tenant.IsTokenBased, &tenant.IsAppointmentBased, &tenant.AllowMediaAccess, &tenant.CreatedAt); err != nil {
		return models.Tenant{}, err
	}
	if err := json.Unmarshal(specialties, &tenant.Specialties); err != nil {
		return models.Tenant{}, err
	}
	if err := json.Unmarshal(timings, &tenant.OperationTimings); err != nil {
		return models.Tenant{}, err
	}
	return tenant, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilTimings(values []models.OperationTime) []models.OperationTime {
	if values == nil {
		return []models.OperationTime{}
	}
	return values
}
