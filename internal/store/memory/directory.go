package memory

import (
	"context"
	"sort"
	"strings"

	"meditoken/internal/models"
	"meditoken/internal/queue"
	"meditoken/internal/store"

	"github.com/google/uuid"
)

func (s *Store) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenants := make([]models.Tenant, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		tenants = append(tenants, tenant)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].Name < tenants[j].Name })
	return tenants, nil
}

func (s *Store) GetTenant(ctx context.Context, clinicID string) (models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[clinicID]
	if !ok {
		return models.Tenant{}, store.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Store) SaveTenant(ctx context.Context, tenant models.Tenant) (models.Tenant, error) {
	tenant.Name = strings.TrimSpace(tenant.Name)
	if tenant.Name == "" {
		return models.Tenant{}, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if existing, ok := s.tenants[tenant.ID]; ok && tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = existing.CreatedAt
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = s.now()
	}
	s.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doctors := make([]models.Doctor, 0, len(s.doctors))
	for _, doctor := range s.doctors {
		doctors = append(doctors, doctor)
	}
	sort.Slice(doctors, func(i, j int) bool { return doctors[i].Name < doctors[j].Name })
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if doctor.ID == "" {
		doctor.ID = uuid.NewString()
	}
	if doctor.CreatedAt.IsZero() {
		doctor.CreatedAt = s.now()
	}
	s.doctors[doctor.ID] = doctor
	return doctor, nil
}

func (s *Store) ListAssistants(ctx context.Context) ([]models.Assistant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assistants := make([]models.Assistant, 0, len(s.assistants))
	for _, assistant := range s.assistants {
		assistants = append(assistants, assistant)
	}
	sort.Slice(assistants, func(i, j int) bool { return assistants[i].Name < assistants[j].Name })
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if assistant.ID == "" {
		assistant.ID = uuid.NewString()
	}
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = s.now()
	}
	s.assistants[assistant.ID] = assistant
	return assistant, nil
}

func (s *Store) ListDoctorMappings(ctx context.Context, clinicID string) ([]models.DoctorClinicMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mappings []models.DoctorClinicMapping
	for _, mapping := range s.doctorMappings {
		if mapping.ClinicID == clinicID {
			mappings = append(mappings, mapping)
		}
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].CreatedAt.Before(mappings[j].CreatedAt) })
	return mappings, nil
}

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
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doctors[mapping.DoctorID]; !ok {
		return models.DoctorClinicMapping{}, store.ErrDoctorNotFound
	}
	if _, ok := s.tenants[mapping.ClinicID]; !ok {
		return models.DoctorClinicMapping{}, store.ErrTenantNotFound
	}
	if mapping.ID == "" {
		for id, existing := range s.doctorMappings {
			if existing.DoctorID == mapping.DoctorID && existing.ClinicID == mapping.ClinicID {
				mapping.ID = id
				mapping.CreatedAt = existing.CreatedAt
			}
		}
	}
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = s.now()
	}
	s.doctorMappings[mapping.ID] = mapping
	return mapping, nil
}

func (s *Store) ListAssistantMappings(ctx context.Context, clinicID string) ([]models.AssistantClinicMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mappings []models.AssistantClinicMapping
	for _, mapping := range s.assistantMappings {
		if mapping.ClinicID == clinicID {
			mappings = append(mappings, mapping)
		}
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].CreatedAt.Before(mappings[j].CreatedAt) })
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assistants[mapping.AssistantID]; !ok {
		return models.AssistantClinicMapping{}, store.ErrInvalidInput
	}
	if _, ok := s.tenants[mapping.ClinicID]; !ok {
		return models.AssistantClinicMapping{}, store.ErrTenantNotFound
	}
	if mapping.ID == "" {
		for id, existing := range s.assistantMappings {
			if existing.AssistantID == mapping.AssistantID && existing.ClinicID == mapping.ClinicID {
				mapping.ID = id
				mapping.CreatedAt = existing.CreatedAt
			}
		}
	}
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = s.now()
	}
	s.assistantMappings[mapping.ID] = mapping
	return mapping, nil
}

func (s *Store) ListCabins(ctx context.Context, clinicID string) ([]models.Cabin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cabins, ok := s.cabins[clinicID]
	if !ok {
		return store.DefaultCabins(), nil
	}
	return queue.CloneCabins(cabins), nil
}

func (s *Store) SaveCabins(ctx context.Context, clinicID string, cabins []models.Cabin) error {
	if clinicID == "" {
		return store.ErrInvalidInput
	}
	for _, cabin := range cabins {
		if cabin.ID == "" {
			return store.ErrInvalidInput
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cabins[clinicID] = queue.CloneCabins(cabins)
	return nil
}

func (s *Store) GetStaffAccount(ctx context.Context, login string) (models.StaffAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[strings.ToLower(strings.TrimSpace(login))]
	if !ok {
		return models.StaffAccount{}, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) SaveStaffAccount(ctx context.Context, account models.StaffAccount) error {
	account.Login = strings.ToLower(strings.TrimSpace(account.Login))
	if account.Login == "" || account.PasswordHash == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.Login] = account
	return nil
}
