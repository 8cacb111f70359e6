package store

import (
	"context"
	"time"

	"meditoken/internal/models"
)

type InsertTokenInput struct {
	ClinicID string
	Name     string
	Phone    string
	// TokenNumber of zero lets the store issue the next number for the clinic.
	TokenNumber  int
	RegisteredAt time.Time
}

type UpdateStatusInput struct {
	ClinicID  string
	PatientID string
	Status    string
	CabinID   *string
	DoctorID  *string
}

// TokenStore persists one clinic's patient tokens and signals changes to them.
type TokenStore interface {
	ListTokens(ctx context.Context, clinicID string) ([]models.Patient, error)
	InsertToken(ctx context.Context, input InsertTokenInput) (models.Patient, error)
	UpdateTokenStatus(ctx context.Context, input UpdateStatusInput) (models.Patient, error)
	DeleteAllTokens(ctx context.Context, clinicID string) error
	SubscribeToChanges(ctx context.Context, clinicID string, onChange func()) (func(), error)
	ListTokenEvents(ctx context.Context, clinicID, patientID string) ([]TokenEvent, error)
}

// DirectoryStore holds clinic configuration: tenants, the global staff
// registries, clinic mappings, cabins and staff logins. Writes are
// last-writer-wins.
type DirectoryStore interface {
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenant(ctx context.Context, clinicID string) (models.Tenant, error)
	SaveTenant(ctx context.Context, tenant models.Tenant) (models.Tenant, error)

	ListDoctors(ctx context.Context) ([]models.Doctor, error)
	SaveDoctor(ctx context.Context, doctor models.Doctor) (models.Doctor, error)
	ListAssistants(ctx context.Context) ([]models.Assistant, error)
	SaveAssistant(ctx context.Context, assistant models.Assistant) (models.Assistant, error)

	ListDoctorMappings(ctx context.Context, clinicID string) ([]models.DoctorClinicMapping, error)
	SaveDoctorMapping(ctx context.Context, mapping models.DoctorClinicMapping) (models.DoctorClinicMapping, error)
	ListAssistantMappings(ctx context.Context, clinicID string) ([]models.AssistantClinicMapping, error)
	SaveAssistantMapping(ctx context.Context, mapping models.AssistantClinicMapping) (models.AssistantClinicMapping, error)

	ListCabins(ctx context.Context, clinicID string) ([]models.Cabin, error)
	SaveCabins(ctx context.Context, clinicID string, cabins []models.Cabin) error

	GetStaffAccount(ctx context.Context, login string) (models.StaffAccount, error)
	SaveStaffAccount(ctx context.Context, account models.StaffAccount) error
}

// DefaultCabins is the layout used for a clinic that never saved its own.
func DefaultCabins() []models.Cabin {
	return []models.Cabin{
		{ID: "cab-1", Name: "Cabin 101"},
		{ID: "cab-2", Name: "Cabin 102"},
		{ID: "cab-3", Name: "Cabin 103"},
		{ID: "cab-4", Name: "Cabin 104"},
	}
}
