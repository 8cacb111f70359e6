package models

import "time"

type Patient struct {
	ID           string    `json:"id"`
	ClinicID     string    `json:"clinic_id"`
	TokenNumber  int       `json:"token_number"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	Status       string    `json:"status"`
	CabinID      *string   `json:"cabin_id,omitempty"`
	DoctorID     *string   `json:"doctor_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

const (
	StatusWaiting    = "WAITING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

type Cabin struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	CurrentDoctorID  *string `json:"current_doctor_id,omitempty"`
	CurrentPatientID *string `json:"current_patient_id,omitempty"`
}

// ClinicSnapshot is the aggregate the dashboards operate on.
// LastTokenNumber always equals the highest TokenNumber in Patients, or 0.
type ClinicSnapshot struct {
	Tenant          Tenant      `json:"tenant"`
	Patients        []Patient   `json:"patients"`
	Cabins          []Cabin     `json:"cabins"`
	Doctors         []Doctor    `json:"doctors"`
	Assistants      []Assistant `json:"assistants"`
	LastTokenNumber int         `json:"last_token_number"`
	SyncError       string      `json:"sync_error,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func StringPtr(value string) *string {
	return &value
}

func StringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
