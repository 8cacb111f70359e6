package models

import "time"

type Tenant struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Address            string          `json:"address,omitempty"`
	Phone              string          `json:"phone,omitempty"`
	Email              string          `json:"email,omitempty"`
	City               string          `json:"city,omitempty"`
	State              string          `json:"state,omitempty"`
	Pincode            string          `json:"pincode,omitempty"`
	Specialties        []string        `json:"specialties"`
	OperationTimings   []OperationTime `json:"operation_timings"`
	IsTokenBased       bool            `json:"is_token_based"`
	IsAppointmentBased bool            `json:"is_appointment_based"`
	AllowMediaAccess   bool            `json:"allow_media_access"`
	CreatedAt          time.Time       `json:"created_at"`
}

type OperationTime struct {
	Days      []string `json:"days"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Specialty string   `json:"specialty,omitempty"`
}

type Doctor struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Mobile             string    `json:"mobile"`
	Email              string    `json:"email,omitempty"`
	Specialization     string    `json:"specialization,omitempty"`
	VerificationStatus string    `json:"verification_status"`
	Source             string    `json:"source,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type Assistant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Mobile             string    `json:"mobile"`
	Email              string    `json:"email,omitempty"`
	VerificationStatus string    `json:"verification_status"`
	Source             string    `json:"source,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

const (
	VerificationUnverified = "UNVERIFIED"
	VerificationVerified   = "VERIFIED"
	VerificationSuspended  = "SUSPENDED"
)

type DoctorClinicMapping struct {
	ID         string          `json:"id"`
	DoctorID   string          `json:"doctor_id"`
	ClinicID   string          `json:"clinic_id"`
	DoctorType string          `json:"doctor_type"`
	Timings    []OperationTime `json:"timings"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AssistantClinicMapping struct {
	ID          string          `json:"id"`
	AssistantID string          `json:"assistant_id"`
	ClinicID    string          `json:"clinic_id"`
	Timings     []OperationTime `json:"timings"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	MappingActive   = "ACTIVE"
	MappingInactive = "INACTIVE"
)

const (
	DoctorConsulting = "CONSULTING"
	DoctorVisiting   = "VISITING"
	DoctorResident   = "RESIDENT"
)

// StaffAccount is a login identity for dashboard staff. Role is one of the
// Role* constants; ClinicID is empty for platform admins.
type StaffAccount struct {
	Login        string `json:"login"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	ClinicID     string `json:"clinic_id,omitempty"`
	StaffID      string `json:"staff_id,omitempty"`
}

const (
	RoleAdmin     = "admin"
	RoleDoctor    = "doctor"
	RoleAssistant = "assistant"
)

func ValidVerificationStatus(value string) bool {
	switch value {
	case VerificationUnverified, VerificationVerified, VerificationSuspended:
		return true
	}
	return false
}

func ValidMappingStatus(value string) bool {
	return value == MappingActive || value == MappingInactive
}

func ValidDoctorType(value string) bool {
	switch value {
	case DoctorConsulting, DoctorVisiting, DoctorResident:
		return true
	}
	return false
}
