package main

import (
	"context"

	"meditoken/internal/auth"
	"meditoken/internal/models"
	"meditoken/internal/store/memory"
)

const demoClinicID = "demo-clinic"

// seedDemo fills the in-memory store with one clinic, two doctors and an
// assistant. An admin login is created only when a password is given.
func seedDemo(ctx context.Context, st *memory.Store, adminPassword string) error {
	if _, err := st.SaveTenant(ctx, models.Tenant{
		ID:           demoClinicID,
		Name:         "Demo Clinic",
		City:         "Pune",
		Specialties:  []string{"General Medicine", "Pediatrics"},
		IsTokenBased: true,
		OperationTimings: []models.OperationTime{
			{Days: []string{"Mon", "Tue", "Wed", "Thu", "Fri"}, StartTime: "09:00", EndTime: "17:00"},
		},
	}); err != nil {
		return err
	}

	doctors := []models.Doctor{
		{ID: "doc-1", Name: "Dr. Meera Kulkarni", Mobile: "9800000001", Specialization: "General Medicine", VerificationStatus: models.VerificationVerified},
		{ID: "doc-2", Name: "Dr. Arjun Shah", Mobile: "9800000002", Specialization: "Pediatrics", VerificationStatus: models.VerificationVerified},
	}
	for _, doctor := range doctors {
		if _, err := st.SaveDoctor(ctx, doctor); err != nil {
			return err
		}
		if _, err := st.SaveDoctorMapping(ctx, models.DoctorClinicMapping{DoctorID: doctor.ID, ClinicID: demoClinicID}); err != nil {
			return err
		}
	}

	if _, err := st.SaveAssistant(ctx, models.Assistant{ID: "asst-1", Name: "Kiran Patil", Mobile: "9800000003"}); err != nil {
		return err
	}
	if _, err := st.SaveAssistantMapping(ctx, models.AssistantClinicMapping{AssistantID: "asst-1", ClinicID: demoClinicID}); err != nil {
		return err
	}

	if adminPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(adminPassword)
	if err != nil {
		return err
	}
	return st.SaveStaffAccount(ctx, models.StaffAccount{Login: "admin", PasswordHash: hash, Role: models.RoleAdmin})
}
