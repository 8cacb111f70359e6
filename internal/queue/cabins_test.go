package queue

import (
	"errors"
	"testing"

	"meditoken/internal/models"
	"meditoken/internal/store"
)

func TestClaimCabinClearsPreviousCabin(t *testing.T) {
	cabins := []models.Cabin{
		{ID: "c1", CurrentDoctorID: models.StringPtr("dx")},
		{ID: "c2"},
		{ID: "c3", CurrentDoctorID: models.StringPtr("dy")},
	}

	out, err := ClaimCabin(cabins, "dx", "c2")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if out[0].CurrentDoctorID != nil {
		t.Fatalf("expected c1 released")
	}
	if models.StringValue(out[1].CurrentDoctorID) != "dx" {
		t.Fatalf("expected c2 held by dx")
	}
	if models.StringValue(out[2].CurrentDoctorID) != "dy" {
		t.Fatalf("expected c3 untouched")
	}
	if got := DoctorCabinCount(out, "dx"); got != 1 {
		t.Fatalf("expected dx in exactly one cabin, got %d", got)
	}
	if models.StringValue(cabins[0].CurrentDoctorID) != "dx" {
		t.Fatalf("input cabins must not be mutated")
	}
}

func TestClaimCabinErrors(t *testing.T) {
	cabins := []models.Cabin{{ID: "c1", CurrentDoctorID: models.StringPtr("dy")}}
	tests := []struct {
		name     string
		doctorID string
		cabinID  string
		want     error
	}{
		{"occupied", "dx", "c1", store.ErrCabinOccupied},
		{"unknown cabin", "dx", "c9", store.ErrCabinNotFound},
		{"missing doctor", "", "c1", store.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ClaimCabin(cabins, tc.doctorID, tc.cabinID); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestClaimOwnCabinIsNoop(t *testing.T) {
	cabins := []models.Cabin{{ID: "c1", CurrentDoctorID: models.StringPtr("dx"), CurrentPatientID: models.StringPtr("t1")}}
	out, err := ClaimCabin(cabins, "dx", "c1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if models.StringValue(out[0].CurrentPatientID) != "t1" {
		t.Fatalf("re-claiming must keep the patient")
	}
}

func TestReleaseCabin(t *testing.T) {
	cabins := []models.Cabin{
		{ID: "c1", CurrentDoctorID: models.StringPtr("dx"), CurrentPatientID: models.StringPtr("t1")},
		{ID: "c2", CurrentDoctorID: models.StringPtr("dy")},
	}
	out, released := ReleaseCabin(cabins, "dx")
	if !released {
		t.Fatalf("expected release")
	}
	if out[0].CurrentDoctorID != nil || out[0].CurrentPatientID != nil {
		t.Fatalf("expected c1 cleared, got %+v", out[0])
	}
	if models.StringValue(out[1].CurrentDoctorID) != "dy" {
		t.Fatalf("expected c2 untouched")
	}
	if _, released := ReleaseCabin(out, "dx"); released {
		t.Fatalf("second release should report nothing released")
	}
}

func TestApplyStatus(t *testing.T) {
	cabins := []models.Cabin{{ID: "c1"}, {ID: "c2", CurrentPatientID: models.StringPtr("old")}}

	out := ApplyStatus(cabins, StatusUpdate{PatientID: "p1", Status: models.StatusInProgress, CabinID: models.StringPtr("c1")})
	if models.StringValue(out[0].CurrentPatientID) != "p1" {
		t.Fatalf("expected c1 to hold p1")
	}
	out = ApplyStatus(out, StatusUpdate{PatientID: "old", Status: models.StatusCompleted, CabinID: models.StringPtr("c2")})
	if out[1].CurrentPatientID != nil {
		t.Fatalf("expected c2 cleared")
	}
	out = ApplyStatus(out, StatusUpdate{PatientID: "x", Status: models.StatusCancelled})
	if models.StringValue(out[0].CurrentPatientID) != "p1" {
		t.Fatalf("update without cabin must not touch cabins")
	}
}
