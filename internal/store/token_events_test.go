package store

import (
	"testing"
	"time"

	"meditoken/internal/models"
)

func TestTokenEventChainAndRehydrate(t *testing.T) {
	registered := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	patient := models.Patient{ID: "p1", ClinicID: "c1", TokenNumber: 7, Name: "Asha", Phone: "9876543210", Status: models.StatusWaiting, RegisteredAt: registered}

	created, err := TokenEventPayload(patient)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	first := NextTokenEvent(nil, "p1", "token.created", created, registered)

	patient.Status = models.StatusInProgress
	patient.CabinID = models.StringPtr("cab-1")
	patient.DoctorID = models.StringPtr("d1")
	called, err := TokenEventPayload(patient)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	second := NextTokenEvent(&first, "p1", "token.called", called, registered.Add(time.Minute))

	events := []TokenEvent{first, second}
	if err := VerifyTokenEvents(events); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if second.TokenSeq != 2 || second.PrevHash != first.Hash {
		t.Fatalf("second event not chained: %+v", second)
	}

	rebuilt, err := RehydratePatient(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rebuilt.Status != models.StatusInProgress || rebuilt.TokenNumber != 7 || rebuilt.CabinID == nil || *rebuilt.CabinID != "cab-1" {
		t.Fatalf("unexpected rebuilt patient: %+v", rebuilt)
	}
	if rebuilt.Phone != "" {
		t.Fatalf("trail must not carry phone numbers")
	}

	tampered := []TokenEvent{first, second}
	tampered[0].Payload = called
	if err := VerifyTokenEvents(tampered); err == nil {
		t.Fatalf("expected tampering to be detected")
	}
}
