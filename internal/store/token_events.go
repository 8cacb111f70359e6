package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"meditoken/internal/models"
)

// TokenEvent is one entry of a token's audit trail. Each entry carries the
// hash of its predecessor so the trail can be checked for tampering.
type TokenEvent struct {
	TokenID   string          `json:"token_id"`
	TokenSeq  int             `json:"token_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type tokenEventPayload struct {
	ID           string     `json:"id"`
	ClinicID     string     `json:"clinic_id"`
	TokenNumber  int        `json:"token_number"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	CabinID      *string    `json:"cabin_id"`
	DoctorID     *string    `json:"doctor_id"`
	RegisteredAt *time.Time `json:"registered_at"`
}

// TokenEventPayload renders the fields recorded for every event. Phone numbers
// are left out of the trail.
func TokenEventPayload(patient models.Patient) ([]byte, error) {
	registeredAt := patient.RegisteredAt
	return json.Marshal(tokenEventPayload{
		ID:           patient.ID,
		ClinicID:     patient.ClinicID,
		TokenNumber:  patient.TokenNumber,
		Name:         patient.Name,
		Status:       patient.Status,
		CabinID:      patient.CabinID,
		DoctorID:     patient.DoctorID,
		RegisteredAt: &registeredAt,
	})
}

func ComputeTokenEventHash(prevHash, tokenID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, tokenID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NextTokenEvent builds the event that follows prev (nil for the first one).
func NextTokenEvent(prev *TokenEvent, tokenID, eventType string, payload []byte, createdAt time.Time) TokenEvent {
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.TokenSeq + 1
		prevHash = prev.Hash
	}
	return TokenEvent{
		TokenID:   tokenID,
		TokenSeq:  seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeTokenEventHash(prevHash, tokenID, eventType, payload, createdAt, seq),
	}
}

// VerifyTokenEvents checks sequence numbers and the hash chain.
func VerifyTokenEvents(events []TokenEvent) error {
	prev := ""
	for i, event := range events {
		if event.TokenSeq != i+1 {
			return fmt.Errorf("event %d: unexpected sequence %d", i, event.TokenSeq)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: broken chain", event.TokenSeq)
		}
		want := ComputeTokenEventHash(event.PrevHash, event.TokenID, event.Type, event.Payload, event.CreatedAt, event.TokenSeq)
		if want != event.Hash {
			return fmt.Errorf("event %d: hash mismatch", event.TokenSeq)
		}
		prev = event.Hash
	}
	return nil
}

func RehydratePatient(events []TokenEvent) (models.Patient, error) {
	var patient models.Patient
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload tokenEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Patient{}, err
		}
		if payload.ID != "" {
			patient.ID = payload.ID
		}
		if payload.ClinicID != "" {
			patient.ClinicID = payload.ClinicID
		}
		if payload.TokenNumber != 0 {
			patient.TokenNumber = payload.TokenNumber
		}
		if payload.Name != "" {
			patient.Name = payload.Name
		}
		if payload.Status != "" {
			patient.Status = payload.Status
		}
		if payload.RegisteredAt != nil {
			patient.RegisteredAt = *payload.RegisteredAt
		}
		patient.CabinID = payload.CabinID
		patient.DoctorID = payload.DoctorID
	}
	return patient, nil
}
