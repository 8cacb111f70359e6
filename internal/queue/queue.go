// Package queue holds the pure assignment rules of a clinic queue: who is
// waiting, whom a doctor is seeing, and which status changes a doctor's
// action produces. Nothing here performs I/O.
package queue

import (
	"fmt"
	"sort"

	"meditoken/internal/models"
	"meditoken/internal/store"
)

// StatusUpdate is one token status change to persist.
type StatusUpdate struct {
	PatientID string
	Status    string
	CabinID   *string
	DoctorID  *string
}

// Plan is the ordered list of status changes for one doctor action.
type Plan struct {
	CabinID  string
	DoctorID string
	Updates  []StatusUpdate
}

// WaitingQueue returns the WAITING patients, lowest token number first.
func WaitingQueue(patients []models.Patient) []models.Patient {
	waiting := make([]models.Patient, 0, len(patients))
	for _, patient := range patients {
		if patient.Status == models.StatusWaiting {
			waiting = append(waiting, patient)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].TokenNumber < waiting[j].TokenNumber
	})
	return waiting
}

func LastTokenNumber(patients []models.Patient) int {
	last := 0
	for _, patient := range patients {
		if patient.TokenNumber > last {
			last = patient.TokenNumber
		}
	}
	return last
}

func SortByToken(patients []models.Patient) {
	sort.Slice(patients, func(i, j int) bool {
		return patients[i].TokenNumber < patients[j].TokenNumber
	})
}

func FindPatient(patients []models.Patient, patientID string) (models.Patient, bool) {
	for _, patient := range patients {
		if patient.ID == patientID {
			return patient, true
		}
	}
	return models.Patient{}, false
}

// CurrentPatient is the IN_PROGRESS patient the doctor is seeing. The cabin's
// CurrentPatientID wins; otherwise the doctor's most recent IN_PROGRESS
// token is used, which covers a doctor who released and re-claimed a cabin.
func CurrentPatient(patients []models.Patient, cabins []models.Cabin, doctorID string) (models.Patient, bool) {
	if cabin, ok := ActiveCabin(cabins, doctorID); ok && cabin.CurrentPatientID != nil {
		if patient, found := FindPatient(patients, *cabin.CurrentPatientID); found && patient.Status == models.StatusInProgress {
			return patient, true
		}
	}

	var current models.Patient
	found := false
	for _, patient := range patients {
		if patient.Status != models.StatusInProgress || models.StringValue(patient.DoctorID) != doctorID {
			continue
		}
		if !found || patient.RegisteredAt.After(current.RegisteredAt) {
			current = patient
			found = true
		}
	}
	return current, found
}

// PlanCallNext completes the doctor's current patient, if any, and then
// moves the head of the waiting queue into the doctor's cabin.
func PlanCallNext(patients []models.Patient, cabins []models.Cabin, doctorID string) (Plan, error) {
	cabin, ok := ActiveCabin(cabins, doctorID)
	if !ok {
		return Plan{}, store.ErrNoActiveCabin
	}
	plan := Plan{CabinID: cabin.ID, DoctorID: doctorID}

	if current, found := CurrentPatient(patients, cabins, doctorID); found {
		plan.Updates = append(plan.Updates, StatusUpdate{
			PatientID: current.ID,
			Status:    models.StatusCompleted,
			CabinID:   models.StringPtr(cabin.ID),
			DoctorID:  models.StringPtr(doctorID),
		})
	}

	waiting := WaitingQueue(patients)
	if len(waiting) > 0 {
		plan.Updates = append(plan.Updates, StatusUpdate{
			PatientID: waiting[0].ID,
			Status:    models.StatusInProgress,
			CabinID:   models.StringPtr(cabin.ID),
			DoctorID:  models.StringPtr(doctorID),
		})
	}
	return plan, nil
}

// PlanComplete completes the doctor's current patient without pulling the next one.
func PlanComplete(patients []models.Patient, cabins []models.Cabin, doctorID string) (Plan, error) {
	cabin, ok := ActiveCabin(cabins, doctorID)
	if !ok {
		return Plan{}, store.ErrNoActiveCabin
	}
	current, found := CurrentPatient(patients, cabins, doctorID)
	if !found {
		return Plan{}, fmt.Errorf("%w: no patient in progress", store.ErrInvalidState)
	}
	return Plan{
		CabinID:  cabin.ID,
		DoctorID: doctorID,
		Updates: []StatusUpdate{{
			PatientID: current.ID,
			Status:    models.StatusCompleted,
			CabinID:   models.StringPtr(cabin.ID),
			DoctorID:  models.StringPtr(doctorID),
		}},
	}, nil
}

// PlanCancel withdraws a waiting patient from the queue.
func PlanCancel(patients []models.Patient, patientID string) (StatusUpdate, error) {
	patient, found := FindPatient(patients, patientID)
	if !found {
		return StatusUpdate{}, store.ErrTokenNotFound
	}
	if !store.ValidStatusChange(patient.Status, models.StatusCancelled) {
		return StatusUpdate{}, store.ErrInvalidState
	}
	return StatusUpdate{PatientID: patient.ID, Status: models.StatusCancelled}, nil
}

// ApplyUpdate mirrors a persisted status change onto the local patient list.
func ApplyUpdate(patients []models.Patient, updated models.Patient) []models.Patient {
	out := make([]models.Patient, len(patients))
	copy(out, patients)
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = updated
			return out
		}
	}
	out = append(out, updated)
	SortByToken(out)
	return out
}
