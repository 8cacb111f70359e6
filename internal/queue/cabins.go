package queue

import (
	"meditoken/internal/models"
	"meditoken/internal/store"
)

func ActiveCabin(cabins []models.Cabin, doctorID string) (models.Cabin, bool) {
	for _, cabin := range cabins {
		if models.StringValue(cabin.CurrentDoctorID) == doctorID && doctorID != "" {
			return cabin, true
		}
	}
	return models.Cabin{}, false
}

func FindCabin(cabins []models.Cabin, cabinID string) (models.Cabin, bool) {
	for _, cabin := range cabins {
		if cabin.ID == cabinID {
			return cabin, true
		}
	}
	return models.Cabin{}, false
}

func CloneCabins(cabins []models.Cabin) []models.Cabin {
	out := make([]models.Cabin, len(cabins))
	for i, cabin := range cabins {
		out[i] = models.Cabin{ID: cabin.ID, Name: cabin.Name}
		if cabin.CurrentDoctorID != nil {
			out[i].CurrentDoctorID = models.StringPtr(*cabin.CurrentDoctorID)
		}
		if cabin.CurrentPatientID != nil {
			out[i].CurrentPatientID = models.StringPtr(*cabin.CurrentPatientID)
		}
	}
	return out
}

// ApplyStatus updates cabin occupancy after a token status change: the
// cabin named by the update holds the patient while IN_PROGRESS and is
// emptied otherwise.
func ApplyStatus(cabins []models.Cabin, update StatusUpdate) []models.Cabin {
	out := CloneCabins(cabins)
	if update.CabinID == nil {
		return out
	}
	for i := range out {
		if out[i].ID != *update.CabinID {
			continue
		}
		if update.Status == models.StatusInProgress {
			out[i].CurrentPatientID = models.StringPtr(update.PatientID)
		} else {
			out[i].CurrentPatientID = nil
		}
	}
	return out
}

// ClaimCabin binds doctorID to cabinID, clearing whatever cabin the doctor
// held before. A cabin held by a different doctor cannot be claimed.
func ClaimCabin(cabins []models.Cabin, doctorID, cabinID string) ([]models.Cabin, error) {
	if doctorID == "" {
		return nil, store.ErrInvalidInput
	}
	target, ok := FindCabin(cabins, cabinID)
	if !ok {
		return nil, store.ErrCabinNotFound
	}
	if holder := models.StringValue(target.CurrentDoctorID); holder != "" && holder != doctorID {
		return nil, store.ErrCabinOccupied
	}

	out := CloneCabins(cabins)
	for i := range out {
		if out[i].ID == cabinID {
			continue
		}
		if models.StringValue(out[i].CurrentDoctorID) == doctorID {
			out[i].CurrentDoctorID = nil
			out[i].CurrentPatientID = nil
		}
	}
	for i := range out {
		if out[i].ID == cabinID {
			out[i].CurrentDoctorID = models.StringPtr(doctorID)
		}
	}
	return out, nil
}

// ReleaseCabin unbinds the doctor from their cabin. The cabin's patient
// pointer is cleared with it; the token itself keeps its IN_PROGRESS status
// and doctor binding, so the doctor finishes that consultation from the
// next cabin they claim.
func ReleaseCabin(cabins []models.Cabin, doctorID string) ([]models.Cabin, bool) {
	out := CloneCabins(cabins)
	released := false
	for i := range out {
		if models.StringValue(out[i].CurrentDoctorID) == doctorID && doctorID != "" {
			out[i].CurrentDoctorID = nil
			out[i].CurrentPatientID = nil
			released = true
		}
	}
	return out, released
}

// DoctorCabinCount reports how many cabins name the doctor; anything above
// one breaks doctor exclusivity.
func DoctorCabinCount(cabins []models.Cabin, doctorID string) int {
	count := 0
	for _, cabin := range cabins {
		if models.StringValue(cabin.CurrentDoctorID) == doctorID {
			count++
		}
	}
	return count
}
