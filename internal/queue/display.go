package queue

import (
	"fmt"
	"sort"

	"meditoken/internal/models"
)

const fallbackCabinName = "Consultation Room"

type BoardEntry struct {
	PatientID   string `json:"patient_id"`
	TokenNumber int    `json:"token_number"`
	Name        string `json:"name"`
	CabinID     string `json:"cabin_id,omitempty"`
	CabinName   string `json:"cabin_name"`
}

// Board is the waiting-room screen view. It never carries phone numbers.
type Board struct {
	ClinicID   string       `json:"clinic_id"`
	ClinicName string       `json:"clinic_name"`
	Serving    []BoardEntry `json:"serving"`
	Waiting    []int        `json:"waiting"`
}

// DisplayBoard lists IN_PROGRESS patients, most recently registered first,
// and the waiting token numbers in queue order.
func DisplayBoard(snapshot models.ClinicSnapshot) Board {
	board := Board{
		ClinicID:   snapshot.Tenant.ID,
		ClinicName: snapshot.Tenant.Name,
		Serving:    []BoardEntry{},
		Waiting:    []int{},
	}

	var serving []models.Patient
	for _, patient := range snapshot.Patients {
		if patient.Status == models.StatusInProgress {
			serving = append(serving, patient)
		}
	}
	sort.SliceStable(serving, func(i, j int) bool {
		return serving[i].RegisteredAt.After(serving[j].RegisteredAt)
	})
	for _, patient := range serving {
		board.Serving = append(board.Serving, BoardEntry{
			PatientID:   patient.ID,
			TokenNumber: patient.TokenNumber,
			Name:        patient.Name,
			CabinID:     models.StringValue(patient.CabinID),
			CabinName:   CabinName(snapshot.Cabins, models.StringValue(patient.CabinID)),
		})
	}
	for _, patient := range WaitingQueue(snapshot.Patients) {
		board.Waiting = append(board.Waiting, patient.TokenNumber)
	}
	return board
}

// Headline is the entry the screen announces, if any.
func (b Board) Headline() (BoardEntry, bool) {
	if len(b.Serving) == 0 {
		return BoardEntry{}, false
	}
	return b.Serving[0], true
}

func CabinName(cabins []models.Cabin, cabinID string) string {
	if cabin, ok := FindCabin(cabins, cabinID); ok && cabin.Name != "" {
		return cabin.Name
	}
	return fallbackCabinName
}

func AnnouncementText(entry BoardEntry) string {
	return fmt.Sprintf("Attention please. Token number %d, %s, please proceed to %s.", entry.TokenNumber, entry.Name, entry.CabinName)
}
