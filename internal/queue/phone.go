package queue

import (
	"fmt"
	"sort"
	"strings"

	"meditoken/internal/models"
	"meditoken/internal/store"
)

const (
	minPhoneDigits   = 10
	minHistoryDigits = 3
)

func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func ValidatePhone(phone string) error {
	if len(NormalizePhone(phone)) < minPhoneDigits {
		return fmt.Errorf("%w: phone must have at least %d digits", store.ErrInvalidInput, minPhoneDigits)
	}
	return nil
}

// History returns earlier visits with the same phone digits, newest first.
// Phone is a loose correlation key, so short inputs match nothing.
func History(patients []models.Patient, phone string) []models.Patient {
	digits := NormalizePhone(phone)
	visits := []models.Patient{}
	if len(digits) < minHistoryDigits {
		return visits
	}
	for _, patient := range patients {
		if NormalizePhone(patient.Phone) == digits {
			visits = append(visits, patient)
		}
	}
	sort.SliceStable(visits, func(i, j int) bool {
		return visits[i].RegisteredAt.After(visits[j].RegisteredAt)
	})
	return visits
}

// KnownName returns the name used on the latest visit with this phone, for
// pre-filling the kiosk form.
func KnownName(patients []models.Patient, phone string) (string, bool) {
	visits := History(patients, phone)
	if len(visits) == 0 {
		return "", false
	}
	return visits[0].Name, true
}
