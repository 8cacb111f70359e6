package store

import "errors"

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreWriteFailed = errors.New("store write failed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidState     = errors.New("invalid token state")
	ErrDuplicateToken   = errors.New("duplicate token number")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrCabinNotFound    = errors.New("cabin not found")
	ErrDoctorNotFound   = errors.New("doctor not found")
	ErrAccountNotFound  = errors.New("account not found")
	ErrNoActiveCabin    = errors.New("doctor has no active cabin")
	ErrCabinOccupied    = errors.New("cabin occupied by another doctor")
)
