// Package auth issues and verifies staff tokens. Credentials live in the
// directory store as bcrypt hashes; tokens are HS256 JWTs carrying the
// staff role and clinic.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meditoken/internal/models"
	"meditoken/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "meditoken"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

type AccountStore interface {
	GetStaffAccount(ctx context.Context, login string) (models.StaffAccount, error)
}

type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
	StaffID  string `json:"staff_id,omitempty"`
}

// Principal is the verified caller of a request.
type Principal struct {
	Login    string `json:"login"`
	Role     string `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
	StaffID  string `json:"staff_id,omitempty"`
}

// CanAccessClinic reports whether the principal may act on clinicID. Admins
// without a clinic reach every clinic.
func (p Principal) CanAccessClinic(clinicID string) bool {
	if p.Role == models.RoleAdmin && p.ClinicID == "" {
		return true
	}
	return p.ClinicID != "" && p.ClinicID == clinicID
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Principal Principal `json:"principal"`
}

type Service struct {
	accounts AccountStore
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

func NewService(accounts AccountStore, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{
		accounts: accounts,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *Service) Login(ctx context.Context, login, password string) (Session, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	account, err := s.accounts.GetStaffAccount(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	principal := Principal{
		Login:    account.Login,
		Role:     account.Role,
		ClinicID: account.ClinicID,
		StaffID:  account.StaffID,
	}
	token, expires, err := s.Issue(principal)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, Principal: principal}, nil
}

func (s *Service) Issue(principal Principal) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.Login,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role:     principal.Role,
		ClinicID: principal.ClinicID,
		StaffID:  principal.StaffID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *Service) Verify(token string) (Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	return Principal{
		Login:    claims.Subject,
		Role:     claims.Role,
		ClinicID: claims.ClinicID,
		StaffID:  claims.StaffID,
	}, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
