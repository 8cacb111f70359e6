package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"

	"meditoken/internal/auth"
	"meditoken/internal/clinic"
	"meditoken/internal/models"
	"meditoken/internal/queue"
	"meditoken/internal/store"

	"github.com/rs/zerolog"
)

// Clinics is the clinic controller the handlers drive.
type Clinics interface {
	Snapshot(ctx context.Context, clinicID string) (models.ClinicSnapshot, error)
	Register(ctx context.Context, clinicID, name, phone string) (models.Patient, error)
	CallNext(ctx context.Context, clinicID, doctorID string) (clinic.CallResult, error)
	Complete(ctx context.Context, clinicID, doctorID string) (clinic.CallResult, error)
	Cancel(ctx context.Context, clinicID, patientID string) (models.Patient, error)
	ClaimCabin(ctx context.Context, clinicID, cabinID, doctorID string) ([]models.Cabin, error)
	ReleaseCabin(ctx context.Context, clinicID, doctorID string) ([]models.Cabin, error)
	UpdateCabins(ctx context.Context, clinicID string, layout []models.Cabin) ([]models.Cabin, error)
	ResetQueue(ctx context.Context, clinicID string) error
	History(ctx context.Context, clinicID, phone string) ([]models.Patient, error)
	Display(ctx context.Context, clinicID string) (queue.Board, error)
	TokenEvents(ctx context.Context, clinicID, patientID string) ([]store.TokenEvent, error)
}

// Authenticator logs staff in and verifies their tokens.
type Authenticator interface {
	Login(ctx context.Context, login, password string) (auth.Session, error)
	Verify(token string) (auth.Principal, error)
}

type Options struct {
	// Auth is nil when authentication is disabled.
	Auth   Authenticator
	Logger zerolog.Logger
}

type Handler struct {
	clinics   Clinics
	directory store.DirectoryStore
	auth      Authenticator
	logger    zerolog.Logger
}

type registerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type claimRequest struct {
	DoctorID string `json:"doctor_id"`
}

type cabinsRequest struct {
	Cabins []models.Cabin `json:"cabins"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func NewHandler(clinics Clinics, directory store.DirectoryStore, options Options) *Handler {
	return &Handler{
		clinics:   clinics,
		directory: directory,
		auth:      options.Auth,
		logger:    options.Logger,
	}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", expvar.Handler())
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)

	mux.HandleFunc("GET /api/tenants", h.handleListTenants)
	mux.HandleFunc("POST /api/tenants", h.handleSaveTenant)
	mux.HandleFunc("GET /api/doctors", h.handleListDoctors)
	mux.HandleFunc("POST /api/doctors", h.handleSaveDoctor)
	mux.HandleFunc("GET /api/assistants", h.handleListAssistants)
	mux.HandleFunc("POST /api/assistants", h.handleSaveAssistant)
	mux.HandleFunc("GET /api/clinics/{id}/doctor-mappings", h.handleListDoctorMappings)
	mux.HandleFunc("POST /api/clinics/{id}/doctor-mappings", h.handleSaveDoctorMapping)
	mux.HandleFunc("GET /api/clinics/{id}/assistant-mappings", h.handleListAssistantMappings)
	mux.HandleFunc("POST /api/clinics/{id}/assistant-mappings", h.handleSaveAssistantMapping)

	mux.HandleFunc("GET /api/clinics/{id}/snapshot", h.handleSnapshot)
	mux.HandleFunc("GET /api/clinics/{id}/queue", h.handleQueue)
	mux.HandleFunc("GET /api/clinics/{id}/display", h.handleDisplay)
	mux.HandleFunc("GET /api/clinics/{id}/history", h.handleHistory)
	mux.HandleFunc("GET /api/clinics/{id}/tokens", h.handleListTokens)
	mux.HandleFunc("POST /api/clinics/{id}/tokens", h.handleRegister)
	mux.HandleFunc("POST /api/clinics/{id}/tokens/{tokenID}/cancel", h.handleCancel)
	mux.HandleFunc("GET /api/clinics/{id}/tokens/{tokenID}/events", h.handleTokenEvents)
	mux.HandleFunc("POST /api/clinics/{id}/doctors/{doctorID}/call-next", h.handleCallNext)
	mux.HandleFunc("POST /api/clinics/{id}/doctors/{doctorID}/complete", h.handleComplete)
	mux.HandleFunc("POST /api/clinics/{id}/doctors/{doctorID}/release", h.handleRelease)
	mux.HandleFunc("POST /api/clinics/{id}/cabins/{cabinID}/claim", h.handleClaim)
	mux.HandleFunc("GET /api/clinics/{id}/cabins", h.handleListCabins)
	mux.HandleFunc("PUT /api/clinics/{id}/cabins", h.handleUpdateCabins)
	mux.HandleFunc("POST /api/clinics/{id}/reset", h.handleReset)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeError(w, requestIDFromRequest(r), http.StatusNotFound, "auth_disabled", "authentication is disabled")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Login = strings.TrimSpace(req.Login)
	if req.Login == "" || req.Password == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "login and password are required")
		return
	}
	session, err := h.auth.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	snapshot, err := h.clinics.Snapshot(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	snapshot, err := h.clinics.Snapshot(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clinic_id":         clinicID,
		"last_token_number": snapshot.LastTokenNumber,
		"waiting":           nonNil(queue.WaitingQueue(snapshot.Patients)),
		"sync_error":        snapshot.SyncError,
	})
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok {
		return
	}
	board, err := h.clinics.Display(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "phone is required")
		return
	}
	visits, err := h.clinics.History(r.Context(), clinicID, phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(visits))
}

func (h *Handler) handleListTokens(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	snapshot, err := h.clinics.Snapshot(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// An empty list after a failed read is not an empty queue.
	if snapshot.SyncError != "" {
		w.Header().Set(syncErrorHeader, snapshot.SyncError)
	}
	writeJSON(w, http.StatusOK, nonNil(snapshot.Patients))
}

// handleRegister is the kiosk endpoint and stays public.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patient, err := h.clinics.Register(r.Context(), clinicID, req.Name, req.Phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	patient, err := h.clinics.Cancel(r.Context(), clinicID, r.PathValue("tokenID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handleTokenEvents(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	events, err := h.clinics.TokenEvents(r.Context(), clinicID, r.PathValue("tokenID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	h.doctorAction(w, r, h.clinics.CallNext)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.doctorAction(w, r, h.clinics.Complete)
}

func (h *Handler) doctorAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, clinicID, doctorID string) (clinic.CallResult, error)) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok {
		return
	}
	doctorID := strings.TrimSpace(r.PathValue("doctorID"))
	if !h.allowDoctor(w, r, clinicID, doctorID) {
		return
	}
	result, err := action(r.Context(), clinicID, doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok {
		return
	}
	doctorID := strings.TrimSpace(r.PathValue("doctorID"))
	if !h.allowDoctor(w, r, clinicID, doctorID) {
		return
	}
	cabins, err := h.clinics.ReleaseCabin(r.Context(), clinicID, doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cabins)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.DoctorID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "doctor_id is required")
		return
	}
	if !h.allowDoctor(w, r, clinicID, req.DoctorID) {
		return
	}
	cabins, err := h.clinics.ClaimCabin(r.Context(), clinicID, r.PathValue("cabinID"), req.DoctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cabins)
}

func (h *Handler) handleListCabins(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	snapshot, err := h.clinics.Snapshot(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.Cabins)
}

func (h *Handler) handleUpdateCabins(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID, models.RoleAdmin) {
		return
	}
	var req cabinsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cabins, err := h.clinics.UpdateCabins(r.Context(), clinicID, req.Cabins)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cabins)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID, models.RoleAdmin, models.RoleAssistant) {
		return
	}
	if err := h.clinics.ResetQueue(r.Context(), clinicID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestIDFromRequest(r)).Msg("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func clinicFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	clinicID := strings.TrimSpace(r.PathValue("id"))
	if clinicID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "clinic id is required")
		return "", false
	}
	return clinicID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
