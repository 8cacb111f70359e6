package httpapi

import (
	"net/http"

	"meditoken/internal/models"
)

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.directory.ListTenants(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tenants))
}

func (h *Handler) handleSaveTenant(w http.ResponseWriter, r *http.Request) {
	var tenant models.Tenant
	if !decodeJSON(w, r, &tenant) {
		return
	}
	if tenant.ID != "" {
		if !h.allow(w, r, tenant.ID, models.RoleAdmin) {
			return
		}
	} else if !h.allowPlatformAdmin(w, r) {
		return
	}
	saved, err := h.directory.SaveTenant(r.Context(), tenant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	if !h.allowStaff(w, r) {
		return
	}
	doctors, err := h.directory.ListDoctors(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(doctors))
}

func (h *Handler) handleSaveDoctor(w http.ResponseWriter, r *http.Request) {
	if !h.allowStaff(w, r, models.RoleAdmin) {
		return
	}
	var doctor models.Doctor
	if !decodeJSON(w, r, &doctor) {
		return
	}
	saved, err := h.directory.SaveDoctor(r.Context(), doctor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	if !h.allowStaff(w, r) {
		return
	}
	assistants, err := h.directory.ListAssistants(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(assistants))
}

func (h *Handler) handleSaveAssistant(w http.ResponseWriter, r *http.Request) {
	if !h.allowStaff(w, r, models.RoleAdmin) {
		return
	}
	var assistant models.Assistant
	if !decodeJSON(w, r, &assistant) {
		return
	}
	saved, err := h.directory.SaveAssistant(r.Context(), assistant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleListDoctorMappings(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	mappings, err := h.directory.ListDoctorMappings(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(mappings))
}

func (h *Handler) handleSaveDoctorMapping(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID, models.RoleAdmin) {
		return
	}
	var mapping models.DoctorClinicMapping
	if !decodeJSON(w, r, &mapping) {
		return
	}
	mapping.ClinicID = clinicID
	saved, err := h.directory.SaveDoctorMapping(r.Context(), mapping)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleListAssistantMappings(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID) {
		return
	}
	mappings, err := h.directory.ListAssistantMappings(r.Context(), clinicID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(mappings))
}

func (h *Handler) handleSaveAssistantMapping(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := clinicFromPath(w, r)
	if !ok || !h.allow(w, r, clinicID, models.RoleAdmin) {
		return
	}
	var mapping models.AssistantClinicMapping
	if !decodeJSON(w, r, &mapping) {
		return
	}
	mapping.ClinicID = clinicID
	saved, err := h.directory.SaveAssistantMapping(r.Context(), mapping)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
