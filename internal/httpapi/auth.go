package httpapi

import (
	"context"
	"net/http"
	"strings"

	"meditoken/internal/auth"
	"meditoken/internal/models"
)

type authContextKey struct{}

// AuthMiddleware verifies the bearer token of every non-public request. It
// is a pass-through when no Authenticator is configured.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	if h.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
			return
		}
		principal, err := h.auth.Verify(token)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	principal, ok := ctx.Value(authContextKey{}).(auth.Principal)
	return principal, ok
}

// allow checks that the caller may act on clinicID, and holds one of roles
// when any are given.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, clinicID string, roles ...string) bool {
	if h.auth == nil {
		return true
	}
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return false
	}
	if !principal.CanAccessClinic(clinicID) {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "clinic access denied")
		return false
	}
	return h.requireRole(w, r, principal, roles)
}

// allowDoctor lets doctors act only for themselves; assistants and admins
// act for any doctor of their clinic.
func (h *Handler) allowDoctor(w http.ResponseWriter, r *http.Request, clinicID, doctorID string) bool {
	if !h.allow(w, r, clinicID) {
		return false
	}
	if h.auth == nil {
		return true
	}
	principal, _ := principalFromContext(r.Context())
	if principal.Role == models.RoleDoctor && principal.StaffID != doctorID {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "doctors act only for themselves")
		return false
	}
	return true
}

func (h *Handler) allowStaff(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	if h.auth == nil {
		return true
	}
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return false
	}
	return h.requireRole(w, r, principal, roles)
}

func (h *Handler) allowPlatformAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.auth == nil {
		return true
	}
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return false
	}
	if principal.Role != models.RoleAdmin || principal.ClinicID != "" {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "platform admin required")
		return false
	}
	return true
}

func (h *Handler) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing token")
	}
	return principal, ok
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, principal auth.Principal, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if principal.Role == role {
			return true
		}
	}
	writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "role not allowed")
	return false
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint covers the kiosk, the token screen and the realtime feed,
// which only carries the public board.
func isPublicEndpoint(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch path {
	case "/healthz", "/metrics", "/ws":
		return true
	case "/api/auth/login":
		return r.Method == http.MethodPost
	case "/api/tenants":
		return r.Method == http.MethodGet
	}
	if path == "/realtime" || strings.HasPrefix(path, "/realtime/") {
		return true
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "clinics" {
		switch parts[3] {
		case "display":
			return r.Method == http.MethodGet
		case "tokens":
			return r.Method == http.MethodPost
		}
	}
	return false
}
