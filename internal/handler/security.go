package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tallypay/authcore/internal/audit"
	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/middleware"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/service"
	"github.com/tallypay/authcore/internal/util"
)

type TenantAuthorizer interface {
	AuthorizeUserAccess(ctx context.Context, caller service.Caller, targetUserID string) (*model.User, error)
	AuthorizeSecurityAdmin(ctx context.Context, caller service.Caller, targetUserID string) (*model.User, error)
}

type authorizeFunc func(ctx context.Context, caller service.Caller, targetUserID string) (*model.User, error)

// SecurityHandler serves account-security records of users in the caller's
// company. Every route sits behind the bearer middleware.
type SecurityHandler struct {
	tenants  TenantAuthorizer
	security AccountSecurity
	bearer   Middleware
}

func NewSecurityHandler(tenants TenantAuthorizer, security AccountSecurity, bearer Middleware) *SecurityHandler {
	return &SecurityHandler{tenants: tenants, security: security, bearer: bearer}
}

func (h *SecurityHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(passThrough(h.bearer))

	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/sessions", h.ListSessions)
		r.Delete("/sessions", h.RevokeSessions)
		r.Get("/activity", h.ListActivity)
		r.Post("/unlock", h.Unlock)
	})

	return r
}

// authorize resolves the target user through check or writes the error response.
func (h *SecurityHandler) authorize(w http.ResponseWriter, r *http.Request, check authorizeFunc) (service.Caller, *model.User, bool) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return service.Caller{}, nil, false
	}

	targetID := chi.URLParam(r, "id")
	if !util.IsValidUUID(targetID) {
		writeError(w, apperrors.NotFound("user"))
		return service.Caller{}, nil, false
	}

	user, err := check(r.Context(), caller, targetID)
	if err != nil {
		writeError(w, err)
		return service.Caller{}, nil, false
	}
	return caller, user, true
}

// GET /api/security/users/{id}/sessions
func (h *SecurityHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.authorize(w, r, h.tenants.AuthorizeUserAccess)
	if !ok {
		return
	}

	sessions, err := h.security.ListSessions(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, sessions)
}

// DELETE /api/security/users/{id}/sessions
func (h *SecurityHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	caller, user, ok := h.authorize(w, r, h.tenants.AuthorizeUserAccess)
	if !ok {
		return
	}

	n, err := h.security.InvalidateAllSessions(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventLogout,
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Details:   map[string]interface{}{"scope": "all", "sessions": n, "revoked_by": caller.UserID},
	})

	writeSuccess(w, http.StatusOK, map[string]int64{"revokedSessions": n})
}

// GET /api/security/users/{id}/activity
func (h *SecurityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.authorize(w, r, h.tenants.AuthorizeUserAccess)
	if !ok {
		return
	}

	page := ParsePagination(r)
	activity, err := h.security.ListActivity(r.Context(), user.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, activity)
}

// POST /api/security/users/{id}/unlock
func (h *SecurityHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	caller, user, ok := h.authorize(w, r, h.tenants.AuthorizeSecurityAdmin)
	if !ok {
		return
	}

	wasLocked := user.IsLocked
	if err := h.security.Unlock(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	if wasLocked {
		audit.LogFromRequest(r, audit.Event{
			Type:      audit.EventAccountUnlocked,
			UserID:    user.ID,
			CompanyID: user.CompanyID,
			Details:   map[string]interface{}{"reason": "manual", "unlocked_by": caller.UserID},
		})
	}

	writeSuccess(w, http.StatusOK, user.Public())
}
