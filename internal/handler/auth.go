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
)

type LoginFlow interface {
	Initiate(ctx context.Context, input service.LoginInput) (*service.LoginResult, error)
	Verify(ctx context.Context, input service.VerifyInput) (*service.LoginResult, error)
	Resend(ctx context.Context, loginToken string) (*service.LoginResult, error)
	Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*service.LoginResult, error)
	Logout(ctx context.Context, refreshToken, ip, userAgent string) error
	LogoutAll(ctx context.Context, caller service.Caller, ip, userAgent string) (int64, error)
}

// AccountSecurity exposes the session and activity records of a user.
type AccountSecurity interface {
	ListSessions(ctx context.Context, userID string) ([]model.UserSession, error)
	ListActivity(ctx context.Context, userID string, limit, offset int) (*service.ActivityPage, error)
	InvalidateAllSessions(ctx context.Context, userID string) (int64, error)
	Unlock(ctx context.Context, user *model.User) error
}

// AuthLimits holds the rate-limit middleware per sensitive route. Nil entries
// pass requests through.
type AuthLimits struct {
	Login Middleware
	OTP   Middleware
}

type AuthHandler struct {
	flow     LoginFlow
	security AccountSecurity
	bearer   Middleware
	limits   AuthLimits
}

func NewAuthHandler(flow LoginFlow, security AccountSecurity, bearer Middleware, limits AuthLimits) *AuthHandler {
	return &AuthHandler{flow: flow, security: security, bearer: bearer, limits: limits}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(passThrough(h.limits.Login)).Post("/login", h.Login)
	r.With(passThrough(h.limits.OTP)).Post("/login/verify", h.Verify)
	r.With(passThrough(h.limits.OTP)).Post("/login/resend", h.Resend)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(passThrough(h.bearer))
		r.Post("/logout-all", h.LogoutAll)
		r.Get("/me/sessions", h.MySessions)
		r.Get("/me/activity", h.MyActivity)
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.flow.Initiate(r.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        audit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

type verifyRequest struct {
	LoginToken string `json:"loginToken"`
	Code       string `json:"code"`
}

// POST /api/auth/login/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.LoginToken == "" {
		writeError(w, apperrors.MissingRequired("loginToken"))
		return
	}
	if req.Code == "" {
		writeError(w, apperrors.MissingRequired("code"))
		return
	}

	result, err := h.flow.Verify(r.Context(), service.VerifyInput{
		LoginToken: req.LoginToken,
		Code:       req.Code,
		IP:         audit.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

type resendRequest struct {
	LoginToken string `json:"loginToken"`
}

// POST /api/auth/login/resend
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.LoginToken == "" {
		writeError(w, apperrors.MissingRequired("loginToken"))
		return
	}

	result, err := h.flow.Resend(r.Context(), req.LoginToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, apperrors.MissingRequired("refreshToken"))
		return
	}

	result, err := h.flow.Refresh(r.Context(), req.RefreshToken, audit.ClientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.flow.Logout(r.Context(), req.RefreshToken, audit.ClientIP(r), r.UserAgent()); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	n, err := h.flow.LogoutAll(r.Context(), caller, audit.ClientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]int64{"revokedSessions": n})
}

// GET /api/auth/me/sessions
func (h *AuthHandler) MySessions(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	sessions, err := h.security.ListSessions(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, sessions)
}

// GET /api/auth/me/activity
func (h *AuthHandler) MyActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	page := ParsePagination(r)
	activity, err := h.security.ListActivity(r.Context(), caller.UserID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, activity)
}
