package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tallypay/authcore/internal/service"
)

type RegistrationFlow interface {
	Begin(ctx context.Context, input service.BeginRegistrationInput) (*service.BeginRegistrationResult, error)
	SetCredentials(ctx context.Context, input service.SetCredentialsInput) (*service.SetCredentialsResult, error)
	Complete(ctx context.Context, input service.CompleteRegistrationInput) (*service.CompleteRegistrationResult, error)
	Status(ctx context.Context, token string) (*service.RegistrationStatus, error)
}

type RegistrationHandler struct {
	flow  RegistrationFlow
	limit Middleware
}

// NewRegistrationHandler builds the handler. limit guards step 1 and may be nil.
func NewRegistrationHandler(flow RegistrationFlow, limit Middleware) *RegistrationHandler {
	return &RegistrationHandler{flow: flow, limit: limit}
}

func (h *RegistrationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(passThrough(h.limit)).Post("/step1", h.Begin)
	r.Post("/step2", h.SetCredentials)
	r.Post("/step3", h.Complete)
	r.Get("/status/{token}", h.Status)

	return r
}

type beginRequest struct {
	CompanyName string `json:"companyName"`
	ShortName   string `json:"shortName"`
	CountryCode string `json:"countryCode"`
	PhoneNumber string `json:"phoneNumber"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
}

// POST /api/auth/register/step1
func (h *RegistrationHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.flow.Begin(r.Context(), service.BeginRegistrationInput{
		Company: service.CompanyDetails{
			Name:        req.CompanyName,
			ShortName:   req.ShortName,
			CountryCode: req.CountryCode,
			PhoneNumber: req.PhoneNumber,
		},
		Owner: service.OwnerDetails{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, result)
}

type credentialsRequest struct {
	SessionToken    string `json:"sessionToken"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// POST /api/auth/register/step2
func (h *RegistrationHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.flow.SetCredentials(r.Context(), service.SetCredentialsInput(req))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}

type completeRequest struct {
	SessionToken   string   `json:"sessionToken"`
	TwoFactorToken string   `json:"twoFactorToken"`
	BackupCodes    []string `json:"backupCodes"`
}

// POST /api/auth/register/step3
func (h *RegistrationHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.flow.Complete(r.Context(), service.CompleteRegistrationInput{
		SessionToken: req.SessionToken,
		TOTPCode:     req.TwoFactorToken,
		BackupCodes:  req.BackupCodes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, result)
}

// GET /api/auth/register/status/{token}
func (h *RegistrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	result, err := h.flow.Status(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}
