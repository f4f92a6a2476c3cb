package handler

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/service"
)

func TestRegistrationHandler_Begin(t *testing.T) {
	t.Run("maps request body and returns 201", func(t *testing.T) {
		flow := new(mockRegistrationFlow)
		h := NewRegistrationHandler(flow, nil).Routes()

		expiresAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		flow.On("Begin", mock.Anything, service.BeginRegistrationInput{
			Company: service.CompanyDetails{Name: "Acme Corp", ShortName: "ACME", CountryCode: "US", PhoneNumber: "+15551234567"},
			Owner:   service.OwnerDetails{FirstName: "Ada", LastName: "Lovelace", Email: "ada@acme.test"},
		}).Return(&service.BeginRegistrationResult{
			SessionToken:      "tok",
			CompanyIdentifier: "US-AC1BC23",
			ExpiresAt:         expiresAt,
		}, nil)

		rec, env := doRequest(t, h, http.MethodPost, "/step1", map[string]string{
			"companyName": "Acme Corp",
			"shortName":   "ACME",
			"countryCode": "US",
			"phoneNumber": "+15551234567",
			"firstName":   "Ada",
			"lastName":    "Lovelace",
			"email":       "ada@acme.test",
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "success", env.Status)

		var result service.BeginRegistrationResult
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, "tok", result.SessionToken)
		assert.Equal(t, "US-AC1BC23", result.CompanyIdentifier)
		flow.AssertExpectations(t)
	})

	t.Run("malformed body is a validation error", func(t *testing.T) {
		flow := new(mockRegistrationFlow)
		h := NewRegistrationHandler(flow, nil).Routes()

		rec, env := doRequest(t, h, http.MethodPost, "/step1", "{not json")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(apperrors.ErrCodeValidation), env.Code)
		flow.AssertNotCalled(t, "Begin", mock.Anything, mock.Anything)
	})

	t.Run("empty body is a validation error", func(t *testing.T) {
		flow := new(mockRegistrationFlow)
		h := NewRegistrationHandler(flow, nil).Routes()

		rec, env := doRequest(t, h, http.MethodPost, "/step1", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Request body is required", env.Message)
	})

	t.Run("conflict surfaces as 409", func(t *testing.T) {
		flow := new(mockRegistrationFlow)
		h := NewRegistrationHandler(flow, nil).Routes()
		flow.On("Begin", mock.Anything, mock.Anything).Return(nil, apperrors.Conflict("Email already registered"))

		rec, env := doRequest(t, h, http.MethodPost, "/step1", map[string]string{"email": "ada@acme.test"})

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Email already registered", env.Message)
	})

	t.Run("limit middleware guards step1 only", func(t *testing.T) {
		flow := new(mockRegistrationFlow)
		blocked := 0
		limit := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				blocked++
				writeError(w, apperrors.RateLimitExceeded())
			})
		}
		h := NewRegistrationHandler(flow, limit).Routes()
		flow.On("Status", mock.Anything, "tok").Return(&service.RegistrationStatus{CurrentStep: 1, TotalSteps: 3}, nil)

		rec, _ := doRequest(t, h, http.MethodPost, "/step1", map[string]string{})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		rec, _ = doRequest(t, h, http.MethodGet, "/status/tok", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, blocked)
	})
}

func TestRegistrationHandler_SetCredentials(t *testing.T) {
	flow := new(mockRegistrationFlow)
	h := NewRegistrationHandler(flow, nil).Routes()

	input := service.SetCredentialsInput{
		SessionToken:    "tok",
		Username:        "ada",
		Password:        "Str0ng!Pass",
		ConfirmPassword: "Str0ng!Pass",
	}
	flow.On("SetCredentials", mock.Anything, input).Return(&service.SetCredentialsResult{
		SessionToken: "tok",
		Username:     "ada",
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
		OTPAuthURL:   "otpauth://totp/TallyPay:ada@acme.test?secret=JBSWY3DPEHPK3PXP",
	}, nil)

	rec, env := doRequest(t, h, http.MethodPost, "/step2", map[string]string{
		"sessionToken":    "tok",
		"username":        "ada",
		"password":        "Str0ng!Pass",
		"confirmPassword": "Str0ng!Pass",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "otpauthUrl")
	flow.AssertExpectations(t)
}

func TestRegistrationHandler_Complete(t *testing.T) {
	t.Run("passes code and backup codes", func(t *testing.T) {
		flow := new(mockRegistrationFlow)
		h := NewRegistrationHandler(flow, nil).Routes()

		flow.On("Complete", mock.Anything, service.CompleteRegistrationInput{
			SessionToken: "tok",
			TOTPCode:     "123456",
			BackupCodes:  []string{"ABCD1234"},
		}).Return(&service.CompleteRegistrationResult{BackupCodes: []string{"ABCD1234"}}, nil)

		rec, _ := doRequest(t, h, http.MethodPost, "/step3", map[string]any{
			"sessionToken":   "tok",
			"twoFactorToken": "123456",
			"backupCodes":    []string{"ABCD1234"},
		})

		assert.Equal(t, http.StatusCreated, rec.Code)
		flow.AssertExpectations(t)
	})

	t.Run("step mismatch carries both steps", func(t *testing.T) {
		flow := new(mockRegistrationFlow)
		h := NewRegistrationHandler(flow, nil).Routes()
		flow.On("Complete", mock.Anything, mock.Anything).Return(nil, apperrors.StepMismatch(2, 1))

		rec, env := doRequest(t, h, http.MethodPost, "/step3", map[string]string{"sessionToken": "tok", "twoFactorToken": "123456"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(apperrors.ErrCodeStepMismatch), env.Code)
		assert.EqualValues(t, 2, env.Details["expectedStep"])
		assert.EqualValues(t, 1, env.Details["currentStep"])
	})
}

func TestRegistrationHandler_Status(t *testing.T) {
	flow := new(mockRegistrationFlow)
	h := NewRegistrationHandler(flow, nil).Routes()
	flow.On("Status", mock.Anything, "gone").Return(nil, apperrors.SessionExpired("registration session"))

	rec, env := doRequest(t, h, http.MethodGet, "/status/gone", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperrors.ErrCodeSessionExpired), env.Code)
	assert.Equal(t, "Invalid or expired registration session", env.Message)
}
