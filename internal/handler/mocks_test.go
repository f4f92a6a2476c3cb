package handler

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/tallypay/authcore/internal/middleware"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/service"
)

type mockRegistrationFlow struct {
	mock.Mock
}

func (m *mockRegistrationFlow) Begin(ctx context.Context, input service.BeginRegistrationInput) (*service.BeginRegistrationResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BeginRegistrationResult), args.Error(1)
}

func (m *mockRegistrationFlow) SetCredentials(ctx context.Context, input service.SetCredentialsInput) (*service.SetCredentialsResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SetCredentialsResult), args.Error(1)
}

func (m *mockRegistrationFlow) Complete(ctx context.Context, input service.CompleteRegistrationInput) (*service.CompleteRegistrationResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CompleteRegistrationResult), args.Error(1)
}

func (m *mockRegistrationFlow) Status(ctx context.Context, token string) (*service.RegistrationStatus, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RegistrationStatus), args.Error(1)
}

type mockLoginFlow struct {
	mock.Mock
}

func (m *mockLoginFlow) Initiate(ctx context.Context, input service.LoginInput) (*service.LoginResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginResult), args.Error(1)
}

func (m *mockLoginFlow) Verify(ctx context.Context, input service.VerifyInput) (*service.LoginResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginResult), args.Error(1)
}

func (m *mockLoginFlow) Resend(ctx context.Context, loginToken string) (*service.LoginResult, error) {
	args := m.Called(ctx, loginToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginResult), args.Error(1)
}

func (m *mockLoginFlow) Refresh(ctx context.Context, refreshToken, ip, userAgent string) (*service.LoginResult, error) {
	args := m.Called(ctx, refreshToken, ip, userAgent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginResult), args.Error(1)
}

func (m *mockLoginFlow) Logout(ctx context.Context, refreshToken, ip, userAgent string) error {
	args := m.Called(ctx, refreshToken, ip, userAgent)
	return args.Error(0)
}

func (m *mockLoginFlow) LogoutAll(ctx context.Context, caller service.Caller, ip, userAgent string) (int64, error) {
	args := m.Called(ctx, caller, ip, userAgent)
	return args.Get(0).(int64), args.Error(1)
}

type mockAccountSecurity struct {
	mock.Mock
}

func (m *mockAccountSecurity) ListSessions(ctx context.Context, userID string) ([]model.UserSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UserSession), args.Error(1)
}

func (m *mockAccountSecurity) ListActivity(ctx context.Context, userID string, limit, offset int) (*service.ActivityPage, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ActivityPage), args.Error(1)
}

func (m *mockAccountSecurity) InvalidateAllSessions(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAccountSecurity) Unlock(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

type mockTenantAuthorizer struct {
	mock.Mock
}

func (m *mockTenantAuthorizer) AuthorizeUserAccess(ctx context.Context, caller service.Caller, targetUserID string) (*model.User, error) {
	args := m.Called(ctx, caller, targetUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockTenantAuthorizer) AuthorizeSecurityAdmin(ctx context.Context, caller service.Caller, targetUserID string) (*model.User, error) {
	args := m.Called(ctx, caller, targetUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

var testCaller = service.Caller{UserID: "user-1", RoleID: "role-1", CompanyID: "company-1"}

// fakeBearer authenticates every request as testCaller.
func fakeBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := &service.AccessClaims{
			UserID:    testCaller.UserID,
			RoleID:    testCaller.RoleID,
			CompanyID: testCaller.CompanyID,
			Type:      service.TokenTypeAccess,
		}
		ctx := context.WithValue(r.Context(), middleware.ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
