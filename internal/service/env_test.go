package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tallypay/authcore/internal/kvstore"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/util"
)

const (
	testPassword      = "Str0ng!Pass"
	testAccessSecret  = "access-secret-for-tests-0123456789abcdef"
	testRefreshSecret = "refresh-secret-for-tests-0123456789abcdef"
)

type testEnv struct {
	clock     *testClock
	kv        *kvstore.Memory
	companies *fakeCompanyRepo
	roles     *fakeRoleRepo
	users     *fakeUserRepo
	sessions  *fakeSessionRepo
	attempts  *fakeAttemptRepo
	activity  *fakeActivityRepo
	notifier  *captureNotifier

	guard        *SecurityGuard
	tokens       *TokenIssuer
	registration *RegistrationService
	login        *LoginService
	tenants      *TenantGuard
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	env := &testEnv{
		clock:     clock,
		kv:        kvstore.NewMemory(),
		companies: newFakeCompanyRepo(),
		roles:     newFakeRoleRepo(),
		users:     newFakeUserRepo(),
		sessions:  newFakeSessionRepo(clock.Now),
		attempts:  newFakeAttemptRepo(clock.Now),
		activity:  &fakeActivityRepo{},
		notifier:  &captureNotifier{},
	}

	env.guard = NewSecurityGuard(env.users, env.sessions, env.attempts, env.activity)
	env.guard.now = clock.Now

	env.tokens = NewTokenIssuer(testAccessSecret, testRefreshSecret, time.Hour, 7*24*time.Hour)
	env.tokens.now = clock.Now

	box := util.NewSecretBox("")
	env.registration = NewRegistrationService(env.kv, &fakeTransactor{companies: env.companies, roles: env.roles, users: env.users}, env.companies, env.roles, env.users, env.guard, env.notifier, box, "TallyPay")
	env.registration.now = clock.Now

	env.login = NewLoginService(env.kv, env.users, env.guard, env.tokens, env.notifier, box, false)
	env.login.now = clock.Now

	env.tenants = NewTenantGuard(env.users, env.roles)
	return env
}

// seedUser stores an active user without an authenticator secret.
func (e *testEnv) seedUser(t *testing.T, email string) *model.User {
	t.Helper()
	hash, err := util.HashPassword(testPassword)
	require.NoError(t, err)

	company, err := e.companies.Create(context.Background(), model.CreateCompanyParams{
		Name:        "Company " + email,
		Identifier:  "US-AB1CD23",
		CountryCode: "US",
		PhoneNumber: "+1415555" + uuid.NewString()[:4],
		OwnerEmail:  email,
	})
	require.NoError(t, err)
	role, err := e.roles.Create(context.Background(), model.CreateRoleParams{
		CompanyID:   company.ID,
		Name:        model.DefaultAdminRoleName,
		Permissions: []string{model.PermissionAll},
	})
	require.NoError(t, err)

	user := &model.User{
		ID:           uuid.NewString(),
		CompanyID:    company.ID,
		RoleID:       role.ID,
		Username:     "user_" + uuid.NewString()[:8],
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		IsActive:     true,
	}
	e.users.put(user)
	return user
}
