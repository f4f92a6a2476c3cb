package service

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/repository"
)

type mockRoleRepo struct {
	mock.Mock
}

func (m *mockRoleRepo) FindByID(ctx context.Context, id string) (*model.Role, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Role), args.Error(1)
}

func (m *mockRoleRepo) Create(ctx context.Context, params model.CreateRoleParams) (*model.Role, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Role), args.Error(1)
}

func (m *mockRoleRepo) WithTx(*sqlx.Tx) repository.RoleRepository {
	return m
}

func strPtr(s string) *string { return &s }

func TestAssertBelongsToTenant(t *testing.T) {
	tests := []struct {
		name     string
		resource *string
		caller   string
		code     apperrors.ErrorCode
	}{
		{"same company", strPtr("c1"), "c1", ""},
		{"missing resource", nil, "c1", apperrors.ErrCodeNotFound},
		{"other company", strPtr("c2"), "c1", apperrors.ErrCodeTenantMismatch},
		{"caller without company", strPtr("c1"), "", apperrors.ErrCodeTenantMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := AssertBelongsToTenant(tc.resource, tc.caller, "user")
			if tc.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperrors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func TestAuthorizeUserAccess(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	users.put(&model.User{ID: "admin", CompanyID: "c1", RoleID: "role-admin"})
	users.put(&model.User{ID: "clerk", CompanyID: "c1", RoleID: "role-clerk"})
	users.put(&model.User{ID: "outsider", CompanyID: "c2", RoleID: "role-other"})

	roles := &mockRoleRepo{}
	roles.On("FindByID", ctx, "role-admin").Return(&model.Role{ID: "role-admin", CompanyID: "c1", Permissions: pq.StringArray{model.PermissionSecurityManage}}, nil)
	roles.On("FindByID", ctx, "role-clerk").Return(&model.Role{ID: "role-clerk", CompanyID: "c1", Permissions: pq.StringArray{"payroll:read"}}, nil)
	roles.On("FindByID", ctx, "role-foreign").Return(&model.Role{ID: "role-foreign", CompanyID: "c2", Permissions: pq.StringArray{model.PermissionAll}}, nil)

	guard := NewTenantGuard(users, roles)

	t.Run("self access needs no permission", func(t *testing.T) {
		user, err := guard.AuthorizeUserAccess(ctx, Caller{UserID: "clerk", RoleID: "role-clerk", CompanyID: "c1"}, "clerk")
		require.NoError(t, err)
		assert.Equal(t, "clerk", user.ID)
	})

	t.Run("manager reads a colleague", func(t *testing.T) {
		user, err := guard.AuthorizeUserAccess(ctx, Caller{UserID: "admin", RoleID: "role-admin", CompanyID: "c1"}, "clerk")
		require.NoError(t, err)
		assert.Equal(t, "clerk", user.ID)
	})

	t.Run("clerk cannot read a colleague", func(t *testing.T) {
		_, err := guard.AuthorizeUserAccess(ctx, Caller{UserID: "clerk", RoleID: "role-clerk", CompanyID: "c1"}, "admin")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("other tenant is forbidden before roles are consulted", func(t *testing.T) {
		_, err := guard.AuthorizeUserAccess(ctx, Caller{UserID: "admin", RoleID: "role-admin", CompanyID: "c1"}, "outsider")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTenantMismatch))
	})

	t.Run("role from another company grants nothing", func(t *testing.T) {
		_, err := guard.AuthorizeUserAccess(ctx, Caller{UserID: "admin", RoleID: "role-foreign", CompanyID: "c1"}, "clerk")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := guard.AuthorizeUserAccess(ctx, Caller{UserID: "admin", RoleID: "role-admin", CompanyID: "c1"}, "ghost")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	roles.AssertNotCalled(t, "FindByID", ctx, "role-other")
}

func TestAuthorizeSecurityAdmin(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserRepo()
	users.put(&model.User{ID: "admin", CompanyID: "c1", RoleID: "role-admin"})
	users.put(&model.User{ID: "clerk", CompanyID: "c1", RoleID: "role-clerk"})
	users.put(&model.User{ID: "outsider", CompanyID: "c2", RoleID: "role-other"})

	roles := &mockRoleRepo{}
	roles.On("FindByID", ctx, "role-admin").Return(&model.Role{ID: "role-admin", CompanyID: "c1", Permissions: pq.StringArray{model.PermissionSecurityManage}}, nil)
	roles.On("FindByID", ctx, "role-clerk").Return(&model.Role{ID: "role-clerk", CompanyID: "c1", Permissions: pq.StringArray{"payroll:read"}}, nil)

	guard := NewTenantGuard(users, roles)

	t.Run("own account still needs the permission", func(t *testing.T) {
		_, err := guard.AuthorizeSecurityAdmin(ctx, Caller{UserID: "clerk", RoleID: "role-clerk", CompanyID: "c1"}, "clerk")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
	})

	t.Run("manager unlocks a colleague", func(t *testing.T) {
		user, err := guard.AuthorizeSecurityAdmin(ctx, Caller{UserID: "admin", RoleID: "role-admin", CompanyID: "c1"}, "clerk")
		require.NoError(t, err)
		assert.Equal(t, "clerk", user.ID)
	})

	t.Run("manager may target their own account", func(t *testing.T) {
		user, err := guard.AuthorizeSecurityAdmin(ctx, Caller{UserID: "admin", RoleID: "role-admin", CompanyID: "c1"}, "admin")
		require.NoError(t, err)
		assert.Equal(t, "admin", user.ID)
	})

	t.Run("other tenant is rejected", func(t *testing.T) {
		_, err := guard.AuthorizeSecurityAdmin(ctx, Caller{UserID: "admin", RoleID: "role-admin", CompanyID: "c1"}, "outsider")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTenantMismatch))
	})
}
