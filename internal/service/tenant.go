package service

import (
	"context"

	"github.com/tallypay/authcore/internal/audit"
	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/model"
	"github.com/tallypay/authcore/internal/repository"
)

// Caller identifies the authenticated principal of a request.
type Caller struct {
	UserID    string
	RoleID    string
	CompanyID string
}

// AssertBelongsToTenant fails with NotFound when the resource has no owning
// company and with TenantMismatch when it belongs to another one.
func AssertBelongsToTenant(resourceCompanyID *string, callerCompanyID, resourceName string) error {
	if resourceCompanyID == nil {
		return apperrors.NotFound(resourceName)
	}
	if callerCompanyID == "" || *resourceCompanyID != callerCompanyID {
		return apperrors.TenantMismatch(resourceName)
	}
	return nil
}

type TenantGuard struct {
	users repository.UserRepository
	roles repository.RoleRepository
}

func NewTenantGuard(users repository.UserRepository, roles repository.RoleRepository) *TenantGuard {
	return &TenantGuard{users: users, roles: roles}
}

func (g *TenantGuard) LoadTenantUser(ctx context.Context, userID, callerCompanyID string) (*model.User, error) {
	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	var companyID *string
	if user != nil {
		companyID = &user.CompanyID
	}
	if err := AssertBelongsToTenant(companyID, callerCompanyID, "user"); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeTenantMismatch) {
			audit.Log(ctx, audit.Event{
				Type:      audit.EventTenantViolation,
				CompanyID: callerCompanyID,
				Details:   map[string]interface{}{"resource": "user", "resource_id": userID},
			})
		}
		return nil, err
	}
	return user, nil
}

// AuthorizeUserAccess loads a user of the caller's company. Records of other
// users additionally require the security management permission.
func (g *TenantGuard) AuthorizeUserAccess(ctx context.Context, caller Caller, targetUserID string) (*model.User, error) {
	user, err := g.LoadTenantUser(ctx, targetUserID, caller.CompanyID)
	if err != nil {
		return nil, err
	}
	if user.ID == caller.UserID {
		return user, nil
	}
	if err := g.requireSecurityManage(ctx, caller); err != nil {
		return nil, err
	}
	return user, nil
}

// AuthorizeSecurityAdmin loads a user of the caller's company for an
// administrative action such as unlocking. The security management
// permission is required even when the caller targets their own account.
func (g *TenantGuard) AuthorizeSecurityAdmin(ctx context.Context, caller Caller, targetUserID string) (*model.User, error) {
	user, err := g.LoadTenantUser(ctx, targetUserID, caller.CompanyID)
	if err != nil {
		return nil, err
	}
	if err := g.requireSecurityManage(ctx, caller); err != nil {
		return nil, err
	}
	return user, nil
}

func (g *TenantGuard) requireSecurityManage(ctx context.Context, caller Caller) error {
	role, err := g.roles.FindByID(ctx, caller.RoleID)
	if err != nil {
		return apperrors.Database(err)
	}
	if role == nil || role.CompanyID != caller.CompanyID || !role.HasPermission(model.PermissionSecurityManage) {
		return apperrors.Forbidden("Insufficient permissions")
	}
	return nil
}
