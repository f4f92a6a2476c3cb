package model

import (
	"time"

	"github.com/lib/pq"
)

type User struct {
	ID               string         `db:"id" json:"id"`
	CompanyID        string         `db:"company_id" json:"companyId"`
	RoleID           string         `db:"role_id" json:"roleId"`
	Username         string         `db:"username" json:"username"`
	Email            string         `db:"email" json:"email"`
	FirstName        string         `db:"first_name" json:"firstName"`
	LastName         string         `db:"last_name" json:"lastName"`
	PasswordHash     string         `db:"password_hash" json:"-"`
	TwoFactorEnabled bool           `db:"two_factor_enabled" json:"twoFactorEnabled"`
	TwoFactorSecret  *string        `db:"two_factor_secret" json:"-"`
	BackupCodes      pq.StringArray `db:"backup_codes" json:"-"`
	IsActive         bool           `db:"is_active" json:"isActive"`
	IsLocked         bool           `db:"is_locked" json:"isLocked"`
	LockedUntil      *time.Time     `db:"locked_until" json:"lockedUntil,omitempty"`
	LastLoginAt      *time.Time     `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`
}

type CreateUserParams struct {
	CompanyID       string
	RoleID          string
	Username        string
	Email           string
	FirstName       string
	LastName        string
	PasswordHash    string
	TwoFactorSecret string
	BackupCodes     []string
}

// PublicUser is the user shape returned to API clients.
type PublicUser struct {
	ID               string     `json:"id"`
	CompanyID        string     `json:"companyId"`
	RoleID           string     `json:"roleId"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		CompanyID:        u.CompanyID,
		RoleID:           u.RoleID,
		Username:         u.Username,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastLoginAt:      u.LastLoginAt,
	}
}
