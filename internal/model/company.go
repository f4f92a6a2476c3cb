package model

import (
	"time"

	"github.com/lib/pq"
)

type Company struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ShortName   string    `db:"short_name" json:"shortName"`
	Identifier  string    `db:"identifier" json:"identifier"`
	CountryCode string    `db:"country_code" json:"countryCode"`
	PhoneNumber string    `db:"phone_number" json:"phoneNumber"`
	OwnerEmail  string    `db:"owner_email" json:"ownerEmail"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateCompanyParams struct {
	Name        string
	ShortName   string
	Identifier  string
	CountryCode string
	PhoneNumber string
	OwnerEmail  string
}

type Role struct {
	ID          string         `db:"id" json:"id"`
	CompanyID   string         `db:"company_id" json:"companyId"`
	Name        string         `db:"name" json:"name"`
	Permissions pq.StringArray `db:"permissions" json:"permissions"`
	IsDefault   bool           `db:"is_default" json:"isDefault"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}

type CreateRoleParams struct {
	CompanyID   string
	Name        string
	Permissions []string
	IsDefault   bool
}

// HasPermission reports whether the role grants perm, either directly or via "*".
func (r *Role) HasPermission(perm string) bool {
	return HasPermission(r.Permissions, perm)
}

func HasPermission(granted []string, perm string) bool {
	for _, p := range granted {
		if p == PermissionAll || p == perm {
			return true
		}
	}
	return false
}
