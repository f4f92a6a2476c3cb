package model

import (
	"encoding/json"
	"time"
)

type FailedLoginAttempt struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	IPAddress *string   `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent *string   `db:"user_agent" json:"userAgent,omitempty"`
	CompanyID *string   `db:"company_id" json:"companyId,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateFailedAttemptParams struct {
	Email     string
	IPAddress string
	UserAgent string
	CompanyID *string
}

type ActivityLog struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"userId"`
	CompanyID *string          `db:"company_id" json:"companyId,omitempty"`
	Action    ActivityAction   `db:"action" json:"action"`
	Metadata  *json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	IPAddress *string          `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent *string          `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

type CreateActivityParams struct {
	UserID    string
	CompanyID *string
	Action    ActivityAction
	Metadata  map[string]any
	IPAddress string
	UserAgent string
}
