package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tallypay/authcore/internal/model"
)

type ActivityRepository interface {
	Create(ctx context.Context, params model.CreateActivityParams) error
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]model.ActivityLog, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	WithTx(tx *sqlx.Tx) ActivityRepository
}

type activityRepo struct {
	db sqlxDB
}

func NewActivityRepository(db *sqlx.DB) ActivityRepository {
	return &activityRepo{db: db}
}

func (r *activityRepo) WithTx(tx *sqlx.Tx) ActivityRepository {
	return &activityRepo{db: tx}
}

func (r *activityRepo) Create(ctx context.Context, params model.CreateActivityParams) error {
	var metadata *json.RawMessage
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return fmt.Errorf("marshal activity metadata: %w", err)
		}
		msg := json.RawMessage(raw)
		metadata = &msg
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_logs (user_id, company_id, action, metadata, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, params.UserID, params.CompanyID, params.Action, metadata, nullString(params.IPAddress), nullString(params.UserAgent))
	return err
}

func (r *activityRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]model.ActivityLog, error) {
	var logs []model.ActivityLog
	err := r.db.SelectContext(ctx, &logs, `
		SELECT * FROM activity_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *activityRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM activity_logs WHERE user_id = $1
	`, userID)
	return count, err
}
