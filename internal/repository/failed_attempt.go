package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tallypay/authcore/internal/model"
)

type FailedAttemptRepository interface {
	Create(ctx context.Context, params model.CreateFailedAttemptParams) error
	CountSince(ctx context.Context, email string, since time.Time) (int, error)
	DeleteByEmail(ctx context.Context, email string) (int64, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) FailedAttemptRepository
}

type failedAttemptRepo struct {
	db sqlxDB
}

func NewFailedAttemptRepository(db *sqlx.DB) FailedAttemptRepository {
	return &failedAttemptRepo{db: db}
}

func (r *failedAttemptRepo) WithTx(tx *sqlx.Tx) FailedAttemptRepository {
	return &failedAttemptRepo{db: tx}
}

func (r *failedAttemptRepo) Create(ctx context.Context, params model.CreateFailedAttemptParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failed_login_attempts (email, ip_address, user_agent, company_id)
		VALUES (lower($1), $2, $3, $4)
	`, params.Email, nullString(params.IPAddress), nullString(params.UserAgent), params.CompanyID)
	return err
}

func (r *failedAttemptRepo) CountSince(ctx context.Context, email string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM failed_login_attempts
		WHERE email = lower($1) AND created_at >= $2
	`, email, since)
	return count, err
}

func (r *failedAttemptRepo) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM failed_login_attempts WHERE email = lower($1)
	`, email)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *failedAttemptRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM failed_login_attempts WHERE created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
