package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallypay/authcore/internal/model"
)

type UserSessionRepository interface {
	// Create replaces any existing session with the same token hash.
	Create(ctx context.Context, params model.CreateUserSessionParams) (*model.UserSession, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.UserSession, error)
	// Consume deletes and returns the live session for tokenHash. Nil when absent or expired.
	Consume(ctx context.Context, tokenHash string) (*model.UserSession, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	ListByUserID(ctx context.Context, userID string) ([]model.UserSession, error)
	DeleteExpired(ctx context.Context) (int64, error)
	WithTx(tx *sqlx.Tx) UserSessionRepository
}

type userSessionRepo struct {
	db sqlxDB
}

func NewUserSessionRepository(db *sqlx.DB) UserSessionRepository {
	return &userSessionRepo{db: db}
}

func (r *userSessionRepo) WithTx(tx *sqlx.Tx) UserSessionRepository {
	return &userSessionRepo{db: tx}
}

func (r *userSessionRepo) Create(ctx context.Context, params model.CreateUserSessionParams) (*model.UserSession, error) {
	var session model.UserSession
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO user_sessions (user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			expires_at = EXCLUDED.expires_at,
			created_at = NOW()
		RETURNING *
	`, params.UserID, params.TokenHash, nullString(params.IPAddress), nullString(params.UserAgent), params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *userSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.UserSession, error) {
	var session model.UserSession
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM user_sessions
		WHERE token_hash = $1 AND expires_at > NOW()
	`, tokenHash)
	return HandleNotFound(&session, err)
}

func (r *userSessionRepo) Consume(ctx context.Context, tokenHash string) (*model.UserSession, error) {
	var session model.UserSession
	err := r.db.GetContext(ctx, &session, `
		DELETE FROM user_sessions
		WHERE token_hash = $1 AND expires_at > NOW()
		RETURNING *
	`, tokenHash)
	return HandleNotFound(&session, err)
}

func (r *userSessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *userSessionRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *userSessionRepo) ListByUserID(ctx context.Context, userID string) ([]model.UserSession, error) {
	var sessions []model.UserSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM user_sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *userSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
