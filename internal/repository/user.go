package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tallypay/authcore/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	// LockByEmail locks the account for email until the given time. Returns the
	// locked user, or nil when no such account exists.
	LockByEmail(ctx context.Context, email string, until time.Time) (*model.User, error)
	Unlock(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	// ConsumeBackupCode removes codeHash from the user's codes. False when it was not present.
	ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error)
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepo struct {
	db sqlxDB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepo{db: tx}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE lower(email) = lower($1)
	`, email)
	return HandleNotFound(&user, err)
}

func (r *userRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var found bool
	err := r.db.GetContext(ctx, &found, `
		SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1))
	`, email)
	return found, err
}

func (r *userRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var found bool
	err := r.db.GetContext(ctx, &found, `
		SELECT EXISTS(SELECT 1 FROM users WHERE lower(username) = lower($1))
	`, username)
	return found, err
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (
			company_id, role_id, username, email, first_name, last_name,
			password_hash, two_factor_enabled, two_factor_secret, backup_codes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9)
		RETURNING *
	`, params.CompanyID, params.RoleID, params.Username, params.Email, params.FirstName, params.LastName,
		params.PasswordHash, params.TwoFactorSecret, pq.StringArray(params.BackupCodes))
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) LockByEmail(ctx context.Context, email string, until time.Time) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET
			is_locked = TRUE,
			locked_until = $2,
			updated_at = NOW()
		WHERE lower(email) = lower($1)
		RETURNING *
	`, email, until)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Unlock(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			is_locked = FALSE,
			locked_until = NULL,
			updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1
	`, id, at)
	return err
}

func (r *userRepo) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			backup_codes = array_remove(backup_codes, $2),
			updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(backup_codes)
	`, id, codeHash)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
