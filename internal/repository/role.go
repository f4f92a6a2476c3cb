package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tallypay/authcore/internal/model"
)

type RoleRepository interface {
	FindByID(ctx context.Context, id string) (*model.Role, error)
	Create(ctx context.Context, params model.CreateRoleParams) (*model.Role, error)
	WithTx(tx *sqlx.Tx) RoleRepository
}

type roleRepo struct {
	db sqlxDB
}

func NewRoleRepository(db *sqlx.DB) RoleRepository {
	return &roleRepo{db: db}
}

func (r *roleRepo) WithTx(tx *sqlx.Tx) RoleRepository {
	return &roleRepo{db: tx}
}

func (r *roleRepo) FindByID(ctx context.Context, id string) (*model.Role, error) {
	var role model.Role
	err := r.db.GetContext(ctx, &role, `SELECT * FROM roles WHERE id = $1`, id)
	return HandleNotFound(&role, err)
}

func (r *roleRepo) Create(ctx context.Context, params model.CreateRoleParams) (*model.Role, error) {
	var role model.Role
	err := r.db.GetContext(ctx, &role, `
		INSERT INTO roles (company_id, name, permissions, is_default)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.CompanyID, params.Name, pq.StringArray(params.Permissions), params.IsDefault)
	if err != nil {
		return nil, err
	}
	return &role, nil
}
