package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/tallypay/authcore/internal/model"
)

type CompanyRepository interface {
	FindByID(ctx context.Context, id string) (*model.Company, error)
	ExistsByIdentifier(ctx context.Context, identifier string) (bool, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	Create(ctx context.Context, params model.CreateCompanyParams) (*model.Company, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) CompanyRepository
}

type companyRepo struct {
	db sqlxDB
}

func NewCompanyRepository(db *sqlx.DB) CompanyRepository {
	return &companyRepo{db: db}
}

func (r *companyRepo) WithTx(tx *sqlx.Tx) CompanyRepository {
	return &companyRepo{db: tx}
}

func (r *companyRepo) FindByID(ctx context.Context, id string) (*model.Company, error) {
	var company model.Company
	err := r.db.GetContext(ctx, &company, `
		SELECT * FROM companies WHERE id = $1
	`, id)
	return HandleNotFound(&company, err)
}

func (r *companyRepo) ExistsByIdentifier(ctx context.Context, identifier string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM companies WHERE identifier = $1)`, identifier)
}

func (r *companyRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM companies WHERE lower(name) = lower($1))`, name)
}

func (r *companyRepo) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM companies WHERE phone_number = $1)`, phone)
}

func (r *companyRepo) exists(ctx context.Context, query string, arg string) (bool, error) {
	var found bool
	if err := r.db.GetContext(ctx, &found, query, arg); err != nil {
		return false, err
	}
	return found, nil
}

func (r *companyRepo) Create(ctx context.Context, params model.CreateCompanyParams) (*model.Company, error) {
	var company model.Company
	err := r.db.GetContext(ctx, &company, `
		INSERT INTO companies (name, short_name, identifier, country_code, phone_number, owner_email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.Name, params.ShortName, params.Identifier, params.CountryCode, params.PhoneNumber, params.OwnerEmail)
	if err != nil {
		return nil, err
	}
	return &company, nil
}
