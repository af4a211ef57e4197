package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, code string) error
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}

func (r *postgresRepository) Create(ctx context.Context, c *Coupon) error {
	query := `INSERT INTO coupons (code, discount_type, value, active, expires_at, created_at, updated_at)
              VALUES (:code, :discount_type, :value, :active, :expires_at, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCouponExists
		}
		return fmt.Errorf("repository: failed to insert coupon %s: %w", c.Code, err)
	}
	return nil
}

func (r *postgresRepository) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	var c Coupon
	query := `SELECT code, discount_type, value, active, expires_at, created_at, updated_at FROM coupons WHERE code = $1`
	err := r.db.GetContext(ctx, &c, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to get coupon %s: %w", code, err)
	}
	return &c, nil
}

func (r *postgresRepository) List(ctx context.Context) ([]Coupon, error) {
	coupons := make([]Coupon, 0)
	query := `SELECT code, discount_type, value, active, expires_at, created_at, updated_at FROM coupons ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &coupons, query); err != nil {
		return nil, fmt.Errorf("repository: failed to list coupons: %w", err)
	}
	return coupons, nil
}

func (r *postgresRepository) Update(ctx context.Context, c *Coupon) error {
	query := `UPDATE coupons
              SET discount_type = :discount_type, value = :value, active = :active, expires_at = :expires_at, updated_at = :updated_at
              WHERE code = :code`
	res, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		return fmt.Errorf("repository: failed to update coupon %s: %w", c.Code, err)
	}
	return requireAffected(res)
}

func (r *postgresRepository) Delete(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM coupons WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("repository: failed to delete coupon %s: %w", code, err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrCouponNotFound
	}
	return nil
}
