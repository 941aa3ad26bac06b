package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/shop-monitor/internal/models"
)

type DepartmentRepository struct {
	db *DB
}

func NewDepartmentRepository(db *DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

const departmentColumns = `id, url, name, category, products_count, store,
	is_available, is_enabled, sha256, added, updated, read`

func scanDepartment(row pgx.Row) (*models.Department, error) {
	var d models.Department
	err := row.Scan(&d.ID, &d.URL, &d.Name, &d.Category, &d.ProductsCount, &d.Store,
		&d.IsAvailable, &d.IsEnabled, &d.Sha256, &d.Added, &d.Updated, &d.Read)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DepartmentRepository) Upsert(ctx context.Context, tx pgx.Tx, d *models.Department) error {
	query := `
		INSERT INTO departments (url, name, category, products_count, store,
			is_available, is_enabled, sha256, added, updated, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			products_count = EXCLUDED.products_count,
			store = EXCLUDED.store,
			is_available = EXCLUDED.is_available,
			sha256 = EXCLUDED.sha256,
			updated = EXCLUDED.updated
		RETURNING id`

	err := tx.QueryRow(ctx, query,
		d.URL, d.Name, d.Category, d.ProductsCount, d.Store,
		d.IsAvailable, d.IsEnabled, d.Sha256, d.Added, d.Updated, d.Read,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert department: %w", err)
	}
	return nil
}

func (r *DepartmentRepository) Save(ctx context.Context, d *models.Department) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error { return r.Upsert(ctx, tx, d) })
}

func (r *DepartmentRepository) GetByURL(ctx context.Context, url string) (*models.Department, error) {
	row := r.db.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE url = $1`, url)
	d, err := scanDepartment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *DepartmentRepository) ListEnabled(ctx context.Context) ([]*models.Department, error) {
	return r.list(ctx, `SELECT `+departmentColumns+` FROM departments WHERE is_enabled ORDER BY added`)
}

func (r *DepartmentRepository) ListAll(ctx context.Context) ([]*models.Department, error) {
	return r.list(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY added`)
}

func (r *DepartmentRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Department, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var out []*models.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DepartmentRepository) TouchRead(ctx context.Context, ids []int64) error {
	_, err := r.db.Exec(ctx, `UPDATE departments SET read = $1 WHERE id = ANY($2)`, time.Now(), ids)
	return err
}

func (r *DepartmentRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id)
	return err
}
