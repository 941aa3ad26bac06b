package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/shop-monitor/internal/models"
)

// StoreRepository persists Store entities. Writes run under the DB's
// serializable Transaction wrapper; the poller owns the fingerprint,
// availability and updated fields while the API layer owns enabled/read.
type StoreRepository struct {
	db *DB
}

func NewStoreRepository(db *DB) *StoreRepository {
	return &StoreRepository{db: db}
}

const storeColumns = `id, url, name, province, categories_count, departments_count,
	is_available, has_products_in_cart, is_enabled, sha256, added, updated, read`

func scanStore(row pgx.Row) (*models.Store, error) {
	var s models.Store
	err := row.Scan(&s.ID, &s.URL, &s.Name, &s.Province, &s.CategoriesCount, &s.DepartmentsCount,
		&s.IsAvailable, &s.HasProductsInCart, &s.IsEnabled, &s.Sha256, &s.Added, &s.Updated, &s.Read)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or updates by canonical URL inside tx and backfills the ID.
func (r *StoreRepository) Upsert(ctx context.Context, tx pgx.Tx, s *models.Store) error {
	query := `
		INSERT INTO stores (url, name, province, categories_count, departments_count,
			is_available, has_products_in_cart, is_enabled, sha256, added, updated, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			province = EXCLUDED.province,
			categories_count = EXCLUDED.categories_count,
			departments_count = EXCLUDED.departments_count,
			is_available = EXCLUDED.is_available,
			has_products_in_cart = EXCLUDED.has_products_in_cart,
			sha256 = EXCLUDED.sha256,
			updated = EXCLUDED.updated
		RETURNING id`

	err := tx.QueryRow(ctx, query,
		s.URL, s.Name, s.Province, s.CategoriesCount, s.DepartmentsCount,
		s.IsAvailable, s.HasProductsInCart, s.IsEnabled, s.Sha256, s.Added, s.Updated, s.Read,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert store: %w", err)
	}
	return nil
}

// Save upserts under a serializable transaction.
func (r *StoreRepository) Save(ctx context.Context, s *models.Store) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error { return r.Upsert(ctx, tx, s) })
}

func (r *StoreRepository) GetByURL(ctx context.Context, url string) (*models.Store, error) {
	row := r.db.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE url = $1`, url)
	s, err := scanStore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *StoreRepository) ListEnabled(ctx context.Context) ([]*models.Store, error) {
	return r.list(ctx, `SELECT `+storeColumns+` FROM stores WHERE is_enabled ORDER BY added`)
}

func (r *StoreRepository) ListAll(ctx context.Context) ([]*models.Store, error) {
	return r.list(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY added`)
}

func (r *StoreRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Store, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var out []*models.Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TouchRead bumps the read timestamp; owned by the API layer, not the poller.
func (r *StoreRepository) TouchRead(ctx context.Context, ids []int64) error {
	_, err := r.db.Exec(ctx, `UPDATE stores SET read = $1 WHERE id = ANY($2)`, time.Now(), ids)
	return err
}

func (r *StoreRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM stores WHERE id = $1`, id)
	return err
}
