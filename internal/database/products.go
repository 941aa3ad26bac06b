package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/shop-monitor/internal/models"
)

type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `id, url, name, price, currency, store, department,
	is_available, is_in_cart, is_enabled, sha256, added, updated, read`

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.URL, &p.Name, &p.Price, &p.Currency, &p.Store, &p.Department,
		&p.IsAvailable, &p.IsInCart, &p.IsEnabled, &p.Sha256, &p.Added, &p.Updated, &p.Read)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, tx pgx.Tx, p *models.Product) error {
	query := `
		INSERT INTO products (url, name, price, currency, store, department,
			is_available, is_in_cart, is_enabled, sha256, added, updated, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (url) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			store = EXCLUDED.store,
			department = EXCLUDED.department,
			is_available = EXCLUDED.is_available,
			is_in_cart = EXCLUDED.is_in_cart,
			sha256 = EXCLUDED.sha256,
			updated = EXCLUDED.updated
		RETURNING id`

	err := tx.QueryRow(ctx, query,
		p.URL, p.Name, p.Price, p.Currency, p.Store, p.Department,
		p.IsAvailable, p.IsInCart, p.IsEnabled, p.Sha256, p.Added, p.Updated, p.Read,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (r *ProductRepository) Save(ctx context.Context, p *models.Product) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error { return r.Upsert(ctx, tx, p) })
}

func (r *ProductRepository) GetByURL(ctx context.Context, url string) (*models.Product, error) {
	row := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE url = $1`, url)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *ProductRepository) ListEnabled(ctx context.Context) ([]*models.Product, error) {
	return r.list(ctx, `SELECT `+productColumns+` FROM products WHERE is_enabled ORDER BY added`)
}

func (r *ProductRepository) ListAll(ctx context.Context) ([]*models.Product, error) {
	return r.list(ctx, `SELECT `+productColumns+` FROM products ORDER BY added`)
}

// ListDisabledURLs feeds the scraper's add-to-cart exclusion set.
func (r *ProductRepository) ListDisabledURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `SELECT url FROM products WHERE NOT is_enabled`)
	if err != nil {
		return nil, fmt.Errorf("failed to list disabled products: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		out[url] = struct{}{}
	}
	return out, rows.Err()
}

func (r *ProductRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Product, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProductRepository) TouchRead(ctx context.Context, ids []int64) error {
	_, err := r.db.Exec(ctx, `UPDATE products SET read = $1 WHERE id = ANY($2)`, time.Now(), ids)
	return err
}

func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	return err
}
