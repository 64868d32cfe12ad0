package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type productStore struct {
	db *sql.DB
}

// NewProductStore создаёт PostgreSQL-реализацию ProductStore.
func NewProductStore(store *Store) domain.ProductStore {
	return &productStore{db: store.DB()}
}

func (s *productStore) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		product  domain.Product
		stockQty sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, price_minor, category, stock_qty, description, image_ref, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.Title, &product.PriceMinor, &product.Category,
		&stockQty, &product.Description, &product.ImageRef,
		&product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	if stockQty.Valid {
		product.StockQty = domain.StockOf(stockQty.Int64)
	}

	return product, nil
}

func (s *productStore) List(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, price_minor, category, stock_qty, description, image_ref, created_at, updated_at
		FROM products
		ORDER BY title, id
	`)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		var (
			product  domain.Product
			stockQty sql.NullInt64
		)
		if err := rows.Scan(
			&product.ID, &product.Title, &product.PriceMinor, &product.Category,
			&stockQty, &product.Description, &product.ImageRef,
			&product.CreatedAt, &product.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if stockQty.Valid {
			product.StockQty = domain.StockOf(stockQty.Int64)
		}
		result = append(result, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return result, nil
}

// Create сохраняет новый товар (используется сидером и интеграционными тестами).
func (s *productStore) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stockQty sql.NullInt64
	if qty, tracked := product.Stock(); tracked {
		stockQty = sql.NullInt64{Int64: qty, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, title, price_minor, category, stock_qty, description, image_ref, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		product.ID, product.Title, product.PriceMinor, product.Category,
		stockQty, product.Description, product.ImageRef,
		product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// CompareAndSwapStock условно обновляет остаток: строка меняется только
// если stock_qty всё ещё равен expected. Это прямой аналог optimistic
// update документного хранилища и единственный путь декремента.
func (s *productStore) CompareAndSwapStock(ctx context.Context, id string, expected, next int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock_qty = $2
	`, id, expected, next)
	if err != nil {
		return fmt.Errorf("cas stock update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas stock rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Ноль строк: либо товар исчез или не отслеживается, либо остаток
	// конкурентно изменился. Различаем повторным чтением.
	var stockQty sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT stock_qty FROM products WHERE id = $1
	`, id).Scan(&stockQty)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return fmt.Errorf("cas stock recheck: %w", err)
	}
	if !stockQty.Valid {
		return &domain.ProductNotFoundError{ProductID: id}
	}

	return domain.ErrStockConflict
}

// AdjustStock безусловно прибавляет delta к отслеживаемому остатку.
// Неотслеживаемые товары пропускаются молча.
func (s *productStore) AdjustStock(ctx context.Context, id string, delta int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock_qty IS NOT NULL
	`, id, delta); err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.ProductStore = (*productStore)(nil)
