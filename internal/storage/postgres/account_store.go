package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopfront/internal/domain"
)

type accountStore struct {
	db *sql.DB
}

// NewAccountStore создаёт PostgreSQL-реализацию AccountStore.
func NewAccountStore(store *Store) domain.AccountStore {
	return &accountStore{db: store.DB()}
}

func (s *accountStore) Get(ctx context.Context, id string) (domain.CustomerAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		account domain.CustomerAccount
		role    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, privacy_flag, joined_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(&account.ID, &account.Name, &account.Email, &role, &account.PrivacyFlag, &account.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CustomerAccount{}, domain.ErrAccountNotFound
		}
		return domain.CustomerAccount{}, fmt.Errorf("select account: %w", err)
	}
	account.Role = domain.Role(role)

	purchases, err := s.loadPurchases(ctx, id)
	if err != nil {
		return domain.CustomerAccount{}, err
	}
	account.Purchases = purchases

	return account, nil
}

func (s *accountStore) List(ctx context.Context) ([]domain.CustomerAccount, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, privacy_flag, joined_at
		FROM accounts
		ORDER BY joined_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var result []domain.CustomerAccount
	for rows.Next() {
		var (
			account domain.CustomerAccount
			role    string
		)
		if err := rows.Scan(&account.ID, &account.Name, &account.Email, &role, &account.PrivacyFlag, &account.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		account.Role = domain.Role(role)
		result = append(result, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}

	for i := range result {
		purchases, err := s.loadPurchases(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Purchases = purchases
	}

	return result, nil
}

func (s *accountStore) Create(ctx context.Context, account domain.CustomerAccount) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, name, email, role, privacy_flag, joined_at
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		account.ID, account.Name, account.Email, string(account.Role),
		account.PrivacyFlag, account.JoinedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateAccount
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// AppendPurchases дописывает записи истории одной транзакцией.
// Идемпотентность по order nonce обеспечивает таблица purchase_orders:
// повторная вставка того же (account_id, order_id) конфликтует и весь
// append превращается в no-op.
func (s *accountStore) AppendPurchases(ctx context.Context, customerID, orderID string, records []domain.PurchaseRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)
	`, customerID).Scan(&exists); err != nil {
		return fmt.Errorf("check account exists: %w", err)
	}
	if !exists {
		return domain.ErrAccountNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (account_id, order_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, customerID, orderID)
	if err != nil {
		return fmt.Errorf("register order nonce: %w", err)
	}

	var affected int64
	affected, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("order nonce rows affected: %w", err)
	}
	if affected == 0 {
		// Nonce уже применён: повтор после retry, записи на месте.
		_ = tx.Rollback()
		return nil
	}

	for i, record := range records {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_records (
				account_id, order_id, line_no, product_title, quantity, purchased_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`, customerID, orderID, i, record.ProductTitle, record.Quantity, record.Timestamp); err != nil {
			return fmt.Errorf("insert purchase record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase append: %w", err)
	}
	return nil
}

func (s *accountStore) SetPrivacy(ctx context.Context, customerID string, allow bool) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET privacy_flag = $2 WHERE id = $1
	`, customerID, allow)
	if err != nil {
		return fmt.Errorf("update privacy flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("privacy rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// loadPurchases читает историю в порядке вставки: сперва по id записи,
// он монотонный в пределах аккаунта.
func (s *accountStore) loadPurchases(ctx context.Context, accountID string) ([]domain.PurchaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, product_title, quantity, purchased_at
		FROM purchase_records
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select purchase records: %w", err)
	}
	defer rows.Close()

	var purchases []domain.PurchaseRecord
	for rows.Next() {
		var record domain.PurchaseRecord
		if err := rows.Scan(&record.OrderID, &record.ProductTitle, &record.Quantity, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("scan purchase record: %w", err)
		}
		purchases = append(purchases, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}

	return purchases, nil
}

var _ domain.AccountStore = (*accountStore)(nil)
