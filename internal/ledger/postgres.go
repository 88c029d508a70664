package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore persists accounts and the append-only transaction log in
// PostgreSQL. The conditional balance update and the transaction insert run
// in a single database transaction so balance and log never diverge.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (id, owner_id, balance, version, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.OwnerID, account.Balance, account.Version, account.CreatedAt.UTC())
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT id, owner_id, balance, version, created_at
        FROM accounts WHERE id = $1`, accountID)
	var a Account
	var createdAt time.Time
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Balance, &a.Version, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.CreatedAt = createdAt.UTC()
	return a, nil
}

func (s *PostgresStore) ApplyTransaction(ctx context.Context, accountID string, expectedVersion int64, txRecord Transaction) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1, version = version + 1
        WHERE id = $2 AND version = $3`,
		txRecord.BalanceAfter, accountID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetAccount(ctx, accountID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}

	_, err = tx.Exec(ctx, `INSERT INTO transactions (id, account_id, kind, amount, balance_after, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txRecord.ID, accountID, string(txRecord.Kind), txRecord.Amount, txRecord.BalanceAfter,
		txRecord.IdempotencyKey, txRecord.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrIdempotentReplay
		}
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT id, account_id, kind, amount, balance_after, idempotency_key, created_at
        FROM transactions WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT id, account_id, kind, amount, balance_after, idempotency_key, created_at
        FROM transactions WHERE account_id = $1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *PostgresStore) TransactionsInWindow(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT id, account_id, kind, amount, balance_after, idempotency_key, created_at
        FROM transactions WHERE account_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY seq`,
		accountID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *PostgresStore) SumByKind(ctx context.Context, accountID string, kind Kind) (int64, error) {
	var sum int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
        WHERE account_id = $1 AND kind = $2`, accountID, string(kind)).Scan(&sum)
	return sum, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var kind string
	var createdAt time.Time
	if err := row.Scan(&t.ID, &t.AccountID, &kind, &t.Amount, &t.BalanceAfter, &t.IdempotencyKey, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	t.CreatedAt = createdAt.UTC()
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
