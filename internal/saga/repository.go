package saga

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists saga records.
type Repository interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, operationID string) (Record, error)
	Update(ctx context.Context, record Record) error
	// ListUnresolved returns sagas left pending or compensating, oldest first;
	// the recovery sweep resumes them.
	ListUnresolved(ctx context.Context) ([]Record, error)
}

// PostgresRepository stores saga records in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, record Record) error {
	_, err := r.db.Exec(ctx, `INSERT INTO sagas
        (operation_id, kind, loan_id, account_id, amount, status, ledger_tx_id,
         compensation_tx_id, retry_count, last_error, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.OperationID, string(record.Kind), record.LoanID, record.AccountID,
		record.Amount, string(record.Status), record.LedgerTxID, record.CompensationTxID,
		record.RetryCount, record.LastError, record.CreatedAt.UTC(), record.UpdatedAt.UTC())
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, operationID string) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT operation_id, kind, loan_id, account_id, amount,
        status, ledger_tx_id, compensation_tx_id, retry_count, last_error, created_at, updated_at
        FROM sagas WHERE operation_id = $1`, operationID)
	return scanRecord(row)
}

func (r *PostgresRepository) Update(ctx context.Context, record Record) error {
	_, err := r.db.Exec(ctx, `UPDATE sagas SET status = $1, ledger_tx_id = $2,
        compensation_tx_id = $3, retry_count = $4, last_error = $5, updated_at = $6
        WHERE operation_id = $7`,
		string(record.Status), record.LedgerTxID, record.CompensationTxID,
		record.RetryCount, record.LastError, record.UpdatedAt.UTC(), record.OperationID)
	return err
}

func (r *PostgresRepository) ListUnresolved(ctx context.Context) ([]Record, error) {
	rows, err := r.db.Query(ctx, `SELECT operation_id, kind, loan_id, account_id, amount,
        status, ledger_tx_id, compensation_tx_id, retry_count, last_error, created_at, updated_at
        FROM sagas WHERE status IN ('pending', 'compensating') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var kind, status string
	var createdAt, updatedAt time.Time
	err := row.Scan(&rec.OperationID, &kind, &rec.LoanID, &rec.AccountID, &rec.Amount,
		&status, &rec.LedgerTxID, &rec.CompensationTxID, &rec.RetryCount, &rec.LastError,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrSagaNotFound
		}
		return Record{}, err
	}
	rec.Kind, rec.Status = Kind(kind), Status(status)
	rec.CreatedAt, rec.UpdatedAt = createdAt.UTC(), updatedAt.UTC()
	return rec, nil
}
