package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists installment schedules and applied payments.
// CreateSchedule must be a one-shot: a second call for the same loan returns
// ErrScheduleExists. UpdateInstallments must write the installment rows and
// the optional payment record atomically.
type Repository interface {
	CreateSchedule(ctx context.Context, loanID string, installments []Installment) error
	GetSchedule(ctx context.Context, loanID string) ([]Installment, error)
	UpdateInstallments(ctx context.Context, loanID string, installments []Installment, payment *Payment) error
	FindPaymentByKey(ctx context.Context, key string) (Payment, error)
	PaidTotal(ctx context.Context, loanID string) (int64, error)
}

// PostgresRepository stores schedules in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateSchedule(ctx context.Context, loanID string, installments []Installment) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, installment := range installments {
		_, err := tx.Exec(ctx, `INSERT INTO installments
            (loan_id, sequence, due_date, amount_due, interest_due, amount_paid, status, paid_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			installment.LoanID, installment.Sequence, installment.DueDate.UTC(),
			installment.AmountDue, installment.InterestDue, installment.AmountPaid,
			string(installment.Status), nullableTime(installment.PaidAt))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrScheduleExists
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetSchedule(ctx context.Context, loanID string) ([]Installment, error) {
	rows, err := r.db.Query(ctx, `SELECT loan_id, sequence, due_date, amount_due, interest_due,
        amount_paid, status, paid_at FROM installments WHERE loan_id = $1 ORDER BY sequence`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Installment
	for rows.Next() {
		var installment Installment
		var status string
		var dueDate time.Time
		var paidAt *time.Time
		if err := rows.Scan(&installment.LoanID, &installment.Sequence, &dueDate,
			&installment.AmountDue, &installment.InterestDue, &installment.AmountPaid,
			&status, &paidAt); err != nil {
			return nil, err
		}
		installment.DueDate = dueDate.UTC()
		installment.Status = InstallmentStatus(status)
		if paidAt != nil {
			installment.PaidAt = paidAt.UTC()
		}
		out = append(out, installment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrScheduleNotFound
	}
	return out, nil
}

func (r *PostgresRepository) UpdateInstallments(ctx context.Context, loanID string, installments []Installment, payment *Payment) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, installment := range installments {
		_, err := tx.Exec(ctx, `UPDATE installments SET amount_paid = $1, status = $2, paid_at = $3
            WHERE loan_id = $4 AND sequence = $5`,
			installment.AmountPaid, string(installment.Status),
			nullableTime(installment.PaidAt), loanID, installment.Sequence)
		if err != nil {
			return err
		}
	}

	if payment != nil {
		_, err := tx.Exec(ctx, `INSERT INTO payments
            (id, loan_id, amount, idempotency_key, outstanding_after, settled, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			payment.ID, payment.LoanID, payment.Amount, payment.IdempotencyKey,
			payment.OutstandingAfter, payment.Settled, payment.CreatedAt.UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) FindPaymentByKey(ctx context.Context, key string) (Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT id, loan_id, amount, idempotency_key, outstanding_after, settled, created_at
        FROM payments WHERE idempotency_key = $1`, key)
	var p Payment
	var createdAt time.Time
	if err := row.Scan(&p.ID, &p.LoanID, &p.Amount, &p.IdempotencyKey, &p.OutstandingAfter, &p.Settled, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, err
	}
	p.CreatedAt = createdAt.UTC()
	return p, nil
}

func (r *PostgresRepository) PaidTotal(ctx context.Context, loanID string) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount_paid), 0) FROM installments
        WHERE loan_id = $1`, loanID).Scan(&sum)
	return sum, err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
