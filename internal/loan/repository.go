package loan

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists loans and their transition audit trail. UpdateConditional
// must write the loan and append the transition atomically, conditional on the
// stored status still being `from`; it returns ErrStatusConflict otherwise.
type Repository interface {
	Create(ctx context.Context, loan Loan, transition Transition) error
	Get(ctx context.Context, loanID string) (Loan, error)
	UpdateConditional(ctx context.Context, loan Loan, from Status, transition Transition) error
	List(ctx context.Context, filter Filter) ([]Loan, error)
	Transitions(ctx context.Context, loanID string) ([]Transition, error)
}

// PostgresRepository stores loans in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, loan Loan, transition Transition) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO loans
        (id, borrower_id, account_id, principal, rate_bps, term_months, status,
         eligibility_at_approval, disbursement_tx_id, reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		loan.ID, loan.BorrowerID, loan.AccountID, loan.Principal, loan.RateBps,
		loan.TermMonths, string(loan.Status), loan.EligibilityAtApproval,
		loan.DisbursementTxID, loan.Reason, loan.CreatedAt.UTC(), loan.UpdatedAt.UTC())
	if err != nil {
		return err
	}

	if err := insertTransition(ctx, tx, transition); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Get(ctx context.Context, loanID string) (Loan, error) {
	row := r.db.QueryRow(ctx, `SELECT id, borrower_id, account_id, principal, rate_bps,
        term_months, status, eligibility_at_approval, disbursement_tx_id, reason,
        created_at, updated_at FROM loans WHERE id = $1`, loanID)
	return scanLoan(row)
}

func (r *PostgresRepository) UpdateConditional(ctx context.Context, loan Loan, from Status, transition Transition) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE loans SET status = $1, eligibility_at_approval = $2,
        disbursement_tx_id = $3, reason = $4, updated_at = $5
        WHERE id = $6 AND status = $7`,
		string(loan.Status), loan.EligibilityAtApproval, loan.DisbursementTxID,
		loan.Reason, loan.UpdatedAt.UTC(), loan.ID, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, loan.ID); getErr != nil {
			return getErr
		}
		return ErrStatusConflict
	}

	if err := insertTransition(ctx, tx, transition); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) List(ctx context.Context, filter Filter) ([]Loan, error) {
	query := `SELECT id, borrower_id, account_id, principal, rate_bps, term_months,
        status, eligibility_at_approval, disbursement_tx_id, reason, created_at, updated_at
        FROM loans WHERE ($1 = '' OR borrower_id = $1) AND ($2 = '' OR status = $2)
        ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, filter.BorrowerID, string(filter.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Transitions(ctx context.Context, loanID string) ([]Transition, error) {
	rows, err := r.db.Query(ctx, `SELECT loan_id, from_status, to_status, actor, at
        FROM loan_transitions WHERE loan_id = $1 ORDER BY at`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		var at time.Time
		if err := rows.Scan(&t.LoanID, &from, &to, &t.Actor, &at); err != nil {
			return nil, err
		}
		t.From, t.To, t.At = Status(from), Status(to), at.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func insertTransition(ctx context.Context, tx pgx.Tx, transition Transition) error {
	_, err := tx.Exec(ctx, `INSERT INTO loan_transitions (loan_id, from_status, to_status, actor, at)
        VALUES ($1, $2, $3, $4, $5)`,
		transition.LoanID, string(transition.From), string(transition.To),
		transition.Actor, transition.At.UTC())
	return err
}

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	var status string
	var createdAt, updatedAt time.Time
	err := row.Scan(&l.ID, &l.BorrowerID, &l.AccountID, &l.Principal, &l.RateBps,
		&l.TermMonths, &status, &l.EligibilityAtApproval, &l.DisbursementTxID,
		&l.Reason, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrLoanNotFound
		}
		return Loan{}, err
	}
	l.Status = Status(status)
	l.CreatedAt, l.UpdatedAt = createdAt.UTC(), updatedAt.UTC()
	return l, nil
}
