package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"papervenue/internal/model"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientFrozen   = errors.New("insufficient frozen funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserBankrupt         = errors.New("user bankrupt")
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx. Every money mutation in this
// package is a single guarded statement: the balance condition sits in the
// WHERE clause and a zero row count means the guard failed, never a partial
// write.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Service struct {
	db DB
}

func NewService(db DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateUser(ctx context.Context, name string, initialBalance decimal.Decimal) (model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx, "insert into users (name, balance) values ($1, $2) returning id, name, balance, frozen_balance, margin_loan_principal, margin_interest, margin_interest_date, is_bankrupt, bankrupt_count, bankrupt_at, bankrupt_reset_date, created_at", name, initialBalance).
		Scan(&u.ID, &u.Name, &u.Balance, &u.FrozenBalance, &u.MarginLoanPrincipal, &u.MarginInterest, &u.MarginInterestDate, &u.IsBankrupt, &u.BankruptCount, &u.BankruptAt, &u.BankruptResetDate, &u.CreatedAt)
	return u, err
}

func (s *Service) GetUser(ctx context.Context, db DB, userID int64) (model.User, error) {
	return getUser(ctx, db, userID, "")
}

// GetUserForUpdate takes a row lock; only call inside a transaction.
func (s *Service) GetUserForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (model.User, error) {
	return getUser(ctx, tx, userID, " for update")
}

func getUser(ctx context.Context, db DB, userID int64, suffix string) (model.User, error) {
	var u model.User
	err := db.QueryRow(ctx, "select id, name, balance, frozen_balance, margin_loan_principal, margin_interest, margin_interest_date, is_bankrupt, bankrupt_count, bankrupt_at, bankrupt_reset_date, created_at from users where id = $1"+suffix, userID).
		Scan(&u.ID, &u.Name, &u.Balance, &u.FrozenBalance, &u.MarginLoanPrincipal, &u.MarginInterest, &u.MarginInterestDate, &u.IsBankrupt, &u.BankruptCount, &u.BankruptAt, &u.BankruptResetDate, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, ErrUserNotFound
	}
	return u, err
}

// AdjustBalance moves the available balance by delta (either sign). The
// balance never goes below zero: a failed guard surfaces as
// ErrInsufficientFunds and nothing is written.
func (s *Service) AdjustBalance(ctx context.Context, db DB, userID int64, delta decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update users set balance = balance + $2 where id = $1 and balance + $2 >= 0", userID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// FreezeBalance moves amount from available to frozen in one statement.
func (s *Service) FreezeBalance(ctx context.Context, db DB, userID int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update users set balance = balance - $2, frozen_balance = frozen_balance + $2 where id = $1 and balance - $2 >= 0", userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (s *Service) UnfreezeBalance(ctx context.Context, db DB, userID int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update users set balance = balance + $2, frozen_balance = frozen_balance - $2 where id = $1 and frozen_balance - $2 >= 0", userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFrozen
	}
	return nil
}

// DeductFrozenBalance consumes frozen funds on fill without touching the
// available balance.
func (s *Service) DeductFrozenBalance(ctx context.Context, db DB, userID int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update users set frozen_balance = frozen_balance - $2 where id = $1 and frozen_balance - $2 >= 0", userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFrozen
	}
	return nil
}

// MarkBankrupt flips the bankruptcy flag and wipes balances and debt in one
// CAS statement. A false return means another worker already liquidated this
// user; callers treat that as a no-op.
func (s *Service) MarkBankrupt(ctx context.Context, db DB, userID int64, resetDate time.Time) (bool, error) {
	tag, err := db.Exec(ctx, "update users set is_bankrupt = true, bankrupt_count = bankrupt_count + 1, bankrupt_at = now(), bankrupt_reset_date = $2, balance = 0, frozen_balance = 0, margin_loan_principal = 0, margin_interest = 0 where id = $1 and is_bankrupt = false", userID, resetDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ResetAfterBankruptcy restores the initial balance once the reset date has
// arrived. CAS on the flag keeps the restore single-shot.
func (s *Service) ResetAfterBankruptcy(ctx context.Context, db DB, userID int64, initialBalance decimal.Decimal, today time.Time) (bool, error) {
	tag, err := db.Exec(ctx, "update users set is_bankrupt = false, balance = $2, bankrupt_reset_date = null where id = $1 and is_bankrupt = true and bankrupt_reset_date <= $3", userID, initialBalance, today)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListBankruptDue returns bankrupt users whose reset date has arrived.
func (s *Service) ListBankruptDue(ctx context.Context, today time.Time) ([]int64, error) {
	rows, err := s.db.Query(ctx, "select id from users where is_bankrupt = true and bankrupt_reset_date is not null and bankrupt_reset_date <= $1", today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
