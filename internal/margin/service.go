package margin

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"papervenue/internal/config"
	"papervenue/internal/ledger"
)

var ErrConcurrentUpdate = errors.New("concurrent margin update")

type Service struct {
	pool   *pgxpool.Pool
	ledger *ledger.Service
	cfg    config.Trading
	log    zerolog.Logger
}

func NewService(pool *pgxpool.Pool, ledgerSvc *ledger.Service, cfg config.Trading, log zerolog.Logger) *Service {
	return &Service{pool: pool, ledger: ledgerSvc, cfg: cfg, log: log}
}

// AddLoanPrincipal books borrowed funds against the user and stamps the
// accrual date so interest starts counting from today. Bankrupt users cannot
// borrow; the flag check lives in the statement guard.
func (s *Service) AddLoanPrincipal(ctx context.Context, db ledger.DB, userID int64, amount decimal.Decimal, today time.Time) error {
	tag, err := db.Exec(ctx, "update users set margin_loan_principal = margin_loan_principal + $2, margin_interest_date = coalesce(margin_interest_date, $3) where id = $1 and is_bankrupt = false", userID, amount, dateOf(today))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrUserBankrupt
	}
	return nil
}

// Repayment is how a cash inflow was split.
type Repayment struct {
	PaidInterest  decimal.Decimal
	PaidPrincipal decimal.Decimal
	Credited      decimal.Decimal
}

// SplitInflow applies the repayment waterfall: accrued interest first, then
// principal, and only the remainder reaches the balance.
func SplitInflow(amount, interestOwed, principalOwed decimal.Decimal) Repayment {
	var r Repayment
	r.PaidInterest = decimal.Min(amount, interestOwed)
	rest := amount.Sub(r.PaidInterest)
	r.PaidPrincipal = decimal.Min(rest, principalOwed)
	r.Credited = rest.Sub(r.PaidPrincipal)
	return r
}

// ApplyCashInflow routes amount through the waterfall inside the caller's
// transaction. The user row is read under FOR UPDATE, then written with one
// guarded statement; a zero row count means something slipped past the row
// lock and the transaction must roll back.
func (s *Service) ApplyCashInflow(ctx context.Context, tx pgx.Tx, userID int64, amount decimal.Decimal) (Repayment, error) {
	u, err := s.ledger.GetUserForUpdate(ctx, tx, userID)
	if err != nil {
		return Repayment{}, err
	}
	r := SplitInflow(amount, u.MarginInterest, u.MarginLoanPrincipal)
	tag, err := tx.Exec(ctx, "update users set margin_interest = margin_interest - $2, margin_loan_principal = margin_loan_principal - $3, balance = balance + $4 where id = $1 and margin_interest - $2 >= 0 and margin_loan_principal - $3 >= 0", userID, r.PaidInterest, r.PaidPrincipal, r.Credited)
	if err != nil {
		return Repayment{}, err
	}
	if tag.RowsAffected() == 0 {
		return Repayment{}, ErrConcurrentUpdate
	}
	return r, nil
}

// Debtor is a user carrying margin debt.
type Debtor struct {
	ID           int64
	Principal    decimal.Decimal
	Interest     decimal.Decimal
	InterestDate *time.Time
}

func (s *Service) ListDebtors(ctx context.Context) ([]Debtor, error) {
	rows, err := s.pool.Query(ctx, "select id, margin_loan_principal, margin_interest, margin_interest_date from users where is_bankrupt = false and (margin_loan_principal > 0 or margin_interest > 0)")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Debtor
	for rows.Next() {
		var d Debtor
		if err := rows.Scan(&d.ID, &d.Principal, &d.Interest, &d.InterestDate); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AccrueDailyInterest charges each debtor once per calendar day. The accrual
// date CAS makes re-runs and races harmless: whoever moves the date wins,
// everyone else writes nothing.
func (s *Service) AccrueDailyInterest(ctx context.Context, today time.Time) error {
	debtors, err := s.ListDebtors(ctx)
	if err != nil {
		return err
	}
	day := dateOf(today)
	for _, d := range debtors {
		if d.Principal.Sign() <= 0 {
			continue
		}
		days := AccrualDays(d.InterestDate, today)
		if days == 0 {
			continue
		}
		delta := s.cfg.DailyInterest(d.Principal, days)
		tag, err := s.pool.Exec(ctx, "update users set margin_interest = margin_interest + $2, margin_interest_date = $3 where id = $1 and is_bankrupt = false and (margin_interest_date is null or margin_interest_date < $3)", d.ID, delta, day)
		if err != nil {
			s.log.Error().Err(err).Int64("user_id", d.ID).Msg("interest accrual failed")
			continue
		}
		if tag.RowsAffected() > 0 {
			s.log.Info().Int64("user_id", d.ID).Str("interest", delta.String()).Int64("days", days).Msg("interest accrued")
		}
	}
	return nil
}

// AccrualDays is the number of days to charge for: the calendar-day gap
// since the last accrual, at least 1, and 0 when already charged today.
func AccrualDays(last *time.Time, today time.Time) int64 {
	if last == nil {
		return 1
	}
	from := dateOf(*last)
	to := dateOf(today)
	if !from.Before(to) {
		return 0
	}
	days := int64(to.Sub(from).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
