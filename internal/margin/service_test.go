package margin

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papervenue/internal/config"
	"papervenue/internal/ledger"
	"papervenue/internal/logging"
	"papervenue/internal/testutil"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSplitInflow(t *testing.T) {
	cases := []struct {
		name                              string
		amount, interest, principal       string
		paidInterest, paidPrincipal, rest string
	}{
		{"covers everything", "10000", "50", "8000", "50", "8000", "1950"},
		{"interest only partial", "30", "50", "8000", "30", "0", "0"},
		{"principal partial", "5050", "50", "8000", "50", "5000", "0"},
		{"no debt", "100", "0", "0", "0", "0", "100"},
		{"exact payoff", "8050", "50", "8000", "50", "8000", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := SplitInflow(dec(tc.amount), dec(tc.interest), dec(tc.principal))
			require.True(t, r.PaidInterest.Equal(dec(tc.paidInterest)), "interest %s", r.PaidInterest)
			require.True(t, r.PaidPrincipal.Equal(dec(tc.paidPrincipal)), "principal %s", r.PaidPrincipal)
			require.True(t, r.Credited.Equal(dec(tc.rest)), "credited %s", r.Credited)
		})
	}
}

func TestAccrualDays(t *testing.T) {
	today := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	require.Equal(t, int64(1), AccrualDays(nil, today))

	yesterday := today.AddDate(0, 0, -1)
	require.Equal(t, int64(1), AccrualDays(&yesterday, today))

	threeBack := today.AddDate(0, 0, -3)
	require.Equal(t, int64(3), AccrualDays(&threeBack, today))

	require.Equal(t, int64(0), AccrualDays(&today, today))

	future := today.AddDate(0, 0, 1)
	require.Equal(t, int64(0), AccrualDays(&future, today))
}

func TestDailyInterestAmount(t *testing.T) {
	cfg := config.DefaultTrading()
	// 8000 * 0.0005 = 4.00
	require.True(t, cfg.DailyInterest(dec("8000"), 1).Equal(dec("4")))
	require.True(t, cfg.DailyInterest(dec("8000"), 3).Equal(dec("12")))
	// rounds half-up at 2dp: 333 * 0.0005 = 0.1665 -> 0.17
	require.True(t, cfg.DailyInterest(dec("333"), 1).Equal(dec("0.17")))
}

func TestApplyCashInflowWaterfall(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	ledgerSvc := ledger.NewService(pool)
	svc := NewService(pool, ledgerSvc, config.DefaultTrading(), logging.New("test"))

	u, err := ledgerSvc.CreateUser(ctx, "margo", dec("2000"))
	require.NoError(t, err)
	require.NoError(t, svc.AddLoanPrincipal(ctx, pool, u.ID, dec("8000"), time.Now()))
	_, err = pool.Exec(ctx, "update users set margin_interest = 50 where id = $1", u.ID)
	require.NoError(t, err)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	r, err := svc.ApplyCashInflow(ctx, tx, u.ID, dec("10000"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.True(t, r.PaidInterest.Equal(dec("50")))
	require.True(t, r.PaidPrincipal.Equal(dec("8000")))
	require.True(t, r.Credited.Equal(dec("1950")))

	got, err := ledgerSvc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.True(t, got.MarginLoanPrincipal.IsZero())
	require.True(t, got.MarginInterest.IsZero())
	require.True(t, got.Balance.Equal(dec("3950")))
}

func TestAccrueDailyInterestIdempotent(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	ledgerSvc := ledger.NewService(pool)
	svc := NewService(pool, ledgerSvc, config.DefaultTrading(), logging.New("test"))

	u, err := ledgerSvc.CreateUser(ctx, "ivan", dec("0"))
	require.NoError(t, err)
	yesterday := time.Now().AddDate(0, 0, -1)
	require.NoError(t, svc.AddLoanPrincipal(ctx, pool, u.ID, dec("8000"), yesterday))

	today := time.Now()
	require.NoError(t, svc.AccrueDailyInterest(ctx, today))
	require.NoError(t, svc.AccrueDailyInterest(ctx, today))

	got, err := ledgerSvc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.True(t, got.MarginInterest.Equal(dec("4")), "interest %s", got.MarginInterest)
}

func TestAddLoanPrincipalRejectsBankrupt(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	ledgerSvc := ledger.NewService(pool)
	svc := NewService(pool, ledgerSvc, config.DefaultTrading(), logging.New("test"))

	u, err := ledgerSvc.CreateUser(ctx, "zed", dec("0"))
	require.NoError(t, err)
	_, err = ledgerSvc.MarkBankrupt(ctx, pool, u.ID, time.Now().AddDate(0, 0, 1))
	require.NoError(t, err)

	err = svc.AddLoanPrincipal(ctx, pool, u.ID, dec("100"), time.Now())
	require.ErrorIs(t, err, ledger.ErrUserBankrupt)
}
