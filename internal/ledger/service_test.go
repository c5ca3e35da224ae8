package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papervenue/internal/testutil"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAdjustBalanceGuard(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	svc := NewService(pool)

	u, err := svc.CreateUser(ctx, "alice", dec("100"))
	require.NoError(t, err)

	require.NoError(t, svc.AdjustBalance(ctx, pool, u.ID, dec("-60")))
	err = svc.AdjustBalance(ctx, pool, u.ID, dec("-40.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	got, err := svc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("40")), "balance %s", got.Balance)
}

func TestFreezeDeductCycle(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	svc := NewService(pool)

	u, err := svc.CreateUser(ctx, "bob", dec("1000"))
	require.NoError(t, err)

	require.NoError(t, svc.FreezeBalance(ctx, pool, u.ID, dec("300")))
	require.NoError(t, svc.DeductFrozenBalance(ctx, pool, u.ID, dec("250")))
	require.NoError(t, svc.UnfreezeBalance(ctx, pool, u.ID, dec("50")))

	err = svc.UnfreezeBalance(ctx, pool, u.ID, dec("0.01"))
	require.ErrorIs(t, err, ErrInsufficientFrozen)

	got, err := svc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.Equal(dec("750")))
	require.True(t, got.FrozenBalance.IsZero())
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	svc := NewService(pool)

	u, err := svc.CreateUser(ctx, "carol", dec("100"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.AdjustBalance(ctx, pool, u.ID, dec("-10")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	got, err := svc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.True(t, got.Balance.IsZero(), "balance %s", got.Balance)
}

func TestPositionWeightedAverage(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	svc := NewService(pool)

	u, err := svc.CreateUser(ctx, "dave", dec("0"))
	require.NoError(t, err)
	var instID int64
	err = pool.QueryRow(ctx, "insert into instruments (class, symbol, name) values ('equity', 'ACME', 'Acme Corp') returning id").Scan(&instID)
	require.NoError(t, err)

	require.NoError(t, svc.AddPosition(ctx, pool, u.ID, instID, dec("100"), dec("10")))
	require.NoError(t, svc.AddPosition(ctx, pool, u.ID, instID, dec("100"), dec("20")))

	p, err := svc.GetPosition(ctx, pool, u.ID, instID)
	require.NoError(t, err)
	require.True(t, p.Quantity.Equal(dec("200")))
	require.True(t, p.AvgCost.Equal(dec("15")), "avg cost %s", p.AvgCost)

	require.NoError(t, svc.ReducePosition(ctx, pool, u.ID, instID, dec("200")))
	_, err = svc.GetPosition(ctx, pool, u.ID, instID)
	require.ErrorIs(t, err, ErrInsufficientPosition)
}

func TestMarkBankruptIdempotent(t *testing.T) {
	pool := testutil.SetupDB(t)
	ctx := context.Background()
	svc := NewService(pool)

	u, err := svc.CreateUser(ctx, "eve", dec("500"))
	require.NoError(t, err)
	reset := time.Now().AddDate(0, 0, 1)

	first, err := svc.MarkBankrupt(ctx, pool, u.ID, reset)
	require.NoError(t, err)
	require.True(t, first)

	second, err := svc.MarkBankrupt(ctx, pool, u.ID, reset)
	require.NoError(t, err)
	require.False(t, second)

	got, err := svc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.True(t, got.IsBankrupt)
	require.True(t, got.Balance.IsZero())
	require.Equal(t, int32(1), got.BankruptCount)
}
