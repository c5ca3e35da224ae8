package bankruptcy

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papervenue/internal/config"
	"papervenue/internal/events"
	"papervenue/internal/ledger"
	"papervenue/internal/logging"
	"papervenue/internal/margin"
	"papervenue/internal/marketdata"
	"papervenue/internal/orders"
	"papervenue/internal/settlement"
	"papervenue/internal/testutil"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNetAssets(t *testing.T) {
	// solvent: 1000 + 500 + 4000 + 200 - 5000 - 100 = 600
	net := NetAssets(dec("1000"), dec("500"), dec("4000"), dec("200"), dec("5000"), dec("100"))
	require.True(t, net.Equal(dec("600")))

	// underwater once the debt outgrows the marks
	net = NetAssets(dec("0"), dec("0"), dec("4500"), dec("0"), dec("4800"), dec("50"))
	require.True(t, net.Equal(dec("-350")))
}

func TestNextTradingDay(t *testing.T) {
	// Monday -> Tuesday
	mon := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), NextTradingDay(mon))

	// Friday -> Monday
	fri := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), NextTradingDay(fri))

	// Saturday -> Monday
	sat := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), NextTradingDay(sat))
}

func setup(t *testing.T) (*Service, *ledger.Service, *marketdata.Cache, *pgxpool.Pool) {
	t.Helper()
	pool := testutil.SetupDB(t)
	cfg := config.DefaultTrading()
	log := logging.New("test")
	ledgerSvc := ledger.NewService(pool)
	marginSvc := margin.NewService(pool, ledgerSvc, cfg, log)
	cache := marketdata.NewCache()
	svc := NewService(Deps{
		Pool:   pool,
		Ledger: ledgerSvc,
		Margin: marginSvc,
		Orders: orders.NewStore(pool),
		Settle: settlement.NewStore(pool),
		Market: marketdata.NewStore(pool),
		Cache:  cache,
		Bus:    events.NewBus(),
		Cfg:    cfg,
		Log:    log,
	})
	return svc, ledgerSvc, cache, pool
}

func TestCheckAllLiquidatesUnderwaterUser(t *testing.T) {
	svc, ledgerSvc, cache, pool := setup(t)
	ctx := context.Background()

	u, err := ledgerSvc.CreateUser(ctx, "uw", dec("0"))
	require.NoError(t, err)
	var instID int64
	err = pool.QueryRow(ctx, "insert into instruments (class, symbol, name) values ('equity', 'ACME', 'Acme') returning id").Scan(&instID)
	require.NoError(t, err)

	// holds 100 shares bought on 8000 of borrowed money, now worth 4000
	require.NoError(t, ledgerSvc.AddPosition(ctx, pool, u.ID, instID, dec("100"), dec("100")))
	_, err = pool.Exec(ctx, "update users set margin_loan_principal = 8000, margin_interest = 50 where id = $1", u.ID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "insert into orders (user_id, instrument_id, side, kind, status, quantity, limit_price) values ($1, $2, 'buy', 'limit', 'pending', 1, 30)", u.ID, instID)
	require.NoError(t, err)
	cache.Set("ACME", dec("40"))

	require.NoError(t, svc.CheckAll(ctx))

	got, err := ledgerSvc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.True(t, got.IsBankrupt)
	require.True(t, got.MarginLoanPrincipal.IsZero())

	var positions, pendingOrders int
	require.NoError(t, pool.QueryRow(ctx, "select count(*) from positions where user_id = $1", u.ID).Scan(&positions))
	require.Zero(t, positions)
	require.NoError(t, pool.QueryRow(ctx, "select count(*) from orders where user_id = $1 and status = 'pending'", u.ID).Scan(&pendingOrders))
	require.Zero(t, pendingOrders)
}

func TestCheckAllSparesSolventUser(t *testing.T) {
	svc, ledgerSvc, cache, pool := setup(t)
	ctx := context.Background()

	u, err := ledgerSvc.CreateUser(ctx, "ok", dec("1000"))
	require.NoError(t, err)
	var instID int64
	err = pool.QueryRow(ctx, "insert into instruments (class, symbol, name) values ('equity', 'ACME', 'Acme') returning id").Scan(&instID)
	require.NoError(t, err)
	require.NoError(t, ledgerSvc.AddPosition(ctx, pool, u.ID, instID, dec("100"), dec("100")))
	_, err = pool.Exec(ctx, "update users set margin_loan_principal = 8000 where id = $1", u.ID)
	require.NoError(t, err)
	cache.Set("ACME", dec("95"))

	require.NoError(t, svc.CheckAll(ctx))

	got, err := ledgerSvc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.False(t, got.IsBankrupt)
}

func TestLiquidateIdempotent(t *testing.T) {
	svc, ledgerSvc, _, pool := setup(t)
	ctx := context.Background()

	u, err := ledgerSvc.CreateUser(ctx, "twice", dec("0"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "update users set margin_loan_principal = 100 where id = $1", u.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Liquidate(ctx, u.ID, dec("-100")))
	require.NoError(t, svc.Liquidate(ctx, u.ID, dec("-100")))

	got, err := ledgerSvc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.Equal(t, int32(1), got.BankruptCount)
}

func TestResetDueRestoresInitialBalance(t *testing.T) {
	svc, ledgerSvc, _, pool := setup(t)
	ctx := context.Background()

	u, err := ledgerSvc.CreateUser(ctx, "back", dec("0"))
	require.NoError(t, err)
	_, err = ledgerSvc.MarkBankrupt(ctx, pool, u.ID, time.Now().AddDate(0, 0, -1))
	require.NoError(t, err)

	require.NoError(t, svc.ResetDue(ctx, time.Now()))

	got, err := ledgerSvc.GetUser(ctx, pool, u.ID)
	require.NoError(t, err)
	require.False(t, got.IsBankrupt)
	require.True(t, got.Balance.Equal(dec("100000")))
	require.Nil(t, got.BankruptResetDate)
}
