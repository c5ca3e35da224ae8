package bankruptcy

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"papervenue/internal/config"
	"papervenue/internal/events"
	"papervenue/internal/ledger"
	"papervenue/internal/margin"
	"papervenue/internal/marketdata"
	"papervenue/internal/orders"
	"papervenue/internal/settlement"
)

type Service struct {
	pool   *pgxpool.Pool
	ledger *ledger.Service
	margin *margin.Service
	orders *orders.Store
	settle *settlement.Store
	market *marketdata.Store
	cache  *marketdata.Cache
	bus    *events.Bus
	cfg    config.Trading
	log    zerolog.Logger
}

type Deps struct {
	Pool   *pgxpool.Pool
	Ledger *ledger.Service
	Margin *margin.Service
	Orders *orders.Store
	Settle *settlement.Store
	Market *marketdata.Store
	Cache  *marketdata.Cache
	Bus    *events.Bus
	Cfg    config.Trading
	Log    zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		pool:   d.Pool,
		ledger: d.Ledger,
		margin: d.Margin,
		orders: d.Orders,
		settle: d.Settle,
		market: d.Market,
		cache:  d.Cache,
		bus:    d.Bus,
		cfg:    d.Cfg,
		log:    d.Log,
	}
}

// Valuation is a mark-to-market snapshot of everything a user owns and owes.
type Valuation struct {
	UserID             int64           `json:"user_id"`
	Balance            decimal.Decimal `json:"balance"`
	Frozen             decimal.Decimal `json:"frozen"`
	MarketValue        decimal.Decimal `json:"market_value"`
	PendingSettlements decimal.Decimal `json:"pending_settlements"`
	Principal          decimal.Decimal `json:"principal"`
	Interest           decimal.Decimal `json:"interest"`
	NetAssets          decimal.Decimal `json:"net_assets"`
	TotalAssets        decimal.Decimal `json:"total_assets"`
	Profit             decimal.Decimal `json:"profit"`
	IsBankrupt         bool            `json:"is_bankrupt"`
}

// NetAssets is the insolvency measure: everything owned, frozen and in
// transit included, minus the debt.
func NetAssets(balance, frozen, marketValue, pending, principal, interest decimal.Decimal) decimal.Decimal {
	return balance.Add(frozen).Add(marketValue).Add(pending).Sub(principal).Sub(interest)
}

func (s *Service) Valuation(ctx context.Context, userID int64) (Valuation, error) {
	u, err := s.ledger.GetUser(ctx, s.pool, userID)
	if err != nil {
		return Valuation{}, err
	}
	positions, err := s.ledger.ListPositions(ctx, userID)
	if err != nil {
		return Valuation{}, err
	}
	mv := decimal.Zero
	for _, p := range positions {
		inst, err := s.market.GetByID(ctx, p.InstrumentID)
		if err != nil {
			return Valuation{}, err
		}
		price, err := s.cache.ReferencePrice(inst)
		if err != nil {
			// no quote at all: value at cost rather than zero
			price = p.AvgCost
		}
		mv = mv.Add(p.TotalQuantity().Mul(price))
	}
	pending, err := s.settle.PendingSum(ctx, userID)
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{
		UserID:             userID,
		Balance:            u.Balance,
		Frozen:             u.FrozenBalance,
		MarketValue:        mv,
		PendingSettlements: pending,
		Principal:          u.MarginLoanPrincipal,
		Interest:           u.MarginInterest,
		IsBankrupt:         u.IsBankrupt,
	}
	v.NetAssets = NetAssets(v.Balance, v.Frozen, v.MarketValue, v.PendingSettlements, v.Principal, v.Interest)
	v.TotalAssets = v.Balance.Add(v.Frozen).Add(v.MarketValue).Add(v.PendingSettlements)
	v.Profit = v.NetAssets.Sub(s.cfg.InitialBalance)
	return v, nil
}

// CheckAll scans every debtor and liquidates the insolvent ones.
func (s *Service) CheckAll(ctx context.Context) error {
	debtors, err := s.margin.ListDebtors(ctx)
	if err != nil {
		return err
	}
	for _, d := range debtors {
		v, err := s.Valuation(ctx, d.ID)
		if err != nil {
			s.log.Error().Err(err).Int64("user_id", d.ID).Msg("valuation failed")
			continue
		}
		if v.IsBankrupt || v.NetAssets.Sign() > 0 {
			continue
		}
		if err := s.Liquidate(ctx, d.ID, v.NetAssets); err != nil {
			s.log.Error().Err(err).Int64("user_id", d.ID).Msg("liquidation failed")
		}
	}
	return nil
}

// Liquidate wipes an insolvent user in one transaction. The MarkBankrupt CAS
// is the arbiter: losing it means another worker finished first and the rest
// of the transaction is skipped.
func (s *Service) Liquidate(ctx context.Context, userID int64, netAssets decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	resetDate := NextTradingDay(time.Now())
	won, err := s.ledger.MarkBankrupt(ctx, tx, userID, resetDate)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if err := s.orders.CancelOpen(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.ledger.DeletePositions(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.settle.DeletePending(ctx, tx, userID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Warn().Int64("user_id", userID).Str("net_assets", netAssets.String()).
		Time("reset_date", resetDate).Msg("user liquidated")
	s.bus.Publish(events.Event{Type: events.TypeLiquidation, Data: events.Liquidation{UserID: userID, NetAssets: netAssets}})
	return nil
}

// ResetDue gives bankrupt users a fresh start once their reset date arrives.
func (s *Service) ResetDue(ctx context.Context, today time.Time) error {
	ids, err := s.ledger.ListBankruptDue(ctx, today)
	if err != nil {
		return err
	}
	for _, id := range ids {
		done, err := s.ledger.ResetAfterBankruptcy(ctx, s.pool, id, s.cfg.InitialBalance, today)
		if err != nil {
			s.log.Error().Err(err).Int64("user_id", id).Msg("bankruptcy reset failed")
			continue
		}
		if done {
			s.log.Info().Int64("user_id", id).Msg("bankruptcy reset")
			s.bus.Publish(events.Event{Type: events.TypeAssetChange, Data: events.AssetChange{UserID: id, Balance: s.cfg.InitialBalance, Reason: "bankruptcy_reset"}})
		}
	}
	return nil
}

// NextTradingDay is the next weekday after t.
func NextTradingDay(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
