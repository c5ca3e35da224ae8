package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"papervenue/internal/config"
	"papervenue/internal/dlock"
	"papervenue/internal/events"
	"papervenue/internal/ledger"
	"papervenue/internal/margin"
	"papervenue/internal/marketdata"
	"papervenue/internal/model"
	"papervenue/internal/settlement"
	"papervenue/internal/trigger"
	"papervenue/internal/types"
)

var (
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidOrder        = errors.New("invalid order")
	ErrNotTradable         = errors.New("instrument not tradable")
	ErrNotInTradingHours   = errors.New("outside trading hours")
	ErrLeverageInvalid     = errors.New("invalid leverage")
	ErrLimitPriceOutOfBand = errors.New("limit price out of band")
	ErrOrderCannotCancel   = errors.New("order cannot be cancelled")
)

type Service struct {
	pool   *pgxpool.Pool
	store  *Store
	ledger *ledger.Service
	margin *margin.Service
	settle *settlement.Store
	sched  *settlement.Scheduler
	market *marketdata.Store
	cache  *marketdata.Cache
	index  *trigger.Index
	locks  *dlock.Service
	bus    *events.Bus
	cfg    config.Trading
	log    zerolog.Logger
}

type Deps struct {
	Pool      *pgxpool.Pool
	Store     *Store
	Ledger    *ledger.Service
	Margin    *margin.Service
	Settle    *settlement.Store
	Scheduler *settlement.Scheduler
	Market    *marketdata.Store
	Cache     *marketdata.Cache
	Index     *trigger.Index
	Locks     *dlock.Service
	Bus       *events.Bus
	Cfg       config.Trading
	Log       zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		pool:   d.Pool,
		store:  d.Store,
		ledger: d.Ledger,
		margin: d.Margin,
		settle: d.Settle,
		sched:  d.Scheduler,
		market: d.Market,
		cache:  d.Cache,
		index:  d.Index,
		locks:  d.Locks,
		bus:    d.Bus,
		cfg:    d.Cfg,
		log:    d.Log,
	}
}

type PlaceRequest struct {
	RequestID  string           `json:"request_id"`
	Symbol     string           `json:"symbol"`
	Side       types.OrderSide  `json:"side"`
	Kind       types.OrderKind  `json:"kind"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price"`
	Leverage   int32            `json:"leverage"`
}

// Place runs the shared admission checks and dispatches to the market or
// limit path. The idempotency guard fires before any money moves, so a
// client retry inside the window cannot double-place.
func (s *Service) Place(ctx context.Context, userID int64, req PlaceRequest) (model.Order, error) {
	var none model.Order
	if req.Quantity.Sign() <= 0 {
		return none, ErrInvalidQuantity
	}
	if req.Side != types.OrderSideBuy && req.Side != types.OrderSideSell {
		return none, ErrInvalidOrder
	}
	if req.RequestID != "" {
		if err := s.locks.Guard(ctx, fmt.Sprintf("req:%d:%s", userID, req.RequestID), s.cfg.GuardTTL); err != nil {
			return none, err
		}
	}
	inst, err := s.market.GetBySymbol(ctx, req.Symbol)
	if err != nil {
		return none, err
	}
	if !inst.Tradable {
		return none, ErrNotTradable
	}
	if inst.Class == types.InstrumentClassEquity && s.cfg.OutsideTradingHours(time.Now()) {
		return none, ErrNotInTradingHours
	}
	user, err := s.ledger.GetUser(ctx, s.pool, userID)
	if err != nil {
		return none, err
	}
	if user.IsBankrupt {
		return none, ledger.ErrUserBankrupt
	}
	leverage, err := s.normalizeLeverage(req)
	if err != nil {
		return none, err
	}
	switch req.Kind {
	case types.OrderKindMarket:
		if req.Side == types.OrderSideBuy {
			return s.marketBuy(ctx, userID, inst, req.Quantity, leverage)
		}
		return s.marketSell(ctx, userID, inst, req.Quantity)
	case types.OrderKindLimit:
		if req.LimitPrice == nil || req.LimitPrice.Sign() <= 0 {
			return none, ErrInvalidOrder
		}
		return s.placeLimit(ctx, userID, inst, req.Side, req.Quantity, *req.LimitPrice)
	default:
		return none, ErrInvalidOrder
	}
}

// Leverage defaults to 1 and only market buys may borrow.
func (s *Service) normalizeLeverage(req PlaceRequest) (int32, error) {
	lev := req.Leverage
	if lev == 0 {
		lev = 1
	}
	if lev < 1 || lev > s.cfg.MaxLeverage {
		return 0, ErrLeverageInvalid
	}
	if lev > 1 && (req.Kind != types.OrderKindMarket || req.Side != types.OrderSideBuy) {
		return 0, ErrLeverageInvalid
	}
	return lev, nil
}

func (s *Service) marketBuy(ctx context.Context, userID int64, inst model.Instrument, qty decimal.Decimal, leverage int32) (model.Order, error) {
	var none model.Order
	price, err := s.cache.ReferencePrice(inst)
	if err != nil {
		return none, err
	}
	amount := price.Mul(qty).Round(2)
	commission := s.cfg.Commission(amount)
	marginPart, borrowed := s.cfg.SplitMargin(amount, leverage)
	cash := marginPart.Add(commission)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return none, err
	}
	defer tx.Rollback(ctx)

	if err := s.ledger.AdjustBalance(ctx, tx, userID, cash.Neg()); err != nil {
		return none, err
	}
	if borrowed.Sign() > 0 {
		if err := s.margin.AddLoanPrincipal(ctx, tx, userID, borrowed, time.Now()); err != nil {
			return none, err
		}
	}
	if err := s.ledger.AddPosition(ctx, tx, userID, inst.ID, qty, price); err != nil {
		return none, err
	}
	o := model.Order{
		UserID:       userID,
		InstrumentID: inst.ID,
		Side:         types.OrderSideBuy,
		Kind:         types.OrderKindMarket,
		Status:       types.OrderStatusFilled,
		Quantity:     qty,
		FilledPrice:  &price,
		FilledAmount: &amount,
		Commission:   commission,
		Leverage:     leverage,
	}
	if err := s.store.Insert(ctx, tx, &o); err != nil {
		return none, err
	}
	if err := tx.Commit(ctx); err != nil {
		return none, err
	}
	s.log.Info().Int64("order_id", o.ID).Int64("user_id", userID).Str("symbol", inst.Symbol).
		Str("amount", amount.String()).Int32("leverage", leverage).Msg("market buy filled")
	s.publishFill(o)
	return o, nil
}

func (s *Service) marketSell(ctx context.Context, userID int64, inst model.Instrument, qty decimal.Decimal) (model.Order, error) {
	var none model.Order
	price, err := s.cache.ReferencePrice(inst)
	if err != nil {
		return none, err
	}
	amount := price.Mul(qty).Round(2)
	commission := s.cfg.Commission(amount)
	proceeds := amount.Sub(commission)

	status := types.OrderStatusFilled
	settleAt := settlement.NextEquitySettleTime(time.Now())
	if inst.Class == types.InstrumentClassCrypto {
		status = types.OrderStatusSettling
		settleAt = time.Now().Add(s.cfg.CryptoSettleDelay)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return none, err
	}
	defer tx.Rollback(ctx)

	if err := s.ledger.ReducePosition(ctx, tx, userID, inst.ID, qty); err != nil {
		return none, err
	}
	o := model.Order{
		UserID:       userID,
		InstrumentID: inst.ID,
		Side:         types.OrderSideSell,
		Kind:         types.OrderKindMarket,
		Status:       status,
		Quantity:     qty,
		FilledPrice:  &price,
		FilledAmount: &amount,
		Commission:   commission,
		Leverage:     1,
	}
	if err := s.store.Insert(ctx, tx, &o); err != nil {
		return none, err
	}
	settleID, err := s.settle.Create(ctx, tx, userID, o.ID, proceeds, settleAt)
	if err != nil {
		return none, err
	}
	if err := tx.Commit(ctx); err != nil {
		return none, err
	}
	s.sched.Enqueue(settlement.Item{ID: settleID, UserID: userID, OrderID: o.ID, Amount: proceeds, DueAt: settleAt})
	s.log.Info().Int64("order_id", o.ID).Int64("user_id", userID).Str("symbol", inst.Symbol).
		Str("proceeds", proceeds.String()).Time("settle_at", settleAt).Msg("market sell placed")
	s.publishFill(o)
	return o, nil
}

func (s *Service) placeLimit(ctx context.Context, userID int64, inst model.Instrument, side types.OrderSide, qty, limit decimal.Decimal) (model.Order, error) {
	var none model.Order
	ref, err := s.cache.ReferencePrice(inst)
	if err != nil {
		return none, err
	}
	if !s.cfg.WithinBand(limit, ref) {
		return none, ErrLimitPriceOutOfBand
	}
	expireAt := time.Now().Add(s.cfg.LimitOrderTTL)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return none, err
	}
	defer tx.Rollback(ctx)

	o := model.Order{
		UserID:       userID,
		InstrumentID: inst.ID,
		Side:         side,
		Kind:         types.OrderKindLimit,
		Status:       types.OrderStatusPending,
		Quantity:     qty,
		LimitPrice:   &limit,
		Leverage:     1,
		ExpireAt:     &expireAt,
	}
	if side == types.OrderSideBuy {
		// freeze worst case: full limit notional plus its commission
		limitAmount := limit.Mul(qty).Round(2)
		o.FrozenAmount = limitAmount.Add(s.cfg.Commission(limitAmount))
		if err := s.ledger.FreezeBalance(ctx, tx, userID, o.FrozenAmount); err != nil {
			return none, err
		}
	} else {
		if err := s.ledger.FreezePosition(ctx, tx, userID, inst.ID, qty); err != nil {
			return none, err
		}
	}
	if err := s.store.Insert(ctx, tx, &o); err != nil {
		return none, err
	}
	if err := tx.Commit(ctx); err != nil {
		return none, err
	}
	s.index.Add(inst.Symbol, side, o.ID, limit)
	s.log.Info().Int64("order_id", o.ID).Int64("user_id", userID).Str("symbol", inst.Symbol).
		Str("side", string(side)).Str("limit", limit.String()).Msg("limit order placed")
	s.bus.Publish(events.Event{Type: events.TypeOrderChange, Data: events.OrderChange{OrderID: o.ID, UserID: userID, Status: o.Status}})
	return o, nil
}

// Cancel succeeds only from PENDING. It waits out a briefly held per-order
// lock rather than failing outright; the CAS still decides who won.
func (s *Service) Cancel(ctx context.Context, userID, orderID int64) error {
	token, err := s.locks.AcquireWithWait(ctx, orderKey(orderID), s.cfg.LockLease, s.cfg.LockWait)
	if err != nil {
		return err
	}
	defer s.releaseLock(orderKey(orderID), token)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o, err := s.store.GetForUser(ctx, tx, orderID, userID)
	if err != nil {
		return err
	}
	if o.Kind != types.OrderKindLimit || !o.Status.IsOpen() {
		return ErrOrderCannotCancel
	}
	won, err := s.store.CASStatus(ctx, tx, o.ID, types.OrderStatusPending, types.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if !won {
		return ErrOrderCannotCancel
	}
	if err := s.unfreeze(ctx, tx, o); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if o.LimitPrice != nil {
		s.removeFromIndex(ctx, o)
	}
	s.log.Info().Int64("order_id", o.ID).Int64("user_id", userID).Msg("order cancelled")
	s.bus.Publish(events.Event{Type: events.TypeOrderChange, Data: events.OrderChange{OrderID: o.ID, UserID: userID, Status: types.OrderStatusCancelled}})
	return nil
}

func (s *Service) unfreeze(ctx context.Context, db ledger.DB, o model.Order) error {
	if o.Side == types.OrderSideBuy {
		if o.FrozenAmount.Sign() > 0 {
			return s.ledger.UnfreezeBalance(ctx, db, o.UserID, o.FrozenAmount)
		}
		return nil
	}
	return s.ledger.UnfreezePosition(ctx, db, o.UserID, o.InstrumentID, o.Quantity)
}

func (s *Service) removeFromIndex(ctx context.Context, o model.Order) {
	inst, err := s.market.GetByID(ctx, o.InstrumentID)
	if err != nil {
		return
	}
	s.index.Remove(inst.Symbol, o.Side, o.ID, *o.LimitPrice)
}

func (s *Service) releaseLock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.locks.Release(ctx, key, token)
}

func (s *Service) publishFill(o model.Order) {
	s.bus.Publish(events.Event{Type: events.TypeOrderChange, Data: events.OrderChange{OrderID: o.ID, UserID: o.UserID, Status: o.Status}})
}

func (s *Service) Get(ctx context.Context, userID, orderID int64) (model.Order, error) {
	return s.store.GetForUser(ctx, s.pool, orderID, userID)
}

func (s *Service) ListByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

func (s *Service) ListLatest(ctx context.Context, limit int) ([]model.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListLatest(ctx, limit)
}

func orderKey(id int64) string {
	return fmt.Sprintf("order-exec:%d", id)
}
