package orders

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"papervenue/internal/events"
	"papervenue/internal/model"
	"papervenue/internal/settlement"
	"papervenue/internal/trigger"
	"papervenue/internal/types"
)

const executeBatchSize = 200

// RebuildIndex reloads the trigger index from pending limit orders. Called
// once on start; the table is the source of truth and the index only a
// lookup structure.
func (s *Service) RebuildIndex(ctx context.Context) error {
	entries, err := s.store.ListPendingLimitEntries(ctx)
	if err != nil {
		return err
	}
	err = s.index.Rebuild(func(add func(string, types.OrderSide, int64, decimal.Decimal)) error {
		for _, e := range entries {
			add(e.Symbol, e.Side, e.OrderID, e.Price)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info().Int("orders", len(entries)).Msg("trigger index rebuilt")
	return nil
}

// TriggerScan is poll-mode detection for equities: each tick, resolve the
// qualified resting orders against the cached price and mark them TRIGGERED.
// Execution happens separately so a slow fill never stalls detection.
func (s *Service) TriggerScan(ctx context.Context) error {
	insts, err := s.market.ListTradable(ctx, types.InstrumentClassEquity)
	if err != nil {
		return err
	}
	sem := semaphore.NewWeighted(s.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for _, inst := range insts {
		price, ok := s.cache.Get(inst.Symbol)
		if !ok {
			continue
		}
		s.bus.Publish(events.Event{Type: events.TypeQuote, Data: events.Quote{Symbol: inst.Symbol, Price: price}})
		for _, e := range s.index.Matches(inst.Symbol, price) {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
			wg.Add(1)
			go func(symbol string, e trigger.Entry) {
				defer wg.Done()
				defer sem.Release(1)
				s.triggerOne(ctx, symbol, e)
			}(inst.Symbol, e)
		}
	}
	wg.Wait()
	return nil
}

// triggerOne arms one matched order. The recorded trigger price is the
// order's own limit, not the tick that crossed it, so the later fill is at
// the price the user asked for regardless of where the market went.
func (s *Service) triggerOne(ctx context.Context, symbol string, e trigger.Entry) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	token, err := s.locks.TryAcquire(octx, orderKey(e.OrderID), s.cfg.LockLease)
	if err != nil || token == "" {
		return
	}
	defer s.releaseLock(orderKey(e.OrderID), token)

	won, err := s.store.MarkTriggered(octx, s.pool, e.OrderID, e.Price, time.Now())
	if err != nil {
		s.log.Error().Err(err).Int64("order_id", e.OrderID).Msg("trigger failed")
		return
	}
	if !won {
		// cancelled or expired first; drop the stale index entry
		s.index.Remove(symbol, e.Side, e.OrderID, e.Price)
		return
	}
	s.index.Remove(symbol, e.Side, e.OrderID, e.Price)
	s.log.Info().Int64("order_id", e.OrderID).Str("symbol", symbol).Str("price", e.Price.String()).Msg("limit order triggered")
	s.bus.Publish(events.Event{Type: events.TypeOrderChange, Data: events.OrderChange{OrderID: e.OrderID, Status: types.OrderStatusTriggered}})
}

// ExecuteTriggered drains TRIGGERED orders in id-ordered batches with a
// bounded worker pool. Every worker failure is isolated to its order.
func (s *Service) ExecuteTriggered(ctx context.Context) error {
	afterID := int64(0)
	for {
		batch, err := s.store.ListTriggeredBatch(ctx, afterID, executeBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		sem := semaphore.NewWeighted(s.cfg.MaxConcurrency)
		var wg sync.WaitGroup
		for _, o := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				defer sem.Release(1)
				s.executeOne(ctx, id)
			}(o.ID)
		}
		wg.Wait()
		afterID = batch[len(batch)-1].ID
	}
}

func (s *Service) executeOne(ctx context.Context, orderID int64) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	token, err := s.locks.TryAcquire(octx, orderKey(orderID), s.cfg.LockLease)
	if err != nil || token == "" {
		return
	}
	defer s.releaseLock(orderKey(orderID), token)
	if err := s.executeLocked(octx, orderID); err != nil {
		s.log.Error().Err(err).Int64("order_id", orderID).Msg("execute failed")
	}
}

// executeLocked fills one TRIGGERED order at its recorded trigger price.
// Caller holds the per-order lock; the CAS still decides, so even a lost
// lease cannot double-execute.
func (s *Service) executeLocked(ctx context.Context, orderID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	o, err := s.store.GetByID(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if o.Status != types.OrderStatusTriggered || o.TriggerPrice == nil {
		return nil
	}
	user, err := s.ledger.GetUser(ctx, tx, o.UserID)
	if err != nil {
		return err
	}
	if user.IsBankrupt {
		// liquidation wiped the frozen funds, nothing to release
		if _, err := s.store.CASStatus(ctx, tx, o.ID, types.OrderStatusTriggered, types.OrderStatusCancelled); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	price := *o.TriggerPrice
	amount := price.Mul(o.Quantity).Round(2)
	commission := s.cfg.Commission(amount)

	if o.Side == types.OrderSideBuy {
		cost := amount.Add(commission)
		won, err := s.store.FillTriggered(ctx, tx, o.ID, types.OrderStatusFilled, price, amount, commission)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if err := s.ledger.DeductFrozenBalance(ctx, tx, o.UserID, cost); err != nil {
			return err
		}
		// frozen covered the limit notional; the fill was at or below it
		if refund := o.FrozenAmount.Sub(cost); refund.Sign() > 0 {
			if err := s.ledger.UnfreezeBalance(ctx, tx, o.UserID, refund); err != nil {
				return err
			}
		}
		if err := s.ledger.AddPosition(ctx, tx, o.UserID, o.InstrumentID, o.Quantity, price); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		s.log.Info().Int64("order_id", o.ID).Str("price", price.String()).Msg("limit buy filled")
		s.publishFill(model.Order{ID: o.ID, UserID: o.UserID, Status: types.OrderStatusFilled})
		return nil
	}

	inst, err := s.market.GetByID(ctx, o.InstrumentID)
	if err != nil {
		return err
	}
	proceeds := amount.Sub(commission)
	status := types.OrderStatusFilled
	settleAt := settlement.NextEquitySettleTime(time.Now())
	if inst.Class == types.InstrumentClassCrypto {
		status = types.OrderStatusSettling
		settleAt = time.Now().Add(s.cfg.CryptoSettleDelay)
	}
	won, err := s.store.FillTriggered(ctx, tx, o.ID, status, price, amount, commission)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if err := s.ledger.DeductFrozenPosition(ctx, tx, o.UserID, o.InstrumentID, o.Quantity); err != nil {
		return err
	}
	settleID, err := s.settle.Create(ctx, tx, o.UserID, o.ID, proceeds, settleAt)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.sched.Enqueue(settlement.Item{ID: settleID, UserID: o.UserID, OrderID: o.ID, Amount: proceeds, DueAt: settleAt})
	s.log.Info().Int64("order_id", o.ID).Str("price", price.String()).Str("status", string(status)).Msg("limit sell filled")
	s.publishFill(model.Order{ID: o.ID, UserID: o.UserID, Status: status})
	return nil
}

// ExpireScan retires PENDING limit orders past their TTL and hands back the
// frozen funds or shares.
func (s *Service) ExpireScan(ctx context.Context) error {
	expired, err := s.store.ListExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	sem := semaphore.NewWeighted(s.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for _, o := range expired {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(o model.Order) {
			defer wg.Done()
			defer sem.Release(1)
			s.expireOne(ctx, o)
		}(o)
	}
	wg.Wait()
	return nil
}

func (s *Service) expireOne(ctx context.Context, stale model.Order) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	token, err := s.locks.TryAcquire(octx, orderKey(stale.ID), s.cfg.LockLease)
	if err != nil || token == "" {
		return
	}
	defer s.releaseLock(orderKey(stale.ID), token)

	tx, err := s.pool.Begin(octx)
	if err != nil {
		return
	}
	defer tx.Rollback(octx)

	o, err := s.store.GetByID(octx, tx, stale.ID)
	if err != nil {
		return
	}
	won, err := s.store.CASStatus(octx, tx, o.ID, types.OrderStatusPending, types.OrderStatusExpired)
	if err != nil || !won {
		return
	}
	if err := s.unfreeze(octx, tx, o); err != nil {
		s.log.Error().Err(err).Int64("order_id", o.ID).Msg("expire unfreeze failed")
		return
	}
	if err := tx.Commit(octx); err != nil {
		return
	}
	if o.LimitPrice != nil {
		s.removeFromIndex(octx, o)
	}
	s.log.Info().Int64("order_id", o.ID).Msg("limit order expired")
	s.bus.Publish(events.Event{Type: events.TypeOrderChange, Data: events.OrderChange{OrderID: o.ID, UserID: o.UserID, Status: types.OrderStatusExpired}})
}

// OnPriceUpdate is push-mode detection: a crypto trade both triggers and
// executes the qualified orders inline, so fills track the feed with no
// polling latency.
func (s *Service) OnPriceUpdate(ctx context.Context, symbol string, price decimal.Decimal) {
	for _, e := range s.index.Matches(symbol, price) {
		s.triggerAndExecute(ctx, symbol, e)
	}
}

// Recover re-evaluates resting orders against the [low, high] window a feed
// gap may have swept through. Fills use the order's own limit price: the
// exact path is unknown, the limit is the price the user asked for.
func (s *Service) Recover(ctx context.Context, symbol string, low, high decimal.Decimal) {
	entries := s.index.MatchesRange(symbol, low, high)
	if len(entries) == 0 {
		return
	}
	s.log.Info().Str("symbol", symbol).Str("low", low.String()).Str("high", high.String()).
		Int("orders", len(entries)).Msg("recovering orders after feed gap")
	for _, e := range entries {
		s.triggerAndExecute(ctx, symbol, e)
	}
}

func (s *Service) triggerAndExecute(ctx context.Context, symbol string, e trigger.Entry) {
	octx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	token, err := s.locks.TryAcquire(octx, orderKey(e.OrderID), s.cfg.LockLease)
	if err != nil || token == "" {
		return
	}
	defer s.releaseLock(orderKey(e.OrderID), token)

	won, err := s.store.MarkTriggered(octx, s.pool, e.OrderID, e.Price, time.Now())
	if err != nil {
		s.log.Error().Err(err).Int64("order_id", e.OrderID).Msg("trigger failed")
		return
	}
	s.index.Remove(symbol, e.Side, e.OrderID, e.Price)
	if !won {
		return
	}
	if err := s.executeLocked(octx, e.OrderID); err != nil {
		s.log.Error().Err(err).Int64("order_id", e.OrderID).Msg("execute failed")
	}
}
