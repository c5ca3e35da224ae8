package settlement

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"papervenue/internal/events"
	"papervenue/internal/margin"
)

// Item is one scheduled settlement mirrored in memory. The settlements table
// stays authoritative; the heap only decides when to look.
type Item struct {
	ID      int64
	UserID  int64
	OrderID int64
	Amount  decimal.Decimal
	DueAt   time.Time
}

const (
	idlePeriod       = time.Hour
	retrySettleDelay = 30 * time.Second
)

// Scheduler releases settled cash when due. A single timer is armed at the
// earliest pending item; Enqueue re-arms it only when the head changes.
// Every release is funneled through the margin waterfall so in-transit cash
// pays debt before it reaches the balance.
type Scheduler struct {
	pool   *pgxpool.Pool
	store  *Store
	margin *margin.Service
	bus    *events.Bus
	log    zerolog.Logger

	mu    sync.Mutex
	items itemHeap
	wake  chan struct{}
}

func NewScheduler(pool *pgxpool.Pool, store *Store, marginSvc *margin.Service, bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		pool:   pool,
		store:  store,
		margin: marginSvc,
		bus:    bus,
		log:    log,
		wake:   make(chan struct{}, 1),
	}
}

// Rebuild loads all pending rows into the heap; called once on start before
// Run, so settlements scheduled by a previous process are not lost.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items = s.items[:0]
	for _, m := range pending {
		heap.Push(&s.items, Item{ID: m.ID, UserID: m.UserID, OrderID: m.OrderID, Amount: m.Amount, DueAt: m.SettleAt})
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// Enqueue registers a settlement created in an already-committed
// transaction.
func (s *Scheduler) Enqueue(it Item) {
	s.mu.Lock()
	heap.Push(&s.items, it)
	isHead := s.items[0].ID == it.ID
	s.mu.Unlock()
	if isHead {
		s.signal()
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		delay := s.nextDelay(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-time.After(delay):
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) nextDelay(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return idlePeriod
	}
	d := s.items[0].DueAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) fire(ctx context.Context) {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.items) == 0 || s.items[0].DueAt.After(now) {
			s.mu.Unlock()
			return
		}
		it := heap.Pop(&s.items).(Item)
		s.mu.Unlock()
		if err := s.Settle(ctx, it); err != nil {
			s.log.Error().Err(err).Int64("settlement_id", it.ID).Msg("settle failed")
			// the entry stays owned by the heap until its effect lands;
			// push it back with a delay so the next pass is not a hot loop
			it.DueAt = time.Now().Add(retrySettleDelay)
			s.Enqueue(it)
		}
	}
}

// Settle applies one settlement. The row CAS makes it single-shot: a row
// already settled, or deleted by liquidation, settles nothing and is not an
// error.
func (s *Scheduler) Settle(ctx context.Context, it Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	won, err := s.store.MarkSettled(ctx, tx, it.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	rep, err := s.margin.ApplyCashInflow(ctx, tx, it.UserID, it.Amount)
	if err != nil {
		return err
	}
	// crypto sells wait in settling until their cash lands
	if _, err := tx.Exec(ctx, "update orders set status = 'filled', updated_at = now() where id = $1 and status = 'settling'", it.OrderID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info().Int64("settlement_id", it.ID).Int64("user_id", it.UserID).
		Str("amount", it.Amount.String()).Str("credited", rep.Credited.String()).Msg("settled")
	s.bus.Publish(events.Event{Type: events.TypeSettlement, Data: events.SettlementDone{UserID: it.UserID, OrderID: it.OrderID, Amount: it.Amount}})
	return nil
}

// ProcessDue settles everything already due straight from the table; the
// daily safety net behind the in-memory timer.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	due, err := s.store.ListDue(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, m := range due {
		it := Item{ID: m.ID, UserID: m.UserID, OrderID: m.OrderID, Amount: m.Amount, DueAt: m.SettleAt}
		if err := s.Settle(ctx, it); err != nil {
			s.log.Error().Err(err).Int64("settlement_id", it.ID).Msg("settle failed")
		}
	}
	return nil
}

// NextEquitySettleTime is T+1: the morning after trade date, once overnight
// clearing has run.
func NextEquitySettleTime(now time.Time) time.Time {
	next := now.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 5, 0, 0, now.Location())
}

type itemHeap []Item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].DueAt.Before(h[j].DueAt) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)         { *h = append(*h, x.(Item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
