package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"papervenue/internal/ledger"
	"papervenue/internal/model"
	"papervenue/internal/types"
)

var ErrOrderNotFound = errors.New("order not found")

const orderColumns = "id, user_id, instrument_id, side, kind, status, quantity, limit_price, filled_price, filled_amount, commission, frozen_amount, leverage, trigger_price, triggered_at, expire_at, created_at, updated_at"

type Store struct {
	db ledger.DB
}

func NewStore(db ledger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, db ledger.DB, o *model.Order) error {
	return db.QueryRow(ctx, "insert into orders (user_id, instrument_id, side, kind, status, quantity, limit_price, filled_price, filled_amount, commission, frozen_amount, leverage, expire_at) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) returning id, created_at, updated_at",
		o.UserID, o.InstrumentID, string(o.Side), string(o.Kind), string(o.Status), o.Quantity, o.LimitPrice, o.FilledPrice, o.FilledAmount, o.Commission, o.FrozenAmount, o.Leverage, o.ExpireAt).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (s *Store) GetByID(ctx context.Context, db ledger.DB, id int64) (model.Order, error) {
	return scanOne(db.QueryRow(ctx, "select "+orderColumns+" from orders where id = $1", id))
}

func (s *Store) GetForUser(ctx context.Context, db ledger.DB, id, userID int64) (model.Order, error) {
	return scanOne(db.QueryRow(ctx, "select "+orderColumns+" from orders where id = $1 and user_id = $2", id, userID))
}

// CASStatus moves an order between states only when it is still in the
// expected one. Zero rows means a lost race and the caller backs off.
func (s *Store) CASStatus(ctx context.Context, db ledger.DB, id int64, from, to types.OrderStatus) (bool, error) {
	tag, err := db.Exec(ctx, "update orders set status = $3, updated_at = now() where id = $1 and status = $2", id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkTriggered arms a PENDING order for execution. Callers record the
// order's limit price, so the later fill is at the limit regardless of the
// tick that crossed it.
func (s *Store) MarkTriggered(ctx context.Context, db ledger.DB, id int64, price decimal.Decimal, at time.Time) (bool, error) {
	tag, err := db.Exec(ctx, "update orders set status = 'triggered', trigger_price = $2, triggered_at = $3, updated_at = now() where id = $1 and status = 'pending'", id, price, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

/// FillTriggered is the execution CAS: TRIGGERED to FILLED or SETTLING with
// the fill facts written in the same statement.
func (s *Store) FillTriggered(ctx context.Context, db ledger.DB, id int64, to types.OrderStatus, price, amount, commission decimal.Decimal) (bool, error) {
	tag, err := db.Exec(ctx, "update orders set status = $2, filled_price = $3, filled_amount = $4, commission = $5, updated_at = now() where id = $1 and status = 'triggered'", id, string(to), price, amount, commission)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// PendingEntry is what the trigger index needs per resting order.
type PendingEntry struct {
	OrderID int64
	Symbol  string
	Side    types.OrderSide
	Price   decimal.Decimal
}

func (s *Store) ListPendingLimitEntries(ctx context.Context) ([]PendingEntry, error) {
	rows, err := s.db.Query(ctx, "select o.id, i.symbol, o.side, o.limit_price from orders o join instruments i on i.id = o.instrument_id where o.status = 'pending' and o.kind = 'limit'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingEntry
	for rows.Next() {
		var e PendingEntry
		var side string
		if err := rows.Scan(&e.OrderID, &e.Symbol, &side, &e.Price); err != nil {
			return nil, err
		}
		e.Side = types.OrderSide(side)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTriggeredBatch pages through triggered orders by id so the executor
// never loads the whole backlog at once.
func (s *Store) ListTriggeredBatch(ctx context.Context, afterID int64, limit int) ([]model.Order, error) {
	return s.list(ctx, "select "+orderColumns+" from orders where status = 'triggered' and id > $1 order by id limit $2", afterID, limit)
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]model.Order, error) {
	return s.list(ctx, "select "+orderColumns+" from orders where status = 'pending' and kind = 'limit' and expire_at is not null and expire_at <= $1 order by id", now)
}

func (s *Store) ListByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	return s.list(ctx, "select "+orderColumns+" from orders where user_id = $1 order by created_at desc limit $2", userID, limit)
}

func (s *Store) ListLatest(ctx context.Context, limit int) ([]model.Order, error) {
	return s.list(ctx, "select "+orderColumns+" from orders order by created_at desc limit $1", limit)
}

// CancelOpen bulk-cancels everything still live for a user; liquidation
// path, no refunds because the balances are wiped in the same transaction.
func (s *Store) CancelOpen(ctx context.Context, db ledger.DB, userID int64) error {
	_, err := db.Exec(ctx, "update orders set status = 'cancelled', updated_at = now() where user_id = $1 and status in ('pending', 'triggered')", userID)
	return err
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOne(row pgx.Row) (model.Order, error) {
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, ErrOrderNotFound
	}
	return o, err
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var side, kind, status string
	err := row.Scan(&o.ID, &o.UserID, &o.InstrumentID, &side, &kind, &status, &o.Quantity, &o.LimitPrice, &o.FilledPrice, &o.FilledAmount, &o.Commission, &o.FrozenAmount, &o.Leverage, &o.TriggerPrice, &o.TriggeredAt, &o.ExpireAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.Side = types.OrderSide(side)
	o.Kind = types.OrderKind(kind)
	o.Status = types.OrderStatus(status)
	return o, nil
}
