package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"papervenue/internal/ledger"
	"papervenue/internal/model"
)

type Store struct {
	db ledger.DB
}

func NewStore(db ledger.DB) *Store {
	return &Store{db: db}
}

// Create books a deferred cash inflow. Runs inside the caller's transaction
// so the row commits atomically with the order it settles.
func (s *Store) Create(ctx context.Context, db ledger.DB, userID, orderID int64, amount decimal.Decimal, settleAt time.Time) (int64, error) {
	var id int64
	err := db.QueryRow(ctx, "insert into settlements (user_id, order_id, amount, settle_at, status) values ($1, $2, $3, $4, 'pending') returning id", userID, orderID, amount, settleAt).Scan(&id)
	return id, err
}

// MarkSettled is the CAS that makes settlement single-shot: only one caller
// moves the row out of pending.
func (s *Store) MarkSettled(ctx context.Context, db ledger.DB, id int64) (bool, error) {
	tag, err := db.Exec(ctx, "update settlements set status = 'settled' where id = $1 and status = 'pending'", id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time) ([]model.Settlement, error) {
	return s.list(ctx, "select id, user_id, order_id, amount, settle_at, status, created_at from settlements where status = 'pending' and settle_at <= $1 order by settle_at", now)
}

func (s *Store) ListPending(ctx context.Context) ([]model.Settlement, error) {
	return s.list(ctx, "select id, user_id, order_id, amount, settle_at, status, created_at from settlements where status = 'pending' order by settle_at")
}

func (s *Store) list(ctx context.Context, sql string, args ...any) ([]model.Settlement, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Settlement
	for rows.Next() {
		var m model.Settlement
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrderID, &m.Amount, &m.SettleAt, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingSum is the cash still in transit to a user; bankruptcy valuation
// counts it as an asset.
func (s *Store) PendingSum(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRow(ctx, "select coalesce(sum(amount), 0) from settlements where user_id = $1 and status = 'pending'", userID).Scan(&sum)
	return sum, err
}

// DeletePending drops a user's in-transit cash; used by liquidation.
func (s *Store) DeletePending(ctx context.Context, db ledger.DB, userID int64) error {
	_, err := db.Exec(ctx, "delete from settlements where user_id = $1 and status = 'pending'", userID)
	return err
}
