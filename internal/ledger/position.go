package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"papervenue/internal/model"
)

// AddPosition upserts shares at the given cost, keeping a weighted average
// over the total held quantity (frozen included).
func (s *Service) AddPosition(ctx context.Context, db DB, userID, instrumentID int64, qty, price decimal.Decimal) error {
	_, err := db.Exec(ctx, `insert into positions (user_id, instrument_id, quantity, avg_cost, updated_at)
values ($1, $2, $3, $4, now())
on conflict (user_id, instrument_id) do update set
	avg_cost = case when positions.quantity + positions.frozen_quantity + $3 > 0
		then ((positions.quantity + positions.frozen_quantity) * positions.avg_cost + $3 * $4) / (positions.quantity + positions.frozen_quantity + $3)
		else 0 end,
	quantity = positions.quantity + $3,
	updated_at = now()`, userID, instrumentID, qty, price)
	return err
}

// ReducePosition removes available shares; the guard rejects oversells.
func (s *Service) ReducePosition(ctx context.Context, db DB, userID, instrumentID int64, qty decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update positions set quantity = quantity - $3, updated_at = now() where user_id = $1 and instrument_id = $2 and quantity - $3 >= 0", userID, instrumentID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientPosition
	}
	return s.deleteEmptyPosition(ctx, db, userID, instrumentID)
}

func (s *Service) FreezePosition(ctx context.Context, db DB, userID, instrumentID int64, qty decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update positions set quantity = quantity - $3, frozen_quantity = frozen_quantity + $3, updated_at = now() where user_id = $1 and instrument_id = $2 and quantity - $3 >= 0", userID, instrumentID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientPosition
	}
	return nil
}

func (s *Service) UnfreezePosition(ctx context.Context, db DB, userID, instrumentID int64, qty decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update positions set quantity = quantity + $3, frozen_quantity = frozen_quantity - $3, updated_at = now() where user_id = $1 and instrument_id = $2 and frozen_quantity - $3 >= 0", userID, instrumentID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientPosition
	}
	return nil
}

// DeductFrozenPosition consumes frozen shares on a limit-sell fill.
func (s *Service) DeductFrozenPosition(ctx context.Context, db DB, userID, instrumentID int64, qty decimal.Decimal) error {
	tag, err := db.Exec(ctx, "update positions set frozen_quantity = frozen_quantity - $3, updated_at = now() where user_id = $1 and instrument_id = $2 and frozen_quantity - $3 >= 0", userID, instrumentID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientPosition
	}
	return s.deleteEmptyPosition(ctx, db, userID, instrumentID)
}

func (s *Service) deleteEmptyPosition(ctx context.Context, db DB, userID, instrumentID int64) error {
	_, err := db.Exec(ctx, "delete from positions where user_id = $1 and instrument_id = $2 and quantity = 0 and frozen_quantity = 0", userID, instrumentID)
	return err
}

func (s *Service) GetPosition(ctx context.Context, db DB, userID, instrumentID int64) (model.Position, error) {
	var p model.Position
	err := db.QueryRow(ctx, "select id, user_id, instrument_id, quantity, frozen_quantity, avg_cost, updated_at from positions where user_id = $1 and instrument_id = $2", userID, instrumentID).
		Scan(&p.ID, &p.UserID, &p.InstrumentID, &p.Quantity, &p.FrozenQuantity, &p.AvgCost, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrInsufficientPosition
	}
	return p, err
}

func (s *Service) ListPositions(ctx context.Context, userID int64) ([]model.Position, error) {
	rows, err := s.db.Query(ctx, "select id, user_id, instrument_id, quantity, frozen_quantity, avg_cost, updated_at from positions where user_id = $1 order by instrument_id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.ID, &p.UserID, &p.InstrumentID, &p.Quantity, &p.FrozenQuantity, &p.AvgCost, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePositions wipes every position a user holds; used by liquidation.
func (s *Service) DeletePositions(ctx context.Context, db DB, userID int64) error {
	_, err := db.Exec(ctx, "delete from positions where user_id = $1", userID)
	return err
}
