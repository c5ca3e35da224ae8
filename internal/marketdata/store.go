package marketdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"papervenue/internal/model"
	"papervenue/internal/types"
)

var ErrInstrumentNotFound = errors.New("instrument not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetByID(ctx context.Context, id int64) (model.Instrument, error) {
	return s.get(ctx, "select id, class, symbol, name, prev_close, open, tradable from instruments where id = $1", id)
}

func (s *Store) GetBySymbol(ctx context.Context, symbol string) (model.Instrument, error) {
	return s.get(ctx, "select id, class, symbol, name, prev_close, open, tradable from instruments where symbol = $1", symbol)
}

func (s *Store) get(ctx context.Context, sql string, arg any) (model.Instrument, error) {
	var in model.Instrument
	var class string
	err := s.pool.QueryRow(ctx, sql, arg).Scan(&in.ID, &class, &in.Symbol, &in.Name, &in.PrevClose, &in.Open, &in.Tradable)
	if errors.Is(err, pgx.ErrNoRows) {
		return in, ErrInstrumentNotFound
	}
	in.Class = types.InstrumentClass(class)
	return in, err
}

func (s *Store) ListTradable(ctx context.Context, class types.InstrumentClass) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx, "select id, class, symbol, name, prev_close, open, tradable from instruments where tradable = true and class = $1 order by symbol", string(class))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		var class string
		if err := rows.Scan(&in.ID, &class, &in.Symbol, &in.Name, &in.PrevClose, &in.Open, &in.Tradable); err != nil {
			return nil, err
		}
		in.Class = types.InstrumentClass(class)
		out = append(out, in)
	}
	return out, rows.Err()
}
