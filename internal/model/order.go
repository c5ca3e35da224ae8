package model

import (
	"time"

	"papervenue/internal/types"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID           int64             `json:"id"`
	UserID       int64             `json:"user_id"`
	InstrumentID int64             `json:"instrument_id"`
	Side         types.OrderSide   `json:"side"`
	Kind         types.OrderKind   `json:"kind"`
	Status       types.OrderStatus `json:"status"`
	Quantity     decimal.Decimal   `json:"quantity"`
	LimitPrice   *decimal.Decimal  `json:"limit_price"`
	FilledPrice  *decimal.Decimal  `json:"filled_price"`
	FilledAmount *decimal.Decimal  `json:"filled_amount"`
	Commission   decimal.Decimal   `json:"commission"`
	FrozenAmount decimal.Decimal   `json:"frozen_amount"`
	Leverage     int32             `json:"leverage"`
	TriggerPrice *decimal.Decimal  `json:"trigger_price"`
	TriggeredAt  *time.Time        `json:"triggered_at"`
	ExpireAt     *time.Time        `json:"expire_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
