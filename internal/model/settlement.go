package model

import (
	"time"

	"papervenue/internal/types"

	"github.com/shopspring/decimal"
)

type Settlement struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"user_id"`
	OrderID   int64                  `json:"order_id"`
	Amount    decimal.Decimal        `json:"amount"`
	SettleAt  time.Time              `json:"settle_at"`
	Status    types.SettlementStatus `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
}
