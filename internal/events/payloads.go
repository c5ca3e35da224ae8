package events

import (
	"github.com/shopspring/decimal"

	"papervenue/internal/types"
)

type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type AssetChange struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Frozen  decimal.Decimal `json:"frozen"`
	Reason  string          `json:"reason"`
}

type OrderChange struct {
	OrderID int64             `json:"order_id"`
	UserID  int64             `json:"user_id"`
	Status  types.OrderStatus `json:"status"`
}

type Liquidation struct {
	UserID    int64           `json:"user_id"`
	NetAssets decimal.Decimal `json:"net_assets"`
}

type SettlementDone struct {
	UserID  int64           `json:"user_id"`
	OrderID int64           `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}
