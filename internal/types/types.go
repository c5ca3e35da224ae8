package types

type OrderSide string

type OrderKind string

type OrderStatus string

type InstrumentClass string

type SettlementStatus string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusTriggered OrderStatus = "triggered"
	OrderStatusSettling  OrderStatus = "settling"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

const (
	InstrumentClassEquity InstrumentClass = "equity"
	InstrumentClassCrypto InstrumentClass = "crypto"
)

const (
	SettlementStatusPending SettlementStatus = "pending"
	SettlementStatusSettled SettlementStatus = "settled"
)

// IsOpen reports whether an order in this status still holds frozen funds or
// frozen position and may still transition.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusTriggered
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusExpired
}
