package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"name"`
	Balance              decimal.Decimal `json:"balance"`
	FrozenBalance        decimal.Decimal `json:"frozen_balance"`
	MarginLoanPrincipal  decimal.Decimal `json:"margin_loan_principal"`
	MarginInterest       decimal.Decimal `json:"margin_interest"`
	MarginInterestDate   *time.Time      `json:"margin_interest_date"`
	IsBankrupt           bool            `json:"is_bankrupt"`
	BankruptCount        int32           `json:"bankrupt_count"`
	BankruptAt           *time.Time      `json:"bankrupt_at"`
	BankruptResetDate    *time.Time      `json:"bankrupt_reset_date"`
	CreatedAt            time.Time       `json:"created_at"`
}

type Position struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	InstrumentID   int64           `json:"instrument_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	FrozenQuantity decimal.Decimal `json:"frozen_quantity"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TotalQuantity is what valuation uses: frozen shares are still owned.
func (p Position) TotalQuantity() decimal.Decimal {
	return p.Quantity.Add(p.FrozenQuantity)
}
