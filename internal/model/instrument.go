package model

import (
	"papervenue/internal/types"

	"github.com/shopspring/decimal"
)

type Instrument struct {
	ID        int64                 `json:"id"`
	Class     types.InstrumentClass `json:"class"`
	Symbol    string                `json:"symbol"`
	Name      string                `json:"name"`
	PrevClose decimal.Decimal       `json:"prev_close"`
	Open      decimal.Decimal       `json:"open"`
	Tradable  bool                  `json:"tradable"`
}
