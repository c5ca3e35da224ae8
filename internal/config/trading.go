package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trading holds the venue policy knobs. Money math lives here so the order
// and margin services share one set of rounding rules.
type Trading struct {
	CommissionRate    decimal.Decimal
	MinCommission     decimal.Decimal
	LimitBandLow      decimal.Decimal
	LimitBandHigh     decimal.Decimal
	LimitOrderTTL     time.Duration
	MaxLeverage       int32
	DailyInterestRate decimal.Decimal
	InitialBalance    decimal.Decimal
	CryptoSettleDelay time.Duration
	HoursEnabled      bool
	TickInterval      time.Duration
	MaxConcurrency    int64
	OpTimeout         time.Duration
	LockLease         time.Duration
	LockWait          time.Duration
	GuardTTL          time.Duration
	OrderRate         float64
	OrderBurst        int
}

func DefaultTrading() Trading {
	return Trading{
		CommissionRate:    decimal.NewFromFloat(0.0005),
		MinCommission:     decimal.NewFromFloat(5.00),
		LimitBandLow:      decimal.NewFromFloat(0.5),
		LimitBandHigh:     decimal.NewFromFloat(1.5),
		LimitOrderTTL:     24 * time.Hour,
		MaxLeverage:       50,
		DailyInterestRate: decimal.NewFromFloat(0.0005),
		InitialBalance:    decimal.NewFromInt(100000),
		CryptoSettleDelay: 5 * time.Minute,
		HoursEnabled:      true,
		TickInterval:      10 * time.Second,
		MaxConcurrency:    50,
		OpTimeout:         6 * time.Second,
		LockLease:         10 * time.Second,
		LockWait:          5 * time.Second,
		GuardTTL:          30 * time.Second,
		OrderRate:         0.5,
		OrderBurst:        5,
	}
}

// Commission is amount*rate rounded half-up to 2dp, floored at MinCommission.
func (t Trading) Commission(amount decimal.Decimal) decimal.Decimal {
	c := amount.Mul(t.CommissionRate).Round(2)
	if c.LessThan(t.MinCommission) {
		return t.MinCommission
	}
	return c
}

// SplitMargin divides a leveraged notional into the user's own margin and the
// borrowed principal. Margin rounds up so margin+borrowed never exceeds the
// notional.
func (t Trading) SplitMargin(amount decimal.Decimal, leverage int32) (margin, borrowed decimal.Decimal) {
	if leverage <= 1 {
		return amount, decimal.Zero
	}
	margin = amount.Div(decimal.NewFromInt32(leverage)).RoundCeil(2)
	borrowed = amount.Sub(margin)
	return margin, borrowed
}

// WithinBand reports whether a limit price sits inside the accepted band
// around the reference price.
func (t Trading) WithinBand(limit, ref decimal.Decimal) bool {
	if ref.Sign() <= 0 {
		return false
	}
	low := ref.Mul(t.LimitBandLow)
	high := ref.Mul(t.LimitBandHigh)
	return limit.GreaterThanOrEqual(low) && limit.LessThanOrEqual(high)
}

// OutsideTradingHours reports whether t is outside the equity session
// (Mon-Fri 09:30-11:30 and 13:00-15:00, local time). Crypto trades around
// the clock and never consults this.
func (t Trading) OutsideTradingHours(now time.Time) bool {
	if !t.HoursEnabled {
		return false
	}
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	mins := now.Hour()*60 + now.Minute()
	morning := mins >= 9*60+30 && mins <= 11*60+30
	afternoon := mins >= 13*60 && mins <= 15*60
	return !morning && !afternoon
}

// DailyInterest is principal*rate*days rounded half-up to 2dp.
func (t Trading) DailyInterest(principal decimal.Decimal, days int64) decimal.Decimal {
	if days < 1 {
		days = 1
	}
	return principal.Mul(t.DailyInterestRate).Mul(decimal.NewFromInt(days)).Round(2)
}
