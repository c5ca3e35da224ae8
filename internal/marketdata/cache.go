package marketdata

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"papervenue/internal/model"
	"papervenue/internal/types"
)

var ErrPriceUnavailable = errors.New("price unavailable")

// Cache holds the latest traded price per symbol. It is a cache over the
// feed, not a source of truth: equity pricing falls back to the stored open
// and previous close, crypto pricing has no fallback.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewCache() *Cache {
	return &Cache{prices: make(map[string]decimal.Decimal)}
}

func (c *Cache) Set(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	c.prices[symbol] = price
	c.mu.Unlock()
}

func (c *Cache) Get(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	p, ok := c.prices[symbol]
	c.mu.RUnlock()
	return p, ok
}

// ReferencePrice resolves the price an order executes or validates against.
func (c *Cache) ReferencePrice(in model.Instrument) (decimal.Decimal, error) {
	if p, ok := c.Get(in.Symbol); ok && p.Sign() > 0 {
		return p, nil
	}
	if in.Class == types.InstrumentClassCrypto {
		return decimal.Zero, ErrPriceUnavailable
	}
	if in.Open.Sign() > 0 {
		return in.Open, nil
	}
	if in.PrevClose.Sign() > 0 {
		return in.PrevClose, nil
	}
	return decimal.Zero, ErrPriceUnavailable
}
