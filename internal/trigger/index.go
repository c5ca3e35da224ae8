package trigger

import (
	"math"
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"papervenue/internal/types"
)

// Entry is one resting limit order in the index.
type Entry struct {
	OrderID int64
	Price   decimal.Decimal
	Side    types.OrderSide
}

type key struct {
	symbol string
	side   types.OrderSide
}

func less(a, b Entry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return a.OrderID < b.OrderID
}

// Index keeps pending limit orders ordered by limit price per symbol and
// side, so a price move resolves the set of newly qualified orders with a
// range scan instead of a table walk. It is rebuilt from the order store on
// start; the store stays the source of truth and every hit is re-checked
// with a CAS before anything executes.
type Index struct {
	mu    sync.RWMutex
	trees map[key]*btree.BTreeG[Entry]
}

func NewIndex() *Index {
	return &Index{trees: make(map[key]*btree.BTreeG[Entry])}
}

func (ix *Index) tree(k key, create bool) *btree.BTreeG[Entry] {
	t, ok := ix.trees[k]
	if !ok && create {
		t = btree.NewG[Entry](16, less)
		ix.trees[k] = t
	}
	return t
}

func (ix *Index) Add(symbol string, side types.OrderSide, orderID int64, price decimal.Decimal) {
	ix.mu.Lock()
	ix.tree(key{symbol, side}, true).ReplaceOrInsert(Entry{OrderID: orderID, Price: price, Side: side})
	ix.mu.Unlock()
}

func (ix *Index) Remove(symbol string, side types.OrderSide, orderID int64, price decimal.Decimal) {
	ix.mu.Lock()
	if t := ix.tree(key{symbol, side}, false); t != nil {
		t.Delete(Entry{OrderID: orderID, Price: price})
	}
	ix.mu.Unlock()
}

// Matches returns the orders qualified by a trade at price: buys with a
// limit at or above it, sells with a limit at or below it.
func (ix *Index) Matches(symbol string, price decimal.Decimal) []Entry {
	return ix.MatchesRange(symbol, price, price)
}

// MatchesRange covers a price window: buys qualify against the window low,
// sells against the window high. Used after a feed gap.
func (ix *Index) MatchesRange(symbol string, low, high decimal.Decimal) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []Entry
	if t := ix.tree(key{symbol, types.OrderSideBuy}, false); t != nil {
		t.AscendGreaterOrEqual(Entry{Price: low, OrderID: 0}, func(e Entry) bool {
			out = append(out, e)
			return true
		})
	}
	if t := ix.tree(key{symbol, types.OrderSideSell}, false); t != nil {
		t.AscendLessThan(Entry{Price: high, OrderID: math.MaxInt64}, func(e Entry) bool {
			out = append(out, e)
			return true
		})
	}
	return out
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, t := range ix.trees {
		n += t.Len()
	}
	return n
}

// Rebuild replaces the whole index in one swap.
func (ix *Index) Rebuild(load func(add func(symbol string, side types.OrderSide, orderID int64, price decimal.Decimal)) error) error {
	fresh := make(map[key]*btree.BTreeG[Entry])
	add := func(symbol string, side types.OrderSide, orderID int64, price decimal.Decimal) {
		k := key{symbol, side}
		t, ok := fresh[k]
		if !ok {
			t = btree.NewG[Entry](16, less)
			fresh[k] = t
		}
		t.ReplaceOrInsert(Entry{OrderID: orderID, Price: price, Side: side})
	}
	if err := load(add); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.trees = fresh
	ix.mu.Unlock()
	return nil
}
