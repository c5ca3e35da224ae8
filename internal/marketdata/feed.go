package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"papervenue/internal/events"
)

// PriceHandler receives push-mode price events. Recover runs once per symbol
// after a feed gap with the widest window the client can vouch for.
type PriceHandler interface {
	OnPriceUpdate(ctx context.Context, symbol string, price decimal.Decimal)
	Recover(ctx context.Context, symbol string, low, high decimal.Decimal)
}

type feedMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Feed is a reconnecting websocket client for the crypto price stream.
type Feed struct {
	url     string
	cache   *Cache
	bus     *events.Bus
	handler PriceHandler
	log     zerolog.Logger

	last      map[string]decimal.Decimal
	recovered map[string]bool
	hadDrop   bool
}

func NewFeed(url string, cache *Cache, bus *events.Bus, handler PriceHandler, log zerolog.Logger) *Feed {
	return &Feed{
		url:     url,
		cache:   cache,
		bus:     bus,
		handler: handler,
		log:     log,
		last:    make(map[string]decimal.Decimal),
	}
}

// Run connects and reads until ctx is cancelled, backing off on failure.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.log.Warn().Err(err).Dur("backoff", backoff).Msg("feed dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		f.recovered = make(map[string]bool)
		f.log.Info().Str("url", f.url).Msg("feed connected")
		f.readLoop(ctx, conn)
		conn.Close()
		f.hadDrop = true
		f.log.Warn().Msg("feed disconnected")
	}
}

// readLoop reads until the connection drops or ctx is cancelled. The watcher
// goroutine is tied to this connection and exits with it, so reconnects do
// not accumulate watchers.
func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg feedMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.log.Warn().Err(err).Msg("bad feed message")
			continue
		}
		if msg.Symbol == "" || msg.Price.Sign() <= 0 {
			continue
		}
		f.handle(ctx, msg)
	}
}

func (f *Feed) handle(ctx context.Context, msg feedMessage) {
	f.cache.Set(msg.Symbol, msg.Price)
	f.bus.Publish(events.Event{Type: events.TypeQuote, Data: events.Quote{Symbol: msg.Symbol, Price: msg.Price}})

	// After a drop, the true path between the last seen price and the first
	// fresh one is unknown. Sweep the widest window the two points span so
	// limit orders inside the gap still trigger.
	if f.hadDrop && !f.recovered[msg.Symbol] {
		f.recovered[msg.Symbol] = true
		if prev, ok := f.last[msg.Symbol]; ok && !prev.Equal(msg.Price) {
			low, high := prev, msg.Price
			if low.GreaterThan(high) {
				low, high = high, low
			}
			f.handler.Recover(ctx, msg.Symbol, low, high)
		}
	}
	f.last[msg.Symbol] = msg.Price
	f.handler.OnPriceUpdate(ctx, msg.Symbol, msg.Price)
}
