// Package feed streams live asset prices over WebSocket into the price
// cache, keeping risk scoring and snapshots off the slow REST path.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// tick is one price update from the stream.
type tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// subscribeCmd is the subscription message sent after connecting.
type subscribeCmd struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// PriceFeed subscribes to price ticks for a set of assets and writes each
// tick into the price cache. It reconnects with exponential backoff and
// resubscribes after every reconnect.
type PriceFeed struct {
	wsURL  string
	assets []string
	cache  domain.PriceCache
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceFeed creates a feed for the given asset symbols.
func NewPriceFeed(wsURL string, assets []string, cache domain.PriceCache, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:  wsURL,
		assets: assets,
		cache:  cache,
		logger: logger.With(slog.String("component", "price_feed")),
		done:   make(chan struct{}),
	}
}

// Run connects and streams until ctx is cancelled or Close is called.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.assets) == 0 {
		f.logger.Info("no assets to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *PriceFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := subscribeCmd{Op: "subscribe", Symbols: f.assets}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("price feed subscribed", slog.Int("assets", len(f.assets)))

	// Ping loop keeps the connection alive; the read loop below ends it.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}

		var t tick
		if err := json.Unmarshal(msg, &t); err != nil {
			f.logger.Warn("price feed message discarded", slog.String("error", err.Error()))
			continue
		}
		if t.Symbol == "" || t.Price <= 0 {
			continue
		}
		if err := f.cache.SetPrice(ctx, t.Symbol, t.Price, time.Now().UTC()); err != nil {
			f.logger.Warn("price cache write failed",
				slog.String("asset", t.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close stops the feed.
func (f *PriceFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
