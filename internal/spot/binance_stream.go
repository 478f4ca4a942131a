package spot

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ot-clark/cryptoedge/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// symbolToBinancePair maps a claim symbol to its Binance USDT trade
// stream pair, lower-cased the way Binance's combined-stream path
// expects it.
var symbolToBinancePair = map[string]string{
	"BTC":  "btcusdt",
	"ETH":  "ethusdt",
	"SOL":  "solusdt",
	"DOGE": "dogeusdt",
	"XRP":  "xrpusdt",
	"ADA":  "adausdt",
	"LTC":  "ltcusdt",
}

// StreamRefresher keeps a mutex-guarded last-trade price per symbol fed
// by a Binance websocket trade stream, used as a sub-second-fresh
// override of the oracle's REST poll for symbols it covers. Grounded on
// the donor's internal/binance/client.go Client (connectWebSocket,
// readMessages, handleTradeMessage, reconnect-on-drop loop), adapted
// from a single-symbol BTC-only stream to a combined multi-symbol one
// and from callback-based delivery to a plain mutex-guarded read.
type StreamRefresher struct {
	wsURL     string
	pairCount int

	mu     sync.RWMutex
	prices map[string]domain.SpotPrice

	// running is read from runLoop/connectAndRead (background goroutine)
	// and written from Start/Stop (caller goroutine); atomic.Bool avoids
	// a data race between the two without taking mu on the read loop's
	// hot path.
	running atomic.Bool
	stopCh  chan struct{}
}

// NewStreamRefresher builds a refresher for the given claim symbols. Only
// symbols with a known Binance pair are subscribed; the rest are silently
// skipped, leaving the oracle REST poll as their only price source.
func NewStreamRefresher(symbols []string) *StreamRefresher {
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if pair, ok := symbolToBinancePair[strings.ToUpper(s)]; ok {
			pairs = append(pairs, pair+"@trade")
		}
	}

	streamPath := strings.Join(pairs, "/")
	return &StreamRefresher{
		wsURL:     fmt.Sprintf("wss://stream.binance.com:9443/stream?streams=%s", streamPath),
		pairCount: len(pairs),
		prices:    make(map[string]domain.SpotPrice),
		stopCh:    make(chan struct{}),
	}
}

// Start connects the stream and begins updating prices in the
// background. Safe to call on a refresher with zero subscribed pairs;
// it simply does nothing.
func (r *StreamRefresher) Start() {
	if r.pairCount == 0 {
		return
	}
	r.running.Store(true)
	go r.runLoop()
}

// Stop closes the stream and halts reconnection attempts.
func (r *StreamRefresher) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stopCh)
}

// Latest returns the most recent streamed price for symbol, if any has
// arrived yet.
func (r *StreamRefresher) Latest(symbol string) (domain.SpotPrice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prices[strings.ToUpper(symbol)]
	return p, ok
}

func (r *StreamRefresher) runLoop() {
	for r.running.Load() {
		if err := r.connectAndRead(); err != nil {
			log.Warn().Err(err).Msg("binance stream disconnected, reconnecting")
		}
		select {
		case <-r.stopCh:
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (r *StreamRefresher) connectAndRead() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(r.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	log.Info().Str("url", r.wsURL).Msg("binance trade stream connected")

	for r.running.Load() {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		r.handleMessage(msg)
	}
	return nil
}

type combinedStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

func (r *StreamRefresher) handleMessage(raw []byte) {
	var env combinedStreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	var trade tradeEvent
	if err := json.Unmarshal(env.Data, &trade); err != nil || trade.EventType != "trade" {
		return
	}

	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return
	}

	sym := binancePairToSymbol(trade.Symbol)
	if sym == "" {
		return
	}

	r.mu.Lock()
	r.prices[sym] = domain.SpotPrice{
		Symbol: sym,
		Price:  price,
		AsOf:   time.UnixMilli(trade.TradeTime).UTC(),
	}
	r.mu.Unlock()
}

func binancePairToSymbol(pair string) string {
	pair = strings.ToLower(pair)
	for sym, p := range symbolToBinancePair {
		if p == pair {
			return sym
		}
	}
	return ""
}
