package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bybit-chart-server/internal/market"
)

const wsPingInterval = 20 * time.Second

// StreamConn is one public-topic websocket subscription. It owns the
// connection and decodes topic messages into the out channel until the
// context is cancelled or the connection drops.
type StreamConn struct {
	url    string
	topic  string
	logger zerolog.Logger
}

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// wsEnvelope covers both topic pushes and op acknowledgements. Data is
// left raw because kline topics push arrays while ticker topics push a
// single object (and deltas).
type wsEnvelope struct {
	Topic   string          `json:"topic"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Data    json.RawMessage `json:"data"`
}

type klineData struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
	Confirm bool   `json:"confirm"`
}

type tickerData struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	Volume24h    string `json:"volume24h"`
}

// StreamKline subscribes to kline.{interval}.{symbol} on the given
// endpoint and forwards every push as a BarUpdate. Blocks until the
// context is cancelled or the connection fails; the caller reconnects.
func StreamKline(ctx context.Context, wsURL, symbol, interval string, out chan<- market.BarUpdate, logger zerolog.Logger) error {
	s := &StreamConn{
		url:    wsURL,
		topic:  fmt.Sprintf("kline.%s.%s", interval, symbol),
		logger: logger.With().Str("component", "BybitKlineStream").Str("symbol", symbol).Str("interval", interval).Logger(),
	}
	return s.run(ctx, func(data json.RawMessage) error {
		var rows []klineData
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("parsing kline push: %w", err)
		}
		for _, row := range rows {
			update := market.BarUpdate{
				Start:     market.ToSeconds(row.Start),
				End:       market.ToSeconds(row.End),
				Open:      parseFloat(row.Open),
				High:      parseFloat(row.High),
				Low:       parseFloat(row.Low),
				Close:     parseFloat(row.Close),
				Volume:    parseFloat(row.Volume),
				Confirm:   row.Confirm,
				Timestamp: time.Now().Unix(),
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
}

// StreamTicker subscribes to tickers.{symbol} and forwards each push as a
// TickerTick. Ticker deltas may omit fields; pushes without a price are
// skipped rather than emitting a zero tick.
func StreamTicker(ctx context.Context, wsURL, symbol string, out chan<- market.TickerTick, logger zerolog.Logger) error {
	s := &StreamConn{
		url:    wsURL,
		topic:  fmt.Sprintf("tickers.%s", symbol),
		logger: logger.With().Str("component", "BybitTickerStream").Str("symbol", symbol).Logger(),
	}
	return s.run(ctx, func(data json.RawMessage) error {
		var row tickerData
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("parsing ticker push: %w", err)
		}
		if row.LastPrice == "" {
			return nil
		}
		tick := market.TickerTick{
			Symbol:           symbol,
			Price:            parseFloat(row.LastPrice),
			Change24hPercent: parseFloat(row.Price24hPcnt) * 100,
			Volume24h:        parseFloat(row.Volume24h),
			TS:               time.Now().Unix(),
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

func (s *StreamConn) run(ctx context.Context, handle func(json.RawMessage) error) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Args: []string{s.topic}}); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	s.logger.Info().Str("topic", s.topic).Msg("subscribed")

	// ReadMessage blocks with no context support; closing the connection
	// from a watcher goroutine is the idiomatic unblock.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-pinger.C:
				if err := conn.WriteJSON(subscribeRequest{Op: "ping"}); err != nil {
					return
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading from %s: %w", s.topic, err)
		}

		var envelope wsEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			s.logger.Warn().Err(err).Msg("unparseable frame, skipping")
			continue
		}
		if envelope.Success != nil {
			if !*envelope.Success {
				return fmt.Errorf("subscription rejected: %s", envelope.RetMsg)
			}
			continue
		}
		if envelope.Topic != s.topic || len(envelope.Data) == 0 {
			continue
		}
		if err := handle(envelope.Data); err != nil {
			return err
		}
	}
}
