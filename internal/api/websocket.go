package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"bybit-chart-server/internal/stream"
)

// Close code sent when the requested interval is not supported.
const closeInvalidInterval = 4000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The chart frontend is served from arbitrary origins.
		return true
	},
}

// StreamCandles upgrades to websocket and relays candle payloads for
// /stream/candles/:symbol?interval=. The first message is a snapshot;
// heartbeats keep idle connections alive.
func (h *Handlers) StreamCandles(c *gin.Context) {
	symbol := c.Param("symbol")
	interval := c.DefaultQuery("interval", "1")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if _, ok := supportedIntervals[interval]; !ok {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(closeInvalidInterval, "unsupported interval: "+interval),
			time.Now().Add(time.Second),
		)
		return
	}

	sub := h.candleHub.Subscribe(symbol, interval)
	defer h.candleHub.Unsubscribe(symbol, interval, sub.ID)

	logger := h.logger.With().Str("symbol", symbol).Str("interval", interval).Str("sub", sub.ID).Logger()
	logger.Debug().Msg("candle stream client connected")

	done := h.watchClose(conn)
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			logger.Debug().Msg("candle stream client disconnected")
			return
		case payload := <-sub.C:
			if err := conn.WriteJSON(payload); err != nil {
				logger.Debug().Err(err).Msg("write failed, dropping client")
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteJSON(stream.Payload{Event: stream.EventHeartbeat, Symbol: symbol, Interval: interval}); err != nil {
				return
			}
		}
	}
}

// StreamTicks relays live ticker payloads for /stream/ticks/:symbol.
func (h *Handlers) StreamTicks(c *gin.Context) {
	symbol := c.Param("symbol")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.tickerHub.Subscribe(symbol)
	defer h.tickerHub.Unsubscribe(symbol, sub.ID)

	logger := h.logger.With().Str("symbol", symbol).Str("sub", sub.ID).Logger()
	logger.Debug().Msg("tick stream client connected")

	done := h.watchClose(conn)
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			logger.Debug().Msg("tick stream client disconnected")
			return
		case payload := <-sub.C:
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteJSON(stream.TickPayload{Event: stream.EventHeartbeat}); err != nil {
				return
			}
		}
	}
}

// watchClose drains reads so close frames and errors surface; the returned
// channel closes when the peer goes away.
func (h *Handlers) watchClose(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}
