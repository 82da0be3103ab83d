package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bybit-chart-server/internal/market"
)

// TickStreamFunc streams live ticker updates into out until the context is
// cancelled or the connection fails.
type TickStreamFunc func(ctx context.Context, symbol string, out chan<- market.TickerTick) error

// TickSubscription is one subscriber's handle on a ticker stream.
type TickSubscription struct {
	ID string
	C  <-chan TickPayload
}

// TickerHub manages one live ticker stream per symbol, with the same
// start-on-first-subscribe, stop-on-last-unsubscribe lifecycle as the
// candle hub.
type TickerHub struct {
	mu      sync.Mutex
	streams map[string]*tickerStream

	tickStream TickStreamFunc
	backoff    time.Duration
	buffer     int
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTickerHub(tickStream TickStreamFunc, backoff time.Duration, buffer int, logger zerolog.Logger) *TickerHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &TickerHub{
		streams:    make(map[string]*tickerStream),
		tickStream: tickStream,
		backoff:    backoff,
		buffer:     buffer,
		logger:     logger.With().Str("component", "TickerHub").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Subscribe attaches a subscriber to the symbol's ticker stream.
func (h *TickerHub) Subscribe(symbol string) TickSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts, ok := h.streams[symbol]
	if !ok {
		ctx, cancel := context.WithCancel(h.ctx)
		ts = &tickerStream{
			symbol:      symbol,
			subscribers: make(map[string]chan TickPayload),
			hub:         h,
			ctx:         ctx,
			cancel:      cancel,
			logger:      h.logger.With().Str("symbol", symbol).Logger(),
		}
		h.streams[symbol] = ts
		go ts.run()
	}

	id := uuid.NewString()
	ch := make(chan TickPayload, h.buffer)

	ts.mu.Lock()
	ts.subscribers[id] = ch
	ts.mu.Unlock()

	return TickSubscription{ID: id, C: ch}
}

// Unsubscribe detaches a subscriber, stopping the stream when it was the
// last one.
func (h *TickerHub) Unsubscribe(symbol, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts, ok := h.streams[symbol]
	if !ok {
		return
	}

	ts.mu.Lock()
	delete(ts.subscribers, id)
	empty := len(ts.subscribers) == 0
	ts.mu.Unlock()

	if empty {
		ts.cancel()
		delete(h.streams, symbol)
		h.logger.Info().Str("symbol", symbol).Msg("ticker stream torn down")
	}
}

// Close stops every stream.
func (h *TickerHub) Close() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for symbol, ts := range h.streams {
		ts.cancel()
		delete(h.streams, symbol)
	}
}

type tickerStream struct {
	symbol string

	mu          sync.Mutex
	subscribers map[string]chan TickPayload

	hub    *TickerHub
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func (ts *tickerStream) run() {
	ts.logger.Info().Msg("ticker stream started")
	for {
		if ts.ctx.Err() != nil {
			return
		}

		err := ts.consume()
		if ts.ctx.Err() != nil {
			return
		}
		ts.logger.Warn().Err(err).Msg("ticker stream interrupted")

		select {
		case <-ts.ctx.Done():
			return
		case <-time.After(ts.hub.backoff):
		}
	}
}

func (ts *tickerStream) consume() error {
	ticks := make(chan market.TickerTick, 64)
	streamCtx, cancel := context.WithCancel(ts.ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ts.hub.tickStream(streamCtx, ts.symbol, ticks)
	}()

	for {
		select {
		case <-ts.ctx.Done():
			return ts.ctx.Err()
		case err := <-errCh:
			return err
		case tick := <-ticks:
			ts.broadcast(TickPayload{Event: EventUpsert, Tick: &tick})
		}
	}
}

func (ts *tickerStream) broadcast(p TickPayload) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, ch := range ts.subscribers {
		select {
		case ch <- p:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}
