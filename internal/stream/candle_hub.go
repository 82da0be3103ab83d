package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bybit-chart-server/internal/analysis"
	"bybit-chart-server/internal/market"
	"bybit-chart-server/internal/series"
)

// errResync signals that a new bar was appended and the series should be
// refetched so subscribers get a consistent snapshot.
var errResync = errors.New("series advanced, resync required")

// KlineSource fetches a candle snapshot from upstream (REST, possibly
// behind the Redis cache).
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// BarStreamFunc streams live bar updates into out until the context is
// cancelled or the connection fails.
type BarStreamFunc func(ctx context.Context, symbol, interval string, out chan<- market.BarUpdate) error

// CandleArchiver persists confirmed candles. Optional.
type CandleArchiver interface {
	UpsertCandles(ctx context.Context, symbol, interval string, candles []market.Candle) error
}

// ProfileConfig controls the volume profile attached to snapshots.
type ProfileConfig struct {
	BucketCount   int
	WindowSize    int
	BarWidth      int
	RecencyWeight bool
}

// CandleHubConfig configures the hub.
type CandleHubConfig struct {
	SnapshotLimit    int
	ResyncBackoff    time.Duration
	SubscriberBuffer int
	Profile          ProfileConfig
}

// Subscription is one subscriber's handle on a candle stream.
type Subscription struct {
	ID string
	C  <-chan Payload
}

// CandleHub manages one live stream per (symbol, interval) pair. Streams
// start on first subscribe and stop when the last subscriber leaves.
type CandleHub struct {
	mu      sync.Mutex
	streams map[string]*candleStream

	source     KlineSource
	barStream  BarStreamFunc
	tickStream TickStreamFunc
	archive    CandleArchiver
	cfg        CandleHubConfig
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCandleHub builds a hub. tickStream feeds the current-bar overlay and
// may be nil; archive may be nil.
func NewCandleHub(source KlineSource, barStream BarStreamFunc, tickStream TickStreamFunc, archive CandleArchiver, cfg CandleHubConfig, logger zerolog.Logger) *CandleHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &CandleHub{
		streams:    make(map[string]*candleStream),
		source:     source,
		barStream:  barStream,
		tickStream: tickStream,
		archive:    archive,
		cfg:        cfg,
		logger:     logger.With().Str("component", "CandleHub").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func streamKey(symbol, interval string) string {
	return fmt.Sprintf("%s|%s", symbol, interval)
}

// Subscribe attaches a new subscriber to the (symbol, interval) stream,
// starting it if needed. The subscriber's first payload is the current
// snapshot as soon as one is available.
func (h *CandleHub) Subscribe(symbol, interval string) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := streamKey(symbol, interval)
	cs, ok := h.streams[key]
	if !ok {
		cs = h.newStream(symbol, interval)
		h.streams[key] = cs
		go cs.run()
	}

	id := uuid.NewString()
	ch := make(chan Payload, h.cfg.SubscriberBuffer)

	cs.mu.Lock()
	cs.subscribers[id] = ch
	if snap := cs.snapshotPayloadLocked(); snap != nil {
		sendDropOldest(ch, *snap)
	}
	cs.mu.Unlock()

	return Subscription{ID: id, C: ch}
}

// Unsubscribe detaches a subscriber. The stream shuts down when its last
// subscriber leaves.
func (h *CandleHub) Unsubscribe(symbol, interval, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := streamKey(symbol, interval)
	cs, ok := h.streams[key]
	if !ok {
		return
	}

	cs.mu.Lock()
	delete(cs.subscribers, id)
	empty := len(cs.subscribers) == 0
	cs.mu.Unlock()

	if empty {
		cs.cancel()
		delete(h.streams, key)
		h.logger.Info().Str("symbol", symbol).Str("interval", interval).Msg("stream torn down")
	}
}

// Close stops every stream.
func (h *CandleHub) Close() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, cs := range h.streams {
		cs.cancel()
		delete(h.streams, key)
	}
}

func (h *CandleHub) newStream(symbol, interval string) *candleStream {
	ctx, cancel := context.WithCancel(h.ctx)
	return &candleStream{
		symbol:      symbol,
		interval:    interval,
		reconciler:  series.New(symbol, interval, h.cfg.SnapshotLimit),
		subscribers: make(map[string]chan Payload),
		hub:         h,
		ctx:         ctx,
		cancel:      cancel,
		logger: h.logger.With().
			Str("symbol", symbol).
			Str("interval", interval).
			Logger(),
	}
}

type candleStream struct {
	symbol   string
	interval string

	mu          sync.Mutex
	reconciler  *series.Reconciler
	subscribers map[string]chan Payload

	hub    *CandleHub
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

// run owns the stream lifecycle: snapshot, live consumption, resync on
// append, backoff on failure. Exits when the stream context is cancelled.
func (cs *candleStream) run() {
	cs.logger.Info().Msg("stream started")
	for {
		if cs.ctx.Err() != nil {
			return
		}

		candles, err := cs.hub.source.GetKlines(cs.ctx, cs.symbol, cs.interval, cs.hub.cfg.SnapshotLimit)
		if err != nil {
			cs.logger.Error().Err(err).Msg("snapshot fetch failed")
			cs.backoff()
			continue
		}

		cs.mu.Lock()
		cs.reconciler.ApplySnapshot(candles)
		if snap := cs.snapshotPayloadLocked(); snap != nil {
			cs.broadcastLocked(*snap)
		}
		cs.mu.Unlock()

		cs.archiveCandles(candles)

		err = cs.consumeLive()
		switch {
		case cs.ctx.Err() != nil:
			return
		case errors.Is(err, errResync):
			// A new bar opened; refetch immediately for a clean snapshot.
		default:
			cs.logger.Warn().Err(err).Msg("live stream interrupted")
			cs.backoff()
		}
	}
}

// consumeLive merges live bar updates and ticks into one typed event
// channel and drives the reconciler loop with it, so every message is
// applied to completion before the next. Returns errResync when a new bar
// appends, or the transport error otherwise.
func (cs *candleStream) consumeLive() error {
	streamCtx, cancel := context.WithCancel(cs.ctx)
	defer cancel()

	transportErr := make(chan error, 2)
	bars := make(chan market.BarUpdate, 64)
	go func() {
		transportErr <- cs.hub.barStream(streamCtx, cs.symbol, cs.interval, bars)
	}()

	var ticks chan market.TickerTick
	if cs.hub.tickStream != nil {
		ticks = make(chan market.TickerTick, 64)
		go func() {
			transportErr <- cs.hub.tickStream(streamCtx, cs.symbol, ticks)
		}()
	}

	events := make(chan series.Event, 64)
	loopErr := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			select {
			case <-streamCtx.Done():
				loopErr <- streamCtx.Err()
				return
			case err := <-transportErr:
				loopErr <- err
				return
			case bar := <-bars:
				b := bar
				select {
				case events <- series.Event{BarUpdate: &b}:
				case <-streamCtx.Done():
					loopErr <- streamCtx.Err()
					return
				}
			case tick := <-ticks:
				t := tick
				select {
				case events <- series.Event{Tick: &t}:
				case <-streamCtx.Done():
					loopErr <- streamCtx.Err()
					return
				}
			}
		}
	}()

	needResync := false
	cs.reconciler.Run(streamCtx, events, func(ev series.Event, outcome series.UpsertOutcome) {
		switch {
		case ev.BarUpdate != nil:
			candle := ev.BarUpdate.Candle()
			if ev.BarUpdate.Confirm {
				cs.archiveCandles([]market.Candle{candle})
			}
			if outcome == series.UpsertAppended {
				needResync = true
				cancel()
				return
			}
			if outcome != series.UpsertDropped {
				cs.broadcast(Payload{
					Event:      EventUpsert,
					Symbol:     cs.symbol,
					Interval:   cs.interval,
					Candle:     &candle,
					CurrentBar: cs.reconciler.CurrentBar(nil),
				})
			}
		case ev.Tick != nil:
			cs.broadcast(Payload{
				Event:      EventCurrentBar,
				Symbol:     cs.symbol,
				Interval:   cs.interval,
				CurrentBar: cs.reconciler.CurrentBar(nil),
			})
		}
	})

	if needResync {
		return errResync
	}
	return <-loopErr
}

// snapshotPayloadLocked builds the snapshot payload with graphics from the
// current series. Callers hold cs.mu. Returns nil before the first fetch.
func (cs *candleStream) snapshotPayloadLocked() *Payload {
	candles := cs.reconciler.Candles()
	if len(candles) == 0 {
		return nil
	}

	p := cs.hub.cfg.Profile
	var graphics *Graphics
	if vp := analysis.BuildVolumeProfile(candles, candles[len(candles)-1].Time, p.BarWidth, p.BucketCount, p.WindowSize, p.RecencyWeight); vp != nil {
		graphics = &Graphics{VolumeProfile: vp}
	}

	return &Payload{
		Event:      EventSnapshot,
		Symbol:     cs.symbol,
		Interval:   cs.interval,
		Candles:    candles,
		CurrentBar: cs.reconciler.CurrentBar(nil),
		Graphics:   graphics,
	}
}

func (cs *candleStream) broadcast(p Payload) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.broadcastLocked(p)
}

func (cs *candleStream) broadcastLocked(p Payload) {
	for _, ch := range cs.subscribers {
		sendDropOldest(ch, p)
	}
}

func (cs *candleStream) archiveCandles(candles []market.Candle) {
	if cs.hub.archive == nil || len(candles) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cs.hub.archive.UpsertCandles(ctx, cs.symbol, cs.interval, candles); err != nil {
		cs.logger.Warn().Err(err).Msg("candle archive write failed")
	}
}

func (cs *candleStream) backoff() {
	select {
	case <-cs.ctx.Done():
	case <-time.After(cs.hub.cfg.ResyncBackoff):
	}
}

// sendDropOldest delivers p without blocking: when the buffer is full the
// oldest payload is discarded so subscribers always converge on fresh data.
func sendDropOldest(ch chan Payload, p Payload) {
	select {
	case ch <- p:
		return
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
