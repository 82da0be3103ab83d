package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"bybit-chart-server/config"
	"bybit-chart-server/internal/api"
	"bybit-chart-server/internal/bybit"
	"bybit-chart-server/internal/cache"
	"bybit-chart-server/internal/database"
	"bybit-chart-server/internal/logging"
	"bybit-chart-server/internal/market"
	"bybit-chart-server/internal/stream"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	logger.Info().Msg("starting bybit chart server")

	client := bybit.NewClient(cfg.Bybit.RESTBaseURL, cfg.Bybit.Category, cfg.Bybit.HTTPTimeout)

	var klines stream.KlineSource = client
	if cfg.Redis.Enabled {
		kc := cache.NewKlineCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KlineTTL, client, logger)
		defer kc.Close()
		klines = kc
	}

	var archive stream.CandleArchiver
	var history api.CandleHistory
	if cfg.Postgres.Enabled {
		db, err := database.New(context.Background(), cfg.Postgres.URL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer db.Close()
		if err := db.InitSchema(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("schema init failed")
		}
		candleArchive := database.NewCandleArchive(db)
		archive = candleArchive
		history = candleArchive
	}

	candleHub := stream.NewCandleHub(
		klines,
		barStreamFunc(cfg.Bybit.LinearWSURL, logger),
		tickStreamFunc(cfg.Bybit.SpotWSURL, logger),
		archive,
		stream.CandleHubConfig{
			SnapshotLimit:    cfg.Stream.SnapshotLimit,
			ResyncBackoff:    cfg.Stream.ResyncBackoff,
			SubscriberBuffer: cfg.Stream.SubscriberBuffer,
			Profile: stream.ProfileConfig{
				BucketCount:   cfg.Profile.BucketCount,
				WindowSize:    cfg.Profile.WindowSize,
				BarWidth:      cfg.Profile.BarWidth,
				RecencyWeight: cfg.Profile.RecencyWeight,
			},
		},
		logger,
	)
	defer candleHub.Close()

	tickerHub := stream.NewTickerHub(
		tickStreamFunc(cfg.Bybit.SpotWSURL, logger),
		cfg.Stream.ResyncBackoff,
		cfg.Stream.SubscriberBuffer,
		logger,
	)
	defer tickerHub.Close()

	apiConfig := api.Config{
		Addr:              cfg.Server.Addr(),
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		ProductionMode:    cfg.Logging.JSON,
	}
	handlers := api.NewHandlers(marketData{klines: klines, client: client}, history, candleHub, tickerHub, cfg.Stream.SnapshotLimit, apiConfig, logger)
	server := api.NewServer(apiConfig, handlers, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
	logger.Info().Msg("stopped")
}

// marketData routes kline reads through the cache (when enabled) while
// metadata and ticker reads hit the REST client directly.
type marketData struct {
	klines stream.KlineSource
	client *bybit.Client
}

func (m marketData) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return m.klines.GetKlines(ctx, symbol, interval, limit)
}

func (m marketData) GetTickers(ctx context.Context, symbol string) ([]market.TickerSnapshot, error) {
	return m.client.GetTickers(ctx, symbol)
}

func (m marketData) ListSymbols(ctx context.Context) ([]market.SymbolInfo, error) {
	return m.client.ListSymbols(ctx)
}

func barStreamFunc(wsURL string, logger zerolog.Logger) stream.BarStreamFunc {
	return func(ctx context.Context, symbol, interval string, out chan<- market.BarUpdate) error {
		return bybit.StreamKline(ctx, wsURL, symbol, interval, out, logger)
	}
}

func tickStreamFunc(wsURL string, logger zerolog.Logger) stream.TickStreamFunc {
	return func(ctx context.Context, symbol string, out chan<- market.TickerTick) error {
		return bybit.StreamTicker(ctx, wsURL, symbol, out, logger)
	}
}
