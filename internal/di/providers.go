package di

import (
	"context"
	"fmt"
	"time"

	"KrakenPulse/internal/domain/repository"
	"KrakenPulse/internal/handler/api"
	"KrakenPulse/internal/handler/ws"
	mid "KrakenPulse/internal/middleware"
	internalrepo "KrakenPulse/internal/repository"
	"KrakenPulse/internal/service/kraken"
	"KrakenPulse/internal/service/ratelimit"
	"KrakenPulse/internal/services/trend"
	"KrakenPulse/internal/usecase"
	"KrakenPulse/pkg/cache"
	pkgch "KrakenPulse/pkg/clickhouse"
	"KrakenPulse/pkg/config"
	xhttp "KrakenPulse/pkg/http"
	pkgkafka "KrakenPulse/pkg/kafka"
	applogger "KrakenPulse/pkg/logger"
	"KrakenPulse/pkg/metrics"
	"KrakenPulse/pkg/postgres"
	"KrakenPulse/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideSnapshotStorage opens the configured database and ensures the schema.
// The kafka backend persists through its consumer into ClickHouse.
func ProvideSnapshotStorage(cfg *config.Config) (repository.SnapshotStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	var store repository.SnapshotStorage
	switch cfg.Backend.Type {
	case config.BackendPostgres:
		client, err := postgres.NewClient(ctx,
			postgres.WithDSN(cfg.Postgres.DSN),
			postgres.WithPoolSize(cfg.Postgres.MinConns, cfg.Postgres.MaxConns),
			postgres.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres client: %w", err)
		}
		store = internalrepo.NewPostgresStorage(client, internalrepo.DefaultTable)
	default:
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithMaxConnections(10, 5),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store = internalrepo.NewClickHouseStorage(client, internalrepo.DefaultTable)
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("snapshot schema: %w", err)
	}
	return store, nil
}

// ProvideSnapshotPublisher creates the Kafka snapshot publisher, or nil without a producer.
func ProvideSnapshotPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SnapshotPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.SnapshotTopic)
}

// ProvideSnapshotProcessor creates the backend router.
func ProvideSnapshotProcessor(
	pub repository.SnapshotPublisher,
	store repository.SnapshotStorage,
	metrics repository.Metrics,
	cfg *config.Config,
) *usecase.SnapshotProcessor {
	return usecase.NewSnapshotProcessor(pub, store, metrics, cfg.Backend.Type)
}

// ProvideSnapshotPipeline puts validation and retry buffering in front of the processor.
func ProvideSnapshotPipeline(
	proc *usecase.SnapshotProcessor,
	metrics repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *mid.SnapshotPipeline {
	return mid.NewSnapshotPipeline(proc, metrics,
		mid.WithBufferSize(cfg.Backend.BufferSize),
		mid.WithRetry(cfg.Backend.RetryMax, cfg.Backend.BackoffMin, cfg.Backend.BackoffMax),
		mid.WithLogger(l),
	)
}

// ProvideTickerFeed creates the Kraken REST client.
func ProvideTickerFeed(cfg *config.Config, l *applogger.Logger) repository.TickerFeed {
	return kraken.New(cfg.Kraken.TickerURL,
		kraken.WithPairs(cfg.Kraken.Pairs...),
		kraken.WithRetry(cfg.Kraken.Retries, cfg.Kraken.RetryBackoff),
		kraken.WithHTTPClient(xhttp.NewClient(
			xhttp.WithTimeout(cfg.Kraken.Timeout),
			xhttp.WithUserAgent("krakenpulse"),
		)),
		kraken.WithLogger(l),
	)
}

// ProvideHistoryStore sizes buffers for the largest configured interval.
func ProvideHistoryStore(cfg *config.Config) *trend.HistoryStore {
	return trend.NewHistoryStore(cfg.Trend.Intervals)
}

// ProvideClassifier binds the trend thresholds to the history store.
func ProvideClassifier(cfg *config.Config, history *trend.HistoryStore) *trend.Classifier {
	return trend.NewClassifier(trend.Config{
		Intervals:      cfg.Trend.Intervals,
		VolumeSpikePct: cfg.Trend.VolumeSpikePct,
		PriceChangePct: cfg.Trend.PriceChangePct,
		TradeSpikePct:  cfg.Trend.TradeSpikePct,
	}, history)
}

// ProvideCache uses Redis when enabled and an in-process cache otherwise.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		l.Info("redis disabled, using in-memory cache")
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvideAlertBoard keeps the latest cycle for readers.
func ProvideAlertBoard(c cache.Service, l *applogger.Logger) *usecase.AlertBoard {
	return usecase.NewAlertBoard(c, l)
}

// ProvideHub creates the websocket broadcaster.
func ProvideHub(cfg *config.Config, board *usecase.AlertBoard, l *applogger.Logger) *ws.Hub {
	return ws.NewHub(ws.Config{
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, board, l)
}

// ProvideAlertSinks lists every consumer of completed cycles.
func ProvideAlertSinks(
	board *usecase.AlertBoard,
	hub *ws.Hub,
	producer *pkgkafka.Producer,
	cfg *config.Config,
) []repository.AlertSink {
	sinks := []repository.AlertSink{board, hub}
	if producer != nil && cfg.Kafka.AlertTopic != "" {
		sinks = append(sinks, internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.AlertTopic))
	}
	return sinks
}

// ProvideTrendPoller creates the poll loop.
func ProvideTrendPoller(
	cfg *config.Config,
	feed repository.TickerFeed,
	pipe *mid.SnapshotPipeline,
	classifier *trend.Classifier,
	sinks []repository.AlertSink,
	metrics repository.Metrics,
	l *applogger.Logger,
) *usecase.TrendPoller {
	return usecase.NewTrendPoller(usecase.PollerConfig{
		Interval:    cfg.Poll.Interval,
		Concurrency: cfg.Poll.Concurrency,
		TopN:        cfg.Poll.TopN,
	}, feed, pipe, classifier, sinks, metrics, l)
}

// ProvideKafkaConsumer creates the snapshot consumer for the kafka backend, nil otherwise.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Backend.Type != config.BackendKafka {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetHook(pkgkafka.TraceHook())
	return consumer, nil
}

// ProvideKafkaSnapshotsHandler persists consumed snapshots.
func ProvideKafkaSnapshotsHandler(store repository.SnapshotStorage, metrics repository.Metrics, cfg *config.Config) *usecase.KafkaSnapshotsHandler {
	return usecase.NewKafkaSnapshotsHandler(cfg.Kafka.SnapshotTopic, config.BackendClickHouse, store, metrics)
}

// ProvideDashboard creates the dashboard use case.
func ProvideDashboard(store repository.SnapshotStorage, c cache.Service, l *applogger.Logger, cfg *config.Config) *usecase.DashboardUseCase {
	return usecase.NewDashboardUseCase(store, c, l, cfg.Dashboard.Windows, cfg.Dashboard.CacheTTL)
}

// ProvideTrendHandler creates the REST handler.
func ProvideTrendHandler(
	l *applogger.Logger,
	board *usecase.AlertBoard,
	dashboard *usecase.DashboardUseCase,
	history *trend.HistoryStore,
	store repository.SnapshotStorage,
	cfg *config.Config,
) *api.TrendEchoHandler {
	return api.NewTrendEchoHandler(l, board, dashboard, history, store, cfg.Backend.Type)
}

// ProvideRateLimiter returns the per-IP limiter, or nil when disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
}

// ProvideHTTPServer builds the echo server with REST and websocket routes.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	th *api.TrendEchoHandler,
	hub *ws.Hub,
	limiter *ratelimit.Limiter,
) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	opts = append(opts, xhttp.WithMetrics(path, nil, nil))
	// a typed nil would make the middleware call Allow on nil
	if limiter != nil {
		opts = append(opts, xhttp.WithRateLimit(limiter))
	}
	return xhttp.NewServer(l, []xhttp.Handler{th, hub}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	poller *usecase.TrendPoller,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaSnapshotsHandler,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	limiter *ratelimit.Limiter,
	producer *pkgkafka.Producer,
	store repository.SnapshotStorage,
	c cache.Service,
) *server.App {
	return server.New(server.Components{
		Config:     cfg,
		Logger:     l,
		Poller:     poller,
		Consumer:   consumer,
		Handler:    kh,
		HTTPServer: httpServer,
		Hub:        hub,
		Limiter:    limiter,
		Producer:   producer,
		Storage:    store,
		Cache:      c,
	})
}
