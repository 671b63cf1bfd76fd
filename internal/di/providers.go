package di

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"CoinFlow/internal/domain/repository"
	"CoinFlow/internal/forecast"
	"CoinFlow/internal/handler/api"
	mid "CoinFlow/internal/middleware"
	internalrepo "CoinFlow/internal/repository"
	"CoinFlow/internal/service/coingecko"
	"CoinFlow/internal/service/ratelimit"
	"CoinFlow/internal/usecase"
	"CoinFlow/internal/window"
	"CoinFlow/pkg/cache"
	pkgch "CoinFlow/pkg/clickhouse"
	"CoinFlow/pkg/config"
	xhttp "CoinFlow/pkg/http"
	pkgkafka "CoinFlow/pkg/kafka"
	"CoinFlow/pkg/logger"
	"CoinFlow/pkg/metrics"
	"CoinFlow/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: "coinflow",
	})
}

// ProvideRegistry creates the Prometheus registry shared by every collector
// and served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pkgkafka.SetMetricsRegisterer(reg)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideSink builds the configured sink backend. The pipeline creates the
// destination table on start.
func ProvideSink(cfg *config.Config, producer *pkgkafka.Producer, l *logger.Logger) (repository.Sink, func(), error) {
	switch cfg.Sink.Backend {
	case "clickhouse":
		client, err := ProvideClickHouseClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		sink := internalrepo.NewClickHouseSink(client, cfg.ClickHouse.Database+"."+cfg.Sink.Table)
		sink.SetLogger(l)
		return sink, func() { _ = client.Close() }, nil
	case "mysql":
		db, err := internalrepo.OpenMySQL(cfg.MySQL.DSN, cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		return internalrepo.NewMySQLSink(db, cfg.Sink.Table), func() {}, nil
	case "kafka":
		return internalrepo.NewKafkaSink(producer, cfg.Kafka.OutputTopic), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink backend: %s", cfg.Sink.Backend)
	}
}

// ProvideForecaster loads the model artifact once, or targets the model
// service.
func ProvideForecaster(cfg *config.Config) (repository.Forecaster, error) {
	switch cfg.Forecast.Backend {
	case "http":
		f := forecast.NewHTTPForecaster(cfg.Forecast.ServiceURL, cfg.Forecast.Timeout, cfg.Forecast.Attempts)
		if cfg.Forecast.CacheTTL <= 0 {
			return f, nil
		}
		mc := cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Forecast.CacheSize))
		return forecast.NewCachedForecaster(f, mc, cfg.Forecast.CacheTTL), nil
	default:
		m, err := forecast.LoadArtifact(cfg.Forecast.ArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("forecast artifact: %w", err)
		}
		return m, nil
	}
}

func ProvideEnricher(cfg *config.Config, f repository.Forecaster, m repository.Metrics, l *logger.Logger) *forecast.Enricher {
	return forecast.NewEnricher(f,
		forecast.WithHorizon(cfg.Forecast.Horizon),
		forecast.WithEnricherMetrics(m),
		forecast.WithEnricherLogger(l),
	)
}

func ProvideLiveFeed(l *logger.Logger) *api.LiveFeed {
	return api.NewLiveFeed(l)
}

func ProvideRecordProcessor(
	cfg *config.Config,
	enricher *forecast.Enricher,
	sink repository.Sink,
	m repository.Metrics,
	l *logger.Logger,
	feed *api.LiveFeed,
) *usecase.RecordProcessor {
	return usecase.NewRecordProcessor(enricher, sink,
		usecase.WithWorkers(cfg.Sink.Workers),
		usecase.WithProcessorQueue(cfg.Sink.QueueSize),
		usecase.WithSinkRetry(cfg.Sink.RetryMax, cfg.Sink.BackoffMin, cfg.Sink.BackoffMax),
		usecase.WithBackend(cfg.Sink.Backend),
		usecase.WithProcessorMetrics(m),
		usecase.WithProcessorLogger(l),
		usecase.WithBroadcaster(feed),
	)
}

func ProvideEngine(cfg *config.Config, proc *usecase.RecordProcessor, m repository.Metrics, l *logger.Logger) (*window.Engine, error) {
	return window.NewEngine(proc,
		window.WithWindowSize(cfg.Window.Size),
		window.WithShards(cfg.Window.Shards),
		window.WithQueueSize(cfg.Window.QueueSize),
		window.WithMetrics(m),
		window.WithLogger(l),
	)
}

func ProvideWatermark(cfg *config.Config) *window.WatermarkGenerator {
	return window.NewWatermarkGenerator(cfg.Window.AllowedLateness, cfg.Window.IdleTimeout)
}

// ProvideStateStore connects to Redis when checkpointing is on and returns
// a nil store otherwise.
func ProvideStateStore(cfg *config.Config) (repository.StateStore, error) {
	if !cfg.Window.Checkpoint {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	return internalrepo.NewRedisStateStore(rc, cfg.Redis.TTL), nil
}

func ProvideObservationHandler(
	cfg *config.Config,
	engine *window.Engine,
	wm *window.WatermarkGenerator,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.ObservationHandler {
	return usecase.NewObservationHandler(cfg.Kafka.Topic, engine, wm, m, l)
}

// ProvideKafkaConsumer creates the observation consumer with its handler
// and tracing hook registered.
func ProvideKafkaConsumer(cfg *config.Config, h *usecase.ObservationHandler, l *logger.Logger) (*pkgkafka.Consumer, error) {
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
	consumer.RegisterHandler(h)
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook{Log: l}))
	return consumer, nil
}

func ProvidePipeline(
	cfg *config.Config,
	consumer *pkgkafka.Consumer,
	engine *window.Engine,
	proc *usecase.RecordProcessor,
	wm *window.WatermarkGenerator,
	sink repository.Sink,
	store repository.StateStore,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(usecase.PipelineConfig{
		WatermarkInterval:  cfg.Window.WatermarkInterval,
		DrainOnShutdown:    cfg.Window.DrainOnShutdown,
		Checkpoint:         cfg.Window.Checkpoint,
		CheckpointInterval: cfg.Window.CheckpointInterval,
	}, consumer, engine, proc, wm, sink, store, m, l)
}

func ProvideStateHandler(cfg *config.Config, l *logger.Logger, engine *window.Engine, sink repository.Sink) *api.StateHandler {
	return api.NewStateHandler(l, engine, sink, cfg.Window.Size)
}

func ProvideHTTPServer(cfg *config.Config, reg *prometheus.Registry, l *logger.Logger, state *api.StateHandler, feed *api.LiveFeed) *xhttp.Server {
	return xhttp.NewServerWith([]xhttp.Handler{state, feed},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithRegistry(reg),
	)
}

// ProvideApp creates the pipeline service and, when enabled, ships error
// digests of the logger to the log topic.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	pipeline *usecase.Pipeline,
	srv *xhttp.Server,
	feed *api.LiveFeed,
	producer *pkgkafka.Producer,
) *server.App {
	attachLogDigest(cfg, l, producer)
	return server.New(cfg, l, pipeline, srv, feed)
}

func attachLogDigest(cfg *config.Config, l *logger.Logger, producer *pkgkafka.Producer) {
	if !cfg.Log.Digest.Enabled || cfg.Kafka.LogTopic == "" {
		return
	}
	l.AddCollector(&logger.CollectionConfig{
		TimeInterval:   cfg.Log.Digest.Interval,
		CountThreshold: cfg.Log.Digest.Threshold,
		Key:            cfg.Environment,
		Publisher:      internalrepo.NewKafkaPublisher(producer, cfg.Kafka.LogTopic),
	})
}

// Publisher binary.

func ProvideMarketSource(cfg *config.Config) repository.MarketSource {
	return coingecko.NewClient(cfg.Publisher.APIBaseURL, cfg.Publisher.Timeout,
		coingecko.WithAPIKey(cfg.Publisher.APIKey),
		coingecko.WithLimiter(ratelimit.New(), cfg.Publisher.CallsPerMin),
	)
}

func ProvideObservationPublisher(cfg *config.Config, producer *pkgkafka.Producer, m repository.Metrics) *usecase.ObservationPublisher {
	return usecase.NewObservationPublisher(internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic), m)
}

// ProvideRealtimePipeline puts validation, throttling and buffering between
// the poller and Kafka.
func ProvideRealtimePipeline(cfg *config.Config, pub *usecase.ObservationPublisher, m repository.Metrics, l *logger.Logger) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(pub, m,
		mid.WithMaxRPS(cfg.Publisher.MaxRPS),
		mid.WithBufferSize(cfg.Publisher.BufferSize),
		mid.WithRetryBackoff(100*time.Millisecond, 5*time.Second),
		mid.WithLogger(l),
	)
}

func ProvideMarketPoller(cfg *config.Config, src repository.MarketSource, pipe *mid.RealtimePipeline, m repository.Metrics, l *logger.Logger) *usecase.MarketPoller {
	return usecase.NewMarketPoller(src, cfg.Publisher.Symbols, cfg.Publisher.Interval, pipe, m, l)
}

// ProvideMetricsServer serves only /metrics for the publisher.
func ProvideMetricsServer(cfg *config.Config, reg *prometheus.Registry, l *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithRegistry(reg),
		xhttp.WithCORS(false),
	)
}

func ProvidePublisherApp(
	cfg *config.Config,
	l *logger.Logger,
	poller *usecase.MarketPoller,
	pipe *mid.RealtimePipeline,
	srv *xhttp.Server,
	producer *pkgkafka.Producer,
) *server.PublisherApp {
	attachLogDigest(cfg, l, producer)
	return server.NewPublisherApp(cfg, l, poller, pipe, srv)
}
