package di

import (
	"context"
	"fmt"
	"io"
	"time"

	domrepo "SE3Price/internal/domain/repository"
	"SE3Price/internal/handler/api"
	internalrepo "SE3Price/internal/repository"
	"SE3Price/internal/service/entsoe"
	"SE3Price/internal/service/openmeteo"
	"SE3Price/internal/service/ratelimit"
	"SE3Price/internal/service/upstream"
	"SE3Price/internal/services/cleaning"
	"SE3Price/internal/services/features"
	"SE3Price/internal/usecase"
	"SE3Price/pkg/cache"
	pkgch "SE3Price/pkg/clickhouse"
	"SE3Price/pkg/config"
	pkgkafka "SE3Price/pkg/kafka"
	applogger "SE3Price/pkg/logger"
	"SE3Price/pkg/metrics"
	"SE3Price/pkg/retry"
	"SE3Price/pkg/server"
)

// JobName is the batch job a process was started for. It is stamped on
// collected error logs.
type JobName string

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("region", cfg.Region.Name)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder with its own registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(nil)
}

// ProvideRedis connects to Redis when it is enabled and returns nil otherwise.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPoolSize(cfg.Redis.PoolSize),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideResponseCache picks the upstream response cache: memory in front of
// Redis when Redis is up, memory alone otherwise, none when disabled.
func ProvideResponseCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	memOpts := []cache.MemoryOption{
		cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
		cache.WithMemoryCleanup(cfg.Cache.TTL),
	}
	if rc != nil {
		return cache.NewLayeredCache(rc, memOpts...)
	}
	return cache.NewMemoryCache(memOpts...)
}

// ProvideLocker returns the Redis run lock, or nil when Redis is disabled.
func ProvideLocker(rc *cache.RedisCache) domrepo.Locker {
	if rc == nil {
		return nil
	}
	return rc
}

func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

func ProvideRetryPolicy(cfg *config.Config) *retry.Policy {
	return retry.New(
		retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
		retry.WithBackoff(cfg.Retry.InitialBackoff, cfg.Retry.MaxBackoff, cfg.Retry.Multiplier),
		retry.WithJitter(cfg.Retry.Jitter),
	)
}

// ProvideMarketSource creates the ENTSO-E client on its own upstream transport.
func ProvideMarketSource(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	policy *retry.Policy,
	responses cache.Service,
	rec *metrics.Recorder,
	l *applogger.Logger,
) domrepo.MarketSource {
	base := upstream.New("entsoe",
		upstream.WithTimeout(cfg.Entsoe.Timeout),
		upstream.WithRateLimit(limiter, cfg.Entsoe.RateLimit),
		upstream.WithRetryPolicy(policy),
		upstream.WithCache(responses, cfg.Cache.TTL),
		upstream.WithMetrics(rec),
		upstream.WithLogger(l),
	)
	return entsoe.NewClient(cfg, base, l)
}

// ProvideWeatherSource creates the Open-Meteo client on its own upstream transport.
func ProvideWeatherSource(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	policy *retry.Policy,
	responses cache.Service,
	rec *metrics.Recorder,
	l *applogger.Logger,
) domrepo.WeatherSource {
	base := upstream.New("openmeteo",
		upstream.WithTimeout(cfg.Weather.Timeout),
		upstream.WithRateLimit(limiter, cfg.Weather.RateLimit),
		upstream.WithRetryPolicy(policy),
		upstream.WithCache(responses, cfg.Cache.TTL),
		upstream.WithMetrics(rec),
		upstream.WithLogger(l),
	)
	return openmeteo.NewClient(cfg, base, l)
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.DialTimeout+5*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// Stores groups the ClickHouse backed repositories.
type Stores struct {
	Features     *internalrepo.CHFeatureStore
	Observations *internalrepo.CHObservationStore
	Models       *internalrepo.CHModelRegistry
}

// ProvideStores builds the stores and makes sure their tables exist.
func ProvideStores(cfg *config.Config, client *pkgch.Client, l *applogger.Logger) (*Stores, error) {
	opts := []internalrepo.StoreOption{
		internalrepo.WithDatabase(client.Database()),
		internalrepo.WithLogger(l),
	}
	s := &Stores{
		Features:     internalrepo.NewCHFeatureStore(client.DB(), features.Columns(), opts...),
		Observations: internalrepo.NewCHObservationStore(client.DB(), opts...),
		Models:       internalrepo.NewCHModelRegistry(client.DB(), opts...),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, s.Features, s.Observations, s.Models); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return s, nil
}

func ProvideFeatureStore(s *Stores) domrepo.FeatureStore { return s.Features }

func ProvideObservationStore(s *Stores) domrepo.ObservationStore { return s.Observations }

// ProvideRegistries lists where models are saved and looked up, the local
// file first.
func ProvideRegistries(cfg *config.Config, s *Stores) []domrepo.ModelRegistry {
	return []domrepo.ModelRegistry{
		internalrepo.NewFileModelRegistry(cfg.Training.ModelDir),
		s.Models,
	}
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithLinger(50*time.Millisecond),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopic(cfg.Kafka.AutoCreateTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePredictionPublisher returns nil when Kafka is disabled; the runner
// then only writes the artifact.
func ProvidePredictionPublisher(cfg *config.Config, producer *pkgkafka.Producer) domrepo.PredictionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.PredictionsTopic, cfg.Location())
}

func ProvidePredictionFile(cfg *config.Config, l *applogger.Logger) *internalrepo.PredictionFile {
	return internalrepo.NewPredictionFile(cfg.Inference.OutputDir, cfg.Inference.ArtifactName, cfg.Inference.ArchiveCopies, cfg.Location(), l)
}

func ProvideCleaner(cfg *config.Config, l *applogger.Logger) *cleaning.Cleaner {
	return cleaning.New(cleaning.PolicyFromConfig(cfg), cleaning.WithLocation(cfg.Location()), cleaning.WithLogger(l))
}

func ProvideAssembler(cfg *config.Config, l *applogger.Logger) (*features.Assembler, error) {
	cal, err := features.NewFixedCalendar(cfg.Location(), cfg.Region.Holidays)
	if err != nil {
		return nil, fmt.Errorf("holiday calendar: %w", err)
	}
	return features.NewAssembler(cfg.Region.Locations, cal, cfg.Location(),
		features.WithVersion(cfg.Features.Version),
		features.WithLogger(l),
	)
}

func ProvideFeaturePipeline(
	cfg *config.Config,
	market domrepo.MarketSource,
	weather domrepo.WeatherSource,
	raw domrepo.ObservationStore,
	store domrepo.FeatureStore,
	cleaner *cleaning.Cleaner,
	assembler *features.Assembler,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *usecase.FeaturePipeline {
	return usecase.NewFeaturePipeline(cfg, market, weather, raw, store, cleaner, assembler, rec, l)
}

func ProvideTrainer(cfg *config.Config, store domrepo.FeatureStore, rec *metrics.Recorder, l *applogger.Logger, registries []domrepo.ModelRegistry) *usecase.Trainer {
	return usecase.NewTrainer(cfg, store, rec, l, registries...)
}

func ProvideInferenceRunner(
	cfg *config.Config,
	store domrepo.FeatureStore,
	sink *internalrepo.PredictionFile,
	publisher domrepo.PredictionPublisher,
	rec *metrics.Recorder,
	l *applogger.Logger,
	registries []domrepo.ModelRegistry,
) *usecase.InferenceRunner {
	return usecase.NewInferenceRunner(cfg, store, sink, publisher, rec, l, registries...)
}

// ProvideJobApp assembles the batch side. Error logs are shipped to Kafka when
// a logs topic is configured; the collector is flushed before the producer
// closes.
func ProvideJobApp(
	cfg *config.Config,
	job JobName,
	pipeline *usecase.FeaturePipeline,
	trainer *usecase.Trainer,
	runner *usecase.InferenceRunner,
	rec *metrics.Recorder,
	locker domrepo.Locker,
	client *pkgch.Client,
	producer *pkgkafka.Producer,
	rc *cache.RedisCache,
	l *applogger.Logger,
) *server.App {
	closers := []io.Closer{client}
	if rc != nil {
		closers = append(closers, rc)
	}
	if producer != nil {
		closers = append(closers, producer)
		if cfg.Kafka.LogsTopic != "" {
			l.AddCollector(&applogger.CollectionConfig{
				TimeInterval:   30 * time.Second,
				CountThreshold: 100,
				Topic:          cfg.Kafka.LogsTopic,
				Job:            string(job),
				Publisher:      producer,
			})
			closers = append(closers, closerFunc(func() error {
				l.RemoveCollector()
				return nil
			}))
		}
	}
	return server.New(cfg, pipeline, trainer, runner, nil, rec, locker, l, closers...)
}

// ProvideDashboard creates the read-only dashboard handler.
func ProvideDashboard(cfg *config.Config, file *internalrepo.PredictionFile, l *applogger.Logger) (*api.DashboardHandler, error) {
	return api.NewDashboardHandler(cfg, file, l)
}

// ProvideDashboardApp assembles the serving side. It needs neither ClickHouse
// nor the upstream APIs.
func ProvideDashboardApp(cfg *config.Config, dashboard *api.DashboardHandler, rec *metrics.Recorder, l *applogger.Logger) *server.App {
	return server.New(cfg, nil, nil, nil, dashboard, rec, nil, l)
}
