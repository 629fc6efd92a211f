package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Rewind/internal/domain/repository"
	domsvc "Rewind/internal/domain/service"
	"Rewind/internal/handler/api"
	internalrepo "Rewind/internal/repository"
	svccache "Rewind/internal/service/cache"
	"Rewind/internal/service/exa"
	svcmetrics "Rewind/internal/service/metrics"
	"Rewind/internal/service/openrouter"
	"Rewind/internal/service/polymarket"
	"Rewind/internal/service/progress"
	"Rewind/internal/service/ratelimit"
	"Rewind/internal/service/sandbox"
	"Rewind/internal/usecase"
	pkgcache "Rewind/pkg/cache"
	pkgch "Rewind/pkg/clickhouse"
	"Rewind/pkg/config"
	xhttp "Rewind/pkg/http"
	pkgkafka "Rewind/pkg/kafka"
	"Rewind/pkg/logger"
	"Rewind/pkg/metrics"
	"Rewind/pkg/postgres"
	"Rewind/pkg/queue"
	"Rewind/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates the Prometheus recorder and registers gateway collectors.
func ProvideMetrics() repository.Metrics {
	svcmetrics.Register()
	return metrics.New()
}

// ProvideRateLimits builds the per-service limiter registry.
func ProvideRateLimits(cfg *config.Config) *ratelimit.Registry {
	return ratelimit.NewRegistry(cfg.RateLimits(), ratelimit.WithWaitObserver(svcmetrics.ObserveWait))
}

// ProvideProgressTracker creates the keyed progress registry.
func ProvideProgressTracker() *progress.Tracker {
	return progress.New()
}

// ProvideRedisCache connects to Redis when enabled; nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		pkgcache.WithRedisPrefix(cfg.Cache.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache returns the read-through cache store: memory in front of Redis
// when Redis is enabled, memory alone otherwise, nil when caching is off.
func ProvideCache(cfg *config.Config, rc *pkgcache.RedisCache) pkgcache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	if rc == nil {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
	}
	return pkgcache.NewLayeredCache(rc,
		pkgcache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		pkgcache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL),
	)
}

// ProvideMarketService creates the Polymarket gateway, cached when enabled.
func ProvideMarketService(cfg *config.Config, store pkgcache.Service) domsvc.MarketService {
	client := polymarket.New(cfg.Polymarket)
	if store == nil {
		return client
	}
	return svccache.NewMarketCache(client, store, cfg.Cache.MetadataTTL, cfg.Cache.StateTTL)
}

// ProvideEvidenceSearch creates the Exa gateway, cached when enabled.
func ProvideEvidenceSearch(cfg *config.Config, store pkgcache.Service) domsvc.EvidenceSearch {
	ecfg := cfg.Exa
	ecfg.KeepUndated = ecfg.KeepUndated || cfg.Research.KeepUndated
	client := exa.New(ecfg)
	if store == nil {
		return client
	}
	return svccache.NewEvidenceCache(client, store, cfg.Cache.EvidenceTTL)
}

// ProvideModelInference creates the OpenRouter gateway.
func ProvideModelInference(cfg *config.Config) domsvc.ModelInference {
	return openrouter.New(cfg.OpenRouter)
}

// ProvideSandbox creates the sandbox execution gateway.
func ProvideSandbox(cfg *config.Config, l *logger.Logger) domsvc.SandboxExecutor {
	return sandbox.New(cfg.Sandbox, sandbox.WithLogger(l.With(logger.String("component", "sandbox"))))
}

// ProvideResearcher creates the query-generation and search use case.
func ProvideResearcher(
	cfg *config.Config,
	llm domsvc.ModelInference,
	search domsvc.EvidenceSearch,
	limits *ratelimit.Registry,
	l *logger.Logger,
) *usecase.Researcher {
	return usecase.NewResearcher(llm, search, limits,
		usecase.WithResearcherLogger(l.With(logger.String("component", "researcher"))),
		usecase.WithQueryBounds(cfg.Research.MinQueries, cfg.Research.MaxQueries),
		usecase.WithResultsPerQuery(cfg.Research.ResultsPerQuery),
		usecase.WithResearchRetries(cfg.Orchestrator.CallRetries, cfg.Orchestrator.RetryBackoff),
	)
}

// ProvideContextBuilder creates the point-in-time context builder.
func ProvideContextBuilder(
	cfg *config.Config,
	market domsvc.MarketService,
	researcher *usecase.Researcher,
	limits *ratelimit.Registry,
) *usecase.ContextBuilder {
	return usecase.NewContextBuilder(market, researcher, limits,
		usecase.WithKeepUndated(cfg.Research.KeepUndated),
		usecase.WithBuilderRetries(cfg.Orchestrator.CallRetries, cfg.Orchestrator.RetryBackoff),
	)
}

// ProvideDecisionEngine creates the agentic/direct decision state machine.
func ProvideDecisionEngine(
	cfg *config.Config,
	llm domsvc.ModelInference,
	sb domsvc.SandboxExecutor,
	limits *ratelimit.Registry,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.DecisionEngine {
	return usecase.NewDecisionEngine(llm, sb, limits,
		usecase.WithEngineLogger(l.With(logger.String("component", "decision_engine"))),
		usecase.WithEngineMetrics(m),
		usecase.WithAgenticAttempts(cfg.Orchestrator.AgenticMaxAttempts),
		usecase.WithCallRetries(cfg.Orchestrator.CallRetries, cfg.Orchestrator.RetryBackoff),
		usecase.WithTemperature(cfg.Orchestrator.Temperature),
	)
}

// ProvideResultStore opens the configured storage backend.
func ProvideResultStore(cfg *config.Config, l *logger.Logger) (repository.ResultStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageClickHouse:
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
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema(cfg.ClickHouse.Database)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		store := internalrepo.NewClickHouseResultStore(client.DB(), cfg.ClickHouse.Database)
		store.SetLogger(l)
		return &clickHouseStore{ClickHouseResultStore: store, client: client}, nil

	case config.StoragePostgres:
		db, err := postgres.Open(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := internalrepo.NewPostgresResultStore(db, cfg.Postgres.QueryTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.InitSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return store, nil

	default:
		store, err := internalrepo.NewFileResultStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		return store, nil
	}
}

// clickHouseStore closes the connection pool along with the store.
type clickHouseStore struct {
	*internalrepo.ClickHouseResultStore
	client *pkgch.Client
}

func (s *clickHouseStore) Close() error { return s.client.Close() }

// ProvideKafkaProducer creates a Kafka producer when enabled; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes lifecycle events to Kafka when enabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NoopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topic)
}

// ProvideQueue creates the Redis job queue when enabled; nil otherwise.
func ProvideQueue(cfg *config.Config, rc *pkgcache.RedisCache, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(
		l.With(logger.String("component", "queue")),
		&queue.QueueConfig{
			Workers:    cfg.Queue.Workers,
			RetryLimit: cfg.Queue.RetryLimit,
			RetryDelay: cfg.Queue.RetryDelay,
		},
		rc.Client(),
		queue.ModeProducerConsumer,
		queue.WithKeyPrefix(cfg.Queue.Prefix),
	)
}

// ProvideOrchestrator creates the orchestrator. With a queue, accepted runs
// are dispatched as jobs and executed by the queue workers.
func ProvideOrchestrator(
	cfg *config.Config,
	builder *usecase.ContextBuilder,
	engine *usecase.DecisionEngine,
	tracker *progress.Tracker,
	store repository.ResultStore,
	events repository.EventPublisher,
	m repository.Metrics,
	q *queue.RedisQueue,
	l *logger.Logger,
) *usecase.Orchestrator {
	opts := []usecase.OrchestratorOption{
		usecase.WithOrchestratorLogger(l.With(logger.String("component", "orchestrator"))),
		usecase.WithOrchestratorMetrics(m),
		usecase.WithEventPublisher(events),
	}
	if q != nil {
		opts = append(opts, usecase.WithDispatcher(usecase.NewQueueDispatcher(q)))
	}
	orch := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		MaxConcurrentIntervals:  cfg.Orchestrator.MaxConcurrentIntervals,
		ReplicaConcurrency:      cfg.Orchestrator.ReplicaConcurrency,
		StrictPreviousDecisions: cfg.Orchestrator.StrictPreviousDecisions,
		ProgressRetention:       cfg.Orchestrator.ProgressRetention,
		PersistTimeout:          cfg.Orchestrator.PersistTimeout,
	}, builder, engine, tracker, store, opts...)
	if q != nil {
		q.RegisterJob(usecase.NewExperimentRunJob(orch))
	}
	return orch
}

// ProvideExperimentsHandler creates the echo handlers.
func ProvideExperimentsHandler(
	cfg *config.Config,
	orch *usecase.Orchestrator,
	builder *usecase.ContextBuilder,
	l *logger.Logger,
) *api.ExperimentsHandler {
	return api.NewExperimentsHandler(l.With(logger.String("component", "api")), orch, builder,
		api.WithDefaultModel(cfg.Orchestrator.DefaultModel),
		api.WithAdmission(ratelimit.NewBucket(cfg.Server.RunBurst, cfg.Server.RunRefillPerSec, nil)),
		api.WithStreamConfig(api.StreamConfig{PollInterval: cfg.Server.StreamInterval}),
	)
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(cfg *config.Config, h *api.ExperimentsHandler, l *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.SlowThreshold),
		xhttp.WithLogger(l.With(logger.String("component", "http"))),
	)
}

// ProvideApp assembles the application lifecycle. Optional components are
// registered only when configured.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	httpServer *xhttp.Server,
	orch *usecase.Orchestrator,
	store repository.ResultStore,
	events repository.EventPublisher,
	producer *pkgkafka.Producer,
	rc *pkgcache.RedisCache,
	q *queue.RedisQueue,
) *server.App {
	opts := []server.Option{server.WithShutdownTimeout(cfg.Server.ShutdownTimeout)}

	// closed in reverse order; the event publisher owns the producer
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc))
	}
	opts = append(opts,
		server.WithCloser("result_store", store),
		server.WithCloser("event_publisher", events),
	)
	if producer != nil && cfg.Log.Collect {
		l.AddCollector(&logger.CollectionConfig{
			Service:        "rewind",
			TimeInterval:   cfg.Log.FlushInterval,
			CountThreshold: cfg.Log.BatchSize,
			Topic:          cfg.Log.CollectTopic,
			Publisher:      producer,
		})
	}
	if q != nil {
		opts = append(opts, server.WithWorker(q))
	}

	l.Info("application wired",
		logger.String("storage", cfg.Storage.Backend),
		logger.Bool("kafka", producer != nil),
		logger.Bool("redis", rc != nil),
		logger.Bool("queue", q != nil),
		logger.Bool("cache", cfg.Cache.Enabled),
	)
	return server.New(l, httpServer, orch, opts...)
}

// Runtime is the headless graph used by the CLI. Runs execute in-process.
type Runtime struct {
	Logger       *logger.Logger
	Orchestrator *usecase.Orchestrator
	Builder      *usecase.ContextBuilder
	DefaultModel string

	store  repository.ResultStore
	events repository.EventPublisher
	redis  *pkgcache.RedisCache
}

// ProvideRuntime assembles the CLI runtime.
func ProvideRuntime(
	cfg *config.Config,
	l *logger.Logger,
	orch *usecase.Orchestrator,
	builder *usecase.ContextBuilder,
	store repository.ResultStore,
	events repository.EventPublisher,
	rc *pkgcache.RedisCache,
) *Runtime {
	return &Runtime{
		Logger:       l,
		Orchestrator: orch,
		Builder:      builder,
		DefaultModel: cfg.Orchestrator.DefaultModel,
		store:        store,
		events:       events,
		redis:        rc,
	}
}

// Close drains the orchestrator and releases storage and brokers.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.Orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	r.Logger.RemoveCollector()
	if err := r.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event publisher: %w", err))
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close result store: %w", err))
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
