//go:build wireinject
// +build wireinject

package di

import (
	"Rewind/pkg/config"
	"Rewind/pkg/queue"
	"Rewind/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideRateLimits,
		ProvideProgressTracker,

		// Infrastructure clients
		ProvideRedisCache,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideQueue,

		// Gateways
		ProvideMarketService,
		ProvideEvidenceSearch,
		ProvideModelInference,
		ProvideSandbox,

		// Repositories
		ProvideResultStore,
		ProvideEventPublisher,

		// Use cases
		ProvideResearcher,
		ProvideContextBuilder,
		ProvideDecisionEngine,
		ProvideOrchestrator,

		// Transport
		ProvideExperimentsHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeRuntime wires the headless graph for the CLI. There is no HTTP
// server and no job queue; runs execute in the calling process.
func InitializeRuntime(cfg *config.Config) (*Runtime, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvideRateLimits,
		ProvideProgressTracker,
		ProvideRedisCache,
		ProvideCache,
		ProvideKafkaProducer,
		wire.Value((*queue.RedisQueue)(nil)),
		ProvideMarketService,
		ProvideEvidenceSearch,
		ProvideModelInference,
		ProvideSandbox,
		ProvideResultStore,
		ProvideEventPublisher,
		ProvideResearcher,
		ProvideContextBuilder,
		ProvideDecisionEngine,
		ProvideOrchestrator,
		ProvideRuntime,
	)
	return &Runtime{}, nil
}
