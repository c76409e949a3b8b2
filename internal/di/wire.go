//go:build wireinject
// +build wireinject

package di

import (
	"SE3Price/pkg/config"
	"SE3Price/pkg/server"

	"github.com/google/wire"
)

var transportSet = wire.NewSet(
	ProvideRedis,
	ProvideResponseCache,
	ProvideLocker,
	ProvideLimiter,
	ProvideRetryPolicy,
	ProvideMarketSource,
	ProvideWeatherSource,
)

var storageSet = wire.NewSet(
	ProvideClickHouseClient,
	ProvideStores,
	ProvideFeatureStore,
	ProvideObservationStore,
	ProvideRegistries,
	ProvidePredictionFile,
	ProvideKafkaProducer,
	ProvidePredictionPublisher,
)

// InitializeJobs wires up everything a batch job needs.
// Wire will generate the implementation of this function.
func InitializeJobs(cfg *config.Config, job JobName) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		transportSet,
		storageSet,

		// Use cases
		ProvideCleaner,
		ProvideAssembler,
		ProvideFeaturePipeline,
		ProvideTrainer,
		ProvideInferenceRunner,

		ProvideJobApp,
	)
	return &server.App{}, nil
}

// InitializeDashboard wires up the read-only dashboard.
func InitializeDashboard(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,
		ProvidePredictionFile,
		ProvideDashboard,
		ProvideDashboardApp,
	)
	return &server.App{}, nil
}
