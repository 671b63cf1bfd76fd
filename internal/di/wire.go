//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"CoinFlow/pkg/config"
	"CoinFlow/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideKafkaProducer,
)

// InitializeApp wires the pipeline service.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,

		// Sink, forecaster and window engine
		ProvideSink,
		ProvideForecaster,
		ProvideEnricher,
		ProvideLiveFeed,
		ProvideRecordProcessor,
		ProvideEngine,
		ProvideWatermark,
		ProvideStateStore,

		// Ingestion
		ProvideObservationHandler,
		ProvideKafkaConsumer,
		ProvidePipeline,

		// HTTP
		ProvideStateHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}

// InitializePublisher wires the market-data publisher.
func InitializePublisher(cfg *config.Config) (*server.PublisherApp, func(), error) {
	wire.Build(
		infraSet,
		ProvideMarketSource,
		ProvideObservationPublisher,
		ProvideRealtimePipeline,
		ProvideMarketPoller,
		ProvideMetricsServer,
		ProvidePublisherApp,
	)
	return nil, nil, nil
}
