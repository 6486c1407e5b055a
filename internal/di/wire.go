//go:build wireinject
// +build wireinject

package di

import (
	"KrakenPulse/pkg/config"
	"KrakenPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideSnapshotStorage,
		ProvideCache,

		// Persistence path
		ProvideSnapshotPublisher,
		ProvideSnapshotProcessor,
		ProvideSnapshotPipeline,
		ProvideKafkaConsumer,
		ProvideKafkaSnapshotsHandler,

		// Trend detection
		ProvideTickerFeed,
		ProvideHistoryStore,
		ProvideClassifier,
		ProvideAlertBoard,
		ProvideHub,
		ProvideAlertSinks,
		ProvideTrendPoller,

		// HTTP surface
		ProvideDashboard,
		ProvideTrendHandler,
		ProvideRateLimiter,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
