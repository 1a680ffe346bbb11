// Package main provides the graphd bitemporal graph query service.
//
// This is the HTTP server that answers bounded-depth subgraph queries over
// the ontology/entity knowledge graph and accepts write-path mutations.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/vertexgraph/graphd/internal/aliasing"
	"github.com/vertexgraph/graphd/internal/api"
	"github.com/vertexgraph/graphd/internal/graphstore"
	"github.com/vertexgraph/graphd/internal/query"
	"github.com/vertexgraph/graphd/internal/storage"
	"github.com/vertexgraph/graphd/internal/writepath"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "graphd"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting graphd service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	aliasResolver, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load base URL alias configuration",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	graphStore := graphstore.NewPostgresStore(conn, logger, aliasing.NewResolver(aliasResolver))
	queryer := query.NewService(graphStore, logger)
	writer := writepath.NewManager(conn, logger)

	if brokers := loadKafkaBrokers(); len(brokers) > 0 {
		publisher := writepath.NewKafkaPublisher(brokers, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("failed to close kafka publisher", slog.String("error", err.Error()))
			}
		}()

		writer = writer.WithPublisher(publisher)

		logger.Info("publishing mutation events to kafka", slog.Any("brokers", brokers))
	}

	apiKeyStore, err := storage.NewPersistentKeyStore(conn)
	if err != nil {
		logger.Error("Failed to initialize API key store",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Create and start HTTP server
	server := api.NewServer(&serverConfig, apiKeyStore, nil, graphStore, queryer, writer)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("graphd service stopped")
}

// loadKafkaBrokers reads a comma-separated broker list from
// GRAPHD_KAFKA_BROKERS. Mutation-event publishing is disabled when unset,
// matching the change feed's status as an optional hook rather than a
// required dependency.
func loadKafkaBrokers() []string {
	raw := os.Getenv("GRAPHD_KAFKA_BROKERS")
	if raw == "" {
		return nil
	}

	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}

	return brokers
}
