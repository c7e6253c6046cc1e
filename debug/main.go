package main

import (
	"os"

	"github.com/emrgen/catalog/internal/config"
	"github.com/emrgen/catalog/internal/server"
	"github.com/sirupsen/logrus"
)

// local worker on sqlite and the in-memory search engine
func main() {
	cfg, err := config.Load(os.Getenv("CATALOG_CONFIG"))
	if err != nil {
		logrus.Fatalf("error loading config: %v", err)
	}
	config.SetupLogging(config.LogConfig{Level: "debug"})

	cfg.Database.Type = "sqlite"
	cfg.Database.MaxOpenConns = 1
	cfg.Search.Engine = "memory"
	cfg.Redis.Enabled = false
	cfg.Kafka.Enabled = false

	grpcPort := os.Getenv("GRPC_PORT")
	if grpcPort == "" {
		grpcPort = "4000"
	}

	httpPort := os.Getenv("HTTP_PORT")
	if httpPort == "" {
		httpPort = "4001"
	}

	err = server.NewServer(grpcPort, httpPort, os.Getenv("DEBUG_SCHEDULE") != "").Start(cfg)
	if err != nil {
		logrus.Fatalf("error starting server: %v", err)
	}
}
