package main

import (
	"flag"
	"log"
	"os"

	"CoinFlow/internal/di"
	"CoinFlow/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := cfg.ValidatePublisher(); err != nil {
		log.Fatalf("invalid publisher config: %v", err)
	}

	app, cleanup, err := di.InitializePublisher(cfg)
	if err != nil {
		log.Fatalf("publisher initialization failed: %v", err)
	}

	log.Printf("polling %v every %s into %s", cfg.Publisher.Symbols, cfg.Publisher.Interval, cfg.Kafka.Topic)

	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("publisher error: %v", err)
		os.Exit(1)
	}
}
