package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"bizledger/cmd"
	"bizledger/internal/config"
	"bizledger/internal/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	closer, err := logger.Setup(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	err = cmd.Execute(cfg)
	closer.Close()
	if err != nil {
		os.Exit(1)
	}
}
