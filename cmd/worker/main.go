package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credal-eval/cmd"
	"credal-eval/internal/config"
	"credal-eval/internal/core"
	"credal-eval/internal/database"
	"credal-eval/internal/messaging"
)

type WorkerConfig struct {
	DatabaseURL string        `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string        `env:"RABBITMQ_URL,notEmpty,required"`
	PluginCmd   string        `env:"PLUGIN_CMD"`
	FoldTimeout time.Duration `env:"FOLD_TIMEOUT" envDefault:"30m"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	Storage     config.StorageConfig
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[WorkerConfig]()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if _, err := cmd.SetupLogging(cfg.LogLevel, ""); err != nil {
		log.Fatalf("error configuring logging: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	provider, err := cfg.Storage.NewProvider()
	if err != nil {
		log.Fatalf("Worker: Failed to create storage client: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Worker: Failed to start message consumer: %v", err)
	}

	processor := core.NewTaskProcessor(db, provider, receiver, core.NewModelFactories(cfg.PluginCmd), cfg.FoldTimeout)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutdown signal received, stopping consumer")
		processor.Stop()
		os.Exit(0)
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")
	processor.Start()

	log.Println("Worker process stopped.")
}
