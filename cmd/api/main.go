package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"credal-eval/cmd"
	"credal-eval/internal/api"
	"credal-eval/internal/config"
	"credal-eval/internal/database"
	"credal-eval/internal/messaging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type APIConfig struct {
	DatabaseURL     string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL     string `env:"RABBITMQ_URL,notEmpty,required"`
	APIPort         string `env:"API_PORT" envDefault:"8001"`
	DefaultPoolSize int    `env:"DEFAULT_POOL_SIZE" envDefault:"0"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[APIConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if _, err := cmd.SetupLogging(cfg.LogLevel, ""); err != nil {
		log.Fatalf("error configuring logging: %v", err)
	}
	if cfg.DefaultPoolSize <= 0 {
		cfg.DefaultPoolSize = runtime.NumCPU()
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, publisher, cfg.DefaultPoolSize)
	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
