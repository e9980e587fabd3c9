package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"credal-eval/cmd"
	"credal-eval/internal/api"
	"credal-eval/internal/config"
	"credal-eval/internal/core"
	"credal-eval/internal/database"
	"credal-eval/internal/messaging"
	"credal-eval/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

type Config struct {
	Root        string        `env:"ROOT" envDefault:"./credal-eval"`
	Port        int           `env:"PORT" envDefault:"3001"`
	PoolSize    int           `env:"DEFAULT_POOL_SIZE" envDefault:"0"`
	PluginCmd   string        `env:"PLUGIN_CMD"`
	FoldTimeout time.Duration `env:"FOLD_TIMEOUT" envDefault:"30m"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

func createServer(db *gorm.DB, queue messaging.Publisher, port, poolSize int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue, poolSize)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Parse[Config]()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = runtime.NumCPU()
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logFile, err := cmd.SetupLogging(cfg.LogLevel, filepath.Join(cfg.Root, "backend.log"))
	if err != nil {
		log.Fatalf("error configuring logging: %v", err)
	}
	defer logFile.Close()

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "pool_size", cfg.PoolSize)

	dbPath := filepath.Join(cfg.Root, "db", "credal-eval.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	db, err := database.NewDatabase("sqlite://" + dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	provider := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))

	queue := messaging.NewInMemoryQueue()
	if err := cmd.RequeuePendingExperiments(context.Background(), db, queue); err != nil {
		log.Fatalf("Failed to requeue pending experiments: %v", err)
	}

	worker := core.NewTaskProcessor(db, provider, queue, core.NewModelFactories(cfg.PluginCmd), cfg.FoldTimeout)

	server := createServer(db, queue, cfg.Port, cfg.PoolSize)

	slog.Info("starting worker")
	go worker.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
