package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"credal-eval/internal/database"
	"credal-eval/internal/messaging"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// SetupLogging installs the default slog handler at the given level, writing to
// stderr and, if logFile is set, appending to that file as well. The returned
// closer releases the log file.
func SetupLogging(level, logFile string) (io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), os.ModePerm); err != nil {
			return nil, fmt.Errorf("error creating directory for log file: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		out = io.MultiWriter(f, os.Stderr)
		closer = f
	}

	log.SetOutput(out)
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl})))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RequeuePendingExperiments republishes experiments that were queued or
// running when the process last stopped. The in-memory queue does not survive
// a restart, so the database is the source of truth.
func RequeuePendingExperiments(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) error {
	var experiments []database.Experiment
	if err := db.WithContext(ctx).Where("status IN ?", []string{database.JobQueued, database.JobRunning}).Order("creation_time").Find(&experiments).Error; err != nil {
		return fmt.Errorf("error fetching pending experiments: %w", err)
	}

	for _, experiment := range experiments {
		if err := publisher.PublishExperimentTask(ctx, messaging.ExperimentTaskPayload{ExperimentId: experiment.Id}); err != nil {
			return fmt.Errorf("error requeueing experiment %s: %w", experiment.Id, err)
		}
		slog.Info("requeued pending experiment", "experiment_id", experiment.Id, "status", experiment.Status)
	}
	return nil
}
