package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credal-eval/cmd"
	"credal-eval/internal/config"
	"credal-eval/internal/core"
	"credal-eval/internal/crossval"
	"credal-eval/internal/database"
	"credal-eval/internal/dataset"
	"credal-eval/internal/results"
	"credal-eval/internal/storage"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"gorm.io/gorm"
)

func openSink(provider storage.Provider, loc storage.Location) (results.Sink, error) {
	if loc.IsObject() {
		return results.NewObjectSink(provider, loc)
	}
	return results.NewCSVSink(loc.Key)
}

// tracking mirrors the run into the experiments database when one is
// configured, so CLI runs show up next to queued experiments.
type tracking struct {
	db         *gorm.DB
	experiment database.Experiment
	folds      *results.FoldRecorder
}

func startTracking(ctx context.Context, cfg config.EvaluationConfig, eval core.EvaluationConfig, modelType core.ModelType) (*tracking, error) {
	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	experiment := database.Experiment{
		Id:              uuid.New(),
		Name:            fmt.Sprintf("cli-%s", time.Now().UTC().Format("20060102-150405")),
		DatasetPath:     cfg.DatasetPath,
		OutputPath:      sql.NullString{String: cfg.OutputPath, Valid: true},
		ModelType:       string(modelType),
		Mode:            string(eval.Mode),
		Folds:           eval.Folds,
		Repetitions:     eval.Repetitions,
		PoolSize:        eval.PoolSize,
		Seed:            eval.Seed,
		Stratified:      eval.Stratified,
		EllFrom:         eval.Ells.From,
		EllTo:           eval.Ells.To,
		EllBy:           eval.Ells.By,
		HoldOutFraction: eval.HoldOutFraction,
		Status:          database.JobQueued,
		CreationTime:    time.Now().UTC(),
	}
	if eval.Mode != core.ModeSweep {
		experiment.EllFrom, experiment.EllTo, experiment.EllBy = eval.Ell, 0, 0
	}
	if err := db.WithContext(ctx).Create(&experiment).Error; err != nil {
		return nil, fmt.Errorf("error creating experiment record: %w", err)
	}
	if err := database.UpdateExperimentStatus(ctx, db, experiment.Id, database.JobRunning); err != nil {
		return nil, err
	}

	return &tracking{db: db, experiment: experiment, folds: results.NewFoldRecorder(ctx, db, experiment.Id)}, nil
}

func (t *tracking) finish(err error) {
	ctx := context.Background()
	status := database.JobCompleted
	if err == nil {
		err = t.folds.Err()
	}
	if err != nil {
		status = database.JobFailed
		database.SaveExperimentError(ctx, t.db, t.experiment.Id, err.Error())
	}
	if err := database.UpdateExperimentStatus(ctx, t.db, t.experiment.Id, status); err != nil {
		slog.Error("error recording experiment status", "experiment_id", t.experiment.Id, "error", err)
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Parse[config.EvaluationConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if _, err := cmd.SetupLogging(cfg.LogLevel, ""); err != nil {
		log.Fatalf("error configuring logging: %v", err)
	}

	eval, err := cfg.Evaluation()
	if err != nil {
		log.Fatalf("%v", err)
	}
	modelType, err := core.ParseModelType(cfg.ModelType)
	if err != nil {
		log.Fatalf("%v", err)
	}
	factory := core.NewModelFactories(cfg.PluginCmd)[modelType]

	datasetLoc, err := storage.ParseLocation(cfg.DatasetPath)
	if err != nil {
		log.Fatalf("invalid DATASET_PATH: %v", err)
	}
	outputLoc, err := storage.ParseLocation(cfg.OutputPath)
	if err != nil {
		log.Fatalf("invalid OUTPUT_PATH: %v", err)
	}

	var provider storage.Provider
	if datasetLoc.IsObject() || outputLoc.IsObject() {
		if provider, err = cfg.Storage.NewProvider(); err != nil {
			log.Fatalf("error creating storage client: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, err := storage.Fetch(ctx, provider, datasetLoc)
	if err != nil {
		log.Fatalf("error reading dataset: %v", err)
	}
	data, err := dataset.Load(bytes.NewReader(raw))
	if err != nil {
		log.Fatalf("error parsing dataset: %v", err)
	}

	output, err := openSink(provider, outputLoc)
	if err != nil {
		log.Fatalf("error opening output: %v", err)
	}
	sinks := results.MultiSink{output}

	var track *tracking
	if cfg.DatabaseURL != "" {
		if track, err = startTracking(ctx, cfg, eval, modelType); err != nil {
			log.Fatalf("%v", err)
		}
		sinks = append(sinks, results.NewDatabaseSink(track.db, track.experiment.Id))
	}

	bar := progressbar.NewOptions(eval.TotalFolds(),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", eval.Mode, modelType)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	onFold := func(stats crossval.FoldStatistics) {
		_ = bar.Add(1)
		if track != nil {
			track.folds.Record(stats)
		}
	}

	start := time.Now()
	summaries, err := core.Evaluate(ctx, factory, data, eval, sinks, onFold)
	_ = bar.Finish()

	if closeErr := sinks.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if track != nil {
		track.finish(err)
	}
	if err != nil {
		log.Fatalf("evaluation failed: %v", err)
	}

	for _, s := range summaries {
		slog.Info("result", "ell", s.Ell, "u65", s.MeanU65, "u80", s.MeanU80, "std_u65", s.StdU65, "std_u80", s.StdU80, "folds", s.Folds, "failed_predictions", s.Failed)
	}
	slog.Info("evaluation complete", "output", outputLoc, "values", len(summaries), "duration", time.Since(start))
}
