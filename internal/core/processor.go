package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credal-eval/internal/credal"
	"credal-eval/internal/crossval"
	"credal-eval/internal/database"
	"credal-eval/internal/dataset"
	"credal-eval/internal/messaging"
	"credal-eval/internal/results"
	"credal-eval/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.Provider
	reciever messaging.Reciever

	modelFactories map[ModelType]credal.ModelFactory
	foldTimeout    time.Duration
}

func NewTaskProcessor(db *gorm.DB, storage storage.Provider, reciever messaging.Reciever, modelFactories map[ModelType]credal.ModelFactory, foldTimeout time.Duration) *TaskProcessor {
	return &TaskProcessor{
		db:             db,
		storage:        storage,
		reciever:       reciever,
		modelFactories: modelFactories,
		foldTimeout:    foldTimeout,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.ExperimentQueue:
		var payload messaging.ExperimentTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil || payload.ExperimentId == uuid.Nil {
			slog.Error("error unmarshalling experiment task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processExperimentTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processExperimentTask(ctx context.Context, payload messaging.ExperimentTaskPayload) error {
	experimentId := payload.ExperimentId

	var experiment database.Experiment
	if err := proc.db.WithContext(ctx).First(&experiment, "id = ?", experimentId).Error; err != nil {
		slog.Error("error fetching experiment", "experiment_id", experimentId, "error", err)
		return fmt.Errorf("error getting experiment: %w", err)
	}

	if experiment.Status == database.JobCompleted {
		slog.Info("experiment already completed, skipping", "experiment_id", experimentId)
		return nil
	}

	slog.Info("processing experiment", "experiment_id", experimentId, "mode", experiment.Mode, "model_type", experiment.ModelType)

	if err := database.UpdateExperimentStatus(ctx, proc.db, experimentId, database.JobRunning); err != nil {
		return fmt.Errorf("error updating experiment status: %w", err)
	}
	if err := database.ClearExperimentResults(ctx, proc.db, experimentId); err != nil {
		return proc.failExperiment(ctx, experimentId, err)
	}

	start := time.Now()
	if err := proc.runExperiment(ctx, experiment); err != nil {
		return proc.failExperiment(ctx, experimentId, err)
	}

	if err := database.UpdateExperimentStatus(ctx, proc.db, experimentId, database.JobCompleted); err != nil {
		return fmt.Errorf("error updating experiment status: %w", err)
	}
	slog.Info("experiment completed", "experiment_id", experimentId, "duration", time.Since(start))
	return nil
}

func (proc *TaskProcessor) failExperiment(ctx context.Context, experimentId uuid.UUID, err error) error {
	database.SaveExperimentError(ctx, proc.db, experimentId, err.Error())
	if statusErr := database.UpdateExperimentStatus(ctx, proc.db, experimentId, database.JobFailed); statusErr != nil {
		return errors.Join(err, statusErr)
	}
	return err
}

func (proc *TaskProcessor) runExperiment(ctx context.Context, experiment database.Experiment) error {
	modelType, err := ParseModelType(experiment.ModelType)
	if err != nil {
		return err
	}
	factory, ok := proc.modelFactories[modelType]
	if !ok {
		return credal.ConfigErrorf("model type", "%q is not available on this worker", modelType)
	}

	mode, err := ParseMode(experiment.Mode)
	if err != nil {
		return err
	}

	data, err := proc.loadDataset(ctx, experiment.DatasetPath)
	if err != nil {
		return err
	}

	sink, err := proc.outputSinks(experiment)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Error("error closing result sink", "experiment_id", experiment.Id, "error", err)
		}
	}()

	recorder := results.NewFoldRecorder(ctx, proc.db, experiment.Id)

	cfg := EvaluationConfig{
		Mode:            mode,
		PoolSize:        experiment.PoolSize,
		Folds:           experiment.Folds,
		Repetitions:     experiment.Repetitions,
		Seed:            experiment.Seed,
		Stratified:      experiment.Stratified,
		Timeout:         proc.foldTimeout,
		Ells:            crossval.EllRange{From: experiment.EllFrom, To: experiment.EllTo, By: experiment.EllBy},
		Ell:             experiment.EllFrom,
		HoldOutFraction: experiment.HoldOutFraction,
	}

	if _, err := Evaluate(ctx, factory, data, cfg, sink, recorder.Record); err != nil {
		return err
	}
	if err := recorder.Err(); err != nil {
		return fmt.Errorf("error saving fold results: %w", err)
	}
	return nil
}

func (proc *TaskProcessor) loadDataset(ctx context.Context, path string) (*dataset.Dataset, error) {
	loc, err := storage.ParseLocation(path)
	if err != nil {
		return nil, credal.ConfigErrorf("dataset path", "%v", err)
	}
	raw, err := storage.Fetch(ctx, proc.storage, loc)
	if err != nil {
		return nil, fmt.Errorf("error reading dataset %s: %w", loc, err)
	}
	data, err := dataset.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error parsing dataset %s: %w", loc, err)
	}
	return data, nil
}

// outputSinks always records summaries in the database, and additionally
// writes the result table when the experiment names an output location.
func (proc *TaskProcessor) outputSinks(experiment database.Experiment) (results.MultiSink, error) {
	sinks := results.MultiSink{results.NewDatabaseSink(proc.db, experiment.Id)}
	if !experiment.OutputPath.Valid || experiment.OutputPath.String == "" {
		return sinks, nil
	}

	loc, err := storage.ParseLocation(experiment.OutputPath.String)
	if err != nil {
		return nil, credal.ConfigErrorf("output path", "%v", err)
	}
	if loc.IsObject() {
		sink, err := results.NewObjectSink(proc.storage, loc)
		if err != nil {
			return nil, err
		}
		return append(sinks, sink), nil
	}

	sink, err := results.NewCSVSink(loc.Key)
	if err != nil {
		return nil, err
	}
	return append(sinks, sink), nil
}
