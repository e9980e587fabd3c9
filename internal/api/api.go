package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"credal-eval/internal/core"
	"credal-eval/internal/credal"
	"credal-eval/internal/crossval"
	"credal-eval/internal/database"
	"credal-eval/internal/messaging"
	"credal-eval/internal/storage"
	"credal-eval/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const (
	defaultFolds           = 10
	defaultEllFrom         = 0.01
	defaultEllTo           = 5
	defaultEllBy           = 0.01
	defaultHoldOutFraction = 0.4
)

type BackendService struct {
	db              *gorm.DB
	publisher       messaging.Publisher
	defaultPoolSize int
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, defaultPoolSize int) *BackendService {
	return &BackendService{db: db, publisher: publisher, defaultPoolSize: defaultPoolSize}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/experiments", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateExperiment))
		r.Get("/", RestHandler(s.ListExperiments))
		r.Get("/{experiment_id}", RestHandler(s.GetExperiment))
		r.Get("/{experiment_id}/results", RestHandler(s.GetExperimentResults))
		r.Get("/{experiment_id}/folds", RestHandler(s.GetExperimentFolds))
	})
}

// newExperiment fills defaults and validates the request the same way the
// evaluate binary validates its environment.
func (s *BackendService) newExperiment(req api.CreateExperimentRequest) (database.Experiment, error) {
	if err := validateName(req.Name); err != nil {
		return database.Experiment{}, err
	}

	if req.DatasetPath == "" {
		return database.Experiment{}, CodedErrorf(http.StatusUnprocessableEntity, "DatasetPath is required")
	}
	for _, path := range []string{req.DatasetPath, req.OutputPath} {
		if path == "" {
			continue
		}
		if _, err := storage.ParseLocation(path); err != nil {
			return database.Experiment{}, CodedErrorf(http.StatusUnprocessableEntity, "invalid location: %v", err)
		}
	}

	if req.ModelType == "" {
		req.ModelType = string(core.ImpreciseLinearDA)
	}
	modelType, err := core.ParseModelType(req.ModelType)
	if err != nil {
		return database.Experiment{}, CodedError(http.StatusUnprocessableEntity, err)
	}
	mode, err := core.ParseMode(req.Mode)
	if err != nil {
		return database.Experiment{}, CodedError(http.StatusUnprocessableEntity, err)
	}

	if req.Folds == 0 {
		req.Folds = defaultFolds
	}
	if req.Repetitions == 0 {
		req.Repetitions = req.Folds
	}
	if req.PoolSize == 0 {
		req.PoolSize = s.defaultPoolSize
	}
	if req.Seed == 0 {
		req.Seed = rand.Int63n(1 << 30)
	}
	if req.HoldOutFraction == 0 {
		req.HoldOutFraction = defaultHoldOutFraction
	}
	if mode == core.ModeSweep {
		if req.EllFrom == 0 && req.EllTo == 0 && req.EllBy == 0 {
			req.EllFrom, req.EllTo, req.EllBy = defaultEllFrom, defaultEllTo, defaultEllBy
		}
	} else {
		req.EllFrom, req.EllTo, req.EllBy = req.Ell, 0, 0
	}

	if req.Folds < 2 && mode != core.ModeHoldOut {
		return database.Experiment{}, CodedError(http.StatusUnprocessableEntity, credal.ConfigErrorf("folds", "must be at least 2, got %d", req.Folds))
	}
	eval := core.EvaluationConfig{
		Mode:            mode,
		PoolSize:        req.PoolSize,
		Folds:           req.Folds,
		Repetitions:     req.Repetitions,
		Ells:            crossval.EllRange{From: req.EllFrom, To: req.EllTo, By: req.EllBy},
		Ell:             req.EllFrom,
		HoldOutFraction: req.HoldOutFraction,
	}
	if err := eval.Validate(); err != nil {
		return database.Experiment{}, CodedError(http.StatusUnprocessableEntity, err)
	}

	return database.Experiment{
		Id:              uuid.New(),
		Name:            req.Name,
		DatasetPath:     req.DatasetPath,
		OutputPath:      sql.NullString{String: req.OutputPath, Valid: req.OutputPath != ""},
		ModelType:       string(modelType),
		Mode:            string(mode),
		Folds:           req.Folds,
		Repetitions:     req.Repetitions,
		PoolSize:        req.PoolSize,
		Seed:            req.Seed,
		Stratified:      req.Stratified,
		EllFrom:         req.EllFrom,
		EllTo:           req.EllTo,
		EllBy:           req.EllBy,
		HoldOutFraction: req.HoldOutFraction,
		Status:          database.JobQueued,
		CreationTime:    time.Now().UTC(),
	}, nil
}

func (s *BackendService) CreateExperiment(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateExperimentRequest](r)
	if err != nil {
		return nil, err
	}

	experiment, err := s.newExperiment(req)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	if err := s.db.WithContext(ctx).Create(&experiment).Error; err != nil {
		slog.Error("error creating experiment", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create experiment entry")
	}

	if err := s.publisher.PublishExperimentTask(ctx, messaging.ExperimentTaskPayload{ExperimentId: experiment.Id}); err != nil {
		slog.Error("error publishing experiment task", "experiment_id", experiment.Id, "error", err)
		database.SaveExperimentError(ctx, s.db, experiment.Id, "failed to queue experiment")
		if err := database.UpdateExperimentStatus(ctx, s.db, experiment.Id, database.JobFailed); err != nil {
			slog.Error("error marking unqueued experiment as failed", "experiment_id", experiment.Id, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue experiment")
	}

	slog.Info("submitted experiment", "experiment_id", experiment.Id, "mode", experiment.Mode, "model_type", experiment.ModelType)
	return api.CreateExperimentResponse{ExperimentId: experiment.Id}, nil
}

func (s *BackendService) ListExperiments(r *http.Request) (any, error) {
	var experiments []database.Experiment
	if err := s.db.WithContext(r.Context()).Order("creation_time DESC").Find(&experiments).Error; err != nil {
		slog.Error("error listing experiments", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving experiment records")
	}
	return convertExperiments(experiments), nil
}

func (s *BackendService) getExperiment(r *http.Request, preload ...string) (database.Experiment, error) {
	experimentId, err := URLParamUUID(r, "experiment_id")
	if err != nil {
		return database.Experiment{}, err
	}

	query := s.db.WithContext(r.Context())
	for _, p := range preload {
		query = query.Preload(p)
	}

	var experiment database.Experiment
	if err := query.First(&experiment, "id = ?", experimentId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Experiment{}, CodedErrorf(http.StatusNotFound, "experiment not found")
		}
		slog.Error("error getting experiment", "experiment_id", experimentId, "error", err)
		return database.Experiment{}, CodedErrorf(http.StatusInternalServerError, "error retrieving experiment record")
	}
	return experiment, nil
}

func (s *BackendService) GetExperiment(r *http.Request) (any, error) {
	experiment, err := s.getExperiment(r, "Errors")
	if err != nil {
		return nil, err
	}
	return convertExperiment(experiment), nil
}

func (s *BackendService) GetExperimentResults(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ResultsParams](r)
	if err != nil {
		return nil, err
	}
	if params.MinEll != nil && params.MaxEll != nil && *params.MinEll > *params.MaxEll {
		return nil, CodedErrorf(http.StatusBadRequest, "min_ell must not exceed max_ell")
	}

	experiment, err := s.getExperiment(r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Where("experiment_id = ?", experiment.Id)
	if params.MinEll != nil {
		query = query.Where("ell >= ?", *params.MinEll)
	}
	if params.MaxEll != nil {
		query = query.Where("ell <= ?", *params.MaxEll)
	}

	var results []database.ExperimentResult
	if err := query.Order("ell").Find(&results).Error; err != nil {
		slog.Error("error getting experiment results", "experiment_id", experiment.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving experiment results")
	}
	return convertResults(results), nil
}

func (s *BackendService) GetExperimentFolds(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.FoldsParams](r)
	if err != nil {
		return nil, err
	}

	experiment, err := s.getExperiment(r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Where("experiment_id = ?", experiment.Id)
	if params.Ell != nil {
		query = query.Where("ell = ?", *params.Ell)
	}

	var folds []database.FoldResult
	if err := query.Order("ell").Order("repetition").Order("fold").Find(&folds).Error; err != nil {
		slog.Error("error getting fold results", "experiment_id", experiment.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving fold results")
	}
	return convertFolds(folds), nil
}
