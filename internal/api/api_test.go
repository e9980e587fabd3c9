package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	backend "credal-eval/internal/api"
	"credal-eval/internal/database"
	"credal-eval/internal/messaging"
	"credal-eval/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := database.NewDatabase("sqlite://" + filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func newRouter(db *gorm.DB, publisher messaging.Publisher) chi.Router {
	service := backend.NewBackendService(db, publisher, 4)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func doRequest(router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&payload).Encode(body)
	}
	req := httptest.NewRequest(method, path, &payload)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func testExperiment(name string, created time.Time) *database.Experiment {
	return &database.Experiment{
		Id:           uuid.New(),
		Name:         name,
		DatasetPath:  "s3://data/iris.csv",
		ModelType:    "ilda",
		Mode:         database.ModeSweep,
		Folds:        10,
		Repetitions:  10,
		PoolSize:     4,
		Seed:         3,
		EllFrom:      0.01,
		EllTo:        5,
		EllBy:        0.01,
		Status:       database.JobQueued,
		CreationTime: created,
	}
}

func TestHealth(t *testing.T) {
	router := newRouter(createDB(t), messaging.NewInMemoryQueue())
	rec := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateExperiment(t *testing.T) {
	db := createDB(t)
	queue := messaging.NewInMemoryQueue()
	router := newRouter(db, queue)

	rec := doRequest(router, http.MethodPost, "/experiments", api.CreateExperimentRequest{
		Name:        "iris-sweep",
		DatasetPath: "s3://data/iris.csv",
		OutputPath:  "s3://results/iris.csv",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.CreateExperimentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	var experiment database.Experiment
	require.NoError(t, db.First(&experiment, "id = ?", response.ExperimentId).Error)
	assert.Equal(t, database.JobQueued, experiment.Status)
	assert.Equal(t, "ilda", experiment.ModelType)
	assert.Equal(t, database.ModeSweep, experiment.Mode)
	assert.Equal(t, 10, experiment.Folds)
	assert.Equal(t, 10, experiment.Repetitions)
	assert.Equal(t, 4, experiment.PoolSize)
	assert.NotZero(t, experiment.Seed)
	assert.Equal(t, 0.01, experiment.EllFrom)
	assert.Equal(t, 5.0, experiment.EllTo)
	assert.Equal(t, "s3://results/iris.csv", experiment.OutputPath.String)

	task := <-queue.Tasks()
	var payload messaging.ExperimentTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, response.ExperimentId, payload.ExperimentId)
}

func TestCreateHoldOutExperimentStoresFixedEll(t *testing.T) {
	db := createDB(t)
	router := newRouter(db, messaging.NewInMemoryQueue())

	rec := doRequest(router, http.MethodPost, "/experiments", api.CreateExperimentRequest{
		Name:        "holdout",
		DatasetPath: "data/iris.csv",
		ModelType:   "inda",
		Mode:        "holdout",
		Repetitions: 5,
		Ell:         0.7,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response api.CreateExperimentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	var experiment database.Experiment
	require.NoError(t, db.First(&experiment, "id = ?", response.ExperimentId).Error)
	assert.Equal(t, 0.7, experiment.EllFrom)
	assert.Equal(t, 0.4, experiment.HoldOutFraction)
	assert.Equal(t, 5, experiment.Repetitions)
}

func TestCreateExperimentValidation(t *testing.T) {
	router := newRouter(createDB(t), messaging.NewInMemoryQueue())

	cases := []struct {
		name string
		req  api.CreateExperimentRequest
		code int
	}{
		{"bad name", api.CreateExperimentRequest{Name: "a b", DatasetPath: "x.csv"}, http.StatusBadRequest},
		{"missing dataset", api.CreateExperimentRequest{Name: "ok"}, http.StatusUnprocessableEntity},
		{"bad location", api.CreateExperimentRequest{Name: "ok", DatasetPath: "s3://bucket-only"}, http.StatusUnprocessableEntity},
		{"unknown model", api.CreateExperimentRequest{Name: "ok", DatasetPath: "x.csv", ModelType: "svm"}, http.StatusUnprocessableEntity},
		{"unknown mode", api.CreateExperimentRequest{Name: "ok", DatasetPath: "x.csv", Mode: "loo"}, http.StatusUnprocessableEntity},
		{"one fold", api.CreateExperimentRequest{Name: "ok", DatasetPath: "x.csv", Folds: 1}, http.StatusUnprocessableEntity},
		{"empty range", api.CreateExperimentRequest{Name: "ok", DatasetPath: "x.csv", EllFrom: 2, EllTo: 1, EllBy: 0.1}, http.StatusUnprocessableEntity},
		{"huge range", api.CreateExperimentRequest{Name: "ok", DatasetPath: "x.csv", EllFrom: 0, EllTo: 1e300, EllBy: 1e-300}, http.StatusUnprocessableEntity},
		{"bad fraction", api.CreateExperimentRequest{Name: "ok", DatasetPath: "x.csv", Mode: "holdout", HoldOutFraction: 1.5}, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPost, "/experiments", tc.req)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/experiments", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingPublisher struct{}

func (failingPublisher) PublishExperimentTask(context.Context, messaging.ExperimentTaskPayload) error {
	return errors.New("broker unavailable")
}

func (failingPublisher) Close() {}

func TestCreateExperimentPublishFailure(t *testing.T) {
	db := createDB(t)
	router := newRouter(db, failingPublisher{})

	rec := doRequest(router, http.MethodPost, "/experiments", api.CreateExperimentRequest{Name: "x", DatasetPath: "x.csv"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var experiments []database.Experiment
	require.NoError(t, db.Preload("Errors").Find(&experiments).Error)
	require.Len(t, experiments, 1)
	assert.Equal(t, database.JobFailed, experiments[0].Status)
	assert.Len(t, experiments[0].Errors, 1)
}

func TestListAndGetExperiments(t *testing.T) {
	now := time.Now().UTC()
	older, newer := testExperiment("older", now.Add(-time.Hour)), testExperiment("newer", now)
	newer.OutputPath = sql.NullString{String: "out.csv", Valid: true}
	db := createDB(t, older, newer,
		&database.ExperimentError{ExperimentId: newer.Id, ErrorId: uuid.New(), Error: "worker 1 failed", Timestamp: now},
	)
	router := newRouter(db, messaging.NewInMemoryQueue())

	rec := doRequest(router, http.MethodGet, "/experiments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []api.Experiment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].Name)
	assert.Equal(t, "older", list[1].Name)

	rec = doRequest(router, http.MethodGet, "/experiments/"+newer.Id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var experiment api.Experiment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &experiment))
	assert.Equal(t, newer.Id, experiment.Id)
	assert.Equal(t, "out.csv", experiment.OutputPath)
	assert.Equal(t, []string{"worker 1 failed"}, experiment.Errors)
	assert.Nil(t, experiment.StartTime)

	rec = doRequest(router, http.MethodGet, "/experiments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(router, http.MethodGet, "/experiments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExperimentResults(t *testing.T) {
	experiment := testExperiment("sweep", time.Now().UTC())
	create := []any{experiment}
	for _, ell := range []float64{0.3, 0.1, 0.2, 0.4} {
		create = append(create, &database.ExperimentResult{ExperimentId: experiment.Id, Ell: ell, MeanU65: ell, MeanU80: ell, Folds: 10})
	}
	router := newRouter(createDB(t, create...), messaging.NewInMemoryQueue())

	rec := doRequest(router, http.MethodGet, "/experiments/"+experiment.Id.String()+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []api.ExperimentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 4)
	assert.Equal(t, 0.1, results[0].Ell)
	assert.Equal(t, 0.4, results[3].Ell)

	rec = doRequest(router, http.MethodGet, "/experiments/"+experiment.Id.String()+"/results?min_ell=0.15&max_ell=0.35", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, []float64{0.2, 0.3}, []float64{results[0].Ell, results[1].Ell})

	rec = doRequest(router, http.MethodGet, "/experiments/"+experiment.Id.String()+"/results?min_ell=1&max_ell=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/experiments/"+experiment.Id.String()+"/results?min_ell=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/experiments/"+uuid.NewString()+"/results", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExperimentFolds(t *testing.T) {
	experiment := testExperiment("sweep", time.Now().UTC())
	db := createDB(t, experiment)
	ctx := context.Background()
	for _, ell := range []float64{0.1, 0.2} {
		for fold := 0; fold < 2; fold++ {
			require.NoError(t, database.SaveFoldResult(ctx, db, database.FoldResult{
				ExperimentId: experiment.Id, Ell: ell, Fold: fold, TestSize: 2, Evaluated: 2, MeanU65: 1, MeanU80: 1,
			}, []int{fold, fold + 2}))
		}
	}
	router := newRouter(db, messaging.NewInMemoryQueue())

	rec := doRequest(router, http.MethodGet, "/experiments/"+experiment.Id.String()+"/folds", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var folds []api.FoldResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &folds))
	assert.Len(t, folds, 4)

	rec = doRequest(router, http.MethodGet, "/experiments/"+experiment.Id.String()+"/folds?ell=0.2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &folds))
	require.Len(t, folds, 2)
	assert.Equal(t, []int{1, 3}, folds[1].TestIndices)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(createDB(t), messaging.NewInMemoryQueue())
	rec := doRequest(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
