//go:build integration
// +build integration

package integrationtests

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	backend "credal-eval/internal/api"
	"credal-eval/internal/core"
	"credal-eval/internal/database"
	"credal-eval/internal/messaging"
	"credal-eval/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Three gaussian blobs on a line, well apart.
func threeClassDataset() string {
	var b strings.Builder
	b.WriteString("x1,x2,species\n")
	for i := 0; i < 12; i++ {
		d := float64(i%4) * 0.2
		fmt.Fprintf(&b, "%g,%g,setosa\n", d, 1+d)
		fmt.Fprintf(&b, "%g,%g,versicolor\n", 10+d, 11-d)
		fmt.Fprintf(&b, "%g,%g,virginica\n", 20-d, 21+d)
	}
	return b.String()
}

func waitForExperiment(t *testing.T, router http.Handler, id string) api.Experiment {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		var experiment api.Experiment
		require.NoError(t, httpRequest(router, http.MethodGet, "/experiments/"+id, nil, &experiment))
		if experiment.Status == database.JobCompleted || experiment.Status == database.JobFailed {
			return experiment
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("experiment %s did not finish", id)
	return api.Experiment{}
}

func TestExperimentWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t)
	provider := createS3Provider(t, ctx)
	require.NoError(t, provider.CreateBucket(ctx, "datasets"))
	require.NoError(t, provider.CreateBucket(ctx, "results"))
	require.NoError(t, provider.PutObject(ctx, "datasets", "blobs.csv", strings.NewReader(threeClassDataset())))

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	processor := core.NewTaskProcessor(db, provider, queue, core.NewModelFactories(""), time.Minute)
	go processor.Start()

	router := chi.NewRouter()
	backend.NewBackendService(db, queue, 2).AddRoutes(router)

	var created api.CreateExperimentResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/experiments", api.CreateExperimentRequest{
		Name:        "blobs-sweep",
		DatasetPath: "s3://datasets/blobs.csv",
		OutputPath:  "s3://results/blobs/sweep.csv",
		ModelType:   "inda",
		Folds:       4,
		Repetitions: 2,
		PoolSize:    3,
		Seed:        17,
		Stratified:  true,
		EllFrom:     0.5,
		EllTo:       2,
		EllBy:       0.5,
	}, &created))

	experiment := waitForExperiment(t, router, created.ExperimentId.String())
	require.Equal(t, database.JobCompleted, experiment.Status, "errors: %v", experiment.Errors)

	var results []api.ExperimentResult
	require.NoError(t, httpRequest(router, http.MethodGet, "/experiments/"+created.ExperimentId.String()+"/results", nil, &results))
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, 0.5*float64(i+1), r.Ell)
		assert.Equal(t, 8, r.Folds)
		assert.Greater(t, r.MeanU65, 0.0)
		assert.LessOrEqual(t, r.MeanU65, 1.0)
		assert.GreaterOrEqual(t, r.MeanU80, r.MeanU65)
	}

	var folds []api.FoldResult
	require.NoError(t, httpRequest(router, http.MethodGet, "/experiments/"+created.ExperimentId.String()+"/folds?ell=1", nil, &folds))
	require.Len(t, folds, 8)
	seen := map[int]int{}
	for _, f := range folds {
		if f.Repetition == 0 {
			for _, idx := range f.TestIndices {
				seen[idx]++
			}
		}
	}
	assert.Len(t, seen, 36, "every row is tested exactly once per repetition")
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}

	table, err := provider.GetObject(ctx, "results", "blobs/sweep.csv")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(table)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ell,u65,u80", lines[0])
}
