package pool_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"credal-eval/internal/credal"
	"credal-eval/internal/pool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type stubModel struct {
	train    func(ctx context.Context, features *mat.Dense, labels []credal.Label, ell float64) error
	predict  func(ctx context.Context, instance []float64) (credal.CredalSet, error)
	released *atomic.Int32
}

func (m *stubModel) Train(ctx context.Context, features *mat.Dense, labels []credal.Label, ell float64) error {
	if m.train == nil {
		return nil
	}
	return m.train(ctx, features, labels, ell)
}

func (m *stubModel) Predict(ctx context.Context, instance []float64) (credal.CredalSet, error) {
	if m.predict == nil {
		return credal.MustCredalSet("a"), nil
	}
	return m.predict(ctx, instance)
}

func (m *stubModel) Release() {
	if m.released != nil {
		m.released.Add(1)
	}
}

func stubFactory(build func(i int) *stubModel) credal.ModelFactory {
	var next atomic.Int32
	return func() (credal.Model, error) {
		i := int(next.Add(1)) - 1
		return build(i), nil
	}
}

func descriptor() pool.TrainingDescriptor {
	return pool.TrainingDescriptor{
		Features: mat.NewDense(2, 1, []float64{0, 1}),
		Labels:   []credal.Label{"a", "b"},
		Ell:      0.5,
	}
}

func runFold(t *testing.T, p *pool.Pool, desc pool.TrainingDescriptor, tasks []pool.Task) ([]pool.PartialResult, error) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, p.BroadcastTraining(ctx, desc))
	require.NoError(t, p.AwaitFoldCompletion(ctx))
	for _, task := range tasks {
		require.NoError(t, p.EnqueueTask(ctx, task))
	}
	require.NoError(t, p.EnqueueEndOfFoldSentinels(ctx))
	return p.DrainResults(ctx)
}

func makeTasks(n int, truth credal.Label) []pool.Task {
	tasks := make([]pool.Task, n)
	for i := range tasks {
		tasks[i] = pool.Task{ID: i, Instance: []float64{float64(i)}, GroundTruth: truth}
	}
	return tasks
}

func startPool(t *testing.T, cfg pool.Config, factory credal.ModelFactory) *pool.Pool {
	t.Helper()
	p := pool.New(cfg, factory, credal.DiscountedAccuracy{})
	require.NoError(t, p.Start(context.Background()))
	return p
}

func TestEveryTaskIsEvaluatedExactlyOnce(t *testing.T) {
	for _, size := range []int{1, 2, 4, 7} {
		for _, n := range []int{0, 1, 5, 50} {
			t.Run(fmt.Sprintf("workers=%d/tasks=%d", size, n), func(t *testing.T) {
				p := startPool(t, pool.Config{Size: size, TaskBuffer: 8, Timeout: 10 * time.Second}, stubFactory(func(int) *stubModel {
					return &stubModel{}
				}))

				partials, err := runFold(t, p, descriptor(), makeTasks(n, "a"))
				require.NoError(t, err)
				require.Len(t, partials, size)

				var ids []int
				drained := 0
				var sum credal.Utility
				for _, r := range partials {
					drained += r.Drained
					ids = append(ids, r.TaskIDs...)
					sum = sum.Add(r.Sum)
					assert.Zero(t, r.Failed)
				}
				sort.Ints(ids)

				assert.Equal(t, n, drained)
				require.Len(t, ids, n)
				for i, id := range ids {
					assert.Equal(t, i, id)
				}
				assert.InDelta(t, float64(n), sum.U65, 1e-9)
				assert.InDelta(t, float64(n), sum.U80, 1e-9)

				require.NoError(t, p.Shutdown(context.Background()))
				assert.Zero(t, p.Pending())
			})
		}
	}
}

func TestWorkersNeverPredictWithStaleModel(t *testing.T) {
	factory := stubFactory(func(int) *stubModel {
		var trainedFor float64 = -1
		return &stubModel{
			train: func(_ context.Context, _ *mat.Dense, _ []credal.Label, ell float64) error {
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
				trainedFor = ell
				return nil
			},
			predict: func(_ context.Context, instance []float64) (credal.CredalSet, error) {
				if instance[0] != trainedFor {
					return credal.MustCredalSet("stale"), nil
				}
				return credal.MustCredalSet("fresh"), nil
			},
		}
	})

	p := startPool(t, pool.Config{Size: 4, TaskBuffer: 2, Timeout: 10 * time.Second}, factory)
	defer p.Shutdown(context.Background())

	for fold := 1; fold <= 5; fold++ {
		desc := descriptor()
		desc.Ell = float64(fold)

		tasks := make([]pool.Task, 20)
		for i := range tasks {
			tasks[i] = pool.Task{ID: i, Instance: []float64{float64(fold)}, GroundTruth: "fresh"}
		}

		partials, err := runFold(t, p, desc, tasks)
		require.NoError(t, err)

		var sum credal.Utility
		for _, r := range partials {
			assert.Equal(t, uint64(fold), r.Round)
			sum = sum.Add(r.Sum)
		}
		assert.InDelta(t, 20.0, sum.U65, 1e-9, "fold %d", fold)
	}
	assert.Equal(t, uint64(5), p.Round())
}

func TestTrainingFailureIsReportedAndPoolStaysUsable(t *testing.T) {
	factory := stubFactory(func(i int) *stubModel {
		m := &stubModel{}
		if i == 0 {
			m.train = func(context.Context, *mat.Dense, []credal.Label, float64) error {
				return errors.New("singular covariance")
			}
		}
		return m
	})

	ctx := context.Background()
	p := startPool(t, pool.Config{Size: 3, TaskBuffer: 4, Timeout: 10 * time.Second}, factory)

	require.NoError(t, p.BroadcastTraining(ctx, descriptor()))
	err := p.AwaitFoldCompletion(ctx)
	require.Error(t, err)
	assert.True(t, pool.IsTrainingFailure(err))

	var werr *pool.WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, 0, werr.Worker)
	assert.Equal(t, pool.OpTrain, werr.Op)

	require.NoError(t, p.EnqueueEndOfFoldSentinels(ctx))
	partials, err := p.DrainResults(ctx)
	assert.True(t, pool.IsTrainingFailure(err))
	assert.Len(t, partials, 2)

	// The next round is still scheduled; worker 0 fails again, the rest succeed.
	require.NoError(t, p.BroadcastTraining(ctx, descriptor()))
	assert.Error(t, p.AwaitFoldCompletion(ctx))
	require.NoError(t, p.EnqueueEndOfFoldSentinels(ctx))
	_, err = p.DrainResults(ctx)
	assert.Error(t, err)

	require.NoError(t, p.Shutdown(ctx))
	assert.Zero(t, p.Pending())
}

func TestPredictionFailuresAreRecordedPerTask(t *testing.T) {
	factory := stubFactory(func(int) *stubModel {
		return &stubModel{
			predict: func(_ context.Context, instance []float64) (credal.CredalSet, error) {
				switch int(instance[0]) % 5 {
				case 1:
					return credal.CredalSet{}, errors.New("no class density")
				case 3:
					panic("index out of range")
				default:
					return credal.MustCredalSet("a", "b"), nil
				}
			},
		}
	})

	p := startPool(t, pool.Config{Size: 2, TaskBuffer: 4, Timeout: 10 * time.Second}, factory)
	defer p.Shutdown(context.Background())

	partials, err := runFold(t, p, descriptor(), makeTasks(10, "a"))
	require.NoError(t, err)

	failed := map[int]bool{}
	evaluated := 0
	var sum credal.Utility
	for _, r := range partials {
		evaluated += r.Evaluated()
		sum = sum.Add(r.Sum)
		assert.Len(t, r.Failures, r.Failed)
		for _, f := range r.Failures {
			failed[f.TaskID] = true
			assert.Error(t, f.Err)
		}
	}

	assert.Equal(t, map[int]bool{1: true, 3: true, 6: true, 8: true}, failed)
	assert.Equal(t, 6, evaluated)
	assert.InDelta(t, 6*0.65, sum.U65, 1e-9)
	assert.InDelta(t, 6*0.8, sum.U80, 1e-9)
}

func TestAwaitTimesOutWithSchedulingDeadlock(t *testing.T) {
	block := make(chan struct{})
	factory := stubFactory(func(int) *stubModel {
		return &stubModel{
			train: func(context.Context, *mat.Dense, []credal.Label, float64) error {
				<-block
				return nil
			},
		}
	})

	ctx := context.Background()
	p := startPool(t, pool.Config{Size: 2, TaskBuffer: 4, Timeout: 50 * time.Millisecond}, factory)

	require.NoError(t, p.BroadcastTraining(ctx, descriptor()))
	err := p.AwaitFoldCompletion(ctx)
	require.ErrorIs(t, err, pool.ErrSchedulingDeadlock)

	var derr *pool.DeadlockError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 2, derr.Outstanding)

	close(block)
	require.NoError(t, p.EnqueueEndOfFoldSentinels(ctx))
	_, err = p.DrainResults(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(ctx))
}

func TestLostWorkerIsReportedAsDeadlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := pool.New(pool.Config{Size: 3, Timeout: time.Second}, stubFactory(func(int) *stubModel {
		return &stubModel{}
	}), nil)
	require.NoError(t, p.Start(ctx))

	cancel()
	require.Eventually(t, func() bool {
		for _, s := range p.WorkerStates() {
			if s != pool.StateExited {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	err := p.BroadcastTraining(context.Background(), descriptor())
	assert.ErrorIs(t, err, pool.ErrSchedulingDeadlock)

	err = p.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartValidatesAndReleasesOnFactoryError(t *testing.T) {
	p := pool.New(pool.Config{Size: 0}, stubFactory(func(int) *stubModel { return &stubModel{} }), nil)
	err := p.Start(context.Background())
	var cerr *credal.ConfigurationError
	assert.ErrorAs(t, err, &cerr)

	var released atomic.Int32
	var built atomic.Int32
	factory := func() (credal.Model, error) {
		if built.Add(1) == 3 {
			return nil, errors.New("plugin did not start")
		}
		return &stubModel{released: &released}, nil
	}
	p = pool.New(pool.Config{Size: 4}, factory, nil)
	assert.ErrorContains(t, p.Start(context.Background()), "plugin did not start")
	assert.Equal(t, int32(2), released.Load())
	assert.Empty(t, p.WorkerStates())

	assert.ErrorIs(t, p.BroadcastTraining(context.Background(), descriptor()), pool.ErrNotRunning)
}

func TestShutdownIsIdempotentAndReleasesModels(t *testing.T) {
	var released atomic.Int32
	p := startPool(t, pool.Config{Size: 3, TaskBuffer: 1, Timeout: time.Second}, stubFactory(func(int) *stubModel {
		return &stubModel{released: &released}
	}))

	require.ErrorIs(t, p.Start(context.Background()), pool.ErrAlreadyStarted)

	_, err := runFold(t, p, descriptor(), makeTasks(4, "a"))
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, int32(3), released.Load())
	assert.Equal(t, []pool.State{pool.StateExited, pool.StateExited, pool.StateExited}, p.WorkerStates())
	assert.Zero(t, p.Pending())
	assert.ErrorIs(t, p.EnqueueTask(context.Background(), pool.Task{}), pool.ErrNotRunning)
}

func TestShutdownBeforeStartIsNoop(t *testing.T) {
	p := pool.New(pool.DefaultConfig(), nil, nil)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestWithoutTrainingFailures(t *testing.T) {
	train := &pool.WorkerError{Worker: 0, Op: pool.OpTrain, Err: errors.New("singular")}
	protocol := &pool.WorkerError{Worker: 1, Op: pool.OpProtocol, Err: pool.ErrProtocol}
	stray := fmt.Errorf("%w: stray result", pool.ErrProtocol)

	assert.NoError(t, pool.WithoutTrainingFailures(nil))
	assert.NoError(t, pool.WithoutTrainingFailures(train))
	assert.NoError(t, pool.WithoutTrainingFailures(errors.Join(train, train)))

	rest := pool.WithoutTrainingFailures(errors.Join(train, protocol, stray))
	require.Error(t, rest)
	assert.False(t, pool.IsTrainingFailure(rest))
	assert.ErrorIs(t, rest, pool.ErrProtocol)
	var werr *pool.WorkerError
	require.ErrorAs(t, rest, &werr)
	assert.Equal(t, 1, werr.Worker)

	assert.Equal(t, stray, pool.WithoutTrainingFailures(stray))
}
