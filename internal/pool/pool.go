package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"credal-eval/internal/credal"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Number of workers, each owning its own model instance.
	Size int
	// Capacity of the shared task channel.
	TaskBuffer int
	// Upper bound on waiting for training acknowledgments and for result
	// drains. Zero waits forever.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Size:       runtime.NumCPU(),
		TaskBuffer: 1024,
		Timeout:    30 * time.Minute,
	}
}

// Pool is a fixed set of long-lived workers that retrain on every broadcast
// descriptor and then drain a shared task channel. It is driven by a single
// orchestrator goroutine; the per-fold calls must not be made concurrently.
type Pool struct {
	cfg     Config
	factory credal.ModelFactory
	scorer  credal.Scorer

	mu      sync.Mutex
	started bool
	closed  bool
	round   uint64

	workers  []*worker
	training []chan TrainingItem
	tasks    chan TaskItem
	results  chan ResultItem
	barrier  *Barrier
	group    *errgroup.Group

	lost         context.Context
	markLost     context.CancelCauseFunc
	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg Config, factory credal.ModelFactory, scorer credal.Scorer) *Pool {
	if cfg.TaskBuffer < 0 {
		cfg.TaskBuffer = 0
	}
	if scorer == nil {
		scorer = credal.DiscountedAccuracy{}
	}
	return &Pool{cfg: cfg, factory: factory, scorer: scorer}
}

func (p *Pool) Size() int {
	return p.cfg.Size
}

// Round is the sequence number stamped on the most recent descriptor.
func (p *Pool) Round() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.round
}

// Start builds one model per worker and launches the workers. If any model
// cannot be built, the ones already built are released and no worker starts.
// Workers stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.cfg.Size < 1 {
		return credal.ConfigErrorf("pool size", "must be at least 1, got %d", p.cfg.Size)
	}
	if p.factory == nil {
		return credal.ConfigErrorf("model factory", "must not be nil")
	}

	models := make([]credal.Model, 0, p.cfg.Size)
	for i := 0; i < p.cfg.Size; i++ {
		model, err := p.factory()
		if err != nil {
			for _, m := range models {
				m.Release()
			}
			slog.Error("error creating worker model", "worker", i, "error", err)
			return fmt.Errorf("error creating model for worker %d: %w", i, err)
		}
		models = append(models, model)
	}

	p.tasks = make(chan TaskItem, p.cfg.TaskBuffer)
	p.results = make(chan ResultItem, p.cfg.Size+1)
	p.barrier = NewBarrier(p.cfg.Size)
	p.lost, p.markLost = context.WithCancelCause(context.Background())

	group, groupCtx := errgroup.WithContext(ctx)
	for i, model := range models {
		w := &worker{
			id:       i,
			model:    model,
			scorer:   p.scorer,
			training: make(chan TrainingItem, 1),
			tasks:    p.tasks,
			results:  p.results,
			barrier:  p.barrier,
			logger:   slog.With("worker", i),
		}
		p.workers = append(p.workers, w)
		p.training = append(p.training, w.training)

		workersAlive.Inc()
		group.Go(func() error {
			defer workersAlive.Dec()
			err := w.run(groupCtx)
			if !p.shuttingDown.Load() {
				if err == nil {
					err = errors.New("exited without end of life")
				}
				p.markLost(fmt.Errorf("worker %d: %w", w.id, err))
			}
			w.setState(StateExited)
			return err
		})
	}
	p.group = group
	p.started = true

	slog.Info("worker pool started", "size", p.cfg.Size, "task_buffer", p.cfg.TaskBuffer, "timeout", p.cfg.Timeout)
	return nil
}

func (p *Pool) checkRunning(op string) error {
	p.mu.Lock()
	running := p.started && !p.closed
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if p.lost.Err() != nil {
		return &DeadlockError{Op: op, Round: p.Round(), Outstanding: p.cfg.Size, Cause: context.Cause(p.lost)}
	}
	return nil
}

// guard derives a context that is also cancelled when any worker exits early.
func (p *Pool) guard(ctx context.Context, bounded bool) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if bounded && p.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	stop := context.AfterFunc(p.lost, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// waitError turns an interrupted wait into a DeadlockError unless the caller's
// own context was cancelled.
func (p *Pool) waitError(parent context.Context, op string, round uint64, outstanding int, err error) error {
	if p.lost.Err() != nil {
		return &DeadlockError{Op: op, Round: round, Outstanding: outstanding, Cause: context.Cause(p.lost)}
	}
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &DeadlockError{Op: op, Round: round, Outstanding: outstanding, Cause: fmt.Errorf("no progress after %s", p.cfg.Timeout)}
	}
	return err
}

// BroadcastTraining stamps desc with the next round number and hands a copy
// to every worker's private training channel.
func (p *Pool) BroadcastTraining(ctx context.Context, desc TrainingDescriptor) error {
	if err := p.checkRunning("broadcast training"); err != nil {
		return err
	}

	p.mu.Lock()
	p.round++
	desc.Round = p.round
	p.mu.Unlock()

	gctx, cancel := p.guard(ctx, true)
	defer cancel()

	for i, ch := range p.training {
		if err := send(gctx, ch, TrainingItem(desc)); err != nil {
			return fmt.Errorf("error sending training descriptor to worker %d: %w", i, p.waitError(ctx, "broadcast training", desc.Round, p.cfg.Size-i, err))
		}
	}
	roundsStarted.Inc()
	return nil
}

// AwaitFoldCompletion blocks until every worker acknowledged training for the
// current round. Failed acknowledgments are returned joined as WorkerErrors
// with Op OpTrain.
func (p *Pool) AwaitFoldCompletion(ctx context.Context) error {
	if err := p.checkRunning("await training"); err != nil {
		return err
	}
	round := p.Round()

	gctx, cancel := p.guard(ctx, true)
	defer cancel()

	arrivals, err := p.barrier.Await(gctx, round)
	if err != nil {
		return p.waitError(ctx, "await training", round, p.cfg.Size-len(arrivals), err)
	}

	var errs []error
	for _, a := range arrivals {
		if a.Err != nil {
			errs = append(errs, &WorkerError{Worker: a.Party, Round: round, Op: OpTrain, Err: a.Err})
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) EnqueueTask(ctx context.Context, task Task) error {
	if err := p.checkRunning("enqueue task"); err != nil {
		return err
	}
	task.Round = p.Round()

	gctx, cancel := p.guard(ctx, false)
	defer cancel()

	if err := send(gctx, p.tasks, TaskItem(task)); err != nil {
		return p.waitError(ctx, "enqueue task", task.Round, p.cfg.Size, err)
	}
	return nil
}

// EnqueueEndOfFoldSentinels puts exactly one EndOfFold per worker after the
// fold's tasks.
func (p *Pool) EnqueueEndOfFoldSentinels(ctx context.Context) error {
	if err := p.checkRunning("enqueue sentinels"); err != nil {
		return err
	}

	gctx, cancel := p.guard(ctx, false)
	defer cancel()

	for i := 0; i < p.cfg.Size; i++ {
		if err := send(gctx, p.tasks, TaskItem(EndOfFold{})); err != nil {
			return p.waitError(ctx, "enqueue sentinels", p.Round(), p.cfg.Size-i, err)
		}
	}
	return nil
}

// DrainResults collects exactly one outcome per worker for the current round,
// then pushes the end-of-results marker and reads up to it. Anything found in
// between is a protocol violation. Partial results are returned even when
// some workers reported errors.
func (p *Pool) DrainResults(ctx context.Context) ([]PartialResult, error) {
	if err := p.checkRunning("drain results"); err != nil {
		return nil, err
	}
	round := p.Round()

	gctx, cancel := p.guard(ctx, true)
	defer cancel()

	partials := make([]PartialResult, 0, p.cfg.Size)
	var errs []error

	for received := 0; received < p.cfg.Size; received++ {
		item, err := receive(gctx, p.results)
		if err != nil {
			return partials, p.waitError(ctx, "drain results", round, p.cfg.Size-received, err)
		}
		switch r := item.(type) {
		case PartialResult:
			if r.Round != round {
				errs = append(errs, fmt.Errorf("%w: worker %d reported round %d during round %d", ErrProtocol, r.Worker, r.Round, round))
				continue
			}
			partials = append(partials, r)
		case *WorkerError:
			errs = append(errs, r)
		default:
			errs = append(errs, fmt.Errorf("%w: unexpected result item %T", ErrProtocol, item))
		}
	}

	if err := send(gctx, p.results, ResultItem(endOfResults{})); err != nil {
		return partials, p.waitError(ctx, "drain results", round, 0, err)
	}
	for {
		item, err := receive(gctx, p.results)
		if err != nil {
			return partials, p.waitError(ctx, "drain results", round, 0, err)
		}
		if _, ok := item.(endOfResults); ok {
			break
		}
		errs = append(errs, fmt.Errorf("%w: stray result %T after all %d workers reported", ErrProtocol, item, p.cfg.Size))
	}

	return partials, errors.Join(errs...)
}

// WorkerStates is a snapshot of every worker's protocol state.
func (p *Pool) WorkerStates() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make([]State, len(p.workers))
	for i, w := range p.workers {
		states[i] = w.State()
	}
	return states
}

// Pending counts unread items across all pool channels.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	n := len(p.tasks) + len(p.results)
	for _, ch := range p.training {
		n += len(ch)
	}
	return n
}

// Shutdown sends EndOfLife to every worker, waits for all of them to exit and
// releases their models. It is safe to call more than once; later calls
// return the first call's result.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

func (p *Pool) shutdown(ctx context.Context) error {
	p.shuttingDown.Store(true)

	for i, ch := range p.training {
		select {
		case ch <- EndOfLife{}:
		case <-p.lost.Done():
			slog.Warn("skipping end of life for lost worker pool", "worker", i, "cause", context.Cause(p.lost))
		case <-ctx.Done():
			return fmt.Errorf("error sending end of life to worker %d: %w", i, ctx.Err())
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	var groupErr error
	select {
	case groupErr = <-done:
	case <-ctx.Done():
		return fmt.Errorf("error waiting for workers to exit: %w", ctx.Err())
	}

	for _, w := range p.workers {
		w.model.Release()
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.markLost(errors.New("pool shut down"))

	leftover := discard(p.tasks) + discard(p.results)
	for _, ch := range p.training {
		leftover += discard(ch)
	}

	if groupErr != nil {
		slog.Error("worker pool stopped with error", "error", groupErr)
		return fmt.Errorf("worker exited with error: %w", groupErr)
	}
	if leftover > 0 {
		slog.Warn("worker pool shut down with unread items", "items", leftover)
		return fmt.Errorf("%w: %d unread items at shutdown", ErrProtocol, leftover)
	}

	slog.Info("worker pool stopped", "size", p.cfg.Size, "rounds", p.Round())
	return nil
}

func send[T any](ctx context.Context, ch chan<- T, item T) error {
	select {
	case ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func receive[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case item := <-ch:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func discard[T any](ch chan T) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}
