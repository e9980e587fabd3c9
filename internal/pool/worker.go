package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"credal-eval/internal/credal"
)

type State int32

const (
	StateAwaitTraining State = iota
	StateTraining
	StateDrainingTasks
	StateExited
)

func (s State) String() string {
	switch s {
	case StateAwaitTraining:
		return "AWAIT_TRAINING"
	case StateTraining:
		return "TRAINING"
	case StateDrainingTasks:
		return "DRAINING_TASKS"
	case StateExited:
		return "EXITED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type worker struct {
	id     int
	model  credal.Model
	scorer credal.Scorer

	training chan TrainingItem
	tasks    <-chan TaskItem
	results  chan<- ResultItem
	barrier  *Barrier

	state  atomic.Int32
	logger *slog.Logger
}

func (w *worker) State() State {
	return State(w.state.Load())
}

func (w *worker) setState(s State) {
	w.state.Store(int32(s))
}

// run returns when EndOfLife arrives or ctx is cancelled. The caller marks
// the worker exited.
func (w *worker) run(ctx context.Context) error {
	for {
		w.setState(StateAwaitTraining)

		var item TrainingItem
		select {
		case item = <-w.training:
		case <-ctx.Done():
			return ctx.Err()
		}

		switch it := item.(type) {
		case EndOfLife:
			w.logger.Debug("worker received end of life")
			return nil
		case TrainingDescriptor:
			trainErr := w.train(ctx, it)
			if err := w.drain(ctx, it.Round, trainErr); err != nil {
				return err
			}
		default:
			return fmt.Errorf("worker %d: unexpected training item %T", w.id, item)
		}
	}
}

// train always acknowledges on the barrier, even when the model fails or
// panics, so the orchestrator is never left waiting on a broken worker.
func (w *worker) train(ctx context.Context, desc TrainingDescriptor) (err error) {
	w.setState(StateTraining)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during training: %v", r)
		}
		trainingDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			trainingFailures.Inc()
			w.logger.Error("training failed", "round", desc.Round, "ell", desc.Ell, "error", err)
		} else {
			w.logger.Debug("training complete", "round", desc.Round, "ell", desc.Ell, "duration", time.Since(start))
		}
		w.barrier.Arrive(Arrival{Party: w.id, Round: desc.Round, Err: err})
	}()

	return w.model.Train(ctx, desc.Features, desc.Labels, desc.Ell)
}

func (w *worker) drain(ctx context.Context, round uint64, trainErr error) error {
	w.setState(StateDrainingTasks)

	partial := PartialResult{Worker: w.id, Round: round}
	var protocolErr error

	for {
		var item TaskItem
		select {
		case item = <-w.tasks:
		case <-ctx.Done():
			return ctx.Err()
		}

		switch it := item.(type) {
		case EndOfFold:
			return w.report(ctx, w.outcome(partial, trainErr, protocolErr))
		case Task:
			tasksDrained.Inc()
			partial.Drained++
			partial.TaskIDs = append(partial.TaskIDs, it.ID)

			switch {
			case trainErr != nil || protocolErr != nil:
				// Keep pulling until the sentinel so the fold can still be closed.
			case it.Round != round:
				protocolErr = fmt.Errorf("%w: task %d belongs to round %d but model was trained for round %d", ErrProtocol, it.ID, it.Round, round)
				w.logger.Error("stale task", "task_id", it.ID, "task_round", it.Round, "round", round)
			default:
				w.evaluate(ctx, it, &partial)
			}
		default:
			return fmt.Errorf("worker %d: unexpected task item %T", w.id, item)
		}
	}
}

func (w *worker) evaluate(ctx context.Context, task Task, partial *PartialResult) {
	prediction, err := w.predict(ctx, task.Instance)
	if err != nil {
		predictionFailures.Inc()
		partial.Failed++
		partial.Failures = append(partial.Failures, PredictionFailure{TaskID: task.ID, Err: err})
		w.logger.Warn("prediction failed", "task_id", task.ID, "round", task.Round, "error", err)
		return
	}

	w.logger.Debug("prediction", "task_id", task.ID, "prediction", prediction.String(), "ground_truth", task.GroundTruth)
	partial.Sum = partial.Sum.Add(w.scorer.Score(prediction, task.GroundTruth))
}

func (w *worker) predict(ctx context.Context, instance []float64) (set credal.CredalSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during prediction: %v", r)
		}
	}()
	set, err = w.model.Predict(ctx, instance)
	if err == nil && set.Size() == 0 {
		err = credal.ErrEmptyCredalSet
	}
	return set, err
}

func (w *worker) outcome(partial PartialResult, trainErr, protocolErr error) ResultItem {
	switch {
	case trainErr != nil:
		return &WorkerError{Worker: w.id, Round: partial.Round, Op: OpTrain, Err: trainErr}
	case protocolErr != nil:
		return &WorkerError{Worker: w.id, Round: partial.Round, Op: OpProtocol, Err: protocolErr}
	default:
		return partial
	}
}

func (w *worker) report(ctx context.Context, item ResultItem) error {
	select {
	case w.results <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
