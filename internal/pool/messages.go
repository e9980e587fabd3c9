package pool

import (
	"credal-eval/internal/credal"

	"gonum.org/v1/gonum/mat"
)

// Items on a worker's private training channel.
type TrainingItem interface {
	trainingItem()
}

// TrainingDescriptor carries one fold's training rows. It must not be
// modified once broadcast, every worker reads the same matrix.
type TrainingDescriptor struct {
	Round    uint64
	Features *mat.Dense
	Labels   []credal.Label
	Ell      float64
}

// EndOfLife tells a worker that no more folds will follow.
type EndOfLife struct{}

func (TrainingDescriptor) trainingItem() {}
func (EndOfLife) trainingItem()          {}

// Items on the shared task channel.
type TaskItem interface {
	taskItem()
}

type Task struct {
	ID          int
	Round       uint64
	Instance    []float64
	GroundTruth credal.Label
}

// EndOfFold tells the worker that receives it to stop draining the current
// fold. One is enqueued per worker.
type EndOfFold struct{}

func (Task) taskItem()      {}
func (EndOfFold) taskItem() {}

// Items on the shared result channel.
type ResultItem interface {
	resultItem()
}

type PredictionFailure struct {
	TaskID int
	Err    error
}

// PartialResult is one worker's contribution to a fold: utility sums, not
// means, over the tasks it happened to drain.
type PartialResult struct {
	Worker   int
	Round    uint64
	Sum      credal.Utility
	Drained  int
	Failed   int
	TaskIDs  []int
	Failures []PredictionFailure
}

// Evaluated is the number of drained tasks that produced a usable prediction.
func (r PartialResult) Evaluated() int {
	return r.Drained - r.Failed
}

type endOfResults struct{}

func (PartialResult) resultItem() {}
func (*WorkerError) resultItem()  {}
func (endOfResults) resultItem()  {}
