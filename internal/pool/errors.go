package pool

import (
	"errors"
	"fmt"
)

const (
	OpTrain    = "train"
	OpPredict  = "predict"
	OpProtocol = "protocol"
)

var (
	ErrSchedulingDeadlock = errors.New("scheduling deadlock")
	ErrAlreadyStarted     = errors.New("worker pool already started")
	ErrNotRunning         = errors.New("worker pool is not running")
	ErrProtocol           = errors.New("pool protocol violation")
)

// WorkerError is the failure marker a worker sends in place of a partial
// result, and the error reported for failed training acknowledgments.
type WorkerError struct {
	Worker int
	Round  uint64
	Op     string
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d failed to %s in round %d: %v", e.Worker, e.Op, e.Round, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// IsTrainingFailure reports whether err contains a failed training run.
func IsTrainingFailure(err error) bool {
	return hasWorkerError(err, OpTrain)
}

// WithoutTrainingFailures drops training WorkerErrors from err, keeping every
// other joined error. It returns nil when nothing is left.
func WithoutTrainingFailures(err error) error {
	if err == nil {
		return nil
	}
	if werr, ok := err.(*WorkerError); ok && werr.Op == OpTrain {
		return nil
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return err
	}
	var rest []error
	for _, e := range joined.Unwrap() {
		if kept := WithoutTrainingFailures(e); kept != nil {
			rest = append(rest, kept)
		}
	}
	return errors.Join(rest...)
}

func hasWorkerError(err error, op string) bool {
	if err == nil {
		return false
	}
	var werr *WorkerError
	if errors.As(err, &werr) && werr.Op == op {
		return true
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if hasWorkerError(e, op) {
				return true
			}
		}
	}
	return false
}

// DeadlockError is returned when a bounded wait expires or a worker exits
// while a fold is in flight.
type DeadlockError struct {
	Op          string
	Round       uint64
	Outstanding int
	Cause       error
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("%v: %s in round %d with %d worker(s) outstanding: %v", ErrSchedulingDeadlock, e.Op, e.Round, e.Outstanding, e.Cause)
}

func (e *DeadlockError) Unwrap() []error {
	return []error{ErrSchedulingDeadlock, e.Cause}
}
