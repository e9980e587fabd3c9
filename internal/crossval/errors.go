package crossval

import (
	"errors"
	"fmt"
)

var ErrNoUsablePredictions = errors.New("no usable predictions in fold")

// FoldError ties a fold-scoped failure to the fold it happened in. Worker is
// -1 when the failure is not attributable to a single worker.
type FoldError struct {
	Repetition int
	Fold       int
	Ell        float64
	Worker     int
	Op         string
	Err        error
}

func (e *FoldError) Error() string {
	if e.Worker >= 0 {
		return fmt.Sprintf("fold %d of repetition %d (ell=%g) failed in worker %d during %s: %v", e.Fold, e.Repetition, e.Ell, e.Worker, e.Op, e.Err)
	}
	return fmt.Sprintf("fold %d of repetition %d (ell=%g) failed: %v", e.Fold, e.Repetition, e.Ell, e.Err)
}

func (e *FoldError) Unwrap() error {
	return e.Err
}
