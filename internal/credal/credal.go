package credal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"
)

type Label string

var ErrEmptyCredalSet = errors.New("credal set must contain at least one label")

// CredalSet is a non-empty set of candidate labels. A set of size one is a
// precise prediction, anything larger is indeterminate.
type CredalSet struct {
	labels []Label
}

func NewCredalSet(labels ...Label) (CredalSet, error) {
	if len(labels) == 0 {
		return CredalSet{}, ErrEmptyCredalSet
	}

	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	return CredalSet{labels: sorted}, nil
}

// MustCredalSet is NewCredalSet for label lists known to be non-empty.
func MustCredalSet(labels ...Label) CredalSet {
	set, err := NewCredalSet(labels...)
	if err != nil {
		panic(err)
	}
	return set
}

func (s CredalSet) Contains(label Label) bool {
	_, found := slices.BinarySearch(s.labels, label)
	return found
}

func (s CredalSet) Size() int {
	return len(s.labels)
}

func (s CredalSet) IsPrecise() bool {
	return len(s.labels) == 1
}

func (s CredalSet) Labels() []Label {
	return slices.Clone(s.labels)
}

func (s CredalSet) String() string {
	parts := make([]string, len(s.labels))
	for i, l := range s.labels {
		parts[i] = string(l)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Model is the capability a classifier must provide to be evaluated. Train
// replaces any previous state, each fold is learned from scratch.
type Model interface {
	Train(ctx context.Context, features *mat.Dense, labels []Label, ell float64) error

	Predict(ctx context.Context, instance []float64) (CredalSet, error)

	Release()
}

type ModelFactory func() (Model, error)

// Classes returns the sorted distinct labels in y.
func Classes(y []Label) []Label {
	classes := slices.Clone(y)
	slices.Sort(classes)
	return slices.Compact(classes)
}

func ValidateTrainingData(features *mat.Dense, labels []Label) error {
	if features == nil {
		return fmt.Errorf("missing feature matrix")
	}
	rows, _ := features.Dims()
	if rows != len(labels) {
		return fmt.Errorf("feature rows (%d) and labels (%d) differ", rows, len(labels))
	}
	if rows == 0 {
		return fmt.Errorf("empty training set")
	}
	return nil
}
