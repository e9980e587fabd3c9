package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateExperimentRequest struct {
	Name        string
	DatasetPath string
	OutputPath  string

	ModelType   string
	Mode        string
	Folds       int
	Repetitions int
	PoolSize    int
	Seed        int64
	Stratified  bool

	EllFrom float64
	EllTo   float64
	EllBy   float64
	// Imprecision for the cv and holdout modes.
	Ell float64

	HoldOutFraction float64
}

type CreateExperimentResponse struct {
	ExperimentId uuid.UUID
}

type Experiment struct {
	Id          uuid.UUID
	Name        string
	DatasetPath string
	OutputPath  string `json:"OutputPath,omitempty"`

	ModelType   string
	Mode        string
	Folds       int
	Repetitions int
	PoolSize    int
	Seed        int64
	Stratified  bool

	EllFrom         float64
	EllTo           float64
	EllBy           float64
	HoldOutFraction float64

	Status         string
	CreationTime   time.Time
	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	Errors []string `json:"Errors,omitempty"`
}

type ExperimentResult struct {
	Ell     float64
	MeanU65 float64
	MeanU80 float64
	StdU65  float64
	StdU80  float64

	Folds             int
	FailedPredictions int
}

type ResultsParams struct {
	MinEll *float64 `schema:"min_ell"`
	MaxEll *float64 `schema:"max_ell"`
}

type FoldResult struct {
	Ell        float64
	Repetition int
	Fold       int

	TestSize  int
	Evaluated int
	Failed    int
	MeanU65   float64
	MeanU80   float64

	TestIndices []int
}

type FoldsParams struct {
	Ell *float64 `schema:"ell"`
}
