package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

const (
	ModeSweep   string = "sweep"
	ModeCV      string = "cv"
	ModeHoldOut string = "holdout"
)

type Experiment struct {
	Id   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"not null"`

	DatasetPath string `gorm:"not null"`
	OutputPath  sql.NullString

	ModelType   string `gorm:"size:20;not null"`
	Mode        string `gorm:"size:20;not null;default:sweep"`
	Folds       int    `gorm:"not null"`
	Repetitions int    `gorm:"not null;default:1"`
	PoolSize    int    `gorm:"not null"`
	Seed        int64
	Stratified  bool `gorm:"default:false"`

	EllFrom float64
	EllTo   float64
	EllBy   float64

	HoldOutFraction float64 `gorm:"default:0.4"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Results     []ExperimentResult `gorm:"foreignKey:ExperimentId;constraint:OnDelete:CASCADE"`
	FoldResults []FoldResult       `gorm:"foreignKey:ExperimentId;constraint:OnDelete:CASCADE"`
	Errors      []ExperimentError  `gorm:"foreignKey:ExperimentId;constraint:OnDelete:CASCADE"`
}

// ExperimentResult is one row of the output table: the summary for one ell.
type ExperimentResult struct {
	ExperimentId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Ell          float64   `gorm:"primaryKey"`

	MeanU65 float64
	MeanU80 float64
	StdU65  float64
	StdU80  float64

	Folds             int
	FailedPredictions int `gorm:"default:0"`
	CreationTime      time.Time
}

type FoldResult struct {
	ExperimentId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Ell          float64   `gorm:"primaryKey"`
	Repetition   int       `gorm:"primaryKey"`
	Fold         int       `gorm:"primaryKey"`

	TestSize  int
	Evaluated int
	Failed    int
	MeanU65   float64
	MeanU80   float64

	TestIndices datatypes.JSON
}

type ExperimentError struct {
	ExperimentId uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error        string
	Timestamp    time.Time
}
