package results

import (
	"context"

	"credal-eval/internal/crossval"
	"credal-eval/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DatabaseSink struct {
	db           *gorm.DB
	experimentId uuid.UUID
}

func NewDatabaseSink(db *gorm.DB, experimentId uuid.UUID) *DatabaseSink {
	return &DatabaseSink{db: db, experimentId: experimentId}
}

func (s *DatabaseSink) Write(ctx context.Context, summary crossval.Summary) error {
	return database.SaveExperimentResult(ctx, s.db, database.ExperimentResult{
		ExperimentId:      s.experimentId,
		Ell:               summary.Ell,
		MeanU65:           summary.MeanU65,
		MeanU80:           summary.MeanU80,
		StdU65:            summary.StdU65,
		StdU80:            summary.StdU80,
		Folds:             summary.Folds,
		FailedPredictions: summary.Failed,
	})
}

func (s *DatabaseSink) Close() error {
	return nil
}

// FoldRecorder persists fold statistics as they complete. The orchestrator
// callback has no error return, so the first failure is kept for Err.
type FoldRecorder struct {
	ctx          context.Context
	db           *gorm.DB
	experimentId uuid.UUID
	err          error
}

func NewFoldRecorder(ctx context.Context, db *gorm.DB, experimentId uuid.UUID) *FoldRecorder {
	return &FoldRecorder{ctx: ctx, db: db, experimentId: experimentId}
}

func (r *FoldRecorder) Record(stats crossval.FoldStatistics) {
	if r.err != nil {
		return
	}
	r.err = database.SaveFoldResult(r.ctx, r.db, database.FoldResult{
		ExperimentId: r.experimentId,
		Ell:          stats.Ell,
		Repetition:   stats.Repetition,
		Fold:         stats.Fold,
		TestSize:     stats.TestSize,
		Evaluated:    stats.Evaluated,
		Failed:       stats.Failed,
		MeanU65:      stats.MeanU65,
		MeanU80:      stats.MeanU80,
	}, stats.TestIndices)
}

func (r *FoldRecorder) Err() error {
	return r.err
}
