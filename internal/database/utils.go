package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func UpdateExperimentStatus(ctx context.Context, txn *gorm.DB, experimentId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	switch status {
	case JobRunning:
		updates["start_time"] = time.Now().UTC()
	case JobCompleted, JobFailed:
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Experiment{Id: experimentId}).Updates(updates).Error; err != nil {
		slog.Error("error updating experiment status", "experiment_id", experimentId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveExperimentError(ctx context.Context, txn *gorm.DB, experimentId uuid.UUID, errorMessage string) {
	experimentError := ExperimentError{
		ExperimentId: experimentId,
		ErrorId:      uuid.New(),
		Error:        errorMessage,
		Timestamp:    time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&experimentError).Error; err != nil {
		slog.Error("error saving experiment error", "experiment_id", experimentId, "error", err)
	}
}

// SaveExperimentResult upserts the summary row for one ell, so a retried
// experiment overwrites what an earlier attempt wrote.
func SaveExperimentResult(ctx context.Context, txn *gorm.DB, result ExperimentResult) error {
	if result.CreationTime.IsZero() {
		result.CreationTime = time.Now().UTC()
	}
	if err := txn.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&result).Error; err != nil {
		return fmt.Errorf("error saving result for ell=%g: %w", result.Ell, err)
	}
	return nil
}

func SaveFoldResult(ctx context.Context, txn *gorm.DB, result FoldResult, testIndices []int) error {
	indices, err := json.Marshal(testIndices)
	if err != nil {
		return fmt.Errorf("could not marshal test indices: %w", err)
	}
	result.TestIndices = indices

	if err := txn.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&result).Error; err != nil {
		return fmt.Errorf("error saving fold %d of repetition %d: %w", result.Fold, result.Repetition, err)
	}
	return nil
}

// ClearExperimentResults removes rows left by an earlier attempt.
func ClearExperimentResults(ctx context.Context, txn *gorm.DB, experimentId uuid.UUID) error {
	return txn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("experiment_id = ?", experimentId).Delete(&FoldResult{}).Error; err != nil {
			return fmt.Errorf("could not clear fold results: %w", err)
		}
		if err := tx.Where("experiment_id = ?", experimentId).Delete(&ExperimentResult{}).Error; err != nil {
			return fmt.Errorf("could not clear experiment results: %w", err)
		}
		return nil
	})
}
