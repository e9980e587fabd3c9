package api

import (
	"encoding/json"
	"log/slog"

	"credal-eval/internal/database"
	"credal-eval/pkg/api"
)

func convertExperiment(e database.Experiment) api.Experiment {
	experiment := api.Experiment{
		Id:              e.Id,
		Name:            e.Name,
		DatasetPath:     e.DatasetPath,
		OutputPath:      e.OutputPath.String,
		ModelType:       e.ModelType,
		Mode:            e.Mode,
		Folds:           e.Folds,
		Repetitions:     e.Repetitions,
		PoolSize:        e.PoolSize,
		Seed:            e.Seed,
		Stratified:      e.Stratified,
		EllFrom:         e.EllFrom,
		EllTo:           e.EllTo,
		EllBy:           e.EllBy,
		HoldOutFraction: e.HoldOutFraction,
		Status:          e.Status,
		CreationTime:    e.CreationTime,
	}
	if e.StartTime.Valid {
		experiment.StartTime = &e.StartTime.Time
	}
	if e.CompletionTime.Valid {
		experiment.CompletionTime = &e.CompletionTime.Time
	}
	for _, err := range e.Errors {
		experiment.Errors = append(experiment.Errors, err.Error)
	}
	return experiment
}

func convertExperiments(es []database.Experiment) []api.Experiment {
	experiments := make([]api.Experiment, 0, len(es))
	for _, e := range es {
		experiments = append(experiments, convertExperiment(e))
	}
	return experiments
}

func convertResults(rs []database.ExperimentResult) []api.ExperimentResult {
	results := make([]api.ExperimentResult, 0, len(rs))
	for _, r := range rs {
		results = append(results, api.ExperimentResult{
			Ell:               r.Ell,
			MeanU65:           r.MeanU65,
			MeanU80:           r.MeanU80,
			StdU65:            r.StdU65,
			StdU80:            r.StdU80,
			Folds:             r.Folds,
			FailedPredictions: r.FailedPredictions,
		})
	}
	return results
}

func convertFolds(fs []database.FoldResult) []api.FoldResult {
	folds := make([]api.FoldResult, 0, len(fs))
	for _, f := range fs {
		var indices []int
		if len(f.TestIndices) > 0 {
			if err := json.Unmarshal(f.TestIndices, &indices); err != nil {
				slog.Error("error parsing stored test indices", "experiment_id", f.ExperimentId, "fold", f.Fold, "error", err)
			}
		}
		folds = append(folds, api.FoldResult{
			Ell:         f.Ell,
			Repetition:  f.Repetition,
			Fold:        f.Fold,
			TestSize:    f.TestSize,
			Evaluated:   f.Evaluated,
			Failed:      f.Failed,
			MeanU65:     f.MeanU65,
			MeanU80:     f.MeanU80,
			TestIndices: indices,
		})
	}
	return folds
}
