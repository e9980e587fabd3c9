package crossval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credal-eval/internal/credal"
	"credal-eval/internal/dataset"
	"credal-eval/internal/pool"
)

// Pool is the part of the worker pool the orchestrator drives.
type Pool interface {
	Size() int
	BroadcastTraining(ctx context.Context, desc pool.TrainingDescriptor) error
	AwaitFoldCompletion(ctx context.Context) error
	EnqueueTask(ctx context.Context, task pool.Task) error
	EnqueueEndOfFoldSentinels(ctx context.Context) error
	DrainResults(ctx context.Context) ([]pool.PartialResult, error)
	Shutdown(ctx context.Context) error
}

// Sink receives one summary per evaluated ell value, in order.
type Sink interface {
	Write(ctx context.Context, summary Summary) error
}

type Config struct {
	Folds      int
	Stratified bool
	// One k-fold split is drawn per seed.
	Seeds []int64
	// Called after every completed fold, from the orchestrator goroutine.
	OnFold func(FoldStatistics)
}

type Orchestrator struct {
	pool   Pool
	data   *dataset.Dataset
	cfg    Config
	logger *slog.Logger
}

func New(p Pool, data *dataset.Dataset, cfg Config) *Orchestrator {
	return &Orchestrator{
		pool:   p,
		data:   data,
		cfg:    cfg,
		logger: slog.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) validateCommon() error {
	if o.pool == nil {
		return credal.ConfigErrorf("pool", "no worker pool")
	}
	if o.pool.Size() < 1 {
		return credal.ConfigErrorf("pool size", "must be at least 1, got %d", o.pool.Size())
	}
	if o.data == nil || o.data.Rows() == 0 {
		return credal.ConfigErrorf("dataset", "no rows to evaluate")
	}
	if len(o.cfg.Seeds) == 0 {
		return credal.ConfigErrorf("seeds", "need at least one repetition seed")
	}
	return nil
}

// Validate reports k-fold configuration problems before any fold is
// scheduled. It only reads the pool size, so it can run before the pool is
// started.
func (o *Orchestrator) Validate() error {
	if err := o.validateCommon(); err != nil {
		return err
	}
	return validateFolds(o.data.Rows(), o.cfg.Folds)
}

// ValidateHoldOut is Validate for hold-out runs: the split sizes depend only
// on the row count and testFraction, not on the seed.
func (o *Orchestrator) ValidateHoldOut(testFraction float64) error {
	if err := o.validateCommon(); err != nil {
		return err
	}
	_, err := HoldOut(o.data.Rows(), testFraction, 0)
	return err
}

// Splits draws the k-fold partitions for every repetition seed.
func (o *Orchestrator) Splits() ([]Split, error) {
	var all []Split
	for rep, seed := range o.cfg.Seeds {
		var splits []Split
		var err error
		if o.cfg.Stratified {
			splits, err = StratifiedKFold(o.data.Labels, o.cfg.Folds, seed)
		} else {
			splits, err = KFold(o.data.Rows(), o.cfg.Folds, seed, true)
		}
		if err != nil {
			return nil, err
		}
		for i := range splits {
			splits[i].Repetition = rep
		}
		all = append(all, splits...)
	}
	return all, nil
}

// RunFold trains every worker on the split's training rows and scores the
// split's test rows. A training failure still closes the fold on the pool so
// the workers are ready for the next descriptor.
func (o *Orchestrator) RunFold(ctx context.Context, split Split, ell float64) (FoldStatistics, error) {
	stats := FoldStatistics{
		Repetition:  split.Repetition,
		Fold:        split.Fold,
		Ell:         ell,
		TestSize:    len(split.Test),
		TestIndices: split.Test,
	}
	foldErr := func(err error) error {
		fe := &FoldError{Repetition: split.Repetition, Fold: split.Fold, Ell: ell, Worker: -1, Err: err}
		var werr *pool.WorkerError
		if errors.As(err, &werr) {
			fe.Worker, fe.Op = werr.Worker, werr.Op
		}
		return fe
	}

	features, labels := o.data.Subset(split.Train)
	desc := pool.TrainingDescriptor{Features: features, Labels: labels, Ell: ell}
	if err := o.pool.BroadcastTraining(ctx, desc); err != nil {
		return stats, foldErr(err)
	}

	if trainErr := o.pool.AwaitFoldCompletion(ctx); trainErr != nil {
		if !pool.IsTrainingFailure(trainErr) {
			return stats, foldErr(trainErr)
		}
		o.logger.Error("fold training failed, closing fold", "repetition", split.Repetition, "fold", split.Fold, "ell", ell, "error", trainErr)
		if err := o.pool.EnqueueEndOfFoldSentinels(ctx); err != nil {
			return stats, foldErr(errors.Join(trainErr, err))
		}
		_, drainErr := o.pool.DrainResults(ctx)
		if rest := pool.WithoutTrainingFailures(drainErr); rest != nil {
			return stats, foldErr(errors.Join(trainErr, rest))
		}
		return stats, foldErr(trainErr)
	}

	for _, row := range split.Test {
		task := pool.Task{ID: row, Instance: o.data.Row(row), GroundTruth: o.data.Labels[row]}
		if err := o.pool.EnqueueTask(ctx, task); err != nil {
			return stats, foldErr(err)
		}
	}
	if err := o.pool.EnqueueEndOfFoldSentinels(ctx); err != nil {
		return stats, foldErr(err)
	}

	partials, err := o.pool.DrainResults(ctx)
	if err != nil {
		return stats, foldErr(err)
	}

	var sum credal.Utility
	drained := 0
	for _, r := range partials {
		sum = sum.Add(r.Sum)
		drained += r.Drained
		stats.Evaluated += r.Evaluated()
		stats.Failed += r.Failed
	}
	if drained != len(split.Test) {
		return stats, foldErr(fmt.Errorf("%w: %d tasks enqueued but %d drained", pool.ErrProtocol, len(split.Test), drained))
	}
	if stats.TestSize > 0 && stats.Evaluated == 0 {
		return stats, foldErr(ErrNoUsablePredictions)
	}
	stats.MeanU65, stats.MeanU80 = foldMeans(sum, stats.Evaluated)

	o.logger.Debug("fold complete", "repetition", split.Repetition, "fold", split.Fold, "ell", ell,
		"test_size", stats.TestSize, "failed", stats.Failed, "u65", stats.MeanU65, "u80", stats.MeanU80)
	if o.cfg.OnFold != nil {
		o.cfg.OnFold(stats)
	}
	return stats, nil
}

func (o *Orchestrator) runSplits(ctx context.Context, splits []Split, ell float64) ([]FoldStatistics, error) {
	folds := make([]FoldStatistics, 0, len(splits))
	for _, split := range splits {
		stats, err := o.RunFold(ctx, split, ell)
		if err != nil {
			return folds, err
		}
		folds = append(folds, stats)
	}
	return folds, nil
}

// CrossValidate runs repeated k-fold cross-validation for a single ell, one
// repetition per configured seed.
func (o *Orchestrator) CrossValidate(ctx context.Context, ell float64) (Summary, error) {
	if err := o.Validate(); err != nil {
		return Summary{}, err
	}
	splits, err := o.Splits()
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()
	folds, err := o.runSplits(ctx, splits, ell)
	if err != nil {
		return Summary{}, err
	}
	summary := Summarize(ell, folds)
	o.logger.Info("cross-validation complete", "ell", ell, "repetitions", len(o.cfg.Seeds), "folds", len(folds),
		"u65", summary.MeanU65, "u80", summary.MeanU80, "duration", time.Since(start))
	return summary, nil
}

// Sweep cross-validates every value of r on the same splits and the same
// workers. Each summary is written to sink before the next value starts.
func (o *Orchestrator) Sweep(ctx context.Context, r EllRange, sink Sink) ([]Summary, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	values, err := r.Values()
	if err != nil {
		return nil, err
	}
	splits, err := o.Splits()
	if err != nil {
		return nil, err
	}

	o.logger.Info("starting sweep", "from", r.From, "to", r.To, "by", r.By, "values", len(values), "folds_per_value", len(splits))

	summaries := make([]Summary, 0, len(values))
	for _, ell := range values {
		start := time.Now()
		folds, err := o.runSplits(ctx, splits, ell)
		if err != nil {
			return summaries, err
		}
		summary := Summarize(ell, folds)
		if sink != nil {
			if err := sink.Write(ctx, summary); err != nil {
				return summaries, fmt.Errorf("error writing result for ell=%g: %w", ell, err)
			}
		}
		summaries = append(summaries, summary)
		o.logger.Info("ell evaluated", "ell", ell, "u65", summary.MeanU65, "u80", summary.MeanU80, "failed", summary.Failed, "duration", time.Since(start))
	}
	return summaries, nil
}

// HoldOut evaluates one random train/test split per seed.
func (o *Orchestrator) HoldOut(ctx context.Context, ell, testFraction float64) (Summary, error) {
	if err := o.ValidateHoldOut(testFraction); err != nil {
		return Summary{}, err
	}

	folds := make([]FoldStatistics, 0, len(o.cfg.Seeds))
	for rep, seed := range o.cfg.Seeds {
		split, err := HoldOut(o.data.Rows(), testFraction, seed)
		if err != nil {
			return Summary{}, err
		}
		split.Repetition = rep
		stats, err := o.RunFold(ctx, split, ell)
		if err != nil {
			return Summary{}, err
		}
		folds = append(folds, stats)
	}

	summary := Summarize(ell, folds)
	o.logger.Info("hold-out complete", "ell", ell, "test_fraction", testFraction, "repetitions", len(folds), "u65", summary.MeanU65, "u80", summary.MeanU80)
	return summary, nil
}

// Close shuts the pool down once no more folds will be scheduled.
func (o *Orchestrator) Close(ctx context.Context) error {
	if o.pool == nil {
		return nil
	}
	return o.pool.Shutdown(ctx)
}
