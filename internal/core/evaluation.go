package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credal-eval/internal/credal"
	"credal-eval/internal/crossval"
	"credal-eval/internal/dataset"
	"credal-eval/internal/pool"
)

type Mode string

const (
	ModeSweep   Mode = "sweep"
	ModeCV      Mode = "cv"
	ModeHoldOut Mode = "holdout"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSweep, ModeCV, ModeHoldOut:
		return m, nil
	case "":
		return ModeSweep, nil
	default:
		return "", credal.ConfigErrorf("mode", "unknown mode %q, expected sweep, cv or holdout", s)
	}
}

// EvaluationConfig describes one experiment run independently of where it was
// requested from.
type EvaluationConfig struct {
	Mode        Mode
	PoolSize    int
	Folds       int
	Repetitions int
	Seed        int64
	Stratified  bool
	Timeout     time.Duration

	// Sweep range; the other modes evaluate Ell only.
	Ells crossval.EllRange
	Ell  float64

	HoldOutFraction float64
}

func (c EvaluationConfig) Validate() error {
	if c.PoolSize < 1 {
		return credal.ConfigErrorf("pool size", "must be at least 1, got %d", c.PoolSize)
	}
	if c.Repetitions < 1 {
		return credal.ConfigErrorf("repetitions", "must be at least 1, got %d", c.Repetitions)
	}
	switch c.Mode {
	case ModeSweep:
		return c.Ells.Validate()
	case ModeCV:
		if c.Ell < 0 {
			return credal.ConfigErrorf("ell", "must be non-negative, got %g", c.Ell)
		}
	case ModeHoldOut:
		if c.Ell < 0 {
			return credal.ConfigErrorf("ell", "must be non-negative, got %g", c.Ell)
		}
		if c.HoldOutFraction <= 0 || c.HoldOutFraction >= 1 {
			return credal.ConfigErrorf("hold-out fraction", "must be in (0, 1), got %g", c.HoldOutFraction)
		}
	default:
		return credal.ConfigErrorf("mode", "unknown mode %q", c.Mode)
	}
	return nil
}

// TotalFolds is the number of folds the run will schedule, used for progress.
func (c EvaluationConfig) TotalFolds() int {
	switch c.Mode {
	case ModeSweep:
		values, err := c.Ells.Values()
		if err != nil {
			return 0
		}
		return len(values) * c.Repetitions * c.Folds
	case ModeCV:
		return c.Repetitions * c.Folds
	default:
		return c.Repetitions
	}
}

// Evaluate starts a worker pool over factory, runs the configured mode on
// data and writes every summary to sink. The pool is always shut down before
// returning.
func Evaluate(ctx context.Context, factory credal.ModelFactory, data *dataset.Dataset, cfg EvaluationConfig, sink crossval.Sink, onFold func(crossval.FoldStatistics)) (summaries []crossval.Summary, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := pool.New(pool.Config{Size: cfg.PoolSize, TaskBuffer: data.Rows(), Timeout: cfg.Timeout}, factory, credal.DiscountedAccuracy{})
	orchestrator := crossval.New(p, data, crossval.Config{
		Folds:      cfg.Folds,
		Stratified: cfg.Stratified,
		Seeds:      crossval.GenerateSeeds(cfg.Repetitions, cfg.Seed),
		OnFold:     onFold,
	})

	// No model is built until the run is known to fit the dataset.
	if cfg.Mode == ModeHoldOut {
		err = orchestrator.ValidateHoldOut(cfg.HoldOutFraction)
	} else {
		err = orchestrator.Validate()
	}
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.Start(runCtx); err != nil {
		return nil, fmt.Errorf("error starting worker pool: %w", err)
	}
	defer func() {
		if closeErr := orchestrator.Close(context.Background()); closeErr != nil {
			slog.Error("error shutting down worker pool", "error", closeErr)
			err = errors.Join(err, closeErr)
		}
	}()

	slog.Info("starting evaluation", "mode", cfg.Mode, "rows", data.Rows(), "classes", len(data.Classes),
		"pool_size", cfg.PoolSize, "folds", cfg.Folds, "repetitions", cfg.Repetitions, "seed", cfg.Seed)

	switch cfg.Mode {
	case ModeSweep:
		return orchestrator.Sweep(ctx, cfg.Ells, sink)
	case ModeCV:
		summary, err := orchestrator.CrossValidate(ctx, cfg.Ell)
		if err != nil {
			return nil, err
		}
		return []crossval.Summary{summary}, writeSummary(ctx, sink, summary)
	default:
		summary, err := orchestrator.HoldOut(ctx, cfg.Ell, cfg.HoldOutFraction)
		if err != nil {
			return nil, err
		}
		return []crossval.Summary{summary}, writeSummary(ctx, sink, summary)
	}
}

func writeSummary(ctx context.Context, sink crossval.Sink, summary crossval.Summary) error {
	if sink == nil {
		return nil
	}
	if err := sink.Write(ctx, summary); err != nil {
		return fmt.Errorf("error writing result for ell=%g: %w", summary.Ell, err)
	}
	return nil
}
