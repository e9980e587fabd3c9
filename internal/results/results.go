package results

import (
	"context"
	"errors"

	"credal-eval/internal/crossval"
)

// Sink receives one summary per evaluated ell value and must persist it before
// Write returns.
type Sink interface {
	Write(ctx context.Context, summary crossval.Summary) error
	Close() error
}

// Row is one line of the output table.
type Row struct {
	Ell float64 `csv:"ell"`
	U65 float64 `csv:"u65"`
	U80 float64 `csv:"u80"`
}

func rowOf(s crossval.Summary) Row {
	return Row{Ell: s.Ell, U65: s.MeanU65, U80: s.MeanU80}
}

type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, summary crossval.Summary) error {
	for _, s := range m {
		if err := s.Write(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
