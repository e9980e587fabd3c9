package crossval

import (
	"math"

	"credal-eval/internal/credal"
)

// MaxEllValues caps the number of values a single sweep may evaluate.
const MaxEllValues = 1_000_000

// EllRange is a half-open range of imprecision values [From, To) stepped by By.
type EllRange struct {
	From float64
	To   float64
	By   float64
}

func (r EllRange) Validate() error {
	for _, v := range []float64{r.From, r.To, r.By} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return credal.ConfigErrorf("ell range", "bounds and step must be finite, got from=%g to=%g by=%g", r.From, r.To, r.By)
		}
	}
	if r.By <= 0 {
		return credal.ConfigErrorf("ell range", "step must be positive, got %g", r.By)
	}
	if r.From < 0 {
		return credal.ConfigErrorf("ell range", "start must not be negative, got %g", r.From)
	}
	if !(r.From < r.To) {
		return credal.ConfigErrorf("ell range", "start %g must be below end %g", r.From, r.To)
	}
	if steps := (r.To - r.From) / r.By; math.IsInf(steps, 0) || steps > MaxEllValues {
		return credal.ConfigErrorf("ell range", "step %g over [%g, %g) gives more than %d values", r.By, r.From, r.To, MaxEllValues)
	}
	return nil
}

// Values enumerates the range, excluding To. Each value is rounded to 12
// decimals so accumulated steps print cleanly.
func (r EllRange) Values() ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	n := int(math.Ceil((r.To-r.From)/r.By - 1e-9))
	values := make([]float64, n)
	for i := range values {
		values[i] = roundEll(r.From + float64(i)*r.By)
	}
	return values, nil
}

func roundEll(v float64) float64 {
	return math.Round(v*1e12) / 1e12
}
