package crossval

import (
	"credal-eval/internal/credal"

	"gonum.org/v1/gonum/stat"
)

type FoldStatistics struct {
	Repetition  int
	Fold        int
	Ell         float64
	TestSize    int
	Evaluated   int
	Failed      int
	MeanU65     float64
	MeanU80     float64
	TestIndices []int
}

// Summary aggregates every fold run for one ell value.
type Summary struct {
	Ell     float64
	MeanU65 float64
	MeanU80 float64
	StdU65  float64
	StdU80  float64
	Folds   int
	Failed  int
}

func foldMeans(sum credal.Utility, evaluated int) (float64, float64) {
	if evaluated == 0 {
		return 0, 0
	}
	return sum.U65 / float64(evaluated), sum.U80 / float64(evaluated)
}

// Summarize averages fold means with equal weight per fold. The spread is the
// sample standard deviation across folds, zero for a single fold.
func Summarize(ell float64, folds []FoldStatistics) Summary {
	summary := Summary{Ell: ell, Folds: len(folds)}
	if len(folds) == 0 {
		return summary
	}

	u65 := make([]float64, len(folds))
	u80 := make([]float64, len(folds))
	for i, f := range folds {
		u65[i] = f.MeanU65
		u80[i] = f.MeanU80
		summary.Failed += f.Failed
	}

	if len(folds) == 1 {
		summary.MeanU65, summary.MeanU80 = u65[0], u80[0]
		return summary
	}
	summary.MeanU65, summary.StdU65 = stat.MeanStdDev(u65, nil)
	summary.MeanU80, summary.StdU80 = stat.MeanStdDev(u80, nil)
	return summary
}
