package core

import (
	"context"
	"errors"
	"fmt"
	"math"

	"credal-eval/internal/credal"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrNotTrained = errors.New("model has not been trained")

const minVariance = 1e-9

type covariance int

const (
	// Diagonal covariance estimated separately for every class.
	perClassCovariance covariance = iota
	// Diagonal covariance pooled over all classes.
	pooledCovariance
	// Identity covariance: scores reduce to Euclidean distance to the means.
	identityCovariance
)

// GaussianDiscriminant is a diagonal Gaussian classifier. In imprecise mode
// every class mean may move by ell standard errors along each feature, which
// turns each class score into an interval; the prediction is every class whose
// interval is not strictly below another class's interval.
type GaussianDiscriminant struct {
	cov       covariance
	imprecise bool

	classes   []credal.Label
	means     [][]float64
	variances [][]float64
	counts    []int
	logPriors []float64
	ell       float64
}

var _ credal.Model = (*GaussianDiscriminant)(nil)

func NewGaussianDiscriminant(cov covariance, imprecise bool) *GaussianDiscriminant {
	return &GaussianDiscriminant{cov: cov, imprecise: imprecise}
}

func (g *GaussianDiscriminant) Train(ctx context.Context, features *mat.Dense, labels []credal.Label, ell float64) error {
	if err := credal.ValidateTrainingData(features, labels); err != nil {
		return err
	}
	if ell < 0 || math.IsNaN(ell) {
		return fmt.Errorf("imprecision must be a non-negative number, got %g", ell)
	}

	rows, cols := features.Dims()
	classes := credal.Classes(labels)
	index := make(map[credal.Label]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	byClass := make([][]int, len(classes))
	for i, label := range labels {
		c := index[label]
		byClass[c] = append(byClass[c], i)
	}

	means := make([][]float64, len(classes))
	variances := make([][]float64, len(classes))
	counts := make([]int, len(classes))
	logPriors := make([]float64, len(classes))

	column := make([]float64, 0, rows)
	for c, members := range byClass {
		if err := ctx.Err(); err != nil {
			return err
		}
		counts[c] = len(members)
		logPriors[c] = math.Log(float64(len(members)) / float64(rows))
		means[c] = make([]float64, cols)
		variances[c] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			column = column[:0]
			for _, i := range members {
				column = append(column, features.At(i, j))
			}
			means[c][j] = stat.Mean(column, nil)
			if len(column) > 1 {
				variances[c][j] = stat.Variance(column, nil)
			}
		}
	}

	switch g.cov {
	case pooledCovariance:
		pooled := pooledVariances(variances, counts, cols)
		for c := range variances {
			variances[c] = pooled
		}
	case identityCovariance:
		for c := range variances {
			for j := range variances[c] {
				variances[c][j] = 1
			}
		}
	}
	for c := range variances {
		for j := range variances[c] {
			if variances[c][j] < minVariance || math.IsNaN(variances[c][j]) {
				variances[c][j] = minVariance
			}
		}
	}

	g.classes = classes
	g.means = means
	g.variances = variances
	g.counts = counts
	g.logPriors = logPriors
	g.ell = ell
	return nil
}

func pooledVariances(variances [][]float64, counts []int, cols int) []float64 {
	pooled := make([]float64, cols)
	dof := 0
	for c, n := range counts {
		if n < 2 {
			continue
		}
		dof += n - 1
		for j := 0; j < cols; j++ {
			pooled[j] += variances[c][j] * float64(n-1)
		}
	}
	if dof > 0 {
		for j := range pooled {
			pooled[j] /= float64(dof)
		}
	}
	return pooled
}

// scoreBounds returns the lowest and highest log joint density of x under
// class c as its mean ranges over mean ± ell·σ/√n.
func (g *GaussianDiscriminant) scoreBounds(c int, x []float64) (float64, float64) {
	lower, upper := g.logPriors[c], g.logPriors[c]
	for j, v := range x {
		variance := g.variances[c][j]
		norm := 0.5 * math.Log(2*math.Pi*variance)
		dist := math.Abs(v - g.means[c][j])

		var slack float64
		if g.imprecise {
			slack = g.ell * math.Sqrt(variance/float64(g.counts[c]))
		}
		near := math.Max(0, dist-slack)
		far := dist + slack

		upper -= norm + near*near/(2*variance)
		lower -= norm + far*far/(2*variance)
	}
	return lower, upper
}

func (g *GaussianDiscriminant) Predict(ctx context.Context, instance []float64) (credal.CredalSet, error) {
	if g.classes == nil {
		return credal.CredalSet{}, ErrNotTrained
	}
	if len(instance) != len(g.means[0]) {
		return credal.CredalSet{}, fmt.Errorf("instance has %d features, model was trained on %d", len(instance), len(g.means[0]))
	}

	lower := make([]float64, len(g.classes))
	upper := make([]float64, len(g.classes))
	for c := range g.classes {
		lower[c], upper[c] = g.scoreBounds(c, instance)
	}

	if !g.imprecise {
		best := 0
		for c := range g.classes {
			if upper[c] > upper[best] {
				best = c
			}
		}
		return credal.NewCredalSet(g.classes[best])
	}

	// Interval dominance: c is dropped when some class is better even in its
	// worst case than c is in its best case.
	maxLower := math.Inf(-1)
	for _, l := range lower {
		maxLower = math.Max(maxLower, l)
	}
	var undominated []credal.Label
	for c, label := range g.classes {
		if upper[c] >= maxLower {
			undominated = append(undominated, label)
		}
	}
	return credal.NewCredalSet(undominated...)
}

func (g *GaussianDiscriminant) Release() {}
