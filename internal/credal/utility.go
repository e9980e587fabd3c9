package credal

// Utility holds the discounted-accuracy scores of one prediction, or their
// sums over a batch of predictions.
type Utility struct {
	U65 float64
	U80 float64
}

func (u Utility) Add(other Utility) Utility {
	return Utility{U65: u.U65 + other.U65, U80: u.U80 + other.U80}
}

type Scorer interface {
	Score(set CredalSet, truth Label) Utility
}

// DiscountedAccuracy rewards a correct prediction of size n with
// alpha/n - beta/n^2, and scores zero when the truth is not in the set.
// The u65 and u80 utilities use (1.6, 0.6) and (2.2, 1.2).
type DiscountedAccuracy struct{}

var _ Scorer = DiscountedAccuracy{}

func (DiscountedAccuracy) Score(set CredalSet, truth Label) Utility {
	if set.Size() == 0 || !set.Contains(truth) {
		return Utility{}
	}
	return Utility{U65: U65(set.Size()), U80: U80(set.Size())}
}

func U65(size int) float64 {
	return discounted(size, 1.6, 0.6)
}

func U80(size int) float64 {
	return discounted(size, 2.2, 1.2)
}

// MaxImprecisionUtility is the score of predicting every one of numClasses
// labels when the truth is among them.
func MaxImprecisionUtility(numClasses int) Utility {
	return Utility{U65: U65(numClasses), U80: U80(numClasses)}
}

func discounted(size int, alpha, beta float64) float64 {
	if size <= 0 {
		return 0
	}
	n := float64(size)
	return alpha/n - beta/(n*n)
}
