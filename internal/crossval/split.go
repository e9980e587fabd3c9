package crossval

import (
	"math"
	"math/rand"
	"slices"

	"credal-eval/internal/credal"
)

// Split is one train/test partition. Indices refer to dataset rows and are
// sorted.
type Split struct {
	Repetition int
	Fold       int
	Train      []int
	Test       []int
}

func validateFolds(n, k int) error {
	if k < 2 {
		return credal.ConfigErrorf("folds", "need at least 2 folds, got %d", k)
	}
	if k > n {
		return credal.ConfigErrorf("folds", "cannot split %d rows into %d folds", n, k)
	}
	return nil
}

// KFold partitions [0,n) into k test sets. The first n%k folds hold one extra
// row. Without shuffling the folds are contiguous blocks.
func KFold(n, k int, seed int64, shuffle bool) ([]Split, error) {
	if err := validateFolds(n, k); err != nil {
		return nil, err
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	assignment := make([]int, n)
	start := 0
	for fold := 0; fold < k; fold++ {
		size := n / k
		if fold < n%k {
			size++
		}
		for _, row := range order[start : start+size] {
			assignment[row] = fold
		}
		start += size
	}
	return splitsFromAssignment(assignment, k), nil
}

// StratifiedKFold keeps class proportions roughly equal across folds: rows
// of each class are shuffled and dealt round-robin, continuing where the
// previous class stopped.
func StratifiedKFold(labels []credal.Label, k int, seed int64) ([]Split, error) {
	n := len(labels)
	if err := validateFolds(n, k); err != nil {
		return nil, err
	}

	byClass := map[credal.Label][]int{}
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}

	rng := rand.New(rand.NewSource(seed))
	assignment := make([]int, n)
	next := 0
	for _, class := range credal.Classes(labels) {
		rows := byClass[class]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for _, row := range rows {
			assignment[row] = next
			next = (next + 1) % k
		}
	}
	return splitsFromAssignment(assignment, k), nil
}

func splitsFromAssignment(assignment []int, k int) []Split {
	splits := make([]Split, k)
	for fold := range splits {
		splits[fold].Fold = fold
	}
	for row, fold := range assignment {
		for f := range splits {
			if f == fold {
				splits[f].Test = append(splits[f].Test, row)
			} else {
				splits[f].Train = append(splits[f].Train, row)
			}
		}
	}
	return splits
}

// HoldOut draws a single random test set holding ceil(testFraction*n) rows.
func HoldOut(n int, testFraction float64, seed int64) (Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, credal.ConfigErrorf("test fraction", "must be in (0, 1), got %g", testFraction)
	}
	testSize := int(math.Ceil(testFraction * float64(n)))
	if testSize < 1 || testSize >= n {
		return Split{}, credal.ConfigErrorf("test fraction", "%g of %d rows leaves an empty train or test set", testFraction, n)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	split := Split{
		Test:  slices.Clone(perm[:testSize]),
		Train: slices.Clone(perm[testSize:]),
	}
	slices.Sort(split.Test)
	slices.Sort(split.Train)
	return split, nil
}

// GenerateSeeds derives n repetition seeds in [0, 2^30) from seed.
func GenerateSeeds(n int, seed int64) []int64 {
	rng := rand.New(rand.NewSource(seed))
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = rng.Int63n(1 << 30)
	}
	return seeds
}
