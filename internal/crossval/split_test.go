package crossval_test

import (
	"slices"
	"testing"

	"credal-eval/internal/credal"
	"credal-eval/internal/crossval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertPartition(t *testing.T, n int, splits []crossval.Split) {
	t.Helper()
	seen := make([]int, n)
	for _, s := range splits {
		assert.Equal(t, n, len(s.Train)+len(s.Test))
		assert.True(t, slices.IsSorted(s.Test))
		assert.True(t, slices.IsSorted(s.Train))
		for _, row := range s.Test {
			seen[row]++
			assert.NotContains(t, s.Train, row)
		}
	}
	for row, count := range seen {
		assert.Equal(t, 1, count, "row %d", row)
	}
}

func TestKFold(t *testing.T) {
	splits, err := crossval.KFold(10, 3, 42, true)
	require.NoError(t, err)
	require.Len(t, splits, 3)
	assert.Len(t, splits[0].Test, 4)
	assert.Len(t, splits[1].Test, 3)
	assert.Len(t, splits[2].Test, 3)
	assertPartition(t, 10, splits)

	again, err := crossval.KFold(10, 3, 42, true)
	require.NoError(t, err)
	assert.Equal(t, splits, again)
}

func TestKFoldWithoutShuffleIsContiguous(t *testing.T) {
	splits, err := crossval.KFold(5, 2, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, splits[0].Test)
	assert.Equal(t, []int{3, 4}, splits[1].Test)
	assert.Equal(t, []int{3, 4}, splits[0].Train)
}

func TestKFoldRejectsBadFoldCounts(t *testing.T) {
	var cerr *credal.ConfigurationError

	_, err := crossval.KFold(4, 5, 0, true)
	assert.ErrorAs(t, err, &cerr)

	_, err = crossval.KFold(4, 1, 0, true)
	assert.ErrorAs(t, err, &cerr)

	splits, err := crossval.KFold(4, 4, 0, true)
	require.NoError(t, err)
	assertPartition(t, 4, splits)
}

func TestStratifiedKFoldBalancesClasses(t *testing.T) {
	labels := []credal.Label{"a", "a", "a", "a", "a", "a", "b", "b", "b", "b", "b", "b"}
	splits, err := crossval.StratifiedKFold(labels, 3, 7)
	require.NoError(t, err)
	assertPartition(t, len(labels), splits)

	for _, s := range splits {
		counts := map[credal.Label]int{}
		for _, row := range s.Test {
			counts[labels[row]]++
		}
		assert.Equal(t, 2, counts["a"])
		assert.Equal(t, 2, counts["b"])
	}
}

func TestHoldOut(t *testing.T) {
	split, err := crossval.HoldOut(10, 0.4, 3)
	require.NoError(t, err)
	assert.Len(t, split.Test, 4)
	assert.Len(t, split.Train, 6)
	assertPartition(t, 10, []crossval.Split{split})

	_, err = crossval.HoldOut(10, 0, 3)
	assert.Error(t, err)
	_, err = crossval.HoldOut(10, 1, 3)
	assert.Error(t, err)
	_, err = crossval.HoldOut(1, 0.5, 3)
	assert.Error(t, err)
}

func TestGenerateSeeds(t *testing.T) {
	seeds := crossval.GenerateSeeds(10, 99)
	assert.Len(t, seeds, 10)
	assert.Equal(t, seeds, crossval.GenerateSeeds(10, 99))
	for _, s := range seeds {
		assert.GreaterOrEqual(t, s, int64(0))
		assert.Less(t, s, int64(1<<30))
	}
	assert.NotEqual(t, seeds, crossval.GenerateSeeds(10, 100))
}
