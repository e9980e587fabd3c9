package credal_test

import (
	"credal-eval/internal/credal"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCredalSet(t *testing.T) {
	set, err := credal.NewCredalSet("b", "a", "b", "c")
	require.NoError(t, err)

	assert.Equal(t, 3, set.Size())
	assert.False(t, set.IsPrecise())
	assert.Equal(t, []credal.Label{"a", "b", "c"}, set.Labels())
	assert.True(t, set.Contains("c"))
	assert.False(t, set.Contains("d"))
	assert.Equal(t, "{a, b, c}", set.String())

	_, err = credal.NewCredalSet()
	assert.ErrorIs(t, err, credal.ErrEmptyCredalSet)
}

func TestDiscountedAccuracyPreciseCorrect(t *testing.T) {
	u := credal.DiscountedAccuracy{}.Score(credal.MustCredalSet("setosa"), "setosa")
	assert.Equal(t, 1.0, u.U65)
	assert.Equal(t, 1.0, u.U80)
}

func TestDiscountedAccuracyTruthAbsent(t *testing.T) {
	scorer := credal.DiscountedAccuracy{}
	assert.Equal(t, credal.Utility{}, scorer.Score(credal.MustCredalSet("a"), "b"))
	assert.Equal(t, credal.Utility{}, scorer.Score(credal.MustCredalSet("a", "c"), "b"))
}

func TestDiscountedAccuracyDecreasesWithSize(t *testing.T) {
	assert.InDelta(t, 0.65, credal.U65(2), 1e-12)
	assert.InDelta(t, 0.80, credal.U80(2), 1e-12)

	for n := 1; n < 10; n++ {
		assert.Greater(t, credal.U65(n), credal.U65(n+1))
		assert.Greater(t, credal.U80(n), credal.U80(n+1))
		assert.Greater(t, credal.U65(n+1), 0.0)
		assert.GreaterOrEqual(t, credal.U80(n), credal.U65(n))
	}

	u := credal.MaxImprecisionUtility(3)
	assert.InDelta(t, 1.6/3-0.6/9, u.U65, 1e-12)
	assert.InDelta(t, 2.2/3-1.2/9, u.U80, 1e-12)
}

func TestUtilityAdd(t *testing.T) {
	sum := credal.Utility{U65: 1, U80: 1}.Add(credal.Utility{U65: 0.65, U80: 0.8})
	assert.InDelta(t, 1.65, sum.U65, 1e-12)
	assert.InDelta(t, 1.8, sum.U80, 1e-12)
}

func TestValidateTrainingData(t *testing.T) {
	features := mat.NewDense(2, 1, []float64{1, 2})

	assert.NoError(t, credal.ValidateTrainingData(features, []credal.Label{"a", "b"}))
	assert.Error(t, credal.ValidateTrainingData(features, []credal.Label{"a"}))
	assert.Error(t, credal.ValidateTrainingData(nil, nil))
}

func TestClasses(t *testing.T) {
	assert.Equal(t, []credal.Label{"a", "b"}, credal.Classes([]credal.Label{"b", "a", "b"}))
}
