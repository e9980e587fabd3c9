package core_test

import (
	"testing"

	"credal-eval/internal/core"
	"credal-eval/internal/credal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelType(t *testing.T) {
	for _, name := range []string{"nda", "INDA", " ilda ", "lda", "eda", "ieda", "plugin"} {
		_, err := core.ParseModelType(name)
		assert.NoError(t, err, name)
	}

	_, err := core.ParseModelType("svm")
	var cerr *credal.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestModelFactories(t *testing.T) {
	factories := core.NewModelFactories("")
	assert.Len(t, factories, 7)

	for _, modelType := range []core.ModelType{core.NaiveDA, core.ImpreciseLinearDA, core.ImpreciseEuclideanDA} {
		a, err := factories[modelType]()
		require.NoError(t, err)
		b, err := factories[modelType]()
		require.NoError(t, err)
		assert.NotSame(t, a, b, "each worker needs its own model instance")
	}

	_, err := factories[core.Plugin]()
	var cerr *credal.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}
