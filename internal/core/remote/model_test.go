package remote_test

import (
	"context"
	"testing"

	"credal-eval/internal/core/remote"
	"credal-eval/internal/credal"
	"credal-eval/plugin/shared"

	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// nearestLabel predicts the label of the closest training row, or both
// labels when the instance is exactly between two rows.
type nearestLabel struct {
	features *mat.Dense
	labels   []credal.Label
	ell      float64
}

func (m *nearestLabel) Train(_ context.Context, features *mat.Dense, labels []credal.Label, ell float64) error {
	m.features, m.labels, m.ell = features, labels, ell
	return nil
}

func (m *nearestLabel) Predict(_ context.Context, instance []float64) (credal.CredalSet, error) {
	if instance[0] == 0.5 {
		return credal.NewCredalSet(m.labels...)
	}
	if instance[0] < 0.5 {
		return credal.NewCredalSet(m.labels[0])
	}
	return credal.NewCredalSet(m.labels[1])
}

func (m *nearestLabel) Release() {}

func TestModelOverPluginRPC(t *testing.T) {
	impl := &nearestLabel{}
	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		shared.ModelPluginName: &shared.ModelPlugin{Impl: remote.NewPluginModel(impl)},
	}, nil)
	defer client.Close()

	raw, err := client.Dispense(shared.ModelPluginName)
	require.NoError(t, err)

	model := remote.NewModel(raw.(shared.Model))
	ctx := context.Background()

	features := mat.NewDense(2, 2, []float64{0, 1, 1, 0})
	require.NoError(t, model.Train(ctx, features, []credal.Label{"left", "right"}, 0.25))
	assert.Equal(t, 0.25, impl.ell)
	assert.Equal(t, 1.0, impl.features.At(1, 0))

	set, err := model.Predict(ctx, []float64{0.1, 0})
	require.NoError(t, err)
	assert.Equal(t, credal.MustCredalSet("left"), set)

	set, err = model.Predict(ctx, []float64{0.5, 0})
	require.NoError(t, err)
	assert.Equal(t, credal.MustCredalSet("left", "right"), set)

	model.Release()
	_, err = model.Predict(ctx, []float64{0.1, 0})
	assert.Error(t, err)
}

func TestTrainRejectsMismatchedLabels(t *testing.T) {
	model := remote.NewModel(remote.NewPluginModel(&nearestLabel{}))
	err := model.Train(context.Background(), mat.NewDense(2, 1, []float64{0, 1}), []credal.Label{"a"}, 0)
	assert.Error(t, err)
}
