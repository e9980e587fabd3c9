package core

import (
	"fmt"
	"strings"

	"credal-eval/internal/core/remote"
	"credal-eval/internal/credal"
)

// ModelType identifies a classifier implementation
type ModelType string

// Available model types
const (
	NaiveDA              ModelType = "nda"
	ImpreciseNaiveDA     ModelType = "inda"
	LinearDA             ModelType = "lda"
	ImpreciseLinearDA    ModelType = "ilda"
	EuclideanDA          ModelType = "eda"
	ImpreciseEuclideanDA ModelType = "ieda"
	Plugin               ModelType = "plugin"
)

var builtinModels = map[ModelType]struct {
	cov       covariance
	imprecise bool
}{
	NaiveDA:              {perClassCovariance, false},
	ImpreciseNaiveDA:     {perClassCovariance, true},
	LinearDA:             {pooledCovariance, false},
	ImpreciseLinearDA:    {pooledCovariance, true},
	EuclideanDA:          {identityCovariance, false},
	ImpreciseEuclideanDA: {identityCovariance, true},
}

func ParseModelType(s string) (ModelType, error) {
	t := ModelType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := builtinModels[t]; ok || t == Plugin {
		return t, nil
	}
	return "", credal.ConfigErrorf("model type", "unknown model type %q", s)
}

// NewBuiltinModel returns an untrained in-process model.
func NewBuiltinModel(t ModelType) (credal.Model, error) {
	spec, ok := builtinModels[t]
	if !ok {
		return nil, credal.ConfigErrorf("model type", "%q is not a built-in model", t)
	}
	return NewGaussianDiscriminant(spec.cov, spec.imprecise), nil
}

// NewModelFactories maps every model type to a factory. The plugin factory
// launches pluginCmd once per call, so every worker gets its own process.
func NewModelFactories(pluginCmd string) map[ModelType]credal.ModelFactory {
	factories := make(map[ModelType]credal.ModelFactory, len(builtinModels)+1)
	for t := range builtinModels {
		factories[t] = func() (credal.Model, error) {
			return NewBuiltinModel(t)
		}
	}
	factories[Plugin] = func() (credal.Model, error) {
		args := strings.Fields(pluginCmd)
		if len(args) == 0 {
			return nil, credal.ConfigErrorf("plugin command", "required for model type %q", Plugin)
		}
		model, err := remote.LoadModel(args[0], args[1:]...)
		if err != nil {
			return nil, fmt.Errorf("error starting model plugin: %w", err)
		}
		return model, nil
	}
	return factories
}
