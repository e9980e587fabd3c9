package remote

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"credal-eval/internal/credal"
	"credal-eval/plugin/shared"

	"github.com/hashicorp/go-plugin"
	"gonum.org/v1/gonum/mat"
)

// Model runs a classifier in a separate plugin process. Each instance owns
// its own process, which is killed by Release.
type Model struct {
	mu     sync.Mutex
	client *plugin.Client
	model  shared.Model
}

var _ credal.Model = (*Model)(nil)

func LoadModel(command string, args ...string) (*Model, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(command, args...),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.ModelPluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error dispensing '%s': %w", shared.ModelPluginName, err)
	}

	model, ok := raw.(shared.Model)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Model (actual type: %T)", shared.ModelPluginName, raw)
	}

	return &Model{client: client, model: model}, nil
}

// NewModel wraps an already dispensed plugin model.
func NewModel(model shared.Model) *Model {
	return &Model{model: model}
}

func (m *Model) Train(ctx context.Context, features *mat.Dense, labels []credal.Label, ell float64) error {
	if err := credal.ValidateTrainingData(features, labels); err != nil {
		return err
	}

	rows, cols := features.Dims()
	req := shared.TrainRequest{
		Rows:   rows,
		Cols:   cols,
		Data:   make([]float64, 0, rows*cols),
		Labels: make([]string, len(labels)),
		Ell:    ell,
	}
	for i := 0; i < rows; i++ {
		req.Data = append(req.Data, features.RawRowView(i)...)
	}
	for i, l := range labels {
		req.Labels[i] = string(l)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return fmt.Errorf("plugin model already released")
	}
	return m.model.Train(req)
}

func (m *Model) Predict(ctx context.Context, instance []float64) (credal.CredalSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return credal.CredalSet{}, fmt.Errorf("plugin model already released")
	}

	labels, err := m.model.Predict(instance)
	if err != nil {
		return credal.CredalSet{}, err
	}
	set := make([]credal.Label, len(labels))
	for i, l := range labels {
		set[i] = credal.Label(l)
	}
	return credal.NewCredalSet(set...)
}

func (m *Model) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Kill()
		m.client = nil
	}
	m.model = nil
}

// pluginModel exposes a credal.Model on the plugin side of the boundary.
type pluginModel struct {
	impl credal.Model
}

func NewPluginModel(impl credal.Model) shared.Model {
	return &pluginModel{impl: impl}
}

func (p *pluginModel) Train(req shared.TrainRequest) error {
	if len(req.Data) != req.Rows*req.Cols || req.Rows == 0 || req.Cols == 0 {
		return fmt.Errorf("training matrix %dx%d does not match %d values", req.Rows, req.Cols, len(req.Data))
	}
	labels := make([]credal.Label, len(req.Labels))
	for i, l := range req.Labels {
		labels[i] = credal.Label(l)
	}
	return p.impl.Train(context.Background(), mat.NewDense(req.Rows, req.Cols, req.Data), labels, req.Ell)
}

func (p *pluginModel) Predict(instance []float64) ([]string, error) {
	set, err := p.impl.Predict(context.Background(), instance)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, set.Size())
	for _, l := range set.Labels() {
		labels = append(labels, string(l))
	}
	return labels, nil
}

// Serve blocks serving impl to the host process.
func Serve(impl credal.Model) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.Handshake,
		Plugins: map[string]plugin.Plugin{
			shared.ModelPluginName: &shared.ModelPlugin{Impl: NewPluginModel(impl)},
		},
	})
}
