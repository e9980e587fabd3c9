package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

const ModelPluginName = "model"

// Handshake is checked by both sides before a plugin process is used.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CREDAL_EVAL_PLUGIN",
	MagicCookieValue: "5f1c0a4e-credal-model",
}

var PluginMap = map[string]plugin.Plugin{
	ModelPluginName: &ModelPlugin{},
}

// Model is the interface exposed across the plugin boundary. Matrices travel
// as row-major slices.
type Model interface {
	Train(req TrainRequest) error
	Predict(instance []float64) ([]string, error)
}

type TrainRequest struct {
	Rows   int
	Cols   int
	Data   []float64
	Labels []string
	Ell    float64
}

type PredictResponse struct {
	Labels []string
}

// ModelPlugin serves Impl on the plugin side and dispenses an RPCClient on
// the host side.
type ModelPlugin struct {
	Impl Model
}

func (p *ModelPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *ModelPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}
