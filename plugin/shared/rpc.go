package shared

import (
	"net/rpc"
)

// RPCClient is an implementation of Model that talks over RPC.
type RPCClient struct{ client *rpc.Client }

func (m *RPCClient) Train(req TrainRequest) error {
	var resp interface{}
	return m.client.Call("Plugin.Train", req, &resp)
}

func (m *RPCClient) Predict(instance []float64) ([]string, error) {
	var resp PredictResponse
	err := m.client.Call("Plugin.Predict", instance, &resp)
	return resp.Labels, err
}

// Here is the RPC server that RPCClient talks to, conforming to
// the requirements of net/rpc
type RPCServer struct {
	// This is the real implementation
	Impl Model
}

func (m *RPCServer) Train(req TrainRequest, resp *interface{}) error {
	return m.Impl.Train(req)
}

func (m *RPCServer) Predict(instance []float64, resp *PredictResponse) error {
	labels, err := m.Impl.Predict(instance)
	resp.Labels = labels
	return err
}
