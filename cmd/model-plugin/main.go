package main

import (
	"log"
	"os"

	"credal-eval/internal/core"
	"credal-eval/internal/core/remote"
)

// Serves a built-in model over the plugin protocol, for PLUGIN_CMD or for
// testing the out-of-process path. The model type is the first argument or
// MODEL_TYPE.
func main() {
	name := os.Getenv("MODEL_TYPE")
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	if name == "" {
		name = string(core.ImpreciseLinearDA)
	}

	modelType, err := core.ParseModelType(name)
	if err != nil {
		log.Fatalf("%v", err)
	}
	model, err := core.NewBuiltinModel(modelType)
	if err != nil {
		log.Fatalf("%v", err)
	}

	remote.Serve(model)
}
