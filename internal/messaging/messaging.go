package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ExperimentQueue = "experiment_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type ExperimentTaskPayload struct {
	ExperimentId uuid.UUID
}

type Publisher interface {
	PublishExperimentTask(ctx context.Context, payload ExperimentTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
