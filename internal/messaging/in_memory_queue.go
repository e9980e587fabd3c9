package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("queue is closed")

type inMemoryTask struct {
	queue   string
	payload []byte

	acked    bool
	nacked   bool
	rejected bool
	mu       *sync.Mutex
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acked = true
	return nil
}

func (t *inMemoryTask) Nack() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nacked = true
	return nil
}

func (t *inMemoryTask) Reject() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejected = true
	return nil
}

// InMemoryQueue is both a Publisher and a Reciever, used by the local binary
// and tests in place of rabbitmq.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  chan Task
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) publishTaskInternal(ctx context.Context, queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.PublishRaw(ctx, queue, data)
}

// PublishRaw enqueues a task with an arbitrary body.
func (q *InMemoryQueue) PublishRaw(ctx context.Context, queue string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- &inMemoryTask{queue: queue, payload: data, mu: &sync.Mutex{}}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) PublishExperimentTask(ctx context.Context, payload ExperimentTaskPayload) error {
	return q.publishTaskInternal(ctx, ExperimentQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}

// TaskOutcome reports how a task taken from an InMemoryQueue was settled.
func TaskOutcome(t Task) (acked, nacked, rejected bool) {
	mt, ok := t.(*inMemoryTask)
	if !ok {
		return false, false, false
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.acked, mt.nacked, mt.rejected
}
