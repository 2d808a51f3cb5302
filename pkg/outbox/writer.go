package outbox

import (
	"context"
	"fmt"
	"time"
)

// Writer is the producer handle handed to the booking machine.
type Writer struct {
	queue Queue
	nowFn func() time.Time
}

// NewWriter wires a Writer around queue.
func NewWriter(queue Queue, now func() time.Time) (*Writer, error) {
	if queue == nil {
		return nil, fmt.Errorf("%w: queue dependency is nil", ErrInvalidWorkerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidWorkerConfig)
	}
	return &Writer{queue: queue, nowFn: now}, nil
}

// Enqueue stores message as a PENDING entry. When ctx carries an open store transaction the
// row commits or rolls back with it.
func (writer *Writer) Enqueue(ctx context.Context, message Message) error {
	if _, err := writer.queue.Insert(ctx, message, writer.nowFn().UTC()); err != nil {
		return fmt.Errorf("enqueue %s: %w", message.Template(), err)
	}
	return nil
}
