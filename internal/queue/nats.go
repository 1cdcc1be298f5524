package queue

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

const natsWorkerGroup = "attendance-workers"

// NATSQueue publishes each message on "<prefix>.<type>" and consumes through a queue
// group so concurrent workers share the load.
type NATSQueue struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSQueue connects to the NATS server at url.
func NewNATSQueue(url, prefix string) (*NATSQueue, error) {
	nc, err := nats.Connect(url, nats.Name("attendance"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if prefix == "" {
		prefix = "attendance"
	}
	return &NATSQueue{nc: nc, prefix: prefix}, nil
}

// Publish sends a message. NATS publishes are fire-and-forget, so ctx is only checked up front.
func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.nc.Publish(q.prefix+"."+msg.Type, msg.Body)
}

// Consume subscribes to every message type under the prefix until ctx is done.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.nc.ChanQueueSubscribe(q.prefix+".>", natsWorkerGroup, in)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.>: %w", q.prefix, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case m := <-in:
				msg := Message{Type: m.Subject[len(q.prefix)+1:], Body: m.Data}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.nc.Drain()
}
