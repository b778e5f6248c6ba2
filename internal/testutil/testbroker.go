package testutil

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/zhejian/url-shortener/shortlink/internal/infra"
)

// TestBroker holds a RabbitMQ used for click events
type TestBroker struct {
	Conn      *amqp.Connection
	URL       string
	container *rabbitmq.RabbitMQContainer
}

// SetupTestBroker starts a RabbitMQ container and connects to it
func SetupTestBroker(ctx context.Context) (*TestBroker, error) {
	container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-alpine")
	if err != nil {
		return nil, err
	}

	url, err := container.AmqpURL(ctx)
	if err != nil {
		return nil, abort(ctx, container, err)
	}

	conn, err := infra.NewBrokerConnection(url)
	if err != nil {
		return nil, abort(ctx, container, err)
	}

	return &TestBroker{Conn: conn, URL: url, container: container}, nil
}

// Purge drops all pending messages on queue. Missing queues are ignored.
func (t *TestBroker) Purge(queue string) {
	if t == nil || t.Conn == nil {
		return
	}
	ch, err := t.Conn.Channel()
	if err != nil {
		return
	}
	defer ch.Close()
	_, _ = ch.QueuePurge(queue, false)
}

// Teardown closes the connection and terminates the container
func (t *TestBroker) Teardown(ctx context.Context) {
	if t.Conn != nil {
		t.Conn.Close()
	}
	if t.container != nil {
		if err := t.container.Terminate(ctx); err != nil {
			return
		}
	}
}
