package clicks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zhejian/url-shortener/shortlink/internal/model"
)

// DeclareQueue makes sure the durable click queue exists.
func DeclareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// Publisher sends a ClickEvent per redirect to RabbitMQ for the click worker.
type Publisher struct {
	ch    *amqp.Channel
	queue string
	opts  options
	wg    sync.WaitGroup
	now   func() time.Time
}

func NewPublisher(conn *amqp.Connection, queue string, opts ...Option) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareQueue(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, queue: queue, opts: newOptions(opts), now: time.Now}, nil
}

func (p *Publisher) Record(ctx context.Context, code string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.timeout)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		if err := p.publish(ctx, code); err != nil {
			p.opts.metrics.ClickDropped(ctx, "publish")
			p.opts.logger.WarnContext(ctx, "click event dropped",
				slog.String("short_code", code),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (p *Publisher) publish(ctx context.Context, code string) error {
	event := model.ClickEvent{
		ID:        uuid.NewString(),
		Code:      code,
		Timestamp: p.now().UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Body:         body,
	})
}

// Close waits for in-flight publishes and closes the channel.
func (p *Publisher) Close() error {
	p.wg.Wait()
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

var _ Recorder = (*Publisher)(nil)

// Consumer applies queued click events to storage. Every delivery is acked,
// including ones that fail, so a bad event never blocks the queue.
type Consumer struct {
	ch    *amqp.Channel
	queue string
	store Incrementer
	opts  options
}

func NewConsumer(conn *amqp.Connection, queue string, store Incrementer, opts ...Option) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareQueue(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(64, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{ch: ch, queue: queue, store: store, opts: newOptions(opts)}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	c.opts.logger.InfoContext(ctx, "click consumer started", slog.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("click delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			c.opts.logger.ErrorContext(ctx, "ack failed", slog.String("error", err.Error()))
		}
	}()

	var event model.ClickEvent
	if err := json.Unmarshal(d.Body, &event); err != nil || event.Code == "" {
		c.opts.metrics.ClickDropped(ctx, "malformed")
		c.opts.logger.WarnContext(ctx, "discarding malformed click event", slog.String("message_id", d.MessageId))
		return
	}

	incCtx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	if err := c.store.IncrementClicks(incCtx, event.Code); err != nil {
		c.opts.metrics.ClickDropped(ctx, dropReason(incCtx))
		c.opts.logger.WarnContext(ctx, "click dropped",
			slog.String("short_code", event.Code),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
