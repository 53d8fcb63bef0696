package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Kronh4rd/kolibri/internal/rest"
)

// Handler is invoked once per decoded delivery from the user queue.
type Handler func(ctx context.Context, dto rest.MessageDTO) error

type Config struct {
	Host       string
	Port       int
	UID        string
	Token      string
	RetryDelay time.Duration
}

// connection narrows the amqp surface the consumer touches so tests can
// feed deliveries without a running broker.
type connection interface {
	Consume(queue string) (<-chan amqp.Delivery, error)
	Closed() <-chan *amqp.Error
	Close() error
}

type amqpConnection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &amqpConnection{conn: conn, ch: ch}, nil
}

func (c *amqpConnection) Consume(queue string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, "", false, false, false, false, nil)
}

func (c *amqpConnection) Closed() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

// Consumer drains the per-user broker queue and feeds each message to the
// handler. It keeps redialing after connection loss until the context is
// cancelled.
type Consumer struct {
	cfg     Config
	handler Handler
	dial    func(url string) (connection, error)
}

func NewConsumer(cfg Config, handler Handler) *Consumer {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Consumer{cfg: cfg, handler: handler, dial: dialAMQP}
}

func (c *Consumer) queueName() string {
	return "queue.user." + c.cfg.UID
}

func (c *Consumer) url() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.cfg.UID, c.cfg.Token, c.cfg.Host, c.cfg.Port)
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.consumeOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("broker connection lost", "queue", c.queueName(), "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := c.dial(c.url())
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	deliveries, err := conn.Consume(c.queueName())
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queueName(), err)
	}
	slog.Info("broker consumer running", "queue", c.queueName())

	closed := conn.Closed()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	var dto rest.MessageDTO
	if err := json.Unmarshal(d.Body, &dto); err != nil {
		// Undecodable payloads would redeliver forever, drop them.
		slog.Warn("dropping undecodable delivery", "err", err)
		if ackErr := d.Ack(false); ackErr != nil {
			slog.Warn("ack failed", "err", ackErr)
		}
		return
	}
	if err := c.handler(ctx, dto); err != nil {
		slog.Error("inbound message handling failed", "mid", dto.MID, "err", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			slog.Warn("nack failed", "mid", dto.MID, "err", nackErr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		slog.Warn("ack failed", "mid", dto.MID, "err", err)
	}
}
